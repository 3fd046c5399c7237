// Package commands implements the kolibri CLI: sign-in, deeds, cooperatives,
// statistics and the signing-link helpers.
package commands
