// Package app wires the kolibri CLI: configuration, the encrypted session
// file, the auth client and the backend client acting as the signed-in user.
package app
