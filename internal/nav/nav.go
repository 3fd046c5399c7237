// Package nav builds the role dependent navigation shell shown around every
// signed-in page.
package nav

import (
	"strings"

	"kolibri/internal/models"
)

// Item is one navigation entry.
type Item struct {
	Label string `json:"label"`
	Path  string `json:"path"`
	Icon  string `json:"icon,omitempty"`
}

// Header describes the signed-in user above the menu.
type Header struct {
	DisplayName string      `json:"display_name"`
	Email       string      `json:"email"`
	Role        models.Role `json:"role"`
	BankName    string      `json:"bank_name,omitempty"`
}

// Menu is the full navigation shell for one user.
type Menu struct {
	Header Header `json:"header"`
	Items  []Item `json:"items"`
	// Dashboard is the statistics scope backing the overview page.
	Dashboard string `json:"dashboard"`
}

// Well known paths.
const (
	PathOverview         = "/dashboard"
	PathMyCooperatives   = "/my-associations"
	PathSetupCooperative = "/setup-cooperative"
	PathArchive          = "/arkiv"
	PathNewMortgage      = "/skapa-pantbrev"
	PathSettings         = "/settings"
	PathSignOut          = "/logout"
)

// roleOnly lists screens restricted to a single role.
var roleOnly = map[string]models.Role{
	PathMyCooperatives:   models.RoleCooperativeAdmin,
	PathSetupCooperative: models.RoleCooperativeAdmin,
}

// For returns the menu for u. Entries a role may not open are left out.
func For(u models.User) Menu {
	m := Menu{
		Header: Header{
			DisplayName: u.DisplayName(),
			Email:       u.Email,
			Role:        u.Role,
		},
		Dashboard: DashboardFor(u.Role),
	}
	if u.Role == models.RoleBankUser {
		m.Header.BankName = u.BankName
	}

	all := []Item{
		{Label: "Overview", Path: PathOverview, Icon: "home"},
		{Label: "My Cooperatives", Path: PathMyCooperatives, Icon: "building"},
		{Label: "Archive", Path: PathArchive, Icon: "archive"},
		{Label: "New Mortgage", Path: PathNewMortgage, Icon: "plus"},
		{Label: "Settings", Path: PathSettings, Icon: "settings"},
		{Label: "Sign Out", Path: PathSignOut, Icon: "logout"},
	}
	for _, it := range all {
		if Allowed(u.Role, it.Path) {
			m.Items = append(m.Items, it)
		}
	}
	return m
}

// Allowed reports whether role may open path.
func Allowed(role models.Role, path string) bool {
	path = strings.TrimSuffix(path, "/")
	for p, only := range roleOnly {
		if path == p || strings.HasPrefix(path, p+"/") {
			return role == only
		}
	}
	return true
}

// DashboardFor names the statistics scope for role's overview page.
func DashboardFor(role models.Role) string {
	return role.DashboardScope()
}

// Active reports whether item should be highlighted for the current path.
func (it Item) Active(current string) bool {
	if it.Path == PathOverview {
		return current == PathOverview
	}
	return current == it.Path || strings.HasPrefix(current, it.Path+"/")
}
