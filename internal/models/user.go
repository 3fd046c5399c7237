package models

import "strings"

// Role is the user's organisational role, carried in auth metadata.
type Role string

const (
	RoleBankUser         Role = "bank_user"
	RoleCooperativeAdmin Role = "cooperative_admin"
	RoleAccountingFirm   Role = "accounting_firm"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleBankUser, RoleCooperativeAdmin, RoleAccountingFirm:
		return true
	}
	return false
}

// DashboardScope names the statistics endpoint that backs r's dashboard.
func (r Role) DashboardScope() string {
	switch r {
	case RoleCooperativeAdmin:
		return "cooperative"
	case RoleAccountingFirm:
		return "accounting"
	default:
		return "bank"
	}
}

// User is the signed-in account as reported by the auth service.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	UserName string `json:"user_name,omitempty"`
	Role     Role   `json:"role"`
	BankID   string `json:"bank_id,omitempty"`
	BankName string `json:"bank_name,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// DisplayName prefers the explicit user name, then the local part of the
// email address.
func (u User) DisplayName() string {
	if u.UserName != "" {
		return u.UserName
	}
	if local, _, ok := strings.Cut(u.Email, "@"); ok && local != "" {
		return local
	}
	return "User"
}
