package nav

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"kolibri/internal/models"
)

func paths(m Menu) []string {
	var out []string
	for _, it := range m.Items {
		out = append(out, it.Path)
	}
	return out
}

func TestForRoles(t *testing.T) {
	tests := []struct {
		role models.Role
		want []string
	}{
		{models.RoleBankUser, []string{"/dashboard", "/arkiv", "/skapa-pantbrev", "/settings", "/logout"}},
		{models.RoleAccountingFirm, []string{"/dashboard", "/arkiv", "/skapa-pantbrev", "/settings", "/logout"}},
		{models.RoleCooperativeAdmin, []string{"/dashboard", "/my-associations", "/arkiv", "/skapa-pantbrev", "/settings", "/logout"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			got := paths(For(models.User{Role: tt.role}))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("menu mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHeader(t *testing.T) {
	bank := For(models.User{Email: "eva@nordbanken.se", Role: models.RoleBankUser, BankName: "Nordbanken"})
	assert.Equal(t, Header{DisplayName: "eva", Email: "eva@nordbanken.se", Role: models.RoleBankUser, BankName: "Nordbanken"}, bank.Header)
	assert.Equal(t, "bank", bank.Dashboard)

	coop := For(models.User{UserName: "Styrelsen", Role: models.RoleCooperativeAdmin, BankName: "ignored"})
	assert.Empty(t, coop.Header.BankName)
	assert.Equal(t, "Styrelsen", coop.Header.DisplayName)
	assert.Equal(t, "cooperative", coop.Dashboard)
}

func TestAllowed(t *testing.T) {
	assert.True(t, Allowed(models.RoleCooperativeAdmin, "/my-associations"))
	assert.True(t, Allowed(models.RoleCooperativeAdmin, "/setup-cooperative/"))
	assert.False(t, Allowed(models.RoleBankUser, "/my-associations"))
	assert.False(t, Allowed(models.RoleAccountingFirm, "/setup-cooperative"))
	assert.False(t, Allowed(models.RoleBankUser, "/my-associations/769600-1234"))
	assert.True(t, Allowed(models.RoleBankUser, "/arkiv"))
}

func TestActive(t *testing.T) {
	overview := Item{Path: PathOverview}
	archive := Item{Path: PathArchive}

	assert.True(t, overview.Active("/dashboard"))
	assert.False(t, overview.Active("/dashboard/extra"))
	assert.True(t, archive.Active("/arkiv/12"))
	assert.False(t, archive.Active("/arkivet"))
}
