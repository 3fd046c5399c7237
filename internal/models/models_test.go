package models

import (
	"encoding/json"
	"math"
	"net/http"
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDeed() *MortgageDeed {
	return &MortgageDeed{
		CreditNumbers:        []string{"CR-1001"},
		HousingCooperativeID: 7,
		ApartmentNumber:      "1102",
		ApartmentAddress:     "Storgatan 1",
		ApartmentPostalCode:  "114 55",
		ApartmentCity:        "Stockholm",
		Borrowers: []Borrower{
			{Name: "Anna Svensson", Email: "anna@example.se", PersonNumber: "198001011234", OwnershipPercentage: 50.5},
			{Name: "Erik Svensson", Email: "erik@example.se", PersonNumber: "198202021234", OwnershipPercentage: 49.5},
		},
		CooperativeSigners: []CooperativeSigner{
			{AdministratorName: "Karin Berg", AdministratorPersonNumber: "197001011234", AdministratorEmail: "karin@brf.se"},
		},
	}
}

func fieldNames(err error) []string {
	var names []string
	if v, ok := err.(*ValidationError); ok {
		for _, f := range v.Fields {
			names = append(names, f.Field)
		}
	}
	return names
}

func TestDeedValidate(t *testing.T) {
	t.Run("valid deed passes", func(t *testing.T) {
		assert.NoError(t, validDeed().Validate())
	})

	t.Run("ownership must sum to 100", func(t *testing.T) {
		d := validDeed()
		d.Borrowers[1].OwnershipPercentage = 40

		err := d.Validate()
		require.Error(t, err)
		assert.Equal(t, []string{"borrowers"}, fieldNames(err))
		assert.Contains(t, err.Error(), "90.50")
	})

	t.Run("non-finite ownership is rejected", func(t *testing.T) {
		d := validDeed()
		d.Borrowers = d.Borrowers[:1]
		d.Borrowers[0].OwnershipPercentage = Percentage(math.NaN())

		err := d.Validate()
		require.Error(t, err)
		assert.ElementsMatch(t, []string{"borrowers[0].ownership_percentage", "borrowers"}, fieldNames(err))
	})

	t.Run("rounding within tolerance is accepted", func(t *testing.T) {
		d := validDeed()
		d.Borrowers = []Borrower{
			{Name: "A", Email: "a@x.se", PersonNumber: "198001011234", OwnershipPercentage: 33.33},
			{Name: "B", Email: "b@x.se", PersonNumber: "198001011235", OwnershipPercentage: 33.33},
			{Name: "C", Email: "c@x.se", PersonNumber: "198001011236", OwnershipPercentage: 33.34},
		}
		assert.NoError(t, d.Validate())
	})

	t.Run("reports every failing field", func(t *testing.T) {
		d := &MortgageDeed{
			ApartmentPostalCode: "1234",
			Borrowers: []Borrower{
				{Name: "", Email: "not-an-email", PersonNumber: "123", OwnershipPercentage: 100},
			},
		}
		want := []string{
			"credit_numbers",
			"housing_cooperative_id",
			"apartment_number",
			"apartment_address",
			"apartment_postal_code",
			"apartment_city",
			"borrowers[0].name",
			"borrowers[0].person_number",
			"borrowers[0].email",
		}
		if diff := cmp.Diff(want, fieldNames(d.Validate())); diff != "" {
			t.Errorf("fields mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("needs a borrower", func(t *testing.T) {
		d := validDeed()
		d.Borrowers = nil
		assert.Contains(t, fieldNames(d.Validate()), "borrowers")
	})
}

func TestCooperativeValidate(t *testing.T) {
	c := &HousingCooperative{
		Name:                      "BRF Solgläntan",
		OrganisationNumber:        "769600-1234",
		Address:                   "Solvägen 3",
		PostalCode:                "11455",
		City:                      "Stockholm",
		AdministratorName:         "Karin Berg",
		AdministratorPersonNumber: "197001011234",
		AdministratorEmail:        "karin@brf.se",
	}
	assert.NoError(t, c.Validate())
	assert.NoError(t, c.ValidateUpdate("769600-1234"))

	err := c.ValidateUpdate("769600-9999")
	assert.Equal(t, []string{"organisation_number"}, fieldNames(err))

	c.OrganisationNumber = "7696001234"
	assert.Equal(t, []string{"organisation_number"}, fieldNames(c.Validate()))
}

func TestPercentageUnmarshal(t *testing.T) {
	var b struct {
		Share Percentage `json:"share"`
	}
	for in, want := range map[string]Percentage{
		`{"share": 50}`:      50,
		`{"share": "50,5"}`:  50.5,
		`{"share": "12.25"}`: 12.25,
	} {
		require.NoError(t, json.Unmarshal([]byte(in), &b), in)
		assert.InDelta(t, float64(want), float64(b.Share), 0.0001, in)
	}
	assert.Error(t, json.Unmarshal([]byte(`{"share": "half"}`), &b))
	for _, in := range []string{`{"share": "NaN"}`, `{"share": "Inf"}`, `{"share": "-infinity"}`} {
		assert.Error(t, json.Unmarshal([]byte(in), &b), in)
	}
}

func TestDeedFiltersValues(t *testing.T) {
	f := DeedFilters{
		Status:        StatusCompleted,
		CreditNumbers: []string{"A1", "B2"},
		SortBy:        "created_at",
		SortOrder:     "desc",
		Page:          2,
	}
	q := f.Values()
	assert.Equal(t, url.Values{
		"deed_status":    {"COMPLETED"},
		"credit_numbers": {"A1,B2"},
		"sort_by":        {"created_at"},
		"sort_order":     {"desc"},
		"page":           {"2"},
	}, q)

	back := DeedFiltersFromQuery(q)
	if diff := cmp.Diff(f, back); diff != "" {
		t.Errorf("filters mismatch (-want +got):\n%s", diff)
	}
	assert.Error(t, DeedFilters{SortBy: "borrower"}.Validate())
}

func TestParsePagination(t *testing.T) {
	assert.Equal(t, Pagination{TotalCount: 0, TotalPages: 0, CurrentPage: 1, PageSize: 10}, ParsePagination(http.Header{}))

	h := http.Header{}
	Pagination{TotalCount: 42, TotalPages: 5, CurrentPage: 3, PageSize: 10}.WriteHeaders(h)
	assert.Equal(t, Pagination{TotalCount: 42, TotalPages: 5, CurrentPage: 3, PageSize: 10}, ParsePagination(h))
}

func TestUserDisplayName(t *testing.T) {
	assert.Equal(t, "Anna", User{UserName: "Anna", Email: "a@x.se"}.DisplayName())
	assert.Equal(t, "anna.s", User{Email: "anna.s@bank.se"}.DisplayName())
	assert.Equal(t, "User", User{}.DisplayName())
	assert.Equal(t, "accounting", RoleAccountingFirm.DashboardScope())
}
