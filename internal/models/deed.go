package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DeedStatus is the signing progress of a mortgage deed.
type DeedStatus string

const (
	StatusCreated                     DeedStatus = "CREATED"
	StatusPendingBorrowerSignature    DeedStatus = "PENDING_BORROWER_SIGNATURE"
	StatusPendingCooperativeSignature DeedStatus = "PENDING_HOUSING_COOPERATIVE_SIGNATURE"
	StatusCompleted                   DeedStatus = "COMPLETED"
)

// DeedStatuses lists every status in workflow order.
var DeedStatuses = []DeedStatus{
	StatusCreated,
	StatusPendingBorrowerSignature,
	StatusPendingCooperativeSignature,
	StatusCompleted,
}

// Valid reports whether s is a known status.
func (s DeedStatus) Valid() bool {
	for _, known := range DeedStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Label is the short human readable form of s.
func (s DeedStatus) Label() string {
	switch s {
	case StatusCreated:
		return "Created"
	case StatusPendingBorrowerSignature:
		return "Pending Borrower"
	case StatusPendingCooperativeSignature:
		return "Pending Cooperative"
	case StatusCompleted:
		return "Completed"
	}
	return string(s)
}

// Percentage is an ownership share. Forms post it either as a JSON number or
// as a decimal string using a comma or a dot.
type Percentage float64

func (p *Percentage) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*p = Percentage(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("ownership percentage: %w", err)
	}
	parsed, err := ParsePercentage(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePercentage parses "50", "50.5" or "50,5".
func ParsePercentage(s string) (Percentage, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	s = strings.TrimSuffix(s, "%")
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("invalid ownership percentage %q", s)
	}
	return Percentage(n), nil
}

// Borrower is a person taking the loan secured by the deed.
type Borrower struct {
	ID                  int64      `json:"id,omitempty"`
	Name                string     `json:"name"`
	Email               string     `json:"email"`
	PersonNumber        string     `json:"person_number"`
	OwnershipPercentage Percentage `json:"ownership_percentage"`
	SignatureTimestamp  *time.Time `json:"signature_timestamp,omitempty"`
}

// CooperativeSigner is a board member who co-signs for the cooperative.
type CooperativeSigner struct {
	AdministratorName         string     `json:"administrator_name"`
	AdministratorPersonNumber string     `json:"administrator_person_number"`
	AdministratorEmail        string     `json:"administrator_email"`
	SignatureTimestamp        *time.Time `json:"signature_timestamp,omitempty"`
}

// MortgageDeed is a pantbrev for one apartment.
type MortgageDeed struct {
	ID                   int64               `json:"id,omitempty"`
	CreditNumber         string              `json:"credit_number,omitempty"`
	CreditNumbers        []string            `json:"credit_numbers,omitempty"`
	HousingCooperativeID int64               `json:"housing_cooperative_id"`
	HousingCooperative   *HousingCooperative `json:"housing_cooperative,omitempty"`
	ApartmentNumber      string              `json:"apartment_number"`
	ApartmentAddress     string              `json:"apartment_address"`
	ApartmentPostalCode  string              `json:"apartment_postal_code"`
	ApartmentCity        string              `json:"apartment_city"`
	Status               DeedStatus          `json:"status,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            *time.Time          `json:"updated_at,omitempty"`
	Borrowers            []Borrower          `json:"borrowers"`
	CooperativeSigners   []CooperativeSigner `json:"housing_cooperative_signers"`
	HasExistingMortgages bool                `json:"has_existing_mortgages,omitempty"`
	ExistingMortgageBank string              `json:"existing_mortgage_bank,omitempty"`
	ExistingMortgageDate string              `json:"existing_mortgage_date,omitempty"`
	Notes                string              `json:"notes,omitempty"`
}

// Credits returns every credit number on the deed, including the legacy
// single field.
func (d *MortgageDeed) Credits() []string {
	out := make([]string, 0, len(d.CreditNumbers)+1)
	seen := make(map[string]bool)
	for _, c := range append([]string{d.CreditNumber}, d.CreditNumbers...) {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// OwnershipTotal sums the borrowers' shares.
func (d *MortgageDeed) OwnershipTotal() float64 {
	var total float64
	for _, b := range d.Borrowers {
		total += float64(b.OwnershipPercentage)
	}
	return total
}

// Editable reports whether the deed may still be changed. Once it has been
// sent for signing the content is frozen.
func (d *MortgageDeed) Editable() bool {
	return d.Status == "" || d.Status == StatusCreated
}

// Validate checks a deed before it is submitted.
func (d *MortgageDeed) Validate() error {
	v := &ValidationError{}

	if len(d.Credits()) == 0 {
		v.add("credit_numbers", "at least one credit number is required")
	}
	if d.HousingCooperativeID <= 0 {
		v.add("housing_cooperative_id", "is required")
	}
	v.required("apartment_number", d.ApartmentNumber)
	v.required("apartment_address", d.ApartmentAddress)
	v.pattern("apartment_postal_code", d.ApartmentPostalCode, postalCodePattern, "NNN NN")
	v.required("apartment_city", d.ApartmentCity)
	if d.HasExistingMortgages && strings.TrimSpace(d.ExistingMortgageBank) == "" {
		v.add("existing_mortgage_bank", "is required when existing mortgages are declared")
	}

	if len(d.Borrowers) == 0 {
		v.add("borrowers", "at least one borrower is required")
	}
	for i, b := range d.Borrowers {
		prefix := fmt.Sprintf("borrowers[%d].", i)
		v.required(prefix+"name", b.Name)
		v.pattern(prefix+"person_number", b.PersonNumber, personNumberPattern, "12 digits")
		v.email(prefix+"email", b.Email)
		if p := b.OwnershipPercentage; !(p > 0 && p <= 100) {
			v.add(prefix+"ownership_percentage", "must be between 0 and 100")
		}
	}
	if len(d.Borrowers) > 0 {
		if total := d.OwnershipTotal(); !(math.Abs(total-100) <= OwnershipTolerance) {
			v.add("borrowers", "ownership percentages must sum to 100, got %.2f", total)
		}
	}

	for i, s := range d.CooperativeSigners {
		prefix := fmt.Sprintf("housing_cooperative_signers[%d].", i)
		v.required(prefix+"administrator_name", s.AdministratorName)
		v.pattern(prefix+"administrator_person_number", s.AdministratorPersonNumber, personNumberPattern, "12 digits")
		v.email(prefix+"administrator_email", s.AdministratorEmail)
	}

	return v.err()
}
