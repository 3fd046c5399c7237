package api

import (
	"net/url"
	"strconv"
	"strings"

	"kolibri/internal/models"
)

// deedFromForm reads the new-deed form. Borrowers and signers are posted as
// parallel repeated fields; rows left completely blank are skipped.
func deedFromForm(form url.Values) (models.MortgageDeed, error) {
	d := models.MortgageDeed{
		ApartmentNumber:      strings.TrimSpace(form.Get("apartment_number")),
		ApartmentAddress:     strings.TrimSpace(form.Get("apartment_address")),
		ApartmentPostalCode:  strings.TrimSpace(form.Get("apartment_postal_code")),
		ApartmentCity:        strings.TrimSpace(form.Get("apartment_city")),
		HasExistingMortgages: form.Get("has_existing_mortgages") != "",
		ExistingMortgageBank: strings.TrimSpace(form.Get("existing_mortgage_bank")),
		ExistingMortgageDate: strings.TrimSpace(form.Get("existing_mortgage_date")),
		Notes:                strings.TrimSpace(form.Get("notes")),
	}
	d.HousingCooperativeID, _ = strconv.ParseInt(form.Get("housing_cooperative_id"), 10, 64)
	for _, c := range strings.Split(form.Get("credit_numbers"), ",") {
		if c = strings.TrimSpace(c); c != "" {
			d.CreditNumbers = append(d.CreditNumbers, c)
		}
	}

	names := form["borrower_name"]
	for i := range names {
		row := []string{at(names, i), at(form["borrower_email"], i), at(form["borrower_person_number"], i), at(form["borrower_ownership"], i)}
		if blank(row) {
			continue
		}
		b := models.Borrower{Name: row[0], Email: row[1], PersonNumber: row[2]}
		if row[3] != "" {
			pct, err := models.ParsePercentage(row[3])
			if err != nil {
				return d, &models.ValidationError{Fields: []models.FieldError{{
					Field:   "borrowers[" + strconv.Itoa(len(d.Borrowers)) + "].ownership_percentage",
					Message: err.Error(),
				}}}
			}
			b.OwnershipPercentage = pct
		}
		d.Borrowers = append(d.Borrowers, b)
	}

	signers := form["signer_name"]
	for i := range signers {
		row := []string{at(signers, i), at(form["signer_person_number"], i), at(form["signer_email"], i)}
		if blank(row) {
			continue
		}
		d.CooperativeSigners = append(d.CooperativeSigners, models.CooperativeSigner{
			AdministratorName:         row[0],
			AdministratorPersonNumber: row[1],
			AdministratorEmail:        row[2],
		})
	}
	return d, nil
}

func cooperativeFromForm(form url.Values) models.HousingCooperative {
	get := func(k string) string { return strings.TrimSpace(form.Get(k)) }
	return models.HousingCooperative{
		Name:                      get("name"),
		OrganisationNumber:        get("organisation_number"),
		Address:                   get("address"),
		PostalCode:                get("postal_code"),
		City:                      get("city"),
		AdministratorCompany:      get("administrator_company"),
		AdministratorName:         get("administrator_name"),
		AdministratorPersonNumber: get("administrator_person_number"),
		AdministratorEmail:        get("administrator_email"),
		AccountingFirmName:        get("accounting_firm_name"),
		AccountingFirmEmail:       get("accounting_firm_email"),
	}
}

func at(vals []string, i int) string {
	if i < len(vals) {
		return strings.TrimSpace(vals[i])
	}
	return ""
}

func blank(row []string) bool {
	for _, v := range row {
		if v != "" {
			return false
		}
	}
	return true
}
