package models

// HousingCooperative is a bostadsrättsförening. The backend keys it by
// organisation number.
type HousingCooperative struct {
	ID                        int64  `json:"id,omitempty"`
	Name                      string `json:"name"`
	OrganisationNumber        string `json:"organisation_number"`
	Address                   string `json:"address"`
	PostalCode                string `json:"postal_code"`
	City                      string `json:"city"`
	AdministratorCompany      string `json:"administrator_company,omitempty"`
	AdministratorName         string `json:"administrator_name"`
	AdministratorPersonNumber string `json:"administrator_person_number"`
	AdministratorEmail        string `json:"administrator_email"`
	AccountingFirmName        string `json:"accounting_firm_name,omitempty"`
	AccountingFirmEmail       string `json:"accounting_firm_email,omitempty"`
	CreatedBy                 string `json:"created_by,omitempty"`
}

// Validate checks a cooperative before it is created.
func (c *HousingCooperative) Validate() error {
	v := &ValidationError{}
	c.check(v)
	return v.err()
}

// ValidateUpdate checks a cooperative before it replaces the one stored
// under orgNumber. The organisation number itself cannot change.
func (c *HousingCooperative) ValidateUpdate(orgNumber string) error {
	v := &ValidationError{}
	c.check(v)
	if c.OrganisationNumber != "" && c.OrganisationNumber != orgNumber {
		v.add("organisation_number", "cannot be changed")
	}
	return v.err()
}

func (c *HousingCooperative) check(v *ValidationError) {
	v.required("name", c.Name)
	v.pattern("organisation_number", c.OrganisationNumber, orgNumberPattern, "NNNNNN-NNNN")
	v.required("address", c.Address)
	v.pattern("postal_code", c.PostalCode, postalCodePattern, "NNN NN")
	v.required("city", c.City)
	v.required("administrator_name", c.AdministratorName)
	v.pattern("administrator_person_number", c.AdministratorPersonNumber, personNumberPattern, "12 digits")
	v.email("administrator_email", c.AdministratorEmail)
	if c.AccountingFirmEmail != "" {
		v.email("accounting_firm_email", c.AccountingFirmEmail)
	}
}
