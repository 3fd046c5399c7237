package devbackend

import "kolibri/internal/models"

// SampleCooperative returns a cooperative that passes validation.
func SampleCooperative() models.HousingCooperative {
	return models.HousingCooperative{
		Name:                      "BRF Solrosen",
		OrganisationNumber:        "769600-1234",
		Address:                   "Storgatan 1",
		PostalCode:                "114 51",
		City:                      "Stockholm",
		AdministratorCompany:      "Förvaltning AB",
		AdministratorName:         "Anna Andersson",
		AdministratorPersonNumber: "197001011234",
		AdministratorEmail:        "anna@solrosen.se",
		AccountingFirmName:        "Revision & Co",
		AccountingFirmEmail:       "info@revision.se",
	}
}

// SampleDeed returns a deed for cooperative coopID that passes validation:
// two borrowers splitting ownership 60/40 and one cooperative signer.
func SampleDeed(coopID int64) models.MortgageDeed {
	return models.MortgageDeed{
		CreditNumbers:        []string{"CR-1001"},
		HousingCooperativeID: coopID,
		ApartmentNumber:      "1102",
		ApartmentAddress:     "Storgatan 1",
		ApartmentPostalCode:  "114 51",
		ApartmentCity:        "Stockholm",
		Borrowers: []models.Borrower{
			{Name: "Erik Eriksson", Email: "erik@example.se", PersonNumber: "198502021234", OwnershipPercentage: 60},
			{Name: "Maria Eriksson", Email: "maria@example.se", PersonNumber: "198703031234", OwnershipPercentage: 40},
		},
		CooperativeSigners: []models.CooperativeSigner{
			{AdministratorName: "Anna Andersson", AdministratorPersonNumber: "197001011234", AdministratorEmail: "anna@solrosen.se"},
		},
	}
}
