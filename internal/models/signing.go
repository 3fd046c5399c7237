package models

import "time"

// Signer kinds carried by a signing link.
const (
	SignerBorrower    = "borrower"
	SignerCooperative = "housing_cooperative_signer"
)

// SigningInfo is what a valid signing link resolves to.
type SigningInfo struct {
	Deed       MortgageDeed `json:"deed"`
	SignerType string       `json:"signer_type,omitempty"`
	SignerName string       `json:"signer_name,omitempty"`
	ExpiresAt  *time.Time   `json:"expires_at,omitempty"`
}

// SignRequest confirms a signature for the holder of token.
type SignRequest struct {
	Token              string `json:"token"`
	SignatureConfirmed bool   `json:"signature_confirmed"`
}
