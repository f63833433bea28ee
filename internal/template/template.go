// Package template holds the externally-owned issuance and verification
// configuration consumed read-only by the orchestrators.
package template

import (
	sessionmodels "vcbridge/internal/session/models"
)

// IssuanceTemplate declares what an issuance session produces: the protocol
// carrying it, the claims a finished credential must populate, and whether
// the credential is revocable (and therefore needs a status list index).
type IssuanceTemplate struct {
	ID             string
	Name           string
	Protocol       sessionmodels.Protocol
	IssuerID       string
	Revocable      bool
	StatusPurpose  string
	RequiredClaims []string
	// SchemaJSON optionally constrains inbound claim payloads. Empty means
	// no schema validation.
	SchemaJSON string
}

// VerificationTemplate declares what a verification session requests from a
// holder and which issuers it trusts.
type VerificationTemplate struct {
	ID              string
	Name            string
	Protocol        sessionmodels.Protocol
	RequestedClaims []string
	TrustedIssuers  []string
}

// MissingClaims returns the required claims absent or empty in the given set.
func (t *IssuanceTemplate) MissingClaims(claims map[string]string) []string {
	var missing []string
	for _, required := range t.RequiredClaims {
		if claims[required] == "" {
			missing = append(missing, required)
		}
	}
	return missing
}
