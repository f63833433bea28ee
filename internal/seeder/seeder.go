// Package seeder populates the template store with the built-in exchange
// templates. Template management is configuration, not API surface, so a
// static seed at startup is enough.
package seeder

import (
	"log/slog"

	"vcbridge/internal/session/models"
	"vcbridge/internal/template"
)

// Templates builds the seeded template store for the given issuer.
func Templates(issuer string, logger *slog.Logger) template.Store {
	issuanceTemplates := []*template.IssuanceTemplate{
		{
			ID:             "tpl_membership_peer",
			Name:           "membership-card",
			Protocol:       models.ProtocolPeer,
			IssuerID:       issuer,
			Revocable:      true,
			StatusPurpose:  "revocation",
			RequiredClaims: []string{"member_id", "tier"},
		},
		{
			ID:             "tpl_membership_openid",
			Name:           "membership-card",
			Protocol:       models.ProtocolOpenID,
			IssuerID:       issuer,
			Revocable:      true,
			StatusPurpose:  "revocation",
			RequiredClaims: []string{"member_id", "tier"},
		},
		{
			ID:            "tpl_event_ticket",
			Name:          "event-ticket",
			Protocol:      models.ProtocolOpenID,
			IssuerID:      issuer,
			Revocable:     true,
			StatusPurpose: "suspension",
			RequiredClaims: []string{
				"ticket_id",
				"event_date",
			},
		},
	}
	verificationTemplates := []*template.VerificationTemplate{
		{
			ID:              "tpl_membership_check",
			Name:            "membership-check",
			Protocol:        models.ProtocolPeer,
			RequestedClaims: []string{"member_id"},
			TrustedIssuers:  []string{issuer},
		},
		{
			ID:              "tpl_ticket_check",
			Name:            "ticket-check",
			Protocol:        models.ProtocolOpenID,
			RequestedClaims: []string{"ticket_id"},
			TrustedIssuers:  []string{issuer},
		},
	}

	if logger != nil {
		logger.Info("seeded exchange templates",
			"issuance", len(issuanceTemplates),
			"verification", len(verificationTemplates),
		)
	}
	return template.NewInMemoryStore(issuanceTemplates, verificationTemplates)
}
