package status

// Package status hosts the stable, minimal DTO published to external
// verifiers for status list resolution. Keep this shape versioned
// independently from internal status list persistence models.

// ContractVersion identifies the contract schema version for compatibility checks.
// Bump on breaking changes to the shapes below; consumers can pin or roll forward.
const ContractVersion = "v0.1.0"

// Document is the published status list shape consumed by third-party
// verifiers. EncodedList is the base64url encoding of the gzip-compressed
// bitstring, bit i of credential index i in LSB-first order.
type Document struct {
	ID          string `json:"id"`
	Purpose     string `json:"purpose"`
	Size        int    `json:"size"`
	LastIndex   int    `json:"lastIndex"`
	EncodedList string `json:"encodedList"`

	// Token is a compact JWS over the document fields, present when the
	// publisher is configured with a signing key. Verifiers that pin the
	// issuer key can detect tampered or replayed lists.
	Token string `json:"token,omitempty"`
}
