// Package did defines the outbound port for DID key resolution. Resolution
// against ledgers or the web is supplied by a collaborator; this core only
// consumes the capability when constructing signed artifacts.
package did

//go:generate mockgen -source=resolver.go -destination=mocks/mocks.go -package=mocks Resolver

import (
	"context"
	"fmt"
	"sync"

	"vcbridge/internal/sentinel"
)

// VerificationKey is the resolved key material for a DID, opaque to the core.
type VerificationKey struct {
	ID        string
	Type      string
	PublicKey string
}

// Resolver resolves the active verification key for a DID.
type Resolver interface {
	ResolveKey(ctx context.Context, did string) (VerificationKey, error)
}

// StaticResolver serves keys from a fixed map. Used in tests and single-tenant
// deployments where issuer keys are provisioned out-of-band.
type StaticResolver struct {
	mu   sync.RWMutex
	keys map[string]VerificationKey
}

// NewStaticResolver constructs a resolver over the given DID-to-key map.
func NewStaticResolver(keys map[string]VerificationKey) *StaticResolver {
	copied := make(map[string]VerificationKey, len(keys))
	for did, key := range keys {
		copied[did] = key
	}
	return &StaticResolver{keys: copied}
}

func (r *StaticResolver) ResolveKey(_ context.Context, did string) (VerificationKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.keys[did]
	if !ok {
		return VerificationKey{}, fmt.Errorf("resolve %s: %w", did, sentinel.ErrNotFound)
	}
	return key, nil
}
