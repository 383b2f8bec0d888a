// Package billingcontext carries the caller identity resolved by the
// surrounding application into the metering core: who triggered a billable
// operation and which account pays for it.
package billingcontext

import (
	"context"
	"strings"
)

// AccountMode is the billing owner's account mode at event time.
const (
	ModeIndividual = "individual"
	ModeFamily     = "family"
	ModeWorkplace  = "workplace"
)

// Identity describes the authenticated caller for a request.
type Identity struct {
	ActorUserID    string
	BillingOwnerID string
	AccountMode    string
}

type identityKey struct{}

// WithIdentity stores the caller identity in the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	id.ActorUserID = strings.TrimSpace(id.ActorUserID)
	id.BillingOwnerID = strings.TrimSpace(id.BillingOwnerID)
	id.AccountMode = normalizeMode(id.AccountMode)
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller identity, if set.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || id.BillingOwnerID == "" {
		return Identity{}, false
	}
	return id, true
}

func normalizeMode(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ModeFamily:
		return ModeFamily
	case ModeWorkplace:
		return ModeWorkplace
	default:
		return ModeIndividual
	}
}
