package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/invoicedesk/invoicedesk/internal/platform/httpx"
)

// Identity is the verified caller as asserted by the identity provider.
type Identity struct {
	OwnerID   string
	Email     string
	ExpiresAt time.Time
}

var (
	// ErrMissingToken indicates the request carried no bearer token.
	ErrMissingToken = fmt.Errorf("%w: bearer token missing", httpx.ErrUnauthorized)
	// ErrInvalidToken indicates the token failed verification.
	ErrInvalidToken = fmt.Errorf("%w: invalid token", httpx.ErrUnauthorized)
	// ErrNoOwner indicates a handler ran without an authenticated owner.
	ErrNoOwner = fmt.Errorf("%w: owner identifier missing from context", httpx.ErrUnauthorized)
)

type identityKey struct{}

// ContextWithIdentity stores the identity in ctx.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext extracts the identity stored by the middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.OwnerID != ""
}

// OwnerID returns the owner identifier of the authenticated caller.
func OwnerID(ctx context.Context) (string, error) {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return "", ErrNoOwner
	}
	return id.OwnerID, nil
}
