package auth

import (
	"context"
	"errors"
)

var ErrNoIdentity = errors.New("auth: no identity in context")

// Identity is the verified caller attached to a request context.
type Identity struct {
	UserID  string
	Role    string
	TokenID string
}

type identityKey struct{}

// WithIdentity attaches a caller to ctx.
func WithIdentity(ctx context.Context, userID, role string) context.Context {
	return WithClaims(ctx, Claims{UserID: userID, Role: role})
}

// WithClaims attaches the identity carried by verified claims.
func WithClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, identityKey{}, Identity{UserID: c.UserID, Role: c.Role, TokenID: c.ID})
}

func IdentityFrom(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || id.UserID == "" || id.Role == "" {
		return Identity{}, ErrNoIdentity
	}
	return id, nil
}

func UserID(ctx context.Context) (string, error) {
	id, err := IdentityFrom(ctx)
	return id.UserID, err
}

func Role(ctx context.Context) (string, error) {
	id, err := IdentityFrom(ctx)
	return id.Role, err
}
