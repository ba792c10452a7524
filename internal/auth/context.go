// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package auth provides authentication context helpers.
package auth

import (
	"context"

	"codeberg.org/oliverandrich/account-service/internal/ctxkeys"
	"codeberg.org/oliverandrich/account-service/internal/services/session"
)

// WithIdentity stores verified session claims in the context.
func WithIdentity(ctx context.Context, claims *session.Claims) context.Context {
	return context.WithValue(ctx, ctxkeys.Identity{}, claims)
}

// GetIdentity returns the session claims from the context, or nil if the
// request is not authenticated.
func GetIdentity(ctx context.Context) *session.Claims {
	if claims, ok := ctx.Value(ctxkeys.Identity{}).(*session.Claims); ok {
		return claims
	}
	return nil
}

// IsAuthenticated returns true if the context carries an identity.
func IsAuthenticated(ctx context.Context) bool {
	return GetIdentity(ctx) != nil
}
