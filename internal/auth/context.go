// Package auth authenticates merchants from API key headers.
package auth

import (
	"context"

	"github.com/noah-isme/backend-gateway/internal/store"
)

type ctxKey struct{}

// WithMerchant returns a context carrying the authenticated merchant.
func WithMerchant(ctx context.Context, m store.Merchant) context.Context {
	return context.WithValue(ctx, ctxKey{}, m)
}

// MerchantFromContext returns the merchant attached by the middleware.
func MerchantFromContext(ctx context.Context) (store.Merchant, bool) {
	m, ok := ctx.Value(ctxKey{}).(store.Merchant)
	return m, ok
}
