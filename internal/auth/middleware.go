package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/alexedwards/argon2id"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-gateway/internal/common"
	"github.com/noah-isme/backend-gateway/internal/store"
)

// Credential headers expected on authenticated routes.
const (
	HeaderAPIKey    = "X-Api-Key"
	HeaderAPISecret = "X-Api-Secret"
)

// MerchantSource resolves an API key to a merchant record.
type MerchantSource interface {
	GetMerchantByAPIKey(ctx context.Context, apiKey string) (store.Merchant, error)
}

// Middleware authenticates requests against merchant API credentials. The
// secret is stored hashed, so lookup goes by key and the secret is verified
// against the hash.
type Middleware struct {
	Merchants MerchantSource
	Logger    zerolog.Logger
}

// Authenticate wraps next with credential verification and attaches the
// merchant to the request context.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get(HeaderAPIKey)
		apiSecret := r.Header.Get(HeaderAPISecret)
		if apiKey == "" || apiSecret == "" {
			common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "Invalid API credentials", nil)
			return
		}

		merchant, err := m.Merchants.GetMerchantByAPIKey(r.Context(), apiKey)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "Invalid API credentials", nil)
				return
			}
			m.Logger.Error().Err(err).Msg("merchant lookup failed")
			common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "Internal system error", nil)
			return
		}

		match, err := argon2id.ComparePasswordAndHash(apiSecret, merchant.APISecretHash)
		if err != nil || !match {
			common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "Invalid API credentials", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithMerchant(r.Context(), merchant)))
	})
}
