package middleware

import (
	"context"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"jobengine/internal/domain"
)

// AccountOpener creates a credit account if it does not exist yet.
type AccountOpener interface {
	OpenAccount(ctx context.Context, userID string, startingBalance int64) (*domain.Account, error)
}

// ProvisionAccount opens a credit account with startingBalance the first time
// an authenticated user is seen by this process. Existing balances are never
// touched.
func ProvisionAccount(ledger AccountOpener, startingBalance int64, logger zerolog.Logger) func(http.Handler) http.Handler {
	var seen sync.Map
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := UserIDFromContext(r.Context())
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := seen.Load(userID); !ok {
				acct, err := ledger.OpenAccount(r.Context(), userID, startingBalance)
				if err != nil {
					logger.Error().Err(err).Str("user_id", userID).Msg("open credit account")
					writeError(w, http.StatusInternalServerError, "internal", "failed to load account")
					return
				}
				seen.Store(userID, struct{}{})
				logger.Debug().Str("user_id", userID).Int64("balance", acct.Balance).Msg("credit account ready")
			}
			next.ServeHTTP(w, r)
		})
	}
}
