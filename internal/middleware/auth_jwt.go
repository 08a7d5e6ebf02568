package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is the identity carried by an HS256 bearer token. Tokens are
// issued elsewhere; this service only verifies them.
type TokenClaims struct {
	Sub    string
	Locale string
	Exp    int64
	Issuer string
}

type jwtClaims struct {
	Locale string `json:"locale,omitempty"`
	jwt.RegisteredClaims
}

type userKey string

const (
	userIDKey userKey = "user_id"
)

var errInvalidToken = errors.New("invalid token")

func SignJWT(secret string, claims TokenClaims) (string, error) {
	c := jwtClaims{
		Locale: claims.Locale,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: claims.Sub,
			Issuer:  claims.Issuer,
		},
	}
	if claims.Exp != 0 {
		c.ExpiresAt = jwt.NewNumericDate(time.Unix(claims.Exp, 0))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

// VerifyJWT accepts only HS256 tokens signed with secret. An exp claim is
// enforced when present and the subject must be set.
func VerifyJWT(secret, token string) (*TokenClaims, error) {
	var c jwtClaims
	parsed, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || strings.TrimSpace(c.Subject) == "" {
		return nil, errInvalidToken
	}
	out := &TokenClaims{Sub: c.Subject, Locale: c.Locale, Issuer: c.Issuer}
	if c.ExpiresAt != nil {
		out.Exp = c.ExpiresAt.Unix()
	}
	return out, nil
}

// AuthJWT requires a valid bearer token and stores its subject as the user id.
// A non-empty issuer must match the token's iss claim.
func AuthJWT(secret, issuer string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing authorization")
				return
			}
			claims, err := VerifyJWT(secret, token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			if issuer != "" && claims.Issuer != issuer {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token issuer")
				return
			}
			ctx := context.WithValue(r.Context(), userIDKey, claims.Sub)
			if claims.Locale != "" && r.Header.Get("X-Locale") == "" {
				ctx = context.WithValue(ctx, LocaleKey, normalizeLocale(claims.Locale))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken reads the Authorization header, or the access_token query
// parameter for WebSocket upgrades that cannot set headers.
func bearerToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return ""
		}
		return strings.TrimSpace(parts[1])
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	return ""
}

func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if strings.TrimSpace(userID) == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey, userID)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
