package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

type principalContextKey string

const principalKey principalContextKey = "principal"

// tokenTTL is the lifetime of an issued API token.
const tokenTTL = 24 * time.Hour

// Principal identifies an authenticated API caller. TenantUUIDs lists the
// tenants the caller may see; an empty list means a system-level caller with
// an unrestricted view.
type Principal struct {
	Subject     string
	TenantUUIDs []string
}

// System reports whether the principal has an unrestricted tenant view.
func (p *Principal) System() bool {
	return len(p.TenantUUIDs) == 0
}

// APIClaims holds the JWT claims for API authentication.
type APIClaims struct {
	TenantUUIDs []string `json:"tenants,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken creates a signed JWT for an API caller. An empty tenants
// slice issues a system-level token.
func GenerateToken(secret []byte, subject string, tenantUUIDs []string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(tokenTTL)

	claims := APIClaims{
		TenantUUIDs: tenantUUIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "routecore",
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// RequireAuth returns middleware that validates JWT bearer tokens and stores
// the caller's principal in the request context.
func RequireAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, errMsg := parseBearer(r, secret)
			if errMsg != "" {
				writeAuthError(w, http.StatusUnauthorized, errMsg)
				return
			}
			recordPrincipal(r.Context(), principal)
			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth returns middleware that stores a principal when a valid
// bearer token is present and passes the request through anonymously
// otherwise. Proxy callback endpoints use it: the proxy itself carries no
// token and gets the system-level view.
func OptionalAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				next.ServeHTTP(w, r)
				return
			}
			principal, errMsg := parseBearer(r, secret)
			if errMsg != "" {
				writeAuthError(w, http.StatusUnauthorized, errMsg)
				return
			}
			recordPrincipal(r.Context(), principal)
			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// parseBearer validates the Authorization header and returns the principal,
// or a client error message.
func parseBearer(r *http.Request, secret []byte) (*Principal, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, "authentication required"
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, "invalid authorization header"
	}

	claims := &APIClaims{}
	token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		slog.Debug("api auth: invalid jwt", "error", err)
		return nil, "invalid or expired token"
	}

	return &Principal{Subject: claims.Subject, TenantUUIDs: claims.TenantUUIDs}, ""
}

// PrincipalFromContext retrieves the authenticated principal, or nil for an
// anonymous request.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

// authEnvelope matches the api package's envelope format for error responses.
type authEnvelope struct {
	Error string `json:"error,omitempty"`
}

// writeAuthError writes a JSON error matching the API envelope format.
func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(authEnvelope{Error: msg}) //nolint:errcheck
}
