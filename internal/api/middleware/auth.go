package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
)

type contextKey string

const principalContextKey contextKey = "principal"

// Principal is the authenticated identity extracted from a session token.
// Tokens are issued by the platform's identity service; this service only
// verifies them.
type Principal struct {
	UserID      uuid.UUID
	OrgID       uuid.UUID
	DisplayName string
	Admin       bool
}

// SessionClaims is the token payload the identity service signs.
type SessionClaims struct {
	jwt.StandardClaims
	OrgID       string `json:"org"`
	DisplayName string `json:"name,omitempty"`
	Admin       bool   `json:"admin,omitempty"`
}

// AuthMiddleware verifies session tokens on authenticated endpoints.
type AuthMiddleware struct {
	secret []byte
}

// NewAuthMiddleware creates a new auth middleware with the HS256 secret
// shared with the identity service.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret)}
}

// RequireSession verifies the bearer token and attaches the Principal to
// the request context.
func (m *AuthMiddleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") || len(header) <= 7 {
			jsonError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		tokenStr := strings.TrimSpace(header[7:])

		claims := &SessionClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return m.secret, nil
		})
		if err != nil || !token.Valid {
			jsonError(w, http.StatusUnauthorized, "invalid or expired session token")
			return
		}

		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid subject claim")
			return
		}
		orgID, err := uuid.Parse(claims.OrgID)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid organization claim")
			return
		}

		principal := &Principal{
			UserID:      userID,
			OrgID:       orgID,
			DisplayName: claims.DisplayName,
			Admin:       claims.Admin,
		}
		ctx := context.WithValue(r.Context(), principalContextKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin gates administrative endpoints on the admin claim.
// Must run inside RequireSession.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := GetPrincipal(r.Context())
		if p == nil || !p.Admin {
			jsonError(w, http.StatusForbidden, "admin privileges required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetPrincipal retrieves the authenticated principal from the request
// context, or nil outside an authenticated route.
func GetPrincipal(ctx context.Context) *Principal {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	if !ok {
		return nil
	}
	return p
}

// WithPrincipal returns a context carrying the principal. Used by tests
// to exercise handlers without a real token.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
