package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const staffClaimsKey contextKey = "staffClaims"

// StaffClaims identifies the signed-in clinic staff member.
type StaffClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

// UID is the staff member's stable id (the token subject).
func (c StaffClaims) UID() string { return c.Subject }

// StaffJWT enforces an HMAC-signed staff JWT. Browsers cannot set headers on
// WebSocket upgrades, so the token may also arrive as ?access_token=.
func StaffJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "staff auth disabled", http.StatusUnauthorized)
				return
			}
			tokenString := bearerToken(r)
			if tokenString == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			claims := StaffClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid || claims.Subject == "" {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithStaffClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if auth == "" && isWebSocketUpgrade(r) {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	return ""
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// WithStaffClaims stores claims on ctx.
func WithStaffClaims(ctx context.Context, claims StaffClaims) context.Context {
	return context.WithValue(ctx, staffClaimsKey, claims)
}

// StaffClaimsFromContext returns staff JWT claims if present.
func StaffClaimsFromContext(ctx context.Context) (StaffClaims, bool) {
	claims, ok := ctx.Value(staffClaimsKey).(StaffClaims)
	return claims, ok
}

// StaffUIDFromContext returns the staff uid or "".
func StaffUIDFromContext(ctx context.Context) string {
	claims, _ := StaffClaimsFromContext(ctx)
	return claims.UID()
}
