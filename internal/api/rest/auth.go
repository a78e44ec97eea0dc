package rest

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/novahr/security-engine/internal/domain/errors"
)

type contextKey string

const contextKeyClaims contextKey = "auth.claims"

// Claims carries tenant and actor identity for every authenticated request.
// Tenant scoping of all reads and writes hangs off TenantID.
type Claims struct {
	jwt.RegisteredClaims
	TenantID uuid.UUID `json:"tenant_id"`
	UserID   uuid.UUID `json:"user_id"`
	Role     string    `json:"role"`
}

// Authenticator validates bearer tokens and mints them for tests and
// service-to-service calls. HMAC only; the platform gateway owns key
// distribution.
type Authenticator struct {
	secret []byte
	expiry time.Duration
}

func NewAuthenticator(secret string, expiry time.Duration) *Authenticator {
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &Authenticator{secret: []byte(secret), expiry: expiry}
}

func (a *Authenticator) GenerateToken(tenantID, userID uuid.UUID, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiry)),
		},
		TenantID: tenantID,
		UserID:   userID,
		Role:     role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.NewValidationError("INVALID_TOKEN", "unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.NewValidationError("INVALID_TOKEN", "invalid or expired token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.TenantID == uuid.Nil || claims.UserID == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_TOKEN", "token missing tenant or user identity")
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// claims on the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeUnauthorized(w, "missing bearer token")
			return
		}
		claims, err := a.parse(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeUnauthorized(w, "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// claimsFrom returns the authenticated claims. The auth middleware
// guarantees presence on every protected route.
func claimsFrom(ctx context.Context) *Claims {
	claims, _ := ctx.Value(contextKeyClaims).(*Claims)
	return claims
}

// ClaimsFromContext exposes the authenticated claims to handlers mounted
// behind the auth middleware from other packages, such as the alert feed.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextKeyClaims).(*Claims)
	return claims, ok
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"` + message + `"}}`))
}
