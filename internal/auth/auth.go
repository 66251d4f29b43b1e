package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var jwtSecret []byte

// contextKey avoids collisions with other packages' context values.
type contextKey string

const claimsKey contextKey = "claims"
const tokenKey contextKey = "rawToken"

var ErrNoClaims = errors.New("no claims in context")

// Claims are the platform token claims. Permisos carries the permission
// codes granted to the user (e.g. "carinfo.consultar").
type Claims struct {
	UserID   string   `json:"user_id"`
	Nombre   string   `json:"nombre"`
	Rol      string   `json:"rol"`
	Permisos []string `json:"permisos"`
	jwt.RegisteredClaims
}

// Init loads the signing secret. Uses JWT_SECRET from the environment with a
// development fallback so local runs work without configuration.
func Init() {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-secret-change-in-production"
	}
	jwtSecret = []byte(secret)
}

// GenerateToken issues a signed token, used by tests and local tooling; in
// production tokens come from the platform's auth service.
func GenerateToken(userID, nombre, rol string, permisos []string) (string, error) {
	claims := Claims{
		UserID:   userID,
		Nombre:   nombre,
		Rol:      rol,
		Permisos: permisos,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// ValidateToken parses and verifies a token string.
func ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// JWTMiddleware validates the Bearer token and stores the claims and the raw
// token in the request context. The raw token is kept so handlers can
// forward it to the vehicle-record backend.
func JWTMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, `{"error":"missing or malformed authorization header"}`, http.StatusUnauthorized)
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		claims, err := ValidateToken(tokenString)
		if err != nil {
			http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		ctx = context.WithValue(ctx, tokenKey, tokenString)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClaimsFromContext retrieves the authenticated claims.
func GetClaimsFromContext(ctx context.Context) (*Claims, error) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	if !ok {
		return nil, ErrNoClaims
	}
	return claims, nil
}

// GetTokenFromContext retrieves the raw Bearer token for forwarding.
func GetTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}

// HasPermission reports whether the claims grant the permission code.
func (c *Claims) HasPermission(code string) bool {
	for _, p := range c.Permisos {
		if p == code {
			return true
		}
	}
	return false
}

// RequirePermission guards a handler behind a permission code.
func RequirePermission(code string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := GetClaimsFromContext(r.Context())
		if err != nil {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		if !claims.HasPermission(code) {
			http.Error(w, `{"error":"permiso denegado"}`, http.StatusForbidden)
			return
		}
		next(w, r)
	}
}
