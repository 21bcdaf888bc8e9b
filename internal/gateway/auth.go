package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/optx/venue-engine/internal/errs"
)

// RoleAdmin marks tokens allowed to call the admin endpoints.
const RoleAdmin = "admin"

type contextKey string

const identityKey contextKey = "identity"

// Identity is the authenticated caller extracted from a bearer token.
type Identity struct {
	UserID string
	Role   string
}

func (id Identity) Admin() bool { return id.Role == RoleAdmin }

// Claims are the JWT claims carried by venue tokens.
type Claims struct {
	UserID string `json:"uid"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken signs an HS256 token for userID with the given role.
func GenerateToken(userID, role, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseToken(tokenStr, secret string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, errs.Wrap(err, errs.KindUnauthorized, "invalid or expired token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.UserID == "" {
		return Identity{}, errs.New(errs.KindUnauthorized, "invalid token claims")
	}
	return Identity{UserID: claims.UserID, Role: claims.Role}, nil
}

// Authenticator enforces a bearer token on protected routes and stores the
// caller's Identity on the request context.
func Authenticator(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeError(w, errs.New(errs.KindUnauthorized, "missing Authorization header"))
				return
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeError(w, errs.New(errs.KindUnauthorized, "invalid Authorization header"))
				return
			}

			identity, err := parseToken(parts[1], secret)
			if err != nil {
				writeError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects callers whose token does not carry the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !identityFrom(r.Context()).Admin() {
			writeError(w, errs.New(errs.KindUnauthorized, "admin role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// identityFrom returns the caller stored by Authenticator; zero if absent.
func identityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey).(Identity)
	return id
}
