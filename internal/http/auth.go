package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/vaheed/odoonova/internal/lib/httperr"
	"github.com/vaheed/odoonova/internal/logging"
)

// RoleReader may read cluster status. It is the only role the API knows.
const RoleReader = "reader"

type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// AuthConfig verifies HS256 bearer tokens. An empty key disables auth.
type AuthConfig struct{ Key []byte }

func (a AuthConfig) Enabled() bool { return len(a.Key) > 0 }

func (a AuthConfig) ParseFromHeader(authz string) (*Claims, error) {
	if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return nil, errors.New("missing bearer token")
	}
	tok := strings.TrimSpace(authz[len("bearer "):])
	var c Claims
	_, err := jwt.ParseWithClaims(tok, &c, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return a.Key, nil
	})
	if err != nil {
		return nil, errors.New("invalid token")
	}
	return &c, nil
}

// Middleware rejects requests without a valid token carrying RoleReader.
func (a AuthConfig) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		c, err := a.ParseFromHeader(r.Header.Get("Authorization"))
		if err != nil {
			httperr.Write(w, http.StatusUnauthorized, httperr.CodeUnauthorized, err.Error())
			return
		}
		if !HasRole(c, RoleReader) {
			httperr.Write(w, http.StatusForbidden, httperr.CodeForbidden, "token lacks the reader role")
			return
		}
		logging.FromContext(r.Context()).Debug("status_api_authorized", zap.String("subject", c.Subject))
		next.ServeHTTP(w, r)
	})
}

func HasRole(c *Claims, want string) bool {
	for _, r := range c.Roles {
		if r == want {
			return true
		}
	}
	return false
}
