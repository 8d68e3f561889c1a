package server

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// AuthConfig configures how mutating endpoints authenticate callers. A
// request passes when its bearer credential matches the static token or is
// an HS256 JWT signed with JWTSecret.
type AuthConfig struct {
	BearerToken string
	JWTSecret   string
	Issuer      string
	Audience    string
	ClockSkew   time.Duration
}

// Enabled reports whether any credential is configured.
func (c AuthConfig) Enabled() bool {
	return strings.TrimSpace(c.BearerToken) != "" || strings.TrimSpace(c.JWTSecret) != ""
}

// Authenticator guards mutating endpoints.
type Authenticator struct {
	bearerToken string
	secret      []byte
	issuer      string
	audience    string
	clockSkew   time.Duration
}

// NewAuthenticator constructs an authenticator. A configuration without any
// credential is rejected.
func NewAuthenticator(cfg AuthConfig) (*Authenticator, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("bearer token or jwt secret must be configured")
	}
	auth := &Authenticator{
		bearerToken: strings.TrimSpace(cfg.BearerToken),
		secret:      []byte(strings.TrimSpace(cfg.JWTSecret)),
		issuer:      strings.TrimSpace(cfg.Issuer),
		audience:    strings.TrimSpace(cfg.Audience),
		clockSkew:   cfg.ClockSkew,
	}
	if auth.clockSkew <= 0 {
		auth.clockSkew = 2 * time.Minute
	}
	return auth, nil
}

// Middleware enforces the configured credentials.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a == nil {
			next.ServeHTTP(w, r)
			return
		}
		if !a.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="vaultd"`)
			writeJSONError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) authenticate(r *http.Request) bool {
	token := extractBearer(r.Header.Get("Authorization"))
	if token == "" {
		return false
	}
	if a.bearerToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.bearerToken)) == 1 {
		return true
	}
	if len(a.secret) == 0 {
		return false
	}
	return a.verifyJWT(token) == nil
}

func (a *Authenticator) verifyJWT(tokenString string) error {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.clockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("token invalid")
	}
	return nil
}

func extractBearer(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
