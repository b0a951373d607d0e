package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const contextKeySubject contextKey = "admin_subject"

// Authenticator validates the HS256 bearer tokens accepted on admin routes.
type Authenticator struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// NewAuthenticator builds a verifier for tokens minted with the shared
// secret. Issuer and audience are matched exactly; leeway softens clock skew
// on the time-based claims.
func NewAuthenticator(secret, issuer, audience string, leeway time.Duration) (*Authenticator, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, errors.New("admin secret must not be empty")
	}
	return &Authenticator{
		secret:   []byte(trimmed),
		issuer:   strings.TrimSpace(issuer),
		audience: strings.TrimSpace(audience),
		leeway:   leeway,
		now:      time.Now,
	}, nil
}

// SetNowFunc overrides the clock used for token validation.
func (a *Authenticator) SetNowFunc(now func() time.Time) {
	if now != nil {
		a.now = now
	}
}

// Verify parses the token and returns its subject.
func (a *Authenticator) Verify(token string) (string, error) {
	if a == nil {
		return "", errors.New("authenticator not configured")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	if a.leeway > 0 {
		opts = append(opts, jwt.WithLeeway(a.leeway))
	}
	if a.now != nil {
		opts = append(opts, jwt.WithTimeFunc(func() time.Time { return a.now() }))
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("token validation failed")
	}

	subject := ""
	if sub, ok := claims["sub"].(string); ok {
		subject = strings.TrimSpace(sub)
	}
	if subject == "" {
		return "", errors.New("token subject missing")
	}
	return subject, nil
}

// Middleware enforces bearer authentication before invoking the next handler
// and attaches the token subject to the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := strings.TrimSpace(r.Header.Get("Authorization"))
		if authz == "" {
			http.Error(w, "missing authorization", http.StatusUnauthorized)
			return
		}
		parts := strings.SplitN(authz, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			http.Error(w, "invalid authorization scheme", http.StatusUnauthorized)
			return
		}
		token := strings.TrimSpace(parts[1])
		if token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		subject, err := a.Verify(token)
		if err != nil {
			http.Error(w, "invalid authorization token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), contextKeySubject, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SubjectFromContext extracts the subject attached by Middleware.
func SubjectFromContext(ctx context.Context) (string, error) {
	if ctx == nil {
		return "", errors.New("missing context")
	}
	subject, ok := ctx.Value(contextKeySubject).(string)
	if !ok || subject == "" {
		return "", errors.New("missing identity in context")
	}
	return subject, nil
}

// MintToken issues a short-lived admin token. The CLI and tests use it; the
// daemon itself only verifies.
func MintToken(secret, issuer, audience, subject string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("admin secret must not be empty")
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("token subject must not be empty")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	claims := jwt.MapClaims{
		"sub": strings.TrimSpace(subject),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if trimmed := strings.TrimSpace(issuer); trimmed != "" {
		claims["iss"] = trimmed
	}
	if trimmed := strings.TrimSpace(audience); trimmed != "" {
		claims["aud"] = trimmed
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(strings.TrimSpace(secret)))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
