// Package auth authenticates marketplace callers and gates routes by
// role. Identity is owned elsewhere; this layer only verifies the bearer
// token the identity service issued.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Context keys for storing authenticated user information.
type contextKey string

const (
	contextKeyClaims contextKey = "claims"
)

// Role represents an authorized persona within the marketplace.
type Role string

// Supported roles.
const (
	RoleShop    Role = "shop"
	RoleCreator Role = "creator"
	RoleAdmin   Role = "admin"
	RoleAuditor Role = "auditor"
)

var allowedRoles = map[Role]struct{}{
	RoleShop:    {},
	RoleCreator: {},
	RoleAdmin:   {},
	RoleAuditor: {},
}

// Claims is the authenticated identity attached to each request.
type Claims struct {
	Subject string
	Role    Role
}

// Middleware verifies bearer tokens. With a configured secret it expects
// HS256 JWTs carrying sub and role claims; without one it accepts the
// plain "subject|role" bearer form used by internal tooling and tests.
type Middleware struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// Config controls token verification.
type Config struct {
	Secret string
	Issuer string
	Leeway time.Duration
	Now    func() time.Time
}

// New constructs the authentication middleware.
func New(cfg Config) *Middleware {
	m := &Middleware{
		secret: []byte(strings.TrimSpace(cfg.Secret)),
		issuer: strings.TrimSpace(cfg.Issuer),
		leeway: cfg.Leeway,
		now:    cfg.Now,
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Authenticate extracts and verifies the caller identity before invoking
// the next handler.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
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

		claims, err := m.verify(token)
		if err != nil {
			http.Error(w, "invalid authorization token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), contextKeyClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) verify(token string) (*Claims, error) {
	if len(m.secret) > 0 {
		return m.verifyJWT(token)
	}
	return parseSimpleBearer(token)
}

func (m *Middleware) verifyJWT(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithLeeway(m.leeway),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	parsed, err := jwt.Parse(token, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("unexpected claims type")
	}
	subject, _ := mapClaims["sub"].(string)
	roleStr, _ := mapClaims["role"].(string)
	return buildClaims(subject, roleStr)
}

func parseSimpleBearer(token string) (*Claims, error) {
	subject, role, ok := strings.Cut(token, "|")
	if !ok {
		return nil, errors.New("malformed bearer token")
	}
	return buildClaims(subject, role)
}

func buildClaims(subject, role string) (*Claims, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, errors.New("missing subject")
	}
	r := Role(strings.ToLower(strings.TrimSpace(role)))
	if _, ok := allowedRoles[r]; !ok {
		return nil, fmt.Errorf("unsupported role %q", role)
	}
	return &Claims{Subject: subject, Role: r}, nil
}

// FromContext extracts the Claims previously attached by Authenticate.
func FromContext(ctx context.Context) (*Claims, error) {
	if ctx == nil {
		return nil, errors.New("missing context")
	}
	if claims, ok := ctx.Value(contextKeyClaims).(*Claims); ok && claims != nil {
		return claims, nil
	}
	return nil, errors.New("missing identity in context")
}

// RequireRole ensures the authenticated user has one of the allowed roles.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	allowed := make(map[Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := FromContext(r.Context())
			if err != nil {
				http.Error(w, "missing identity", http.StatusUnauthorized)
				return
			}
			if _, ok := allowed[claims.Role]; !ok {
				http.Error(w, "insufficient role", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
