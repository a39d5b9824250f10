package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fieldproof-backend/core/fieldwork"
)

type actorKey struct{}

// WithActor binds the calling actor to ctx.
func WithActor(ctx context.Context, actor fieldwork.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor bound by Authenticator.
func ActorFrom(ctx context.Context) (fieldwork.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(fieldwork.Actor)
	return actor, ok
}

// Claims are the JWT claims identifying an actor. The subject is the actor id.
type Claims struct {
	jwt.RegisteredClaims
	Role fieldwork.Role `json:"role"`
}

// Authenticator resolves the calling actor from a bearer token or, when
// trusted headers are enabled, from X-Actor-ID and X-Actor-Role.
type Authenticator struct {
	secret       []byte
	trustHeaders bool
	now          func() time.Time
}

// NewAuthenticator verifies HS256 tokens signed with secret. With an empty
// secret only trusted headers are accepted.
func NewAuthenticator(secret string, trustHeaders bool) *Authenticator {
	return &Authenticator{secret: []byte(secret), trustHeaders: trustHeaders, now: time.Now}
}

// IssueToken signs a token for actor valid for ttl.
func (a *Authenticator) IssueToken(actor fieldwork.Actor, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("token signing not configured")
	}
	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "fieldproof",
		},
		Role: actor.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) parse(tokenStr string) (fieldwork.Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return fieldwork.Actor{}, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return fieldwork.Actor{}, errors.New("invalid token")
	}
	return fieldwork.Actor{ID: claims.Subject, Role: claims.Role}, nil
}

func validRole(r fieldwork.Role) bool {
	switch r {
	case fieldwork.RoleRequester, fieldwork.RoleWorker, fieldwork.RoleJuror, fieldwork.RoleOperator:
		return true
	}
	return false
}

// Resolve extracts the actor from a request.
func (a *Authenticator) Resolve(r *http.Request) (fieldwork.Actor, error) {
	var actor fieldwork.Actor
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return actor, errors.New("invalid Authorization header format (expected 'Bearer <token>')")
		}
		if len(a.secret) == 0 {
			return actor, errors.New("token authentication not configured")
		}
		var err error
		if actor, err = a.parse(parts[1]); err != nil {
			return actor, err
		}
	} else if a.trustHeaders {
		actor = fieldwork.Actor{
			ID:   strings.TrimSpace(r.Header.Get("X-Actor-ID")),
			Role: fieldwork.Role(strings.TrimSpace(r.Header.Get("X-Actor-Role"))),
		}
		if actor.ID == "" {
			return actor, errors.New("actor required")
		}
	} else {
		return actor, errors.New("missing Authorization header")
	}
	if !validRole(actor.Role) {
		return fieldwork.Actor{}, fmt.Errorf("unknown role %q", actor.Role)
	}
	return actor, nil
}

// Middleware rejects unauthenticated requests with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := a.Resolve(r)
		if err != nil {
			Error(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}
