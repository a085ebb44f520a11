package auth

import (
	"context"
	"strings"
	"sync"

	"steeple.org/internal/authz"
)

type ctxKey string

const (
	userIDKey     ctxKey = "auth_user_id"
	claimsKey     ctxKey = "auth_claims"
	authorizerKey ctxKey = "auth_authorizer"
)

// ContextWithUserID stores the authenticated user id in the context.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, strings.TrimSpace(userID))
}

// UserIDFromContext extracts the authenticated user ID from context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(userIDKey).(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// ContextWithClaims stores verified claims and the subject as user id.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	if claims == nil {
		return ctx
	}
	ctx = ContextWithUserID(ctx, claims.Subject)
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns the verified claims if present.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(claimsKey).(*Claims)
	return v, ok && v != nil
}

// LoadFunc resolves the decision service for a request.
type LoadFunc func(ctx context.Context) (*authz.Service, error)

// Authorizer resolves the request's decision service at most once and hands
// the same instance to every check in that request.
type Authorizer struct {
	once sync.Once
	load LoadFunc
	svc  *authz.Service
	err  error
}

func NewAuthorizer(load LoadFunc) *Authorizer {
	return &Authorizer{load: load}
}

// Service returns the loaded service. A failed load is sticky for the request.
func (a *Authorizer) Service(ctx context.Context) (*authz.Service, error) {
	a.once.Do(func() {
		if a.load == nil {
			a.svc = authz.New(authz.Snapshot{})
			return
		}
		a.svc, a.err = a.load(ctx)
		if a.err == nil && a.svc == nil {
			a.svc = authz.New(authz.Snapshot{})
		}
	})
	return a.svc, a.err
}

// ContextWithAuthorizer attaches the per-request authorizer.
func ContextWithAuthorizer(ctx context.Context, a *Authorizer) context.Context {
	return context.WithValue(ctx, authorizerKey, a)
}

// AuthorizerFromContext returns the per-request authorizer if present.
func AuthorizerFromContext(ctx context.Context) (*Authorizer, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(authorizerKey).(*Authorizer)
	return v, ok && v != nil
}
