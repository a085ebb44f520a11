package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"steeple.org/internal/audit"
	"steeple.org/internal/auth"
	"steeple.org/internal/authz"
	"steeple.org/internal/obs"
)

const authHeader = "Authorization"

var publicPaths = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/v1/permissions",
}

// withAuth verifies the bearer token when one is sent and installs the
// request's lazy authorizer. Requests without a token continue anonymously
// and are refused by the permission checks that need a user.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		header := r.Header.Get(authHeader)
		if a.verifier != nil && strings.TrimSpace(header) != "" {
			token, err := auth.ExtractBearer(header)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, err.Error())
				return
			}
			claims, err := a.verifier.Verify(token)
			if err != nil {
				obs.Logger().WithField("request_id", audit.RequestIDFromContext(ctx)).
					WithError(err).Info("bearer token rejected")
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			ctx = auth.ContextWithClaims(ctx, claims)
		}

		ctx = auth.ContextWithAuthorizer(ctx, auth.NewAuthorizer(a.loadDecisions))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) loadDecisions(ctx context.Context) (*authz.Service, error) {
	userID, ok := auth.UserIDFromContext(ctx)
	if !ok || a.loader == nil {
		return authz.New(authz.Snapshot{}), nil
	}
	return a.loader.Service(ctx, userID)
}

// decisions returns the request's decision service, writing 401 when the
// caller is anonymous and 500 when it cannot be loaded.
func (a *API) decisions(w http.ResponseWriter, r *http.Request) (*authz.Service, bool) {
	authorizer, ok := auth.AuthorizerFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, auth.ErrUnauthorized.Error())
		return nil, false
	}
	svc, err := authorizer.Service(r.Context())
	if err != nil {
		obs.Logger().WithField("request_id", audit.RequestIDFromContext(r.Context())).
			WithError(err).Error("load authorization snapshot")
		writeError(w, r, http.StatusInternalServerError, "authorization unavailable")
		return nil, false
	}
	if !svc.Authenticated() {
		writeError(w, r, http.StatusUnauthorized, auth.ErrUnauthorized.Error())
		return nil, false
	}
	return svc, true
}

// ensurePermission checks p site-wide when orgID is empty, else in orgID.
// Denials are audited and answered with 403.
func (a *API) ensurePermission(w http.ResponseWriter, r *http.Request, p authz.Permission, orgID string) bool {
	svc, ok := a.decisions(w, r)
	if !ok {
		return false
	}
	d := svc.Decide(p, orgID)
	obs.ObserveDecision(p.String(), d.Allowed)
	if !d.Allowed {
		_ = audit.LogDecision(r.Context(), audit.EventDenied, d)
		writeError(w, r, http.StatusForbidden, auth.ErrForbidden.Error())
		return false
	}
	return true
}

func isPublicPath(path string) bool {
	path = strings.TrimSuffix(path, "/")
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

var errNoClaims = errors.New("identity claims unavailable")
