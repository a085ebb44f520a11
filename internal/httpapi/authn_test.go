package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"steeple.org/internal/auth"
	"steeple.org/internal/authz"
)

type countingLoader struct {
	calls atomic.Int32
	snap  authz.Snapshot
	err   error
}

func (l *countingLoader) Service(_ context.Context, userID string) (*authz.Service, error) {
	l.calls.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	snap := l.snap
	snap.User = &authz.User{ID: userID}
	return authz.New(snap), nil
}

type staticVerifier struct{ subject string }

func (v staticVerifier) Verify(token string) (*auth.Claims, error) {
	if token != "good" {
		return nil, auth.ErrInvalidToken
	}
	c := &auth.Claims{}
	c.Subject = v.subject
	return c, nil
}

func siteManagerSnapshot() authz.Snapshot {
	return authz.Snapshot{
		SiteRoles:       []authz.SiteRole{{ID: "r1", Permissions: authz.NewPermissionSet(authz.PermManageMembers)}},
		SiteAssignments: []authz.SiteRoleAssignment{{UserID: "u1", RoleID: "r1"}},
	}
}

func TestSnapshotLoadedOncePerRequest(t *testing.T) {
	loader := &countingLoader{snap: siteManagerSnapshot()}
	a := &API{loader: loader, verifier: staticVerifier{subject: "u1"}}

	handler := a.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.ensurePermission(w, r, authz.PermManageMembers, "") {
			return
		}
		if !a.ensurePermission(w, r, authz.PermManageMembers, "org-1") {
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/organizations/org-1/members", nil)
	req.Header.Set("Authorization", "Bearer good")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := loader.calls.Load(); got != 1 {
		t.Fatalf("expected one snapshot load, got %d", got)
	}
}

func TestEnsurePermissionStatusCodes(t *testing.T) {
	cases := []struct {
		name   string
		header string
		perm   authz.Permission
		want   int
	}{
		{name: "anonymous", perm: authz.PermManageMembers, want: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer bad", perm: authz.PermManageMembers, want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", perm: authz.PermManageMembers, want: http.StatusUnauthorized},
		{name: "denied", header: "Bearer good", perm: authz.PermManageSite, want: http.StatusForbidden},
		{name: "allowed", header: "Bearer good", perm: authz.PermManageMembers, want: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := &API{loader: &countingLoader{snap: siteManagerSnapshot()}, verifier: staticVerifier{subject: "u1"}}
			handler := a.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if a.ensurePermission(w, r, tc.perm, "") {
					w.WriteHeader(http.StatusOK)
				}
			}))
			req := httptest.NewRequest(http.MethodGet, "/v1/site/roles", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
}

func TestSnapshotFailureIsServerError(t *testing.T) {
	a := &API{loader: &countingLoader{err: errors.New("db down")}, verifier: staticVerifier{subject: "u1"}}
	handler := a.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.ensurePermission(w, r, authz.PermManageMembers, "") {
			w.WriteHeader(http.StatusOK)
		}
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/site/roles", nil)
	req.Header.Set("Authorization", "Bearer good")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestPublicPathsSkipAuthentication(t *testing.T) {
	a := &API{verifier: staticVerifier{}}
	handler := a.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.AuthorizerFromContext(r.Context()); ok {
			t.Error("public path should not install an authorizer")
		}
		w.WriteHeader(http.StatusOK)
	}))
	for _, p := range []string{"/healthz", "/metrics", "/v1/permissions/"} {
		req := httptest.NewRequest(http.MethodGet, p, nil)
		req.Header.Set("Authorization", "Bearer bad")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", p, rr.Code)
		}
	}
}
