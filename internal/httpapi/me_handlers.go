package httpapi

import (
	"net/http"
	"strings"

	"steeple.org/internal/audit"
	"steeple.org/internal/auth"
	"steeple.org/internal/authz"
	"steeple.org/internal/obs"
)

type organizationPermissions struct {
	OrganizationID string              `json:"organization_id"`
	Permissions    authz.PermissionSet `json:"permissions"`
}

type mePermissionsResponse struct {
	UserID        string                    `json:"user_id"`
	Site          authz.PermissionSet       `json:"site"`
	Organizations []organizationPermissions `json:"organizations"`
}

type checkRequest struct {
	Permission        string `json:"permission"`
	OrganizationID    string `json:"organization_id"`
	ConsiderAncestors bool   `json:"consider_ancestors"`
}

// checkResponse echoes the identifier as sent; unknown identifiers are denied.
type checkResponse struct {
	authz.Decision
	Requested string `json:"requested"`
}

func (a *API) handlePermissionCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"permissions": authz.Catalog()})
}

// handleMeSync records the caller's profile from the token claims so the
// caller can own organizations and receive assignments.
func (a *API) handleMeSync(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.decisions(w, r); !ok {
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, errNoClaims.Error())
		return
	}
	user, err := a.syncClaims(r, claims)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) syncClaims(r *http.Request, claims *auth.Claims) (authz.User, error) {
	return a.rbac.SyncUser(r.Context(), authz.User{
		ID:          claims.Subject,
		DisplayName: claims.Name,
		Email:       claims.Email,
		Phone:       claims.Phone,
	})
}

func (a *API) handleMePermissions(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.decisions(w, r)
	if !ok {
		return
	}
	resp := mePermissionsResponse{
		UserID:        svc.User().ID,
		Site:          svc.EffectivePermissions(""),
		Organizations: []organizationPermissions{},
	}
	orgIDs := svc.OrganizationIDs()
	if only := strings.TrimSpace(r.URL.Query().Get("organization_id")); only != "" {
		orgIDs = []string{only}
	}
	for _, id := range orgIDs {
		resp.Organizations = append(resp.Organizations, organizationPermissions{
			OrganizationID: id,
			Permissions:    svc.EffectivePermissions(id),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAuthzCheck answers a check for the caller. It never fails on a
// denial; the decision is in the body.
func (a *API) handleAuthzCheck(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.decisions(w, r)
	if !ok {
		return
	}
	var req checkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	requested := strings.TrimSpace(req.Permission)
	orgID := strings.TrimSpace(req.OrganizationID)
	perm, known := authz.ParsePermission(requested)

	decision := svc.Decide(perm, orgID)
	if known && !decision.Allowed && req.ConsiderAncestors && orgID != "" {
		h, err := a.rbac.Hierarchy(r.Context())
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		decision = svc.DecideConsideringAncestors(perm, orgID, h)
	}
	if known {
		obs.ObserveDecision(perm.String(), decision.Allowed)
	}
	if !decision.Allowed {
		_ = audit.LogEvent(r.Context(), audit.EventCheckDenied, map[string]any{
			"permission":      requested,
			"organization_id": orgID,
			"known":           known,
		})
	} else if decision.GrantedIn != "" && decision.GrantedIn != orgID {
		_ = audit.LogDecision(r.Context(), audit.EventInheritedGrant, decision)
	}
	writeJSON(w, http.StatusOK, checkResponse{Decision: decision, Requested: requested})
}
