package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"steeple.org/internal/audit"
	"steeple.org/internal/auth"
	"steeple.org/internal/authz"
)

type createOrganizationRequest struct {
	Name     string `json:"name"`
	ParentID string `json:"parent_id"`
}

type renameOrganizationRequest struct {
	Name string `json:"name"`
}

type setParentRequest struct {
	ParentID string `json:"parent_id"`
}

type associateRequest struct {
	OrganizationID string `json:"organization_id"`
}

type memberRequest struct {
	UserID string `json:"user_id"`
}

type createRoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type updateRolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type assignRoleRequest struct {
	UserID string `json:"user_id"`
	RoleID string `json:"role_id"`
}

// --- organizations ---

func (a *API) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.decisions(w, r); !ok {
		return
	}
	orgs, err := a.rbac.ListOrganizations(r.Context())
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	if orgs == nil {
		orgs = []authz.Organization{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"organizations": orgs})
}

// handleCreateOrganization makes the caller the new organization's
// administrator. Creating under a parent needs manage_organization there.
func (a *API) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.decisions(w, r); !ok {
		return
	}
	var req createOrganizationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.ParentID = strings.TrimSpace(req.ParentID)
	if req.ParentID != "" && !a.ensurePermission(w, r, authz.PermManageOrganization, req.ParentID) {
		return
	}

	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, errNoClaims.Error())
		return
	}
	owner, err := a.syncClaims(r, claims)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	org, err := a.rbac.CreateOrganization(r.Context(), req.Name, req.ParentID, owner.ID)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.organization.create", map[string]any{
		"organization_id": org.ID,
		"name":            org.Name,
		"parent_id":       org.ParentID,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/organizations/%s", org.ID))
	writeJSON(w, http.StatusCreated, org)
}

func (a *API) handleGetOrganization(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.decisions(w, r); !ok {
		return
	}
	org, err := a.rbac.GetOrganization(r.Context(), urlParam(r, "orgID"))
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (a *API) handleRenameOrganization(w http.ResponseWriter, r *http.Request) {
	orgID := urlParam(r, "orgID")
	if !a.ensurePermission(w, r, authz.PermManageOrganization, orgID) {
		return
	}
	var req renameOrganizationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	org, err := a.rbac.RenameOrganization(r.Context(), orgID, req.Name)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.organization.rename", map[string]any{
		"organization_id": org.ID,
		"name":            org.Name,
	})
	writeJSON(w, http.StatusOK, org)
}

func (a *API) handleDeleteOrganization(w http.ResponseWriter, r *http.Request) {
	orgID := urlParam(r, "orgID")
	if !a.ensurePermission(w, r, authz.PermManageOrganization, orgID) {
		return
	}
	if err := a.rbac.DeleteOrganization(r.Context(), orgID); err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.organization.delete", map[string]any{"organization_id": orgID})
	w.WriteHeader(http.StatusNoContent)
}

// handleSetParent needs manage_organization in the organization and, when
// attaching, in the new parent too.
func (a *API) handleSetParent(w http.ResponseWriter, r *http.Request) {
	orgID := urlParam(r, "orgID")
	if !a.ensurePermission(w, r, authz.PermManageOrganization, orgID) {
		return
	}
	var req setParentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.ParentID = strings.TrimSpace(req.ParentID)
	if req.ParentID != "" && !a.ensurePermission(w, r, authz.PermManageOrganization, req.ParentID) {
		return
	}
	org, err := a.rbac.SetParent(r.Context(), orgID, req.ParentID)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.organization.parent", map[string]any{
		"organization_id": org.ID,
		"parent_id":       org.ParentID,
	})
	writeJSON(w, http.StatusOK, org)
}

func (a *API) handleAssociate(w http.ResponseWriter, r *http.Request) {
	orgID := urlParam(r, "orgID")
	if !a.ensurePermission(w, r, authz.PermManageMissions, orgID) {
		return
	}
	var req associateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.rbac.Associate(r.Context(), orgID, req.OrganizationID); err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.organization.associate", map[string]any{
		"organization_id": orgID,
		"associated_id":   req.OrganizationID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDissociate(w http.ResponseWriter, r *http.Request) {
	orgID := urlParam(r, "orgID")
	if !a.ensurePermission(w, r, authz.PermManageMissions, orgID) {
		return
	}
	other := urlParam(r, "otherID")
	if err := a.rbac.Dissociate(r.Context(), orgID, other); err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.organization.dissociate", map[string]any{
		"organization_id": orgID,
		"associated_id":   other,
	})
	w.WriteHeader(http.StatusNoContent)
}

// --- members ---

func (a *API) handleListMembers(w http.ResponseWriter, r *http.Request) {
	orgID := urlParam(r, "orgID")
	if !a.ensurePermission(w, r, authz.PermManageMembers, orgID) {
		return
	}
	members, err := a.rbac.ListMembers(r.Context(), orgID)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	if members == nil {
		members = []authz.Membership{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (a *API) handleAddMember(w http.ResponseWriter, r *http.Request) {
	orgID := urlParam(r, "orgID")
	if !a.ensurePermission(w, r, authz.PermManageMembers, orgID) {
		return
	}
	var req memberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	m, err := a.rbac.AddMember(r.Context(), orgID, req.UserID)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.member.add", map[string]any{
		"organization_id": orgID,
		"member_id":       m.UserID,
	})
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	orgID := urlParam(r, "orgID")
	if !a.ensurePermission(w, r, authz.PermManageMembers, orgID) {
		return
	}
	userID := urlParam(r, "userID")
	if err := a.rbac.RemoveMember(r.Context(), orgID, userID); err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.member.remove", map[string]any{
		"organization_id": orgID,
		"member_id":       userID,
	})
	w.WriteHeader(http.StatusNoContent)
}

// --- organization roles ---

func (a *API) handleListOrganizationRoles(w http.ResponseWriter, r *http.Request) {
	orgID := urlParam(r, "orgID")
	if !a.ensurePermission(w, r, authz.PermManageRoles, orgID) {
		return
	}
	roles, err := a.rbac.ListOrganizationRoles(r.Context(), orgID)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	if roles == nil {
		roles = []authz.OrganizationRole{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) handleCreateOrganizationRole(w http.ResponseWriter, r *http.Request) {
	orgID := urlParam(r, "orgID")
	if !a.ensurePermission(w, r, authz.PermManageRoles, orgID) {
		return
	}
	var req createRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.rbac.CreateOrganizationRole(r.Context(), orgID, req.Name, req.Description, req.Permissions)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.create", map[string]any{
		"organization_id": orgID,
		"role_id":         role.ID,
		"name":            role.Name,
		"permissions":     role.Permissions.Strings(),
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/organizations/%s/roles/%s", orgID, role.ID))
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleSetOrganizationRolePermissions(w http.ResponseWriter, r *http.Request) {
	orgID := urlParam(r, "orgID")
	if !a.ensurePermission(w, r, authz.PermManageRoles, orgID) {
		return
	}
	var req updateRolePermissionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.rbac.SetOrganizationRolePermissions(r.Context(), orgID, urlParam(r, "roleID"), req.Permissions)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.permissions.update", map[string]any{
		"organization_id": orgID,
		"role_id":         role.ID,
		"permissions":     role.Permissions.Strings(),
	})
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleDeleteOrganizationRole(w http.ResponseWriter, r *http.Request) {
	orgID := urlParam(r, "orgID")
	if !a.ensurePermission(w, r, authz.PermManageRoles, orgID) {
		return
	}
	roleID := urlParam(r, "roleID")
	if err := a.rbac.DeleteOrganizationRole(r.Context(), orgID, roleID); err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.delete", map[string]any{
		"organization_id": orgID,
		"role_id":         roleID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListOrganizationAssignments(w http.ResponseWriter, r *http.Request) {
	orgID := urlParam(r, "orgID")
	if !a.ensurePermission(w, r, authz.PermManageRoles, orgID) {
		return
	}
	assignments, err := a.rbac.ListOrganizationAssignments(r.Context(), orgID)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	if assignments == nil {
		assignments = []authz.OrganizationRoleAssignment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": assignments})
}

func (a *API) handleAssignOrganizationRole(w http.ResponseWriter, r *http.Request) {
	orgID := urlParam(r, "orgID")
	if !a.ensurePermission(w, r, authz.PermManageRoles, orgID) {
		return
	}
	var req assignRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	assignment, err := a.rbac.AssignOrganizationRole(r.Context(), orgID, req.UserID, req.RoleID)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.assign", map[string]any{
		"organization_id": orgID,
		"member_id":       assignment.UserID,
		"role_id":         assignment.RoleID,
	})
	writeJSON(w, http.StatusCreated, assignment)
}

func (a *API) handleRevokeOrganizationRole(w http.ResponseWriter, r *http.Request) {
	orgID := urlParam(r, "orgID")
	if !a.ensurePermission(w, r, authz.PermManageRoles, orgID) {
		return
	}
	userID, roleID := urlParam(r, "userID"), urlParam(r, "roleID")
	if err := a.rbac.RevokeOrganizationRole(r.Context(), orgID, userID, roleID); err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.revoke", map[string]any{
		"organization_id": orgID,
		"member_id":       userID,
		"role_id":         roleID,
	})
	w.WriteHeader(http.StatusNoContent)
}

// --- site roles ---

func (a *API) handleListSiteRoles(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, authz.PermManageSite, "") {
		return
	}
	roles, err := a.rbac.ListSiteRoles(r.Context())
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	if roles == nil {
		roles = []authz.SiteRole{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) handleCreateSiteRole(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, authz.PermManageSite, "") {
		return
	}
	var req createRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.rbac.CreateSiteRole(r.Context(), req.Name, req.Description, req.Permissions)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.site_role.create", map[string]any{
		"role_id":     role.ID,
		"name":        role.Name,
		"permissions": role.Permissions.Strings(),
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/site/roles/%s", role.ID))
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleSetSiteRolePermissions(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, authz.PermManageSite, "") {
		return
	}
	var req updateRolePermissionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.rbac.SetSiteRolePermissions(r.Context(), urlParam(r, "roleID"), req.Permissions)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.site_role.permissions.update", map[string]any{
		"role_id":     role.ID,
		"permissions": role.Permissions.Strings(),
	})
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleDeleteSiteRole(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, authz.PermManageSite, "") {
		return
	}
	roleID := urlParam(r, "roleID")
	if err := a.rbac.DeleteSiteRole(r.Context(), roleID); err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.site_role.delete", map[string]any{"role_id": roleID})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAssignSiteRole(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, authz.PermManageSite, "") {
		return
	}
	var req assignRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	assignment, err := a.rbac.AssignSiteRole(r.Context(), req.UserID, req.RoleID)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.site_role.assign", map[string]any{
		"member_id": assignment.UserID,
		"role_id":   assignment.RoleID,
	})
	writeJSON(w, http.StatusCreated, assignment)
}

func (a *API) handleRevokeSiteRole(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, authz.PermManageSite, "") {
		return
	}
	userID, roleID := urlParam(r, "userID"), urlParam(r, "roleID")
	if err := a.rbac.RevokeSiteRole(r.Context(), userID, roleID); err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.site_role.revoke", map[string]any{
		"member_id": userID,
		"role_id":   roleID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListUserSiteAssignments(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, authz.PermManageSite, "") {
		return
	}
	assignments, err := a.rbac.ListUserSiteRoleAssignments(r.Context(), urlParam(r, "userID"))
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	if assignments == nil {
		assignments = []authz.SiteRoleAssignment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": assignments})
}
