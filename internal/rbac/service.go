package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"steeple.org/internal/authz"
)

// Invalidator drops cached role catalogs after a mutation.
type Invalidator interface {
	InvalidateSiteRoles()
	InvalidateOrganization(organizationID string)
}

type noopInvalidator struct{}

func (noopInvalidator) InvalidateSiteRoles()          {}
func (noopInvalidator) InvalidateOrganization(string) {}

// Service validates administrative input and forwards it to the store.
type Service struct {
	store Store
	cache Invalidator
}

// ServiceOption configures Service.
type ServiceOption func(*Service)

// WithInvalidator registers the cache flushed on role mutations.
func WithInvalidator(inv Invalidator) ServiceOption {
	return func(s *Service) {
		if inv != nil {
			s.cache = inv
		}
	}
}

func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("rbac store is required")
	}
	s := &Service{store: store, cache: noopInvalidator{}}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Store exposes the underlying store for snapshot loading.
func (s *Service) Store() Store { return s.store }

// CreateOrganization creates an organization with the default role catalog.
// A non-empty ownerUserID becomes a member holding the admin role.
func (s *Service) CreateOrganization(ctx context.Context, name, parentID, ownerUserID string) (authz.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return authz.Organization{}, fmt.Errorf("%w: organization name is required", ErrInvalidInput)
	}
	parentID = strings.TrimSpace(parentID)
	if parentID != "" {
		if _, err := s.store.GetOrganization(ctx, parentID); err != nil {
			return authz.Organization{}, err
		}
	}
	seed := OrganizationSeed{
		Organization: authz.Organization{Name: name, ParentID: parentID},
		Roles:        authz.DefaultOrganizationRoles(""),
		OwnerUserID:  strings.TrimSpace(ownerUserID),
	}
	org, err := s.store.CreateOrganization(ctx, seed)
	if err != nil {
		return authz.Organization{}, err
	}
	s.cache.InvalidateOrganization(org.ID)
	return org, nil
}

func (s *Service) GetOrganization(ctx context.Context, id string) (authz.Organization, error) {
	id, err := required("organization_id", id)
	if err != nil {
		return authz.Organization{}, err
	}
	return s.store.GetOrganization(ctx, id)
}

func (s *Service) ListOrganizations(ctx context.Context) ([]authz.Organization, error) {
	return s.store.ListOrganizations(ctx)
}

func (s *Service) RenameOrganization(ctx context.Context, id, name string) (authz.Organization, error) {
	id, err := required("organization_id", id)
	if err != nil {
		return authz.Organization{}, err
	}
	name, err = required("organization name", name)
	if err != nil {
		return authz.Organization{}, err
	}
	return s.store.RenameOrganization(ctx, id, name)
}

// Hierarchy builds the organization graph from the store.
func (s *Service) Hierarchy(ctx context.Context) (*authz.Hierarchy, error) {
	orgs, err := s.store.ListOrganizations(ctx)
	if err != nil {
		return nil, err
	}
	return authz.NewHierarchy(orgs)
}

// SetParent moves an organization under parentID, or detaches it when
// parentID is empty. Moves that would create a cycle are conflicts.
func (s *Service) SetParent(ctx context.Context, id, parentID string) (authz.Organization, error) {
	id, err := required("organization_id", id)
	if err != nil {
		return authz.Organization{}, err
	}
	parentID = strings.TrimSpace(parentID)
	h, err := s.Hierarchy(ctx)
	if err != nil {
		return authz.Organization{}, err
	}
	if !h.Contains(id) {
		return authz.Organization{}, ErrNotFound
	}
	if parentID != "" && !h.Contains(parentID) {
		return authz.Organization{}, fmt.Errorf("%w: parent organization", ErrNotFound)
	}
	if err := h.CanSetParent(id, parentID); err != nil {
		return authz.Organization{}, classifyGraphError(err)
	}
	org, err := s.store.SetOrganizationParent(ctx, id, parentID)
	if err != nil {
		return authz.Organization{}, classifyGraphError(err)
	}
	return org, nil
}

func (s *Service) Associate(ctx context.Context, id, otherID string) error {
	id, otherID, err := pair("organization_id", id, "associated_id", otherID)
	if err != nil {
		return err
	}
	if id == otherID {
		return classifyGraphError(authz.ErrSelfReference)
	}
	return s.store.AddAssociation(ctx, id, otherID)
}

func (s *Service) Dissociate(ctx context.Context, id, otherID string) error {
	id, otherID, err := pair("organization_id", id, "associated_id", otherID)
	if err != nil {
		return err
	}
	return s.store.RemoveAssociation(ctx, id, otherID)
}

func (s *Service) DeleteOrganization(ctx context.Context, id string) error {
	id, err := required("organization_id", id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteOrganization(ctx, id); err != nil {
		return err
	}
	s.cache.InvalidateOrganization(id)
	return nil
}

// SyncUser records the identity provider's view of a user on sign-in.
func (s *Service) SyncUser(ctx context.Context, user authz.User) (authz.User, error) {
	id, err := required("user_id", user.ID)
	if err != nil {
		return authz.User{}, err
	}
	user.ID = id
	user.DisplayName = strings.TrimSpace(user.DisplayName)
	user.Email = strings.TrimSpace(strings.ToLower(user.Email))
	user.Phone = strings.TrimSpace(user.Phone)
	if user.Email != "" && !strings.Contains(user.Email, "@") {
		return authz.User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if user.DisplayName == "" {
		user.DisplayName = user.Email
	}
	return s.store.UpsertUser(ctx, user)
}

func (s *Service) GetUser(ctx context.Context, id string) (authz.User, error) {
	id, err := required("user_id", id)
	if err != nil {
		return authz.User{}, err
	}
	return s.store.GetUser(ctx, id)
}

func (s *Service) AddMember(ctx context.Context, organizationID, userID string) (authz.Membership, error) {
	organizationID, userID, err := pair("organization_id", organizationID, "user_id", userID)
	if err != nil {
		return authz.Membership{}, err
	}
	return s.store.AddMember(ctx, organizationID, userID)
}

func (s *Service) RemoveMember(ctx context.Context, organizationID, userID string) error {
	organizationID, userID, err := pair("organization_id", organizationID, "user_id", userID)
	if err != nil {
		return err
	}
	return s.store.RemoveMember(ctx, organizationID, userID)
}

func (s *Service) ListMembers(ctx context.Context, organizationID string) ([]authz.Membership, error) {
	organizationID, err := required("organization_id", organizationID)
	if err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, organizationID)
}

func (s *Service) ListSiteRoles(ctx context.Context) ([]authz.SiteRole, error) {
	return s.store.ListSiteRoles(ctx)
}

func (s *Service) CreateSiteRole(ctx context.Context, name, description string, permissions []string) (authz.SiteRole, error) {
	perms, err := parsePermissions(permissions)
	if err != nil {
		return authz.SiteRole{}, err
	}
	role := authz.SiteRole{
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(description),
		Permissions: perms,
	}
	if err := role.Validate(); err != nil {
		return authz.SiteRole{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	created, err := s.store.CreateSiteRole(ctx, role)
	if err != nil {
		return authz.SiteRole{}, err
	}
	s.cache.InvalidateSiteRoles()
	return created, nil
}

func (s *Service) SetSiteRolePermissions(ctx context.Context, roleID string, permissions []string) (authz.SiteRole, error) {
	roleID, err := required("role_id", roleID)
	if err != nil {
		return authz.SiteRole{}, err
	}
	perms, err := parsePermissions(permissions)
	if err != nil {
		return authz.SiteRole{}, err
	}
	role, err := s.store.SetSiteRolePermissions(ctx, roleID, perms)
	if err != nil {
		return authz.SiteRole{}, err
	}
	s.cache.InvalidateSiteRoles()
	return role, nil
}

// DeleteSiteRole removes a custom site role. Built-in roles are kept.
func (s *Service) DeleteSiteRole(ctx context.Context, roleID string) error {
	roleID, err := required("role_id", roleID)
	if err != nil {
		return err
	}
	role, err := s.store.GetSiteRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.BuiltIn {
		return fmt.Errorf("%w: built-in role %s cannot be deleted", ErrConflict, role.Name)
	}
	if err := s.store.DeleteSiteRole(ctx, roleID); err != nil {
		return err
	}
	s.cache.InvalidateSiteRoles()
	return nil
}

func (s *Service) ListOrganizationRoles(ctx context.Context, organizationID string) ([]authz.OrganizationRole, error) {
	organizationID, err := required("organization_id", organizationID)
	if err != nil {
		return nil, err
	}
	return s.store.ListOrganizationRoles(ctx, organizationID)
}

func (s *Service) CreateOrganizationRole(ctx context.Context, organizationID, name, description string, permissions []string) (authz.OrganizationRole, error) {
	perms, err := parsePermissions(permissions)
	if err != nil {
		return authz.OrganizationRole{}, err
	}
	role := authz.OrganizationRole{
		OrganizationID: strings.TrimSpace(organizationID),
		Name:           strings.TrimSpace(name),
		Description:    strings.TrimSpace(description),
		Permissions:    perms,
	}
	if err := role.Validate(); err != nil {
		return authz.OrganizationRole{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	created, err := s.store.CreateOrganizationRole(ctx, role)
	if err != nil {
		return authz.OrganizationRole{}, err
	}
	s.cache.InvalidateOrganization(created.OrganizationID)
	return created, nil
}

func (s *Service) SetOrganizationRolePermissions(ctx context.Context, organizationID, roleID string, permissions []string) (authz.OrganizationRole, error) {
	role, err := s.organizationRole(ctx, organizationID, roleID)
	if err != nil {
		return authz.OrganizationRole{}, err
	}
	perms, err := parsePermissions(permissions)
	if err != nil {
		return authz.OrganizationRole{}, err
	}
	if err := authz.CheckGrantable(perms, authz.ScopeOrganization); err != nil {
		return authz.OrganizationRole{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	updated, err := s.store.SetOrganizationRolePermissions(ctx, role.ID, perms)
	if err != nil {
		return authz.OrganizationRole{}, err
	}
	s.cache.InvalidateOrganization(role.OrganizationID)
	return updated, nil
}

func (s *Service) DeleteOrganizationRole(ctx context.Context, organizationID, roleID string) error {
	role, err := s.organizationRole(ctx, organizationID, roleID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteOrganizationRole(ctx, role.ID); err != nil {
		return err
	}
	s.cache.InvalidateOrganization(role.OrganizationID)
	return nil
}

func (s *Service) AssignSiteRole(ctx context.Context, userID, roleID string) (authz.SiteRoleAssignment, error) {
	userID, roleID, err := pair("user_id", userID, "role_id", roleID)
	if err != nil {
		return authz.SiteRoleAssignment{}, err
	}
	return s.store.AssignSiteRole(ctx, userID, roleID)
}

func (s *Service) RevokeSiteRole(ctx context.Context, userID, roleID string) error {
	userID, roleID, err := pair("user_id", userID, "role_id", roleID)
	if err != nil {
		return err
	}
	return s.store.RevokeSiteRole(ctx, userID, roleID)
}

func (s *Service) ListUserSiteRoleAssignments(ctx context.Context, userID string) ([]authz.SiteRoleAssignment, error) {
	userID, err := required("user_id", userID)
	if err != nil {
		return nil, err
	}
	return s.store.ListUserSiteRoleAssignments(ctx, userID)
}

// AssignOrganizationRole grants a role of organizationID to one of its members.
func (s *Service) AssignOrganizationRole(ctx context.Context, organizationID, userID, roleID string) (authz.OrganizationRoleAssignment, error) {
	role, err := s.organizationRole(ctx, organizationID, roleID)
	if err != nil {
		return authz.OrganizationRoleAssignment{}, err
	}
	userID, err = required("user_id", userID)
	if err != nil {
		return authz.OrganizationRoleAssignment{}, err
	}
	return s.store.AssignOrganizationRole(ctx, userID, role.ID)
}

func (s *Service) RevokeOrganizationRole(ctx context.Context, organizationID, userID, roleID string) error {
	role, err := s.organizationRole(ctx, organizationID, roleID)
	if err != nil {
		return err
	}
	userID, err = required("user_id", userID)
	if err != nil {
		return err
	}
	return s.store.RevokeOrganizationRole(ctx, userID, role.ID)
}

func (s *Service) ListOrganizationAssignments(ctx context.Context, organizationID string) ([]authz.OrganizationRoleAssignment, error) {
	organizationID, err := required("organization_id", organizationID)
	if err != nil {
		return nil, err
	}
	return s.store.ListOrganizationAssignments(ctx, organizationID)
}

// organizationRole loads roleID and checks it belongs to organizationID. A
// role of another organization is reported as not found.
func (s *Service) organizationRole(ctx context.Context, organizationID, roleID string) (authz.OrganizationRole, error) {
	organizationID, roleID, err := pair("organization_id", organizationID, "role_id", roleID)
	if err != nil {
		return authz.OrganizationRole{}, err
	}
	role, err := s.store.GetOrganizationRole(ctx, roleID)
	if err != nil {
		return authz.OrganizationRole{}, err
	}
	if role.OrganizationID != organizationID {
		return authz.OrganizationRole{}, ErrNotFound
	}
	return role, nil
}

func parsePermissions(keys []string) (authz.PermissionSet, error) {
	perms, err := authz.ParsePermissionSet(keys)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return perms, nil
}

func classifyGraphError(err error) error {
	switch {
	case errors.Is(err, authz.ErrSelfReference):
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	case errors.Is(err, authz.ErrCycle):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}

func required(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidInput, name)
	}
	return value, nil
}

func pair(nameA, a, nameB, b string) (string, string, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return "", "", fmt.Errorf("%w: %s and %s are required", ErrInvalidInput, nameA, nameB)
	}
	return a, b, nil
}
