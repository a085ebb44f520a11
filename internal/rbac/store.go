package rbac

import (
	"context"
	"errors"

	"steeple.org/internal/authz"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("resource conflict")
)

// OrganizationSeed is everything created together with a new organization.
// The store assigns ids to the organization and its roles. When OwnerUserID is
// set the owner becomes a member and is assigned Roles[OwnerRole].
type OrganizationSeed struct {
	Organization authz.Organization
	Roles        []authz.OrganizationRole
	OwnerUserID  string
	OwnerRole    int
}

// Store persists the role catalog, memberships and the organization graph.
// Implementations map uniqueness violations to ErrConflict and dangling
// references to ErrNotFound.
type Store interface {
	// Reads backing a decision snapshot.
	ListSiteRoles(ctx context.Context) ([]authz.SiteRole, error)
	ListOrganizationRoles(ctx context.Context, organizationID string) ([]authz.OrganizationRole, error)
	ListUserSiteRoleAssignments(ctx context.Context, userID string) ([]authz.SiteRoleAssignment, error)
	// An empty organizationID lists assignments in every organization.
	ListUserOrganizationRoleAssignments(ctx context.Context, userID, organizationID string) ([]authz.OrganizationRoleAssignment, error)

	CreateOrganization(ctx context.Context, seed OrganizationSeed) (authz.Organization, error)
	GetOrganization(ctx context.Context, id string) (authz.Organization, error)
	ListOrganizations(ctx context.Context) ([]authz.Organization, error)
	RenameOrganization(ctx context.Context, id, name string) (authz.Organization, error)
	// SetOrganizationParent rejects cycles with authz.ErrCycle. An empty
	// parentID detaches the organization.
	SetOrganizationParent(ctx context.Context, id, parentID string) (authz.Organization, error)
	AddAssociation(ctx context.Context, organizationID, associatedID string) error
	RemoveAssociation(ctx context.Context, organizationID, associatedID string) error
	DeleteOrganization(ctx context.Context, id string) error

	UpsertUser(ctx context.Context, user authz.User) (authz.User, error)
	GetUser(ctx context.Context, id string) (authz.User, error)

	AddMember(ctx context.Context, organizationID, userID string) (authz.Membership, error)
	// RemoveMember also revokes the user's roles in that organization.
	RemoveMember(ctx context.Context, organizationID, userID string) error
	ListMembers(ctx context.Context, organizationID string) ([]authz.Membership, error)

	CreateSiteRole(ctx context.Context, role authz.SiteRole) (authz.SiteRole, error)
	GetSiteRole(ctx context.Context, id string) (authz.SiteRole, error)
	SetSiteRolePermissions(ctx context.Context, id string, perms authz.PermissionSet) (authz.SiteRole, error)
	DeleteSiteRole(ctx context.Context, id string) error

	CreateOrganizationRole(ctx context.Context, role authz.OrganizationRole) (authz.OrganizationRole, error)
	GetOrganizationRole(ctx context.Context, id string) (authz.OrganizationRole, error)
	SetOrganizationRolePermissions(ctx context.Context, id string, perms authz.PermissionSet) (authz.OrganizationRole, error)
	DeleteOrganizationRole(ctx context.Context, id string) error

	AssignSiteRole(ctx context.Context, userID, roleID string) (authz.SiteRoleAssignment, error)
	RevokeSiteRole(ctx context.Context, userID, roleID string) error
	// AssignOrganizationRole requires the user to be a member of the role's
	// organization; ErrInvalidInput otherwise.
	AssignOrganizationRole(ctx context.Context, userID, roleID string) (authz.OrganizationRoleAssignment, error)
	RevokeOrganizationRole(ctx context.Context, userID, roleID string) error
	ListOrganizationAssignments(ctx context.Context, organizationID string) ([]authz.OrganizationRoleAssignment, error)
}
