package authz

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownPermission = errors.New("authz: unknown permission")
	ErrScopeMismatch     = errors.New("authz: permission not grantable at this scope")
	ErrSelfReference     = errors.New("authz: organization references itself")
	ErrCycle             = errors.New("authz: organization hierarchy cycle")
	ErrInvalidRole       = errors.New("authz: invalid role")
)

// User is the identity a decision is made for.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SiteRole grants its permissions across every organization.
type SiteRole struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Permissions PermissionSet `json:"permissions"`
	BuiltIn     bool          `json:"built_in"`
	CreatedAt   time.Time     `json:"created_at"`
}

func (r SiteRole) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRole)
	}
	return nil
}

// OrganizationRole grants its permissions inside one organization only.
type OrganizationRole struct {
	ID             string        `json:"id"`
	OrganizationID string        `json:"organization_id"`
	Name           string        `json:"name"`
	Description    string        `json:"description,omitempty"`
	Permissions    PermissionSet `json:"permissions"`
	BuiltIn        bool          `json:"built_in"`
	CreatedAt      time.Time     `json:"created_at"`
}

func (r OrganizationRole) Validate() error {
	if strings.TrimSpace(r.OrganizationID) == "" {
		return fmt.Errorf("%w: organization_id is required", ErrInvalidRole)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRole)
	}
	return CheckGrantable(r.Permissions, ScopeOrganization)
}

// CheckGrantable reports an error naming the first permission in set that
// cannot be granted at scope.
func CheckGrantable(set PermissionSet, scope Scope) error {
	for _, p := range set.Slice() {
		if !p.Scopes().Has(scope) {
			return fmt.Errorf("%w: %s at %s scope", ErrScopeMismatch, p, scope)
		}
	}
	return nil
}

// SiteRoleAssignment links a user to a site role.
type SiteRoleAssignment struct {
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// OrganizationRoleAssignment links a user to an organization role within one
// organization.
type OrganizationRoleAssignment struct {
	UserID         string    `json:"user_id"`
	RoleID         string    `json:"role_id"`
	OrganizationID string    `json:"organization_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Organization is a tenant (a church). ParentID is empty for top-level
// organizations.
type Organization struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	ParentID      string    `json:"parent_id,omitempty"`
	AssociatedIDs []string  `json:"associated_ids,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Membership records that a user belongs to an organization, independent of
// any role.
type Membership struct {
	UserID         string    `json:"user_id"`
	OrganizationID string    `json:"organization_id"`
	CreatedAt      time.Time `json:"created_at"`
}
