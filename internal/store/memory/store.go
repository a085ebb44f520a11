// Package memory is an in-process rbac.Store for tests and local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"steeple.org/internal/authz"
	"steeple.org/internal/ids"
	"steeple.org/internal/rbac"
)

type assignmentKey struct {
	userID string
	roleID string
}

// Store keeps everything in maps guarded by one RWMutex.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	orgs       map[string]authz.Organization
	assoc      map[string]map[string]struct{}
	users      map[string]authz.User
	members    map[string]map[string]time.Time
	siteRoles  map[string]authz.SiteRole
	orgRoles   map[string]authz.OrganizationRole
	siteAssign map[assignmentKey]time.Time
	orgAssign  map[assignmentKey]authz.OrganizationRoleAssignment
}

var _ rbac.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		now:        func() time.Time { return time.Now().UTC() },
		orgs:       make(map[string]authz.Organization),
		assoc:      make(map[string]map[string]struct{}),
		users:      make(map[string]authz.User),
		members:    make(map[string]map[string]time.Time),
		siteRoles:  make(map[string]authz.SiteRole),
		orgRoles:   make(map[string]authz.OrganizationRole),
		siteAssign: make(map[assignmentKey]time.Time),
		orgAssign:  make(map[assignmentKey]authz.OrganizationRoleAssignment),
	}
}

// SeedBuiltInSiteRoles inserts the built-in site roles that are missing.
func (s *Store) SeedBuiltInSiteRoles(ctx context.Context) error {
	for _, role := range authz.BuiltInSiteRoles() {
		if _, err := s.CreateSiteRole(ctx, role); err != nil && !errors.Is(err, rbac.ErrConflict) {
			return err
		}
	}
	return nil
}

// SiteRoleByName looks a site role up by name.
func (s *Store) SiteRoleByName(name string) (authz.SiteRole, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.siteRoles {
		if r.Name == name {
			return r, true
		}
	}
	return authz.SiteRole{}, false
}

func (s *Store) ListSiteRoles(_ context.Context) ([]authz.SiteRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]authz.SiteRole, 0, len(s.siteRoles))
	for _, r := range s.siteRoles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ListOrganizationRoles(_ context.Context, organizationID string) ([]authz.OrganizationRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []authz.OrganizationRole
	for _, r := range s.orgRoles {
		if r.OrganizationID == organizationID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ListUserSiteRoleAssignments(_ context.Context, userID string) ([]authz.SiteRoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []authz.SiteRoleAssignment
	for k, created := range s.siteAssign {
		if k.userID == userID {
			out = append(out, authz.SiteRoleAssignment{UserID: k.userID, RoleID: k.roleID, CreatedAt: created})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleID < out[j].RoleID })
	return out, nil
}

func (s *Store) ListUserOrganizationRoleAssignments(_ context.Context, userID, organizationID string) ([]authz.OrganizationRoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []authz.OrganizationRoleAssignment
	for _, a := range s.orgAssign {
		if a.UserID != userID {
			continue
		}
		if organizationID != "" && a.OrganizationID != organizationID {
			continue
		}
		out = append(out, a)
	}
	sortAssignments(out)
	return out, nil
}

func (s *Store) ListOrganizationAssignments(_ context.Context, organizationID string) ([]authz.OrganizationRoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.orgs[organizationID]; !ok {
		return nil, rbac.ErrNotFound
	}
	var out []authz.OrganizationRoleAssignment
	for _, a := range s.orgAssign {
		if a.OrganizationID == organizationID {
			out = append(out, a)
		}
	}
	sortAssignments(out)
	return out, nil
}

func (s *Store) CreateOrganization(_ context.Context, seed rbac.OrganizationSeed) (authz.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	org := seed.Organization
	if org.ParentID != "" {
		if _, ok := s.orgs[org.ParentID]; !ok {
			return authz.Organization{}, fmt.Errorf("%w: parent organization", rbac.ErrNotFound)
		}
	}
	if seed.OwnerUserID != "" {
		if _, ok := s.users[seed.OwnerUserID]; !ok {
			return authz.Organization{}, fmt.Errorf("%w: owner user", rbac.ErrNotFound)
		}
	}
	names := make(map[string]struct{}, len(seed.Roles))
	for _, r := range seed.Roles {
		if _, dup := names[r.Name]; dup {
			return authz.Organization{}, fmt.Errorf("%w: duplicate role %s", rbac.ErrConflict, r.Name)
		}
		names[r.Name] = struct{}{}
	}

	now := s.now()
	org.ID = ids.New()
	org.AssociatedIDs = nil
	org.CreatedAt, org.UpdatedAt = now, now
	s.orgs[org.ID] = org

	roleIDs := make([]string, len(seed.Roles))
	for i, r := range seed.Roles {
		r.ID = ids.New()
		r.OrganizationID = org.ID
		r.CreatedAt = now
		s.orgRoles[r.ID] = r
		roleIDs[i] = r.ID
	}
	if seed.OwnerUserID != "" {
		s.addMemberLocked(org.ID, seed.OwnerUserID, now)
		if seed.OwnerRole >= 0 && seed.OwnerRole < len(roleIDs) {
			key := assignmentKey{userID: seed.OwnerUserID, roleID: roleIDs[seed.OwnerRole]}
			s.orgAssign[key] = authz.OrganizationRoleAssignment{
				UserID: key.userID, RoleID: key.roleID, OrganizationID: org.ID, CreatedAt: now,
			}
		}
	}
	return s.organizationLocked(org.ID), nil
}

func (s *Store) GetOrganization(_ context.Context, id string) (authz.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.orgs[id]; !ok {
		return authz.Organization{}, rbac.ErrNotFound
	}
	return s.organizationLocked(id), nil
}

func (s *Store) ListOrganizations(_ context.Context) ([]authz.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]authz.Organization, 0, len(s.orgs))
	for id := range s.orgs {
		out = append(out, s.organizationLocked(id))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) RenameOrganization(_ context.Context, id, name string) (authz.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[id]
	if !ok {
		return authz.Organization{}, rbac.ErrNotFound
	}
	org.Name = name
	org.UpdatedAt = s.now()
	s.orgs[id] = org
	return s.organizationLocked(id), nil
}

func (s *Store) SetOrganizationParent(_ context.Context, id, parentID string) (authz.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[id]
	if !ok {
		return authz.Organization{}, rbac.ErrNotFound
	}
	if parentID != "" {
		if parentID == id {
			return authz.Organization{}, authz.ErrSelfReference
		}
		if _, ok := s.orgs[parentID]; !ok {
			return authz.Organization{}, fmt.Errorf("%w: parent organization", rbac.ErrNotFound)
		}
		for cur := parentID; cur != ""; cur = s.orgs[cur].ParentID {
			if cur == id {
				return authz.Organization{}, authz.ErrCycle
			}
		}
	}
	org.ParentID = parentID
	org.UpdatedAt = s.now()
	s.orgs[id] = org
	return s.organizationLocked(id), nil
}

func (s *Store) AddAssociation(_ context.Context, organizationID, associatedID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if organizationID == associatedID {
		return fmt.Errorf("%w: %w", rbac.ErrInvalidInput, authz.ErrSelfReference)
	}
	if _, ok := s.orgs[organizationID]; !ok {
		return rbac.ErrNotFound
	}
	if _, ok := s.orgs[associatedID]; !ok {
		return rbac.ErrNotFound
	}
	if _, ok := s.assoc[organizationID][associatedID]; ok {
		return rbac.ErrConflict
	}
	s.link(organizationID, associatedID)
	s.link(associatedID, organizationID)
	return nil
}

func (s *Store) RemoveAssociation(_ context.Context, organizationID, associatedID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assoc[organizationID][associatedID]; !ok {
		return rbac.ErrNotFound
	}
	delete(s.assoc[organizationID], associatedID)
	delete(s.assoc[associatedID], organizationID)
	return nil
}

func (s *Store) DeleteOrganization(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[id]; !ok {
		return rbac.ErrNotFound
	}
	delete(s.orgs, id)
	for childID, child := range s.orgs {
		if child.ParentID == id {
			child.ParentID = ""
			s.orgs[childID] = child
		}
	}
	for other := range s.assoc[id] {
		delete(s.assoc[other], id)
	}
	delete(s.assoc, id)
	delete(s.members, id)
	for roleID, role := range s.orgRoles {
		if role.OrganizationID == id {
			delete(s.orgRoles, roleID)
		}
	}
	for k, a := range s.orgAssign {
		if a.OrganizationID == id {
			delete(s.orgAssign, k)
		}
	}
	return nil
}

func (s *Store) UpsertUser(_ context.Context, user authz.User) (authz.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if existing, ok := s.users[user.ID]; ok {
		user.CreatedAt = existing.CreatedAt
	} else {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	s.users[user.ID] = user
	return user, nil
}

func (s *Store) GetUser(_ context.Context, id string) (authz.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return authz.User{}, rbac.ErrNotFound
	}
	return user, nil
}

func (s *Store) AddMember(_ context.Context, organizationID, userID string) (authz.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[organizationID]; !ok {
		return authz.Membership{}, rbac.ErrNotFound
	}
	if _, ok := s.users[userID]; !ok {
		return authz.Membership{}, fmt.Errorf("%w: user", rbac.ErrNotFound)
	}
	if _, ok := s.members[organizationID][userID]; ok {
		return authz.Membership{}, rbac.ErrConflict
	}
	now := s.now()
	s.addMemberLocked(organizationID, userID, now)
	return authz.Membership{UserID: userID, OrganizationID: organizationID, CreatedAt: now}, nil
}

func (s *Store) RemoveMember(_ context.Context, organizationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[organizationID][userID]; !ok {
		return rbac.ErrNotFound
	}
	delete(s.members[organizationID], userID)
	for k, a := range s.orgAssign {
		if a.OrganizationID == organizationID && a.UserID == userID {
			delete(s.orgAssign, k)
		}
	}
	return nil
}

func (s *Store) ListMembers(_ context.Context, organizationID string) ([]authz.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.orgs[organizationID]; !ok {
		return nil, rbac.ErrNotFound
	}
	out := make([]authz.Membership, 0, len(s.members[organizationID]))
	for userID, created := range s.members[organizationID] {
		out = append(out, authz.Membership{UserID: userID, OrganizationID: organizationID, CreatedAt: created})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) CreateSiteRole(_ context.Context, role authz.SiteRole) (authz.SiteRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.siteRoles {
		if strings.EqualFold(r.Name, role.Name) {
			return authz.SiteRole{}, rbac.ErrConflict
		}
	}
	role.ID = ids.New()
	role.CreatedAt = s.now()
	s.siteRoles[role.ID] = role
	return role, nil
}

func (s *Store) GetSiteRole(_ context.Context, id string) (authz.SiteRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.siteRoles[id]
	if !ok {
		return authz.SiteRole{}, rbac.ErrNotFound
	}
	return role, nil
}

func (s *Store) SetSiteRolePermissions(_ context.Context, id string, perms authz.PermissionSet) (authz.SiteRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.siteRoles[id]
	if !ok {
		return authz.SiteRole{}, rbac.ErrNotFound
	}
	role.Permissions = perms
	s.siteRoles[id] = role
	return role, nil
}

func (s *Store) DeleteSiteRole(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.siteRoles[id]; !ok {
		return rbac.ErrNotFound
	}
	delete(s.siteRoles, id)
	for k := range s.siteAssign {
		if k.roleID == id {
			delete(s.siteAssign, k)
		}
	}
	return nil
}

func (s *Store) CreateOrganizationRole(_ context.Context, role authz.OrganizationRole) (authz.OrganizationRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[role.OrganizationID]; !ok {
		return authz.OrganizationRole{}, rbac.ErrNotFound
	}
	for _, r := range s.orgRoles {
		if r.OrganizationID == role.OrganizationID && strings.EqualFold(r.Name, role.Name) {
			return authz.OrganizationRole{}, rbac.ErrConflict
		}
	}
	role.ID = ids.New()
	role.CreatedAt = s.now()
	s.orgRoles[role.ID] = role
	return role, nil
}

func (s *Store) GetOrganizationRole(_ context.Context, id string) (authz.OrganizationRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.orgRoles[id]
	if !ok {
		return authz.OrganizationRole{}, rbac.ErrNotFound
	}
	return role, nil
}

func (s *Store) SetOrganizationRolePermissions(_ context.Context, id string, perms authz.PermissionSet) (authz.OrganizationRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.orgRoles[id]
	if !ok {
		return authz.OrganizationRole{}, rbac.ErrNotFound
	}
	role.Permissions = perms
	s.orgRoles[id] = role
	return role, nil
}

func (s *Store) DeleteOrganizationRole(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgRoles[id]; !ok {
		return rbac.ErrNotFound
	}
	delete(s.orgRoles, id)
	for k := range s.orgAssign {
		if k.roleID == id {
			delete(s.orgAssign, k)
		}
	}
	return nil
}

func (s *Store) AssignSiteRole(_ context.Context, userID, roleID string) (authz.SiteRoleAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return authz.SiteRoleAssignment{}, fmt.Errorf("%w: user", rbac.ErrNotFound)
	}
	if _, ok := s.siteRoles[roleID]; !ok {
		return authz.SiteRoleAssignment{}, fmt.Errorf("%w: role", rbac.ErrNotFound)
	}
	key := assignmentKey{userID: userID, roleID: roleID}
	if _, ok := s.siteAssign[key]; ok {
		return authz.SiteRoleAssignment{}, rbac.ErrConflict
	}
	now := s.now()
	s.siteAssign[key] = now
	return authz.SiteRoleAssignment{UserID: userID, RoleID: roleID, CreatedAt: now}, nil
}

func (s *Store) RevokeSiteRole(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := assignmentKey{userID: userID, roleID: roleID}
	if _, ok := s.siteAssign[key]; !ok {
		return rbac.ErrNotFound
	}
	delete(s.siteAssign, key)
	return nil
}

func (s *Store) AssignOrganizationRole(_ context.Context, userID, roleID string) (authz.OrganizationRoleAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return authz.OrganizationRoleAssignment{}, fmt.Errorf("%w: user", rbac.ErrNotFound)
	}
	role, ok := s.orgRoles[roleID]
	if !ok {
		return authz.OrganizationRoleAssignment{}, fmt.Errorf("%w: role", rbac.ErrNotFound)
	}
	if _, ok := s.members[role.OrganizationID][userID]; !ok {
		return authz.OrganizationRoleAssignment{}, fmt.Errorf("%w: user is not a member of the organization", rbac.ErrInvalidInput)
	}
	key := assignmentKey{userID: userID, roleID: roleID}
	if _, ok := s.orgAssign[key]; ok {
		return authz.OrganizationRoleAssignment{}, rbac.ErrConflict
	}
	a := authz.OrganizationRoleAssignment{UserID: userID, RoleID: roleID, OrganizationID: role.OrganizationID, CreatedAt: s.now()}
	s.orgAssign[key] = a
	return a, nil
}

func (s *Store) RevokeOrganizationRole(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := assignmentKey{userID: userID, roleID: roleID}
	if _, ok := s.orgAssign[key]; !ok {
		return rbac.ErrNotFound
	}
	delete(s.orgAssign, key)
	return nil
}

func (s *Store) addMemberLocked(organizationID, userID string, at time.Time) {
	m, ok := s.members[organizationID]
	if !ok {
		m = make(map[string]time.Time)
		s.members[organizationID] = m
	}
	m[userID] = at
}

func (s *Store) link(a, b string) {
	m, ok := s.assoc[a]
	if !ok {
		m = make(map[string]struct{})
		s.assoc[a] = m
	}
	m[b] = struct{}{}
}

// organizationLocked returns a copy with AssociatedIDs filled in.
func (s *Store) organizationLocked(id string) authz.Organization {
	org := s.orgs[id]
	org.AssociatedIDs = nil
	for other := range s.assoc[id] {
		org.AssociatedIDs = append(org.AssociatedIDs, other)
	}
	sort.Strings(org.AssociatedIDs)
	return org
}

func sortAssignments(out []authz.OrganizationRoleAssignment) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrganizationID != out[j].OrganizationID {
			return out[i].OrganizationID < out[j].OrganizationID
		}
		return out[i].RoleID < out[j].RoleID
	})
}

