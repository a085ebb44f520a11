package authz

import "sort"

// Snapshot is everything a decision needs, loaded by the caller before the
// Service is built. The Service never mutates it.
type Snapshot struct {
	// User is nil for anonymous requests.
	User                    *User
	SiteRoles               []SiteRole
	SiteAssignments         []SiteRoleAssignment
	OrganizationRoles       []OrganizationRole
	OrganizationAssignments []OrganizationRoleAssignment
}

// Source names the scope a grant came from.
type Source string

const (
	SourceNone         Source = ""
	SourceSite         Source = "site"
	SourceOrganization Source = "organization"
)

// Decision is the outcome of a check together with the roles that produced it.
type Decision struct {
	Allowed        bool       `json:"allowed"`
	Permission     Permission `json:"permission"`
	OrganizationID string     `json:"organization_id,omitempty"`
	Source         Source     `json:"source,omitempty"`
	RoleIDs        []string   `json:"role_ids,omitempty"`
	// GrantedIn is the organization holding the matching roles. It differs
	// from OrganizationID when the grant came from an ancestor.
	GrantedIn string `json:"granted_in,omitempty"`
}

type heldRole struct {
	id    string
	perms PermissionSet
}

// Service answers permission checks for a single user. Build one per request
// and reuse it for every check in that request; it is safe for concurrent use.
type Service struct {
	user      *User
	siteRoles []heldRole
	orgRoles  map[string][]heldRole
	sitePerms PermissionSet
	orgPerms  map[string]PermissionSet
}

// New resolves the snapshot into per-scope grants. Assignments belonging to
// other users or naming roles absent from the catalogs are ignored.
func New(snap Snapshot) *Service {
	s := &Service{
		user:     snap.User,
		orgRoles: make(map[string][]heldRole),
		orgPerms: make(map[string]PermissionSet),
	}
	if s.user == nil {
		return s
	}

	siteCatalog := make(map[string]PermissionSet, len(snap.SiteRoles))
	for _, r := range snap.SiteRoles {
		siteCatalog[r.ID] = r.Permissions
	}
	seenSite := make(map[string]struct{})
	for _, a := range snap.SiteAssignments {
		if a.UserID != s.user.ID {
			continue
		}
		perms, ok := siteCatalog[a.RoleID]
		if !ok {
			continue
		}
		if _, dup := seenSite[a.RoleID]; dup {
			continue
		}
		seenSite[a.RoleID] = struct{}{}
		s.siteRoles = append(s.siteRoles, heldRole{id: a.RoleID, perms: perms})
		s.sitePerms = s.sitePerms.Union(perms)
	}

	orgCatalog := make(map[string]PermissionSet, len(snap.OrganizationRoles))
	for _, r := range snap.OrganizationRoles {
		orgCatalog[r.ID] = r.Permissions
	}
	seenOrg := make(map[[2]string]struct{})
	for _, a := range snap.OrganizationAssignments {
		if a.UserID != s.user.ID || a.OrganizationID == "" {
			continue
		}
		perms, ok := orgCatalog[a.RoleID]
		if !ok {
			continue
		}
		key := [2]string{a.OrganizationID, a.RoleID}
		if _, dup := seenOrg[key]; dup {
			continue
		}
		seenOrg[key] = struct{}{}
		s.orgRoles[a.OrganizationID] = append(s.orgRoles[a.OrganizationID], heldRole{id: a.RoleID, perms: perms})
		s.orgPerms[a.OrganizationID] = s.orgPerms[a.OrganizationID].Union(perms)
	}
	return s
}

// User returns the user the service decides for, or nil when anonymous.
func (s *Service) User() *User { return s.user }

// Authenticated reports whether a user is present.
func (s *Service) Authenticated() bool { return s != nil && s.user != nil }

// HasPermission evaluates site roles only.
func (s *Service) HasPermission(p Permission) bool {
	if !s.Authenticated() {
		return false
	}
	return s.sitePerms.Has(p)
}

// HasPermissionInOrganization reports whether a site role grants p, or an
// organization role held in orgID does. An empty orgID evaluates site roles
// only. Parent and associated organizations are not consulted.
func (s *Service) HasPermissionInOrganization(p Permission, orgID string) bool {
	if !s.Authenticated() {
		return false
	}
	if s.sitePerms.Has(p) {
		return true
	}
	if orgID == "" {
		return false
	}
	return s.orgPerms[orgID].Has(p)
}

// HasPermissionConsideringAncestors checks orgID and then each of its
// ancestors, nearest first. Associations are never followed. A nil hierarchy
// behaves like HasPermissionInOrganization.
func (s *Service) HasPermissionConsideringAncestors(p Permission, orgID string, h *Hierarchy) bool {
	if s.HasPermissionInOrganization(p, orgID) {
		return true
	}
	if !s.Authenticated() || orgID == "" || h == nil {
		return false
	}
	for _, ancestor := range h.Ancestors(orgID) {
		if s.orgPerms[ancestor].Has(p) {
			return true
		}
	}
	return false
}

// Decide is HasPermissionInOrganization with the matching role ids attached.
// Site grants take precedence in the reported source.
func (s *Service) Decide(p Permission, orgID string) Decision {
	d := Decision{Permission: p, OrganizationID: orgID}
	if !s.Authenticated() || !p.Valid() {
		return d
	}
	for _, r := range s.siteRoles {
		if r.perms.Has(p) {
			d.RoleIDs = append(d.RoleIDs, r.id)
		}
	}
	if len(d.RoleIDs) > 0 {
		d.Allowed, d.Source = true, SourceSite
		return d
	}
	if orgID == "" {
		return d
	}
	if ids := s.matchingOrgRoles(p, orgID); len(ids) > 0 {
		d.Allowed, d.Source, d.RoleIDs, d.GrantedIn = true, SourceOrganization, ids, orgID
	}
	return d
}

// DecideConsideringAncestors is Decide followed by the ancestor walk of
// HasPermissionConsideringAncestors. The first ancestor holding a matching
// role wins and is reported in GrantedIn.
func (s *Service) DecideConsideringAncestors(p Permission, orgID string, h *Hierarchy) Decision {
	d := s.Decide(p, orgID)
	if d.Allowed || !s.Authenticated() || !p.Valid() || orgID == "" || h == nil {
		return d
	}
	for _, ancestor := range h.Ancestors(orgID) {
		if ids := s.matchingOrgRoles(p, ancestor); len(ids) > 0 {
			d.Allowed, d.Source, d.RoleIDs, d.GrantedIn = true, SourceOrganization, ids, ancestor
			return d
		}
	}
	return d
}

func (s *Service) matchingOrgRoles(p Permission, orgID string) []string {
	var ids []string
	for _, r := range s.orgRoles[orgID] {
		if r.perms.Has(p) {
			ids = append(ids, r.id)
		}
	}
	return ids
}

// EffectivePermissions is the union of site grants and, when orgID is set,
// the grants held in that organization.
func (s *Service) EffectivePermissions(orgID string) PermissionSet {
	if !s.Authenticated() {
		return 0
	}
	if orgID == "" {
		return s.sitePerms
	}
	return s.sitePerms.Union(s.orgPerms[orgID])
}

// OrganizationIDs lists the organizations in which the user holds at least
// one role.
func (s *Service) OrganizationIDs() []string {
	if !s.Authenticated() {
		return nil
	}
	out := make([]string, 0, len(s.orgRoles))
	for id := range s.orgRoles {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
