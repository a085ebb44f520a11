package authz

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"sort"
	"strings"
)

// Permission identifies one protected action. The set of permissions is closed:
// adding one is a code change, never a data change.
type Permission uint8

const (
	// PermissionUnknown is the zero value. It is never granted.
	PermissionUnknown Permission = iota

	PermManageMembers
	PermManageRoles
	PermManageTeams
	PermManageOrganization
	PermEditLandingPage
	PermManageForms
	PermManageMissions
	PermManageCheckIn
	PermSendMessages
	PermManageSite

	permissionSentinel
)

// Scope is the level at which a permission is meaningful.
type Scope uint8

const (
	ScopeSite Scope = 1 << iota
	ScopeOrganization
)

func (s Scope) Has(other Scope) bool { return s&other == other }

func (s Scope) String() string {
	var parts []string
	if s.Has(ScopeSite) {
		parts = append(parts, "site")
	}
	if s.Has(ScopeOrganization) {
		parts = append(parts, "organization")
	}
	return strings.Join(parts, ",")
}

// Group partitions the catalog for presentation.
type Group string

const (
	GroupOrganization  Group = "organization"
	GroupContent       Group = "content"
	GroupCommunication Group = "communication"
	GroupSite          Group = "site"
)

// PermissionInfo describes a catalog entry.
type PermissionInfo struct {
	Permission  Permission `json:"key"`
	Group       Group      `json:"group"`
	Scopes      []string   `json:"scopes"`
	Description string     `json:"description"`

	scope Scope
}

var catalog = [permissionSentinel]PermissionInfo{
	PermManageMembers:      {Group: GroupOrganization, scope: ScopeSite | ScopeOrganization, Description: "Invite, remove and edit organization members"},
	PermManageRoles:        {Group: GroupOrganization, scope: ScopeSite | ScopeOrganization, Description: "Create roles and assign them to members"},
	PermManageTeams:        {Group: GroupOrganization, scope: ScopeSite | ScopeOrganization, Description: "Create and staff ministry teams"},
	PermManageOrganization: {Group: GroupOrganization, scope: ScopeSite | ScopeOrganization, Description: "Edit organization settings and relationships"},
	PermEditLandingPage:    {Group: GroupContent, scope: ScopeSite | ScopeOrganization, Description: "Edit the public landing page"},
	PermManageForms:        {Group: GroupContent, scope: ScopeSite | ScopeOrganization, Description: "Build forms and review submissions"},
	PermManageMissions:     {Group: GroupContent, scope: ScopeSite | ScopeOrganization, Description: "Manage missions and partner associations"},
	PermManageCheckIn:      {Group: GroupContent, scope: ScopeSite | ScopeOrganization, Description: "Run child check-in stations"},
	PermSendMessages:       {Group: GroupCommunication, scope: ScopeSite | ScopeOrganization, Description: "Send email and SMS messages"},
	PermManageSite:         {Group: GroupSite, scope: ScopeSite, Description: "Administer site roles and every organization"},
}

var permissionNames = [permissionSentinel]string{
	PermissionUnknown:      "unknown",
	PermManageMembers:      "manage_members",
	PermManageRoles:        "manage_roles",
	PermManageTeams:        "manage_teams",
	PermManageOrganization: "manage_organization",
	PermEditLandingPage:    "edit_landing_page",
	PermManageForms:        "manage_forms",
	PermManageMissions:     "manage_missions",
	PermManageCheckIn:      "manage_check_in",
	PermSendMessages:       "send_messages",
	PermManageSite:         "manage_site",
}

var permissionsByName = func() map[string]Permission {
	m := make(map[string]Permission, len(permissionNames))
	for _, p := range AllPermissions() {
		m[permissionNames[p]] = p
	}
	return m
}()

// AllPermissions returns every known permission in catalog order.
func AllPermissions() []Permission {
	out := make([]Permission, 0, permissionSentinel-1)
	for p := PermissionUnknown + 1; p < permissionSentinel; p++ {
		out = append(out, p)
	}
	return out
}

// ParsePermission resolves an identifier. Unknown identifiers yield
// PermissionUnknown and false.
func ParsePermission(s string) (Permission, bool) {
	p, ok := permissionsByName[strings.TrimSpace(strings.ToLower(s))]
	if !ok {
		return PermissionUnknown, false
	}
	return p, true
}

// Valid reports whether p is a catalog entry.
func (p Permission) Valid() bool {
	return p > PermissionUnknown && p < permissionSentinel
}

func (p Permission) String() string {
	if p >= permissionSentinel {
		return fmt.Sprintf("permission(%d)", uint8(p))
	}
	return permissionNames[p]
}

// Scopes reports where p may be granted. Unknown permissions have no scope.
func (p Permission) Scopes() Scope {
	if !p.Valid() {
		return 0
	}
	return catalog[p].scope
}

func (p Permission) Group() Group {
	if !p.Valid() {
		return ""
	}
	return catalog[p].Group
}

func (p Permission) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Permission) UnmarshalText(b []byte) error {
	parsed, ok := ParsePermission(string(b))
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPermission, string(b))
	}
	*p = parsed
	return nil
}

// Catalog lists every permission with its metadata.
func Catalog() []PermissionInfo {
	out := make([]PermissionInfo, 0, permissionSentinel-1)
	for _, p := range AllPermissions() {
		info := catalog[p]
		info.Permission = p
		info.Scopes = strings.Split(info.scope.String(), ",")
		out = append(out, info)
	}
	return out
}

// PermissionSet is a set of permissions. The zero value is empty.
type PermissionSet uint64

// NewPermissionSet builds a set, dropping unknown permissions.
func NewPermissionSet(perms ...Permission) PermissionSet {
	var s PermissionSet
	for _, p := range perms {
		s = s.Add(p)
	}
	return s
}

// ParsePermissionSet parses identifiers, failing on the first unknown one.
func ParsePermissionSet(keys []string) (PermissionSet, error) {
	var s PermissionSet
	for _, k := range keys {
		if strings.TrimSpace(k) == "" {
			continue
		}
		p, ok := ParsePermission(k)
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownPermission, k)
		}
		s = s.Add(p)
	}
	return s, nil
}

func (s PermissionSet) Add(p Permission) PermissionSet {
	if !p.Valid() {
		return s
	}
	return s | 1<<p
}

func (s PermissionSet) Remove(p Permission) PermissionSet {
	if !p.Valid() {
		return s
	}
	return s &^ (1 << p)
}

func (s PermissionSet) Has(p Permission) bool {
	if !p.Valid() {
		return false
	}
	return s&(1<<p) != 0
}

func (s PermissionSet) Union(other PermissionSet) PermissionSet { return s | other }

func (s PermissionSet) Len() int { return bits.OnesCount64(uint64(s)) }

// Slice returns the members in catalog order.
func (s PermissionSet) Slice() []Permission {
	out := make([]Permission, 0, s.Len())
	for _, p := range AllPermissions() {
		if s.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

// Strings returns the identifiers sorted alphabetically.
func (s PermissionSet) Strings() []string {
	out := make([]string, 0, s.Len())
	for _, p := range s.Slice() {
		out = append(out, p.String())
	}
	sort.Strings(out)
	return out
}

// Scopes returns the scopes every member of s supports.
func (s PermissionSet) Scopes() Scope {
	scope := ScopeSite | ScopeOrganization
	for _, p := range s.Slice() {
		scope &= p.Scopes()
	}
	return scope
}

func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

func (s *PermissionSet) UnmarshalJSON(b []byte) error {
	var keys []string
	if err := json.Unmarshal(b, &keys); err != nil {
		return err
	}
	parsed, err := ParsePermissionSet(keys)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
