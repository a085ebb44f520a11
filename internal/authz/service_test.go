package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUser = &User{ID: "user-1", DisplayName: "Ruth"}

func siteSnapshot(perms ...Permission) Snapshot {
	return Snapshot{
		User:            testUser,
		SiteRoles:       []SiteRole{{ID: "site-role", Name: "SuperAdmin", Permissions: NewPermissionSet(perms...)}},
		SiteAssignments: []SiteRoleAssignment{{UserID: testUser.ID, RoleID: "site-role"}},
	}
}

func orgSnapshot(orgID string, perms ...Permission) Snapshot {
	return Snapshot{
		User: testUser,
		OrganizationRoles: []OrganizationRole{
			{ID: "org-role-" + orgID, OrganizationID: orgID, Name: "Editor", Permissions: NewPermissionSet(perms...)},
		},
		OrganizationAssignments: []OrganizationRoleAssignment{
			{UserID: testUser.ID, RoleID: "org-role-" + orgID, OrganizationID: orgID},
		},
	}
}

func merge(snaps ...Snapshot) Snapshot {
	out := Snapshot{User: testUser}
	for _, s := range snaps {
		out.SiteRoles = append(out.SiteRoles, s.SiteRoles...)
		out.SiteAssignments = append(out.SiteAssignments, s.SiteAssignments...)
		out.OrganizationRoles = append(out.OrganizationRoles, s.OrganizationRoles...)
		out.OrganizationAssignments = append(out.OrganizationAssignments, s.OrganizationAssignments...)
	}
	return out
}

func TestSiteRoleGrantsSitePermissions(t *testing.T) {
	svc := New(siteSnapshot(PermManageMembers, PermManageRoles))

	assert.True(t, svc.HasPermission(PermManageMembers))
	assert.True(t, svc.HasPermission(PermManageRoles))
	assert.False(t, svc.HasPermission(PermManageMissions))
}

func TestOrganizationRoleIsScopedToItsOrganization(t *testing.T) {
	svc := New(orgSnapshot("org-1", PermEditLandingPage))

	assert.True(t, svc.HasPermissionInOrganization(PermEditLandingPage, "org-1"))
	assert.False(t, svc.HasPermissionInOrganization(PermEditLandingPage, "org-2"))
	assert.False(t, svc.HasPermission(PermEditLandingPage), "organization roles must not leak into site checks")
	assert.False(t, svc.HasPermissionInOrganization(PermEditLandingPage, ""), "empty organization means site-only")
}

func TestAnonymousIsAlwaysDenied(t *testing.T) {
	snap := merge(siteSnapshot(AllPermissions()...), orgSnapshot("org-1", AllPermissions()...))
	snap.User = nil
	svc := New(snap)

	for _, p := range AllPermissions() {
		assert.False(t, svc.HasPermission(p), p.String())
		assert.False(t, svc.HasPermissionInOrganization(p, "org-1"), p.String())
	}
	assert.False(t, svc.Decide(PermManageMembers, "org-1").Allowed)
	assert.Zero(t, svc.EffectivePermissions("org-1"))

	var nilSvc *Service
	assert.False(t, nilSvc.HasPermissionInOrganization(PermManageMembers, "org-1"))
}

func TestSiteRoleSatisfiesEveryOrganization(t *testing.T) {
	svc := New(merge(siteSnapshot(PermSendMessages), orgSnapshot("org-1")))

	assert.True(t, svc.HasPermissionInOrganization(PermSendMessages, "org-1"))
	assert.True(t, svc.HasPermissionInOrganization(PermSendMessages, "unrelated-org"))

	d := svc.Decide(PermSendMessages, "org-1")
	assert.True(t, d.Allowed)
	assert.Equal(t, SourceSite, d.Source)
	assert.Equal(t, []string{"site-role"}, d.RoleIDs)
}

func TestNoRolesDeniesEverything(t *testing.T) {
	svc := New(Snapshot{User: testUser})
	for _, p := range AllPermissions() {
		assert.False(t, svc.HasPermission(p))
		assert.False(t, svc.HasPermissionInOrganization(p, "org-1"))
	}
}

func TestUnknownPermissionIsNeverGranted(t *testing.T) {
	svc := New(merge(siteSnapshot(AllPermissions()...), orgSnapshot("org-1", AllPermissions()...)))

	parsed, ok := ParsePermission("manage_memebers")
	require.False(t, ok)
	assert.False(t, svc.HasPermission(parsed))
	assert.False(t, svc.HasPermissionInOrganization(parsed, "org-1"))
	assert.False(t, svc.HasPermissionInOrganization(Permission(200), "org-1"))
	assert.False(t, svc.Decide(PermissionUnknown, "org-1").Allowed)
}

func TestDuplicateAssignmentsAreIdempotent(t *testing.T) {
	once := merge(siteSnapshot(PermManageForms), orgSnapshot("org-1", PermSendMessages))
	twice := merge(once, Snapshot{
		SiteAssignments:         once.SiteAssignments,
		OrganizationAssignments: once.OrganizationAssignments,
	})

	a, b := New(once), New(twice)
	for _, p := range AllPermissions() {
		for _, org := range []string{"", "org-1", "org-2"} {
			assert.Equal(t, a.HasPermissionInOrganization(p, org), b.HasPermissionInOrganization(p, org), "%s in %q", p, org)
		}
	}
	assert.Equal(t, a.Decide(PermSendMessages, "org-1").RoleIDs, b.Decide(PermSendMessages, "org-1").RoleIDs)
}

func TestAddingRolesIsMonotonic(t *testing.T) {
	base := merge(orgSnapshot("org-1", PermManageMembers))
	additions := []Snapshot{
		siteSnapshot(PermSendMessages),
		orgSnapshot("org-2", PermManageRoles),
		{
			OrganizationRoles:       []OrganizationRole{{ID: "greeter", OrganizationID: "org-1", Name: "Greeter"}},
			OrganizationAssignments: []OrganizationRoleAssignment{{UserID: testUser.ID, RoleID: "greeter", OrganizationID: "org-1"}},
		},
	}
	orgs := []string{"", "org-1", "org-2", "org-3"}

	before := New(base)
	for _, add := range additions {
		after := New(merge(base, add))
		for _, p := range AllPermissions() {
			for _, org := range orgs {
				if before.HasPermissionInOrganization(p, org) {
					assert.True(t, after.HasPermissionInOrganization(p, org), "%s in %q was revoked by an addition", p, org)
				}
			}
		}
	}
}

func TestAssignmentsForOtherUsersAreIgnored(t *testing.T) {
	snap := siteSnapshot(PermManageSite)
	snap.SiteAssignments[0].UserID = "someone-else"
	org := orgSnapshot("org-1", PermManageMembers)
	org.OrganizationAssignments[0].UserID = "someone-else"

	svc := New(merge(snap, org))
	assert.False(t, svc.HasPermission(PermManageSite))
	assert.False(t, svc.HasPermissionInOrganization(PermManageMembers, "org-1"))
}

func TestAssignmentWithoutCatalogRoleIsIgnored(t *testing.T) {
	snap := Snapshot{
		User:                    testUser,
		SiteAssignments:         []SiteRoleAssignment{{UserID: testUser.ID, RoleID: "missing"}},
		OrganizationAssignments: []OrganizationRoleAssignment{{UserID: testUser.ID, RoleID: "missing", OrganizationID: "org-1"}},
	}
	svc := New(snap)
	assert.False(t, svc.HasPermission(PermManageMembers))
	assert.Empty(t, svc.OrganizationIDs())
}

func TestEffectivePermissionsUnion(t *testing.T) {
	svc := New(merge(siteSnapshot(PermSendMessages), orgSnapshot("org-1", PermManageForms, PermManageCheckIn)))

	assert.Equal(t, NewPermissionSet(PermSendMessages), svc.EffectivePermissions(""))
	assert.Equal(t,
		[]string{"manage_check_in", "manage_forms", "send_messages"},
		svc.EffectivePermissions("org-1").Strings(),
	)
	assert.Equal(t, []string{"org-1"}, svc.OrganizationIDs())
}

func TestDecideReportsOrganizationRoles(t *testing.T) {
	svc := New(orgSnapshot("org-1", PermManageTeams))

	d := svc.Decide(PermManageTeams, "org-1")
	require.True(t, d.Allowed)
	assert.Equal(t, SourceOrganization, d.Source)
	assert.Equal(t, []string{"org-role-org-1"}, d.RoleIDs)

	d = svc.Decide(PermManageTeams, "org-2")
	assert.False(t, d.Allowed)
	assert.Equal(t, SourceNone, d.Source)
	assert.Empty(t, d.RoleIDs)
}

func TestAncestorCheckIsOptIn(t *testing.T) {
	h, err := NewHierarchy([]Organization{
		{ID: "diocese"},
		{ID: "parish", ParentID: "diocese"},
		{ID: "chapel", ParentID: "parish"},
		{ID: "partner", AssociatedIDs: []string{"chapel"}},
	})
	require.NoError(t, err)

	svc := New(merge(orgSnapshot("diocese", PermManageMembers), orgSnapshot("partner", PermSendMessages)))

	assert.False(t, svc.HasPermissionInOrganization(PermManageMembers, "chapel"))
	assert.True(t, svc.HasPermissionConsideringAncestors(PermManageMembers, "chapel", h))
	assert.True(t, svc.HasPermissionConsideringAncestors(PermManageMembers, "parish", h))
	assert.False(t, svc.HasPermissionConsideringAncestors(PermManageMembers, "partner", h))
	assert.False(t, svc.HasPermissionConsideringAncestors(PermSendMessages, "chapel", h), "associations must not propagate grants")
	assert.False(t, svc.HasPermissionConsideringAncestors(PermManageMembers, "chapel", nil))
}

func TestDecideConsideringAncestorsReportsGrantingOrganization(t *testing.T) {
	h, err := NewHierarchy([]Organization{
		{ID: "diocese"},
		{ID: "parish", ParentID: "diocese"},
		{ID: "chapel", ParentID: "parish"},
		{ID: "partner", AssociatedIDs: []string{"chapel"}},
	})
	require.NoError(t, err)
	svc := New(merge(
		orgSnapshot("diocese", PermManageMembers),
		orgSnapshot("chapel", PermManageForms),
		orgSnapshot("partner", PermSendMessages),
	))

	d := svc.DecideConsideringAncestors(PermManageMembers, "chapel", h)
	require.True(t, d.Allowed)
	assert.Equal(t, SourceOrganization, d.Source)
	assert.Equal(t, "chapel", d.OrganizationID)
	assert.Equal(t, "diocese", d.GrantedIn)
	assert.Equal(t, []string{"org-role-diocese"}, d.RoleIDs)

	d = svc.DecideConsideringAncestors(PermManageForms, "chapel", h)
	require.True(t, d.Allowed)
	assert.Equal(t, "chapel", d.GrantedIn)

	d = svc.DecideConsideringAncestors(PermSendMessages, "chapel", h)
	assert.False(t, d.Allowed)
	assert.Empty(t, d.RoleIDs)
	assert.Empty(t, d.GrantedIn)

	assert.False(t, svc.DecideConsideringAncestors(PermManageMembers, "chapel", nil).Allowed)
	assert.False(t, New(Snapshot{}).DecideConsideringAncestors(PermManageMembers, "chapel", h).Allowed)
}

func TestChildRoleDoesNotReachParent(t *testing.T) {
	h, err := NewHierarchy([]Organization{{ID: "diocese"}, {ID: "parish", ParentID: "diocese"}})
	require.NoError(t, err)

	svc := New(orgSnapshot("parish", PermManageRoles))
	assert.False(t, svc.HasPermissionConsideringAncestors(PermManageRoles, "diocese", h))
}

func TestScenarios(t *testing.T) {
	cases := []struct {
		name  string
		snap  Snapshot
		perm  Permission
		org   string
		allow bool
	}{
		{"A site role grants manage_members", siteSnapshot(PermManageMembers, PermManageRoles), PermManageMembers, "", true},
		{"A site role lacks manage_missions", siteSnapshot(PermManageMembers, PermManageRoles), PermManageMissions, "", false},
		{"B editor in org-1", orgSnapshot("org-1", PermEditLandingPage), PermEditLandingPage, "org-1", true},
		{"B editor not in org-2", orgSnapshot("org-1", PermEditLandingPage), PermEditLandingPage, "org-2", false},
		{"C anonymous", Snapshot{}, PermManageMembers, "org-1", false},
		{"D site role beats empty org role", merge(siteSnapshot(PermSendMessages), orgSnapshot("org-1")), PermSendMessages, "org-1", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := New(tc.snap).HasPermissionInOrganization(tc.perm, tc.org)
			assert.Equal(t, tc.allow, got)
		})
	}
}
