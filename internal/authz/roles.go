package authz

// Built-in role names.
const (
	RoleSuperAdmin  = "super_admin"
	RoleSiteSupport = "site_support"

	RoleOrgAdmin          = "admin"
	RoleOrgEditor         = "editor"
	RoleOrgCommunications = "communications"
	RoleOrgCheckIn        = "check_in"
)

// OrganizationPermissions is every permission grantable by an organization role.
func OrganizationPermissions() PermissionSet {
	var s PermissionSet
	for _, p := range AllPermissions() {
		if p.Scopes().Has(ScopeOrganization) {
			s = s.Add(p)
		}
	}
	return s
}

// BuiltInSiteRoles returns the site roles seeded at install time. IDs are left
// empty for the store to fill.
func BuiltInSiteRoles() []SiteRole {
	return []SiteRole{
		{
			Name:        RoleSuperAdmin,
			Description: "Full access to every organization and site setting",
			Permissions: NewPermissionSet(AllPermissions()...),
			BuiltIn:     true,
		},
		{
			Name:        RoleSiteSupport,
			Description: "Helps churches with membership and role problems",
			Permissions: NewPermissionSet(PermManageMembers, PermManageRoles),
			BuiltIn:     true,
		},
	}
}

// DefaultOrganizationRoles returns the roles every new organization starts
// with. The first entry is the administrative role given to the creator.
func DefaultOrganizationRoles(orgID string) []OrganizationRole {
	return []OrganizationRole{
		{
			OrganizationID: orgID,
			Name:           RoleOrgAdmin,
			Description:    "Administers the organization",
			Permissions:    OrganizationPermissions(),
			BuiltIn:        true,
		},
		{
			OrganizationID: orgID,
			Name:           RoleOrgEditor,
			Description:    "Maintains the landing page, forms and missions",
			Permissions:    NewPermissionSet(PermEditLandingPage, PermManageForms, PermManageMissions),
			BuiltIn:        true,
		},
		{
			OrganizationID: orgID,
			Name:           RoleOrgCommunications,
			Description:    "Sends messages to members",
			Permissions:    NewPermissionSet(PermSendMessages),
			BuiltIn:        true,
		},
		{
			OrganizationID: orgID,
			Name:           RoleOrgCheckIn,
			Description:    "Runs child check-in",
			Permissions:    NewPermissionSet(PermManageCheckIn),
			BuiltIn:        true,
		},
	}
}
