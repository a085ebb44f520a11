package authz

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePermissionRoundTrip(t *testing.T) {
	for _, p := range AllPermissions() {
		parsed, ok := ParsePermission(p.String())
		require.True(t, ok, p.String())
		assert.Equal(t, p, parsed)
	}

	p, ok := ParsePermission("  Manage_Members ")
	assert.True(t, ok)
	assert.Equal(t, PermManageMembers, p)

	_, ok = ParsePermission("unknown")
	assert.False(t, ok, "the zero value's name must not parse")
	_, ok = ParsePermission("")
	assert.False(t, ok)
}

func TestPermissionScopes(t *testing.T) {
	assert.True(t, PermManageMembers.Scopes().Has(ScopeOrganization))
	assert.True(t, PermManageMembers.Scopes().Has(ScopeSite))
	assert.False(t, PermManageSite.Scopes().Has(ScopeOrganization))
	assert.Zero(t, PermissionUnknown.Scopes())
	assert.Equal(t, GroupCommunication, PermSendMessages.Group())
	assert.False(t, OrganizationPermissions().Has(PermManageSite))
	assert.Equal(t, len(AllPermissions())-1, OrganizationPermissions().Len())
}

func TestPermissionSetIsASet(t *testing.T) {
	s := NewPermissionSet(PermManageForms, PermManageForms, PermissionUnknown)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, s, s.Add(PermManageForms))
	assert.False(t, s.Has(PermissionUnknown))

	s = s.Remove(PermManageForms)
	assert.Zero(t, s.Len())
}

func TestPermissionSetJSON(t *testing.T) {
	s := NewPermissionSet(PermSendMessages, PermEditLandingPage)
	raw, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `["edit_landing_page","send_messages"]`, string(raw))

	var decoded PermissionSet
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, s, decoded)

	err = json.Unmarshal([]byte(`["send_mesages"]`), &decoded)
	assert.True(t, errors.Is(err, ErrUnknownPermission))
}

func TestOrganizationRoleValidate(t *testing.T) {
	role := OrganizationRole{OrganizationID: "org-1", Name: "Treasurer", Permissions: NewPermissionSet(PermManageForms)}
	assert.NoError(t, role.Validate())

	role.Permissions = role.Permissions.Add(PermManageSite)
	assert.ErrorIs(t, role.Validate(), ErrScopeMismatch)

	assert.ErrorIs(t, OrganizationRole{Name: "Usher"}.Validate(), ErrInvalidRole)
	assert.ErrorIs(t, SiteRole{}.Validate(), ErrInvalidRole)
}

func TestCatalogListsEveryPermission(t *testing.T) {
	entries := Catalog()
	require.Len(t, entries, len(AllPermissions()))
	assert.Equal(t, PermManageMembers, entries[0].Permission)
	assert.ElementsMatch(t, []string{"site", "organization"}, entries[0].Scopes)

	raw, err := json.Marshal(entries[len(entries)-1])
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"manage_site","group":"site","scopes":["site"],"description":"Administer site roles and every organization"}`, string(raw))
}
