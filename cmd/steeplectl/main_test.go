package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steeple.org/internal/authz"
	"steeple.org/internal/rbac"
	"steeple.org/internal/store/memory"
)

func useMemoryStore(t *testing.T) *memory.Store {
	t.Helper()
	mem := memory.New()
	require.NoError(t, mem.SeedBuiltInSiteRoles(context.Background()))
	orig := openStore
	openStore = func(string) (rbac.Store, func() error, error) {
		return mem, func() error { return nil }, nil
	}
	t.Cleanup(func() { openStore = orig })
	return mem
}

func TestCatalogTable(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"catalog"}, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, len(authz.AllPermissions())+1)
	assert.Contains(t, out.String(), "manage_site")
}

func TestCatalogJSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"catalog", "--json"}, &out))
	var infos []authz.PermissionInfo
	require.NoError(t, json.Unmarshal(out.Bytes(), &infos))
	assert.Len(t, infos, len(authz.AllPermissions()))
}

func TestGrantThenCheck(t *testing.T) {
	useMemoryStore(t)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"grant", "--user", "root"}, &out))
	assert.Contains(t, out.String(), "granted super_admin to root")

	out.Reset()
	require.NoError(t, run(ctx, []string{"check", "-u", "root", "-p", "manage_site"}, &out))
	var d authz.Decision
	require.NoError(t, json.Unmarshal(out.Bytes(), &d))
	assert.True(t, d.Allowed)
	assert.Equal(t, authz.SourceSite, d.Source)
}

func TestCheckAncestors(t *testing.T) {
	mem := useMemoryStore(t)
	ctx := context.Background()
	svc, err := rbac.NewService(mem)
	require.NoError(t, err)
	_, err = svc.SyncUser(ctx, authz.User{ID: "pastor"})
	require.NoError(t, err)
	parent, err := svc.CreateOrganization(ctx, "Diocese", "", "pastor")
	require.NoError(t, err)
	child, err := svc.CreateOrganization(ctx, "Parish", parent.ID, "")
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"check", "-u", "pastor", "-p", "send_messages", "-o", child.ID}, &out))
	var d authz.Decision
	require.NoError(t, json.Unmarshal(out.Bytes(), &d))
	assert.False(t, d.Allowed)

	out.Reset()
	require.NoError(t, run(ctx, []string{"check", "-u", "pastor", "-p", "send_messages", "-o", child.ID, "--ancestors"}, &out))
	d = authz.Decision{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &d))
	assert.True(t, d.Allowed)
	assert.Equal(t, parent.ID, d.GrantedIn)
	assert.NotEmpty(t, d.RoleIDs)
}

func TestCheckUnknownPermissionIsDenied(t *testing.T) {
	useMemoryStore(t)
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"check", "-u", "root", "-p", "fly"}, &out))
	var body map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &body))
	assert.Equal(t, false, body["allowed"])
}

func TestCommandErrors(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, run(context.Background(), nil, &out))
	assert.Error(t, run(context.Background(), []string{"launch"}, &out))
	assert.Error(t, run(context.Background(), []string{"grant"}, &out))
}
