package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"steeple.org/internal/authz"
	"steeple.org/internal/rbac"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestListSiteRolesDropsUnknownPermissions(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "name", "description", "permissions", "built_in", "created_at"}).
		AddRow("r1", "site_support", nil, []byte(`["manage_members","retired_permission"]`), true, now)
	mock.ExpectQuery("from site_roles order by name").WillReturnRows(rows)

	roles, err := s.ListSiteRoles(context.Background())
	if err != nil {
		t.Fatalf("ListSiteRoles: %v", err)
	}
	if len(roles) != 1 {
		t.Fatalf("expected one role, got %d", len(roles))
	}
	if got := roles[0].Permissions; got != authz.NewPermissionSet(authz.PermManageMembers) {
		t.Fatalf("unexpected permissions: %v", got.Strings())
	}
	if roles[0].Description != "" || !roles[0].BuiltIn {
		t.Fatalf("unexpected role: %+v", roles[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetOrganizationNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("from organizations").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := s.GetOrganization(context.Background(), "missing")
	if !errors.Is(err, rbac.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetOrganizationLoadsAssociations(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery("from organizations").WithArgs("b").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "parent_id", "created_at", "updated_at"}).
			AddRow("b", "Parish", "a", now, now))
	mock.ExpectQuery("from organization_associations").WithArgs("b").
		WillReturnRows(sqlmock.NewRows([]string{"associated_id"}).AddRow("c").AddRow("d"))

	org, err := s.GetOrganization(context.Background(), "b")
	if err != nil {
		t.Fatalf("GetOrganization: %v", err)
	}
	if org.ParentID != "a" || len(org.AssociatedIDs) != 2 {
		t.Fatalf("unexpected organization: %+v", org)
	}
}

func TestSetOrganizationParentDetectsCycle(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("with recursive chain").WithArgs("leaf", "root").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := s.SetOrganizationParent(context.Background(), "root", "leaf")
	if !errors.Is(err, authz.ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSetOrganizationParentMissingOrganization(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("update organizations set parent_id").WithArgs(nil, "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := s.SetOrganizationParent(context.Background(), "ghost", "")
	if !errors.Is(err, rbac.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssignOrganizationRoleRequiresMembership(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select organization_id from organization_roles").WithArgs("role-1").
		WillReturnRows(sqlmock.NewRows([]string{"organization_id"}).AddRow("org-1"))
	mock.ExpectQuery("from memberships").WithArgs("u1", "org-1").
		WillReturnRows(sqlmock.NewRows([]string{"user", "member"}).AddRow(true, false))
	mock.ExpectRollback()

	_, err := s.AssignOrganizationRole(context.Background(), "u1", "role-1")
	if !errors.Is(err, rbac.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAssignOrganizationRoleInsertsWithRoleOrganization(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery("select organization_id from organization_roles").WithArgs("role-1").
		WillReturnRows(sqlmock.NewRows([]string{"organization_id"}).AddRow("org-1"))
	mock.ExpectQuery("from memberships").WithArgs("u1", "org-1").
		WillReturnRows(sqlmock.NewRows([]string{"user", "member"}).AddRow(true, true))
	mock.ExpectQuery("insert into organization_role_assignments").WithArgs("u1", "role-1", "org-1").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectCommit()

	a, err := s.AssignOrganizationRole(context.Background(), "u1", "role-1")
	if err != nil {
		t.Fatalf("AssignOrganizationRole: %v", err)
	}
	if a.OrganizationID != "org-1" || !a.CreatedAt.Equal(now) {
		t.Fatalf("unexpected assignment: %+v", a)
	}
}

func TestCreateSiteRoleMapsUniqueViolation(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("insert into site_roles").
		WithArgs(sqlmock.AnyArg(), "auditor", nil, sqlmock.AnyArg(), false).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "site_roles_name_key"})

	_, err := s.CreateSiteRole(context.Background(), authz.SiteRole{Name: "auditor"})
	if !errors.Is(err, rbac.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRemoveMemberNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("delete from memberships").WithArgs("org-1", "u1").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.RemoveMember(context.Background(), "org-1", "u1"); !errors.Is(err, rbac.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNilDatabase(t *testing.T) {
	s := &Store{}
	if _, err := s.ListSiteRoles(context.Background()); err == nil {
		t.Fatal("expected error without a database")
	}
	if err := s.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error without a database")
	}
}

func TestOrderedPair(t *testing.T) {
	a, b := orderedPair("z", "a")
	if a != "a" || b != "z" {
		t.Fatalf("unexpected order: %s %s", a, b)
	}
}

// capturedID records the value it matches so later expectations can refer to it.
type capturedID struct{ value *string }

func (c capturedID) Match(v driver.Value) bool {
	s, ok := v.(string)
	if ok {
		*c.value = s
	}
	return ok && s != ""
}

// sameID matches the value recorded earlier by a capturedID.
type sameID struct{ value *string }

func (s sameID) Match(v driver.Value) bool {
	got, ok := v.(string)
	return ok && got != "" && got == *s.value
}

func organizationSeed(owner string) rbac.OrganizationSeed {
	return rbac.OrganizationSeed{
		Organization: authz.Organization{Name: "Grace Chapel"},
		Roles: []authz.OrganizationRole{
			{Name: "editor", Permissions: authz.NewPermissionSet(authz.PermManageForms), BuiltIn: true},
			{Name: "admin", Description: "Full access", Permissions: authz.NewPermissionSet(authz.PermSendMessages), BuiltIn: true},
		},
		OwnerUserID: owner,
		OwnerRole:   1,
	}
}

func TestCreateOrganizationWritesEverythingInOneTransaction(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()
	var orgID, editorID, adminID string

	mock.ExpectBegin()
	mock.ExpectQuery("insert into organizations").
		WithArgs(capturedID{&orgID}, "Grace Chapel", nil).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec("insert into organization_roles").
		WithArgs(capturedID{&editorID}, sameID{&orgID}, "editor", nil, []byte(`["manage_forms"]`), true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into organization_roles").
		WithArgs(capturedID{&adminID}, sameID{&orgID}, "admin", "Full access", []byte(`["send_messages"]`), true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into memberships").
		WithArgs(sameID{&orgID}, "pastor").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into organization_role_assignments").
		WithArgs("pastor", sameID{&adminID}, sameID{&orgID}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	org, err := s.CreateOrganization(context.Background(), organizationSeed("pastor"))
	if err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}
	if org.ID != orgID || org.Name != "Grace Chapel" || !org.CreatedAt.Equal(now) {
		t.Fatalf("unexpected organization: %+v", org)
	}
	if editorID == adminID {
		t.Fatalf("roles share an id: %s", adminID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateOrganizationRollsBackWhenOwnerIsUnknown(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("insert into organizations").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec("insert into organization_roles").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into organization_roles").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into memberships").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation, ConstraintName: "memberships_user_id_fkey"})
	mock.ExpectRollback()

	_, err := s.CreateOrganization(context.Background(), organizationSeed("stranger"))
	if !errors.Is(err, rbac.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateOrganizationWithoutOwner(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()
	seed := organizationSeed("")
	seed.Organization.ParentID = "diocese"

	mock.ExpectBegin()
	mock.ExpectQuery("insert into organizations").
		WithArgs(sqlmock.AnyArg(), "Grace Chapel", "diocese").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec("insert into organization_roles").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into organization_roles").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	org, err := s.CreateOrganization(context.Background(), seed)
	if err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}
	if org.ParentID != "diocese" {
		t.Fatalf("unexpected parent: %q", org.ParentID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
