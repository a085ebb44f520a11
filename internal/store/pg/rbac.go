package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"steeple.org/internal/authz"
	"steeple.org/internal/ids"
	"steeple.org/internal/obs"
	"steeple.org/internal/rbac"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrCheckViolation      = "23514"
)

var _ rbac.Store = (*Store)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

const (
	siteRoleColumns = `id, name, description, permissions, built_in, created_at`
	orgRoleColumns  = `id, organization_id, name, description, permissions, built_in, created_at`
	orgColumns      = `id, name, parent_id, created_at, updated_at`
	userColumns     = `id, display_name, coalesce(email, ''), coalesce(phone, ''), created_at, updated_at`
)

func (s *Store) ListSiteRoles(ctx context.Context) ([]authz.SiteRole, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+siteRoleColumns+` from site_roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []authz.SiteRole
	for rows.Next() {
		role, err := scanSiteRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *Store) ListOrganizationRoles(ctx context.Context, organizationID string) ([]authz.OrganizationRole, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+orgRoleColumns+`
		from organization_roles
		where organization_id = $1
		order by name
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []authz.OrganizationRole
	for rows.Next() {
		role, err := scanOrgRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *Store) ListUserSiteRoleAssignments(ctx context.Context, userID string) ([]authz.SiteRoleAssignment, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select user_id, role_id, created_at
		from site_role_assignments
		where user_id = $1
		order by role_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []authz.SiteRoleAssignment
	for rows.Next() {
		var a authz.SiteRoleAssignment
		if err := rows.Scan(&a.UserID, &a.RoleID, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListUserOrganizationRoleAssignments(ctx context.Context, userID, organizationID string) ([]authz.OrganizationRoleAssignment, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select user_id, role_id, organization_id, created_at
		from organization_role_assignments
		where user_id = $1 and ($2 = '' or organization_id = $2)
		order by organization_id, role_id
	`, userID, organizationID)
	if err != nil {
		return nil, err
	}
	return collectOrgAssignments(rows)
}

func (s *Store) ListOrganizationAssignments(ctx context.Context, organizationID string) ([]authz.OrganizationRoleAssignment, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	if err := s.organizationExists(ctx, organizationID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select user_id, role_id, organization_id, created_at
		from organization_role_assignments
		where organization_id = $1
		order by role_id, user_id
	`, organizationID)
	if err != nil {
		return nil, err
	}
	return collectOrgAssignments(rows)
}

// CreateOrganization inserts the organization, its seed roles and the owner's
// membership and assignment in one transaction.
func (s *Store) CreateOrganization(ctx context.Context, seed rbac.OrganizationSeed) (authz.Organization, error) {
	org := authz.Organization{
		ID:       ids.New(),
		Name:     seed.Organization.Name,
		ParentID: seed.Organization.ParentID,
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			insert into organizations (id, name, parent_id)
			values ($1, $2, $3)
			returning created_at, updated_at
		`, org.ID, org.Name, nullIfEmpty(org.ParentID)).Scan(&org.CreatedAt, &org.UpdatedAt)
		if err != nil {
			return mapPgError(err)
		}

		roleIDs := make([]string, len(seed.Roles))
		for i, role := range seed.Roles {
			role.ID = ids.New()
			perms, err := encodePermissions(role.Permissions)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				insert into organization_roles (id, organization_id, name, description, permissions, built_in)
				values ($1, $2, $3, $4, $5, $6)
			`, role.ID, org.ID, role.Name, nullIfEmpty(role.Description), perms, role.BuiltIn); err != nil {
				return mapPgError(err)
			}
			roleIDs[i] = role.ID
		}

		if seed.OwnerUserID == "" {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
			insert into memberships (organization_id, user_id)
			values ($1, $2)
		`, org.ID, seed.OwnerUserID); err != nil {
			return mapPgError(err)
		}
		if seed.OwnerRole < 0 || seed.OwnerRole >= len(roleIDs) {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
			insert into organization_role_assignments (user_id, role_id, organization_id)
			values ($1, $2, $3)
		`, seed.OwnerUserID, roleIDs[seed.OwnerRole], org.ID); err != nil {
			return mapPgError(err)
		}
		return nil
	})
	if err != nil {
		return authz.Organization{}, err
	}
	return org, nil
}

func (s *Store) GetOrganization(ctx context.Context, id string) (authz.Organization, error) {
	if s.db == nil {
		return authz.Organization{}, errNoDB
	}
	org, err := scanOrganization(s.db.QueryRowContext(ctx, `
		select `+orgColumns+`
		from organizations
		where id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Organization{}, rbac.ErrNotFound
	}
	if err != nil {
		return authz.Organization{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select associated_id from organization_associations where organization_id = $1
		union
		select organization_id from organization_associations where associated_id = $1
		order by 1
	`, id)
	if err != nil {
		return authz.Organization{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var other string
		if err := rows.Scan(&other); err != nil {
			return authz.Organization{}, err
		}
		org.AssociatedIDs = append(org.AssociatedIDs, other)
	}
	if err := rows.Err(); err != nil {
		return authz.Organization{}, err
	}
	return org, nil
}

func (s *Store) ListOrganizations(ctx context.Context) ([]authz.Organization, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+orgColumns+` from organizations order by name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		orgs  []authz.Organization
		index = make(map[string]int)
	)
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		index[org.ID] = len(orgs)
		orgs = append(orgs, org)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	links, err := s.db.QueryContext(ctx, `select organization_id, associated_id from organization_associations`)
	if err != nil {
		return nil, err
	}
	defer links.Close()
	for links.Next() {
		var a, b string
		if err := links.Scan(&a, &b); err != nil {
			return nil, err
		}
		if i, ok := index[a]; ok {
			orgs[i].AssociatedIDs = append(orgs[i].AssociatedIDs, b)
		}
		if i, ok := index[b]; ok {
			orgs[i].AssociatedIDs = append(orgs[i].AssociatedIDs, a)
		}
	}
	if err := links.Err(); err != nil {
		return nil, err
	}
	for i := range orgs {
		sort.Strings(orgs[i].AssociatedIDs)
	}
	return orgs, nil
}

func (s *Store) RenameOrganization(ctx context.Context, id, name string) (authz.Organization, error) {
	if s.db == nil {
		return authz.Organization{}, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update organizations set name = $1, updated_at = now() where id = $2
	`, name, id)
	if err != nil {
		return authz.Organization{}, err
	}
	if err := expectAffected(res); err != nil {
		return authz.Organization{}, err
	}
	return s.GetOrganization(ctx, id)
}

// SetOrganizationParent serialises hierarchy changes with an advisory lock and
// walks the proposed parent's ancestor chain before updating.
func (s *Store) SetOrganizationParent(ctx context.Context, id, parentID string) (authz.Organization, error) {
	if parentID != "" && parentID == id {
		return authz.Organization{}, authz.ErrSelfReference
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock(hashtext('organization_hierarchy'))`); err != nil {
			return err
		}
		if parentID != "" {
			var cycle bool
			err := tx.QueryRowContext(ctx, `
				with recursive chain (id, parent_id) as (
					select id, parent_id from organizations where id = $1
					union all
					select o.id, o.parent_id
					from organizations o
					join chain c on o.id = c.parent_id
				)
				select exists (select 1 from chain where id = $2)
			`, parentID, id).Scan(&cycle)
			if err != nil {
				return err
			}
			if cycle {
				return authz.ErrCycle
			}
		}
		res, err := tx.ExecContext(ctx, `
			update organizations set parent_id = $1, updated_at = now() where id = $2
		`, nullIfEmpty(parentID), id)
		if err != nil {
			return mapPgError(err)
		}
		return expectAffected(res)
	})
	if err != nil {
		return authz.Organization{}, err
	}
	return s.GetOrganization(ctx, id)
}

// Associations are stored once with the smaller id first.
func (s *Store) AddAssociation(ctx context.Context, organizationID, associatedID string) error {
	if s.db == nil {
		return errNoDB
	}
	if organizationID == associatedID {
		return fmt.Errorf("%w: %w", rbac.ErrInvalidInput, authz.ErrSelfReference)
	}
	a, b := orderedPair(organizationID, associatedID)
	if _, err := s.db.ExecContext(ctx, `
		insert into organization_associations (organization_id, associated_id)
		values ($1, $2)
	`, a, b); err != nil {
		return mapPgError(err)
	}
	return nil
}

func (s *Store) RemoveAssociation(ctx context.Context, organizationID, associatedID string) error {
	if s.db == nil {
		return errNoDB
	}
	a, b := orderedPair(organizationID, associatedID)
	res, err := s.db.ExecContext(ctx, `
		delete from organization_associations
		where organization_id = $1 and associated_id = $2
	`, a, b)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) DeleteOrganization(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from organizations where id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) UpsertUser(ctx context.Context, user authz.User) (authz.User, error) {
	if s.db == nil {
		return authz.User{}, errNoDB
	}
	return scanUser(s.db.QueryRowContext(ctx, `
		insert into users (id, display_name, email, phone)
		values ($1, $2, $3, $4)
		on conflict (id) do update
		set display_name = excluded.display_name,
			email = excluded.email,
			phone = excluded.phone,
			updated_at = now()
		returning `+userColumns,
		user.ID, user.DisplayName, nullIfEmpty(user.Email), nullIfEmpty(user.Phone)))
}

func (s *Store) GetUser(ctx context.Context, id string) (authz.User, error) {
	if s.db == nil {
		return authz.User{}, errNoDB
	}
	user, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return authz.User{}, rbac.ErrNotFound
	}
	return user, err
}

func (s *Store) AddMember(ctx context.Context, organizationID, userID string) (authz.Membership, error) {
	if s.db == nil {
		return authz.Membership{}, errNoDB
	}
	m := authz.Membership{OrganizationID: organizationID, UserID: userID}
	err := s.db.QueryRowContext(ctx, `
		insert into memberships (organization_id, user_id)
		values ($1, $2)
		returning created_at
	`, organizationID, userID).Scan(&m.CreatedAt)
	if err != nil {
		return authz.Membership{}, mapPgError(err)
	}
	return m, nil
}

// RemoveMember relies on the assignment foreign key to cascade the user's
// roles in the organization.
func (s *Store) RemoveMember(ctx context.Context, organizationID, userID string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		delete from memberships where organization_id = $1 and user_id = $2
	`, organizationID, userID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) ListMembers(ctx context.Context, organizationID string) ([]authz.Membership, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	if err := s.organizationExists(ctx, organizationID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select organization_id, user_id, created_at
		from memberships
		where organization_id = $1
		order by user_id
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []authz.Membership
	for rows.Next() {
		var m authz.Membership
		if err := rows.Scan(&m.OrganizationID, &m.UserID, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CreateSiteRole(ctx context.Context, role authz.SiteRole) (authz.SiteRole, error) {
	if s.db == nil {
		return authz.SiteRole{}, errNoDB
	}
	perms, err := encodePermissions(role.Permissions)
	if err != nil {
		return authz.SiteRole{}, err
	}
	role.ID = ids.New()
	err = s.db.QueryRowContext(ctx, `
		insert into site_roles (id, name, description, permissions, built_in)
		values ($1, $2, $3, $4, $5)
		returning created_at
	`, role.ID, role.Name, nullIfEmpty(role.Description), perms, role.BuiltIn).Scan(&role.CreatedAt)
	if err != nil {
		return authz.SiteRole{}, mapPgError(err)
	}
	return role, nil
}

func (s *Store) GetSiteRole(ctx context.Context, id string) (authz.SiteRole, error) {
	if s.db == nil {
		return authz.SiteRole{}, errNoDB
	}
	role, err := scanSiteRole(s.db.QueryRowContext(ctx, `select `+siteRoleColumns+` from site_roles where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return authz.SiteRole{}, rbac.ErrNotFound
	}
	return role, err
}

func (s *Store) SetSiteRolePermissions(ctx context.Context, id string, perms authz.PermissionSet) (authz.SiteRole, error) {
	if s.db == nil {
		return authz.SiteRole{}, errNoDB
	}
	raw, err := encodePermissions(perms)
	if err != nil {
		return authz.SiteRole{}, err
	}
	role, err := scanSiteRole(s.db.QueryRowContext(ctx, `
		update site_roles set permissions = $1 where id = $2
		returning `+siteRoleColumns, raw, id))
	if errors.Is(err, sql.ErrNoRows) {
		return authz.SiteRole{}, rbac.ErrNotFound
	}
	return role, err
}

func (s *Store) DeleteSiteRole(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from site_roles where id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) CreateOrganizationRole(ctx context.Context, role authz.OrganizationRole) (authz.OrganizationRole, error) {
	if s.db == nil {
		return authz.OrganizationRole{}, errNoDB
	}
	perms, err := encodePermissions(role.Permissions)
	if err != nil {
		return authz.OrganizationRole{}, err
	}
	role.ID = ids.New()
	err = s.db.QueryRowContext(ctx, `
		insert into organization_roles (id, organization_id, name, description, permissions, built_in)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at
	`, role.ID, role.OrganizationID, role.Name, nullIfEmpty(role.Description), perms, role.BuiltIn).Scan(&role.CreatedAt)
	if err != nil {
		return authz.OrganizationRole{}, mapPgError(err)
	}
	return role, nil
}

func (s *Store) GetOrganizationRole(ctx context.Context, id string) (authz.OrganizationRole, error) {
	if s.db == nil {
		return authz.OrganizationRole{}, errNoDB
	}
	role, err := scanOrgRole(s.db.QueryRowContext(ctx, `select `+orgRoleColumns+` from organization_roles where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return authz.OrganizationRole{}, rbac.ErrNotFound
	}
	return role, err
}

func (s *Store) SetOrganizationRolePermissions(ctx context.Context, id string, perms authz.PermissionSet) (authz.OrganizationRole, error) {
	if s.db == nil {
		return authz.OrganizationRole{}, errNoDB
	}
	raw, err := encodePermissions(perms)
	if err != nil {
		return authz.OrganizationRole{}, err
	}
	role, err := scanOrgRole(s.db.QueryRowContext(ctx, `
		update organization_roles set permissions = $1 where id = $2
		returning `+orgRoleColumns, raw, id))
	if errors.Is(err, sql.ErrNoRows) {
		return authz.OrganizationRole{}, rbac.ErrNotFound
	}
	return role, err
}

func (s *Store) DeleteOrganizationRole(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from organization_roles where id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) AssignSiteRole(ctx context.Context, userID, roleID string) (authz.SiteRoleAssignment, error) {
	if s.db == nil {
		return authz.SiteRoleAssignment{}, errNoDB
	}
	a := authz.SiteRoleAssignment{UserID: userID, RoleID: roleID}
	err := s.db.QueryRowContext(ctx, `
		insert into site_role_assignments (user_id, role_id)
		values ($1, $2)
		returning created_at
	`, userID, roleID).Scan(&a.CreatedAt)
	if err != nil {
		return authz.SiteRoleAssignment{}, mapPgError(err)
	}
	return a, nil
}

func (s *Store) RevokeSiteRole(ctx context.Context, userID, roleID string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		delete from site_role_assignments where user_id = $1 and role_id = $2
	`, userID, roleID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) AssignOrganizationRole(ctx context.Context, userID, roleID string) (authz.OrganizationRoleAssignment, error) {
	a := authz.OrganizationRoleAssignment{UserID: userID, RoleID: roleID}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `select organization_id from organization_roles where id = $1`, roleID).Scan(&a.OrganizationID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: role", rbac.ErrNotFound)
		}
		if err != nil {
			return err
		}

		var userExists, member bool
		if err := tx.QueryRowContext(ctx, `
			select exists (select 1 from users where id = $1),
				exists (select 1 from memberships where user_id = $1 and organization_id = $2)
		`, userID, a.OrganizationID).Scan(&userExists, &member); err != nil {
			return err
		}
		if !userExists {
			return fmt.Errorf("%w: user", rbac.ErrNotFound)
		}
		if !member {
			return fmt.Errorf("%w: user is not a member of the organization", rbac.ErrInvalidInput)
		}

		err = tx.QueryRowContext(ctx, `
			insert into organization_role_assignments (user_id, role_id, organization_id)
			values ($1, $2, $3)
			returning created_at
		`, userID, roleID, a.OrganizationID).Scan(&a.CreatedAt)
		return mapPgError(err)
	})
	if err != nil {
		return authz.OrganizationRoleAssignment{}, err
	}
	return a, nil
}

func (s *Store) RevokeOrganizationRole(ctx context.Context, userID, roleID string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		delete from organization_role_assignments where user_id = $1 and role_id = $2
	`, userID, roleID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) organizationExists(ctx context.Context, id string) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists (select 1 from organizations where id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return rbac.ErrNotFound
	}
	return nil
}

func collectOrgAssignments(rows *sql.Rows) ([]authz.OrganizationRoleAssignment, error) {
	defer rows.Close()
	var out []authz.OrganizationRoleAssignment
	for rows.Next() {
		var a authz.OrganizationRoleAssignment
		if err := rows.Scan(&a.UserID, &a.RoleID, &a.OrganizationID, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanSiteRole(row rowScanner) (authz.SiteRole, error) {
	var (
		role authz.SiteRole
		desc sql.NullString
		raw  []byte
	)
	if err := row.Scan(&role.ID, &role.Name, &desc, &raw, &role.BuiltIn, &role.CreatedAt); err != nil {
		return authz.SiteRole{}, err
	}
	role.Description = desc.String
	role.Permissions = decodePermissions(role.ID, raw)
	return role, nil
}

func scanOrgRole(row rowScanner) (authz.OrganizationRole, error) {
	var (
		role authz.OrganizationRole
		desc sql.NullString
		raw  []byte
	)
	if err := row.Scan(&role.ID, &role.OrganizationID, &role.Name, &desc, &raw, &role.BuiltIn, &role.CreatedAt); err != nil {
		return authz.OrganizationRole{}, err
	}
	role.Description = desc.String
	role.Permissions = decodePermissions(role.ID, raw)
	return role, nil
}

func scanOrganization(row rowScanner) (authz.Organization, error) {
	var (
		org    authz.Organization
		parent sql.NullString
	)
	if err := row.Scan(&org.ID, &org.Name, &parent, &org.CreatedAt, &org.UpdatedAt); err != nil {
		return authz.Organization{}, err
	}
	org.ParentID = parent.String
	return org, nil
}

func scanUser(row rowScanner) (authz.User, error) {
	var user authz.User
	err := row.Scan(&user.ID, &user.DisplayName, &user.Email, &user.Phone, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return authz.User{}, err
	}
	return user, nil
}

func encodePermissions(perms authz.PermissionSet) ([]byte, error) {
	raw, err := json.Marshal(perms)
	if err != nil {
		return nil, fmt.Errorf("marshal permissions: %w", err)
	}
	return raw, nil
}

// decodePermissions drops identifiers the catalog no longer knows so a stale
// row never grants anything and never breaks a read.
func decodePermissions(roleID string, raw []byte) authz.PermissionSet {
	if len(raw) == 0 {
		return 0
	}
	var keys []string
	if err := json.Unmarshal(raw, &keys); err != nil {
		obs.Logger().WithFields(logrus.Fields{"role_id": roleID, "error": err}).Warn("undecodable role permissions")
		return 0
	}
	var set authz.PermissionSet
	for _, k := range keys {
		p, ok := authz.ParsePermission(k)
		if !ok {
			obs.Logger().WithFields(logrus.Fields{"role_id": roleID, "permission": k}).Warn("ignoring unknown permission")
			continue
		}
		set = set.Add(p)
	}
	return set
}

func expectAffected(res sql.Result) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

func mapPgError(err error) error {
	pgErr, ok := maybePgError(err)
	if !ok {
		return err
	}
	switch pgErr.Code {
	case pgErrUniqueViolation:
		return fmt.Errorf("%w: %s", rbac.ErrConflict, pgErr.ConstraintName)
	case pgErrForeignKeyViolation:
		return fmt.Errorf("%w: %s", rbac.ErrNotFound, pgErr.ConstraintName)
	case pgErrCheckViolation:
		return fmt.Errorf("%w: %s", rbac.ErrInvalidInput, pgErr.ConstraintName)
	}
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func orderedPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
