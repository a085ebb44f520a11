package rbac

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"steeple.org/internal/authz"
	"steeple.org/internal/obs"
)

const (
	siteRolesKey      = "site"
	catalogFetchLimit = 8
)

// Loader assembles decision snapshots. Role catalogs are cached; assignments
// are always read fresh so revocations apply on the next request.
type Loader struct {
	store     Store
	siteRoles *expirable.LRU[string, []authz.SiteRole]
	orgRoles  *expirable.LRU[string, []authz.OrganizationRole]

	// gens counts invalidations per cache key. A fetch only populates the
	// cache when no invalidation happened while it was in flight.
	mu   sync.Mutex
	gens map[string]uint64
}

var _ Invalidator = (*Loader)(nil)

// NewLoader returns a loader caching up to size organization catalogs for ttl.
// A non-positive size or ttl disables caching.
func NewLoader(store Store, size int, ttl time.Duration) *Loader {
	l := &Loader{store: store, gens: make(map[string]uint64)}
	if size > 0 && ttl > 0 {
		l.siteRoles = expirable.NewLRU[string, []authz.SiteRole](1, nil, ttl)
		l.orgRoles = expirable.NewLRU[string, []authz.OrganizationRole](size, nil, ttl)
	}
	return l
}

// Load fetches the snapshot for userID. An empty userID yields the anonymous
// snapshot. A user without a stored profile is still authenticated.
func (l *Loader) Load(ctx context.Context, userID string) (authz.Snapshot, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return authz.Snapshot{}, nil
	}
	start := time.Now()
	defer func() { obs.ObserveSnapshotLoad(time.Since(start)) }()

	var snap authz.Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		user, err := l.store.GetUser(gctx, userID)
		if errors.Is(err, ErrNotFound) {
			snap.User = &authz.User{ID: userID}
			return nil
		}
		if err != nil {
			return err
		}
		snap.User = &user
		return nil
	})
	g.Go(func() error {
		roles, err := l.siteRoleCatalog(gctx)
		snap.SiteRoles = roles
		return err
	})
	g.Go(func() error {
		assignments, err := l.store.ListUserSiteRoleAssignments(gctx, userID)
		snap.SiteAssignments = assignments
		return err
	})
	g.Go(func() error {
		assignments, err := l.store.ListUserOrganizationRoleAssignments(gctx, userID, "")
		snap.OrganizationAssignments = assignments
		return err
	})
	if err := g.Wait(); err != nil {
		return authz.Snapshot{}, err
	}

	orgIDs := distinctOrganizations(snap.OrganizationAssignments)
	catalogs := make([][]authz.OrganizationRole, len(orgIDs))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(catalogFetchLimit)
	for i, orgID := range orgIDs {
		g.Go(func() error {
			roles, err := l.organizationRoleCatalog(gctx, orgID)
			catalogs[i] = roles
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return authz.Snapshot{}, err
	}
	for _, roles := range catalogs {
		snap.OrganizationRoles = append(snap.OrganizationRoles, roles...)
	}
	return snap, nil
}

// Service loads the snapshot and builds the decision service from it.
func (l *Loader) Service(ctx context.Context, userID string) (*authz.Service, error) {
	snap, err := l.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return authz.New(snap), nil
}

func (l *Loader) InvalidateSiteRoles() {
	if l.siteRoles == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gens[siteRolesKey]++
	l.siteRoles.Remove(siteRolesKey)
}

func (l *Loader) InvalidateOrganization(organizationID string) {
	if l.orgRoles == nil {
		return
	}
	key := orgKey(organizationID)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gens[key]++
	l.orgRoles.Remove(key)
}

func (l *Loader) generation(key string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gens[key]
}

// storeIfCurrent runs add only if key was not invalidated since gen was read.
func (l *Loader) storeIfCurrent(key string, gen uint64, add func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gens[key] == gen {
		add()
	}
}

func (l *Loader) siteRoleCatalog(ctx context.Context) ([]authz.SiteRole, error) {
	if l.siteRoles == nil {
		return l.store.ListSiteRoles(ctx)
	}
	if roles, ok := l.siteRoles.Get(siteRolesKey); ok {
		obs.ObserveRoleCache(true)
		return roles, nil
	}
	obs.ObserveRoleCache(false)
	gen := l.generation(siteRolesKey)
	roles, err := l.store.ListSiteRoles(ctx)
	if err != nil {
		return nil, err
	}
	l.storeIfCurrent(siteRolesKey, gen, func() { l.siteRoles.Add(siteRolesKey, roles) })
	return roles, nil
}

func (l *Loader) organizationRoleCatalog(ctx context.Context, organizationID string) ([]authz.OrganizationRole, error) {
	if l.orgRoles == nil {
		return l.store.ListOrganizationRoles(ctx, organizationID)
	}
	key := orgKey(organizationID)
	if roles, ok := l.orgRoles.Get(key); ok {
		obs.ObserveRoleCache(true)
		return roles, nil
	}
	obs.ObserveRoleCache(false)
	gen := l.generation(key)
	roles, err := l.store.ListOrganizationRoles(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	l.storeIfCurrent(key, gen, func() { l.orgRoles.Add(key, roles) })
	return roles, nil
}

// orgKey keeps organization keys apart from the site catalog key.
func orgKey(organizationID string) string { return "org:" + organizationID }

func distinctOrganizations(assignments []authz.OrganizationRoleAssignment) []string {
	seen := make(map[string]struct{}, len(assignments))
	var out []string
	for _, a := range assignments {
		if a.OrganizationID == "" {
			continue
		}
		if _, ok := seen[a.OrganizationID]; ok {
			continue
		}
		seen[a.OrganizationID] = struct{}{}
		out = append(out, a.OrganizationID)
	}
	sort.Strings(out)
	return out
}
