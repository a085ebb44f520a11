package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"steeple.org/internal/audit"
	"steeple.org/internal/auth"
	"steeple.org/internal/authz"
	"steeple.org/internal/obs"
	"steeple.org/internal/rbac"
)

const serviceName = "steeple-api"

// Pinger is satisfied by the Postgres store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks dependencies before traffic is accepted.
type ReadyProbe struct {
	DB Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.Ping(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// TokenVerifier validates identity provider tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// DecisionLoader builds the decision service for a user. rbac.Loader
// implements it.
type DecisionLoader interface {
	Service(ctx context.Context, userID string) (*authz.Service, error)
}

// API is the HTTP layer.
type API struct {
	router     chi.Router
	readyProbe readinessChecker
	version    string

	rbac     *rbac.Service
	loader   DecisionLoader
	verifier TokenVerifier

	rateBurst   int
	ratePerSec  float64
	maxBody     int64
	corsOrigins []string
}

type Option func(*API)

// WithVerifier enables bearer authentication. Without it every request is
// anonymous.
func WithVerifier(v TokenVerifier) Option {
	return func(a *API) { a.verifier = v }
}

func WithReadiness(r readinessChecker) Option {
	return func(a *API) {
		if r != nil {
			a.readyProbe = r
		}
	}
}

func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		a.ratePerSec = perSecond
		a.rateBurst = burst
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

func WithCORSOrigins(origins ...string) Option {
	return func(a *API) { a.corsOrigins = origins }
}

func New(svc *rbac.Service, loader DecisionLoader, version string, opts ...Option) *API {
	a := &API{
		readyProbe: ReadyProbe{},
		version:    version,
		rbac:       svc,
		loader:     loader,
		rateBurst:  40,
		ratePerSec: 20,
		maxBody:    1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.router = a.routes()
	return a
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(LoggingJSON)
	r.Use(obs.Instrument)
	r.Use(SecurityHeaders)
	r.Use(CORS(a.corsOrigins))
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.maxBody) })
	if a.ratePerSec > 0 {
		r.Use(func(next http.Handler) http.Handler { return RateLimit(next, a.rateBurst, a.ratePerSec) })
	}
	r.Use(a.withAuth)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/permissions", a.handlePermissionCatalog)
		r.Post("/me/sync", a.handleMeSync)
		r.Get("/me/permissions", a.handleMePermissions)
		r.Post("/authz/check", a.handleAuthzCheck)

		r.Route("/organizations", func(r chi.Router) {
			r.Get("/", a.handleListOrganizations)
			r.Post("/", a.handleCreateOrganization)
			r.Route("/{orgID}", func(r chi.Router) {
				r.Get("/", a.handleGetOrganization)
				r.Patch("/", a.handleRenameOrganization)
				r.Delete("/", a.handleDeleteOrganization)
				r.Put("/parent", a.handleSetParent)
				r.Post("/associations", a.handleAssociate)
				r.Delete("/associations/{otherID}", a.handleDissociate)

				r.Get("/members", a.handleListMembers)
				r.Post("/members", a.handleAddMember)
				r.Delete("/members/{userID}", a.handleRemoveMember)

				r.Get("/roles", a.handleListOrganizationRoles)
				r.Post("/roles", a.handleCreateOrganizationRole)
				r.Put("/roles/{roleID}/permissions", a.handleSetOrganizationRolePermissions)
				r.Delete("/roles/{roleID}", a.handleDeleteOrganizationRole)

				r.Get("/assignments", a.handleListOrganizationAssignments)
				r.Post("/assignments", a.handleAssignOrganizationRole)
				r.Delete("/assignments/{userID}/{roleID}", a.handleRevokeOrganizationRole)
			})
		})

		r.Route("/site", func(r chi.Router) {
			r.Get("/roles", a.handleListSiteRoles)
			r.Post("/roles", a.handleCreateSiteRole)
			r.Put("/roles/{roleID}/permissions", a.handleSetSiteRolePermissions)
			r.Delete("/roles/{roleID}", a.handleDeleteSiteRole)
			r.Post("/assignments", a.handleAssignSiteRole)
			r.Delete("/assignments/{userID}/{roleID}", a.handleRevokeSiteRole)
			r.Get("/users/{userID}/assignments", a.handleListUserSiteAssignments)
		})
	})
	return r
}

// Handler returns the root handler for the HTTP server.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleRBACError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rbac.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, rbac.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, rbac.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		obs.Logger().WithField("request_id", audit.RequestIDFromContext(r.Context())).
			WithError(err).Error("rbac operation failed")
		writeError(w, r, http.StatusInternalServerError, "rbac operation failed")
	}
}

func urlParam(r *http.Request, name string) string {
	return strings.TrimSpace(chi.URLParam(r, name))
}
