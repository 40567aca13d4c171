package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	mw "github.com/routecore/routecore/internal/api/middleware"
	"github.com/routecore/routecore/internal/auth"
	"github.com/routecore/routecore/internal/cdr"
	"github.com/routecore/routecore/internal/config"
	"github.com/routecore/routecore/internal/database"
	"github.com/routecore/routecore/internal/routing"
)

// Deps bundles everything the HTTP layer needs.
type Deps struct {
	Config *config.Config
	Logger *slog.Logger

	Tenants  database.TenantRepository
	Domains  database.DomainRepository
	IPBXes   database.IPBXRepository
	Carriers database.CarrierRepository
	Trunks   database.CarrierTrunkRepository
	Rules    database.RoutingRuleRepository
	DIDs     database.DIDRepository
	CDRs     database.CDRRepository

	Matcher  *auth.Matcher
	Resolver *routing.Resolver
	Index    *routing.Index
	Recorder *cdr.Recorder

	JWTSecret []byte
	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router *chi.Mux
	cfg    *config.Config
	logger *slog.Logger

	tenants  database.TenantRepository
	domains  database.DomainRepository
	ipbxes   database.IPBXRepository
	carriers database.CarrierRepository
	trunks   database.CarrierTrunkRepository
	rules    database.RoutingRuleRepository
	dids     database.DIDRepository
	cdrs     database.CDRRepository

	matcher  *auth.Matcher
	resolver *routing.Resolver
	index    *routing.Index
	recorder *cdr.Recorder

	jwtSecret []byte
	metrics   http.Handler
	limiter   *mw.IPRateLimiter
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(deps Deps) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		cfg:       deps.Config,
		logger:    deps.Logger.With("subsystem", "api"),
		tenants:   deps.Tenants,
		domains:   deps.Domains,
		ipbxes:    deps.IPBXes,
		carriers:  deps.Carriers,
		trunks:    deps.Trunks,
		rules:     deps.Rules,
		dids:      deps.DIDs,
		cdrs:      deps.CDRs,
		matcher:   deps.Matcher,
		resolver:  deps.Resolver,
		index:     deps.Index,
		recorder:  deps.Recorder,
		jwtSecret: deps.JWTSecret,
		metrics:   deps.MetricsHandler,
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops background middleware state.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.StructuredLogger)
	r.Use(mw.Recoverer)

	if s.cfg != nil && s.cfg.RateLimit > 0 {
		s.limiter = mw.NewIPRateLimiter(mw.DefaultRateLimitConfig(s.cfg.RateLimit))
		r.Use(mw.RateLimit(s.limiter))
	}
	if s.cfg != nil {
		if origins := mw.ParseCORSOrigins(s.cfg.CORSOrigins); len(origins) > 0 {
			r.Use(mw.CORS(origins))
		}
	}

	r.Get("/api/v1/health", s.handleHealth)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	// Proxy callback endpoints. The proxy itself calls without a token and
	// operates system-level; a token restricts the call to its tenants.
	r.Route("/kamailio", func(r chi.Router) {
		r.Use(mw.OptionalAuth(s.jwtSecret))
		r.Post("/auth", s.handleKamailioAuth)
		r.Post("/routing", s.handleKamailioRouting)
		r.Post("/cdr", s.handleKamailioCDR)
	})

	// Management API.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.RequireAuth(s.jwtSecret))

		r.Route("/tenants", func(r chi.Router) {
			r.Get("/", s.handleListTenants)
			r.Post("/", s.handleCreateTenant)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetTenant)
				r.Put("/", s.handleUpdateTenant)
				r.Delete("/", s.handleDeleteTenant)
			})
		})

		r.Route("/domains", func(r chi.Router) {
			r.Get("/", s.handleListDomains)
			r.Post("/", s.handleCreateDomain)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDomain)
				r.Put("/", s.handleUpdateDomain)
				r.Delete("/", s.handleDeleteDomain)
			})
		})

		r.Route("/ipbx", func(r chi.Router) {
			r.Get("/", s.handleListIPBX)
			r.Post("/", s.handleCreateIPBX)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetIPBX)
				r.Put("/", s.handleUpdateIPBX)
				r.Delete("/", s.handleDeleteIPBX)
			})
		})

		r.Route("/carriers", func(r chi.Router) {
			r.Get("/", s.handleListCarriers)
			r.Post("/", s.handleCreateCarrier)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetCarrier)
				r.Put("/", s.handleUpdateCarrier)
				r.Delete("/", s.handleDeleteCarrier)
			})
		})

		r.Route("/carrier-trunks", func(r chi.Router) {
			r.Get("/", s.handleListCarrierTrunks)
			r.Post("/", s.handleCreateCarrierTrunk)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetCarrierTrunk)
				r.Put("/", s.handleUpdateCarrierTrunk)
				r.Delete("/", s.handleDeleteCarrierTrunk)
			})
		})

		r.Route("/routing-rules", func(r chi.Router) {
			r.Get("/", s.handleListRoutingRules)
			r.Post("/", s.handleCreateRoutingRule)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRoutingRule)
				r.Put("/", s.handleUpdateRoutingRule)
				r.Delete("/", s.handleDeleteRoutingRule)
			})
		})

		r.Route("/dids", func(r chi.Router) {
			r.Get("/", s.handleListDIDs)
			r.Post("/", s.handleCreateDID)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDID)
				r.Put("/", s.handleUpdateDID)
				r.Delete("/", s.handleDeleteDID)
			})
		})

		r.Route("/cdrs", func(r chi.Router) {
			r.Get("/", s.handleListCDRs)
			r.Get("/{id}", s.handleGetCDR)
		})
	})
}

// handleHealth reports service liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestScope resolves the caller's principal to a tenant scope. A nil
// scope means the caller sees every tenant.
func (s *Server) requestScope(r *http.Request) (database.TenantScope, error) {
	principal := mw.PrincipalFromContext(r.Context())
	if principal == nil || principal.System() {
		return nil, nil
	}
	ids, err := s.tenants.IDsForUUIDs(r.Context(), principal.TenantUUIDs)
	if err != nil {
		return nil, fmt.Errorf("resolving principal tenants: %w", err)
	}
	// An empty non-nil scope matches nothing, so a principal whose tenants
	// were all deleted sees an empty world rather than everything.
	if ids == nil {
		ids = database.TenantScope{}
	}
	return ids, nil
}

// parseID reads the {id} URL parameter.
func parseID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

// isConflict reports whether the error is a unique constraint violation.
func isConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
