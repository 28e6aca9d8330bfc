// Package httpx exposes the team formation services over HTTP.
package httpx

import (
	"context"
	"net/http"
	"sync"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/teamforge/internal/domain"
	"github.com/splax/teamforge/internal/events"
	"github.com/splax/teamforge/internal/service/assignment"
	"github.com/splax/teamforge/internal/service/consensus"
	"github.com/splax/teamforge/internal/service/invitation"
	"github.com/splax/teamforge/internal/service/team"
)

// ProjectCatalog lists the projects teams can choose from.
type ProjectCatalog interface {
	ListProjects(ctx context.Context) ([]domain.Project, error)
}

// Services groups the domain services the router exposes.
type Services struct {
	Auth        Authorizer
	Teams       team.Service
	Invitations invitation.Service
	Consensus   consensus.Service
	Assignment  assignment.Service
	Projects    ProjectCatalog
}

// Options tunes the router. Zero values select defaults.
type Options struct {
	Limiter RateLimiter
	// WriteLimit is the per-user budget for mutating requests per minute.
	WriteLimit int
	DBHealth   func(context.Context) error
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	// Events enables the live team streams when set.
	Events          *events.Hub
	StreamHeartbeat time.Duration
}

// Router serves the team formation API.
type Router struct {
	mux         chi.Router
	logger      *slog.Logger
	auth        Authorizer
	teams       team.Service
	invitations invitation.Service
	consensus   consensus.Service
	assignment  assignment.Service
	projects    ProjectCatalog
	limiter     RateLimiter
	writeLimit  int
	dbHealth    func(context.Context) error
	gatherer    prometheus.Gatherer
	events      *events.Hub
	heartbeat   time.Duration
	upgrader    websocket.Upgrader

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateLimitUserWrite = 60
	rateLimitUserRead  = 240
	rateLimitInvite    = 20
	healthCheckTimeout = 2 * time.Second
	streamHeartbeat    = 15 * time.Second
	maxBodyBytes       = 1 << 20
)

// NewRouter builds the team formation API.
func NewRouter(logger *slog.Logger, svcs Services, opts Options) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:         chi.NewRouter(),
		logger:      logger,
		auth:        svcs.Auth,
		teams:       svcs.Teams,
		invitations: svcs.Invitations,
		consensus:   svcs.Consensus,
		assignment:  svcs.Assignment,
		projects:    svcs.Projects,
		limiter:     opts.Limiter,
		writeLimit:  opts.WriteLimit,
		dbHealth:    opts.DBHealth,
		gatherer:    opts.Gatherer,
		events:      opts.Events,
		heartbeat:   opts.StreamHeartbeat,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	if r.heartbeat <= 0 {
		r.heartbeat = streamHeartbeat
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.writeLimit <= 0 {
		r.writeLimit = rateLimitUserWrite
	}
	if r.gatherer == nil {
		r.gatherer = prometheus.DefaultGatherer
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close stops the rate limiter.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	m := r.mux
	readTier := rateTier{name: "read", limit: rateLimitUserRead, window: rateWindowDefault}
	writeTier := rateTier{name: "write", limit: r.writeLimit, window: rateWindowDefault}
	inviteTier := rateTier{name: "invite", limit: rateLimitInvite, window: rateWindowDefault}
	read := func(h http.HandlerFunc) http.HandlerFunc { return r.audit(r.limited(readTier, h)) }
	write := func(h http.HandlerFunc) http.HandlerFunc { return r.audit(r.limited(writeTier, h)) }

	m.NotFound(r.audit(func(w http.ResponseWriter, _ *http.Request) { r.notFound(w) }))
	m.MethodNotAllowed(r.audit(func(w http.ResponseWriter, _ *http.Request) { r.methodNotAllowed(w) }))

	m.Get("/healthz", r.audit(r.handleHealthz))
	m.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))

	m.Get("/projects", read(r.handleListProjects))
	m.Post("/teams", write(r.handleCreateTeam))
	m.Route("/teams/{teamID}", func(t chi.Router) {
		t.Get("/", read(r.handleGetTeam))
		t.Get("/capacity", read(r.handleCapacity))
		t.Post("/members", write(r.handleAddMember))
		t.Delete("/members/{userID}", write(r.handleRemoveMember))
		t.Post("/invitations", r.audit(r.limited(inviteTier, r.handleSendInvitation)))
		t.Get("/invitations", read(r.handleTeamInvitations))
		t.Get("/selections", read(r.handleSelections))
		t.Get("/consensus", read(r.handleConsensus))
		t.Post("/assignment", write(r.handleAssign))
		if r.events != nil {
			t.Get("/events", read(r.handleTeamEvents))
			t.Get("/events/ws", read(r.handleTeamEventsWS))
		}
	})
	m.Get("/invitations", read(r.handleMyInvitations))
	m.Post("/invitations/{invitationID}/{action}", write(r.handleRespond))
	m.Get("/join/{token}", write(r.handleJoin))
	m.Put("/selection", write(r.handleSelect))
}

type healthReport struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	CheckedAt  time.Time         `json:"checked_at"`
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	report := healthReport{Status: "ok", Components: map[string]string{}, CheckedAt: time.Now().UTC()}
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		err := r.dbHealth(ctx)
		cancel()
		report.Components["database"] = "up"
		if err != nil {
			r.logger.Warn("database unreachable", "error", err)
			report.Components["database"] = "down"
			report.Status = "degraded"
		}
	}
	if r.events != nil {
		report.Components["event_hub"] = "up"
	}
	if report.Status != "ok" {
		writeJSON(w, http.StatusServiceUnavailable, envelope{Success: false, Message: report.Status, Data: report})
		return
	}
	writeData(w, http.StatusOK, "", report, nil)
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

func (r *Router) forbidden(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusForbidden, msg)
}
