package www

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"firecore/engine"
)

// Options tunes the router. A nil Registry falls back to the prometheus
// default registry.
type Options struct {
	Logger   zerolog.Logger
	Registry *prometheus.Registry
}

type Handlers struct {
	engine   *engine.Engine
	log      zerolog.Logger
	validate *validator.Validate
	metrics  *httpMetrics
	eventHub *EventHub
	started  time.Time
}

// NewRouter builds the HTTP API. The returned func stops the SSE hub.
func NewRouter(eng *engine.Engine, opts Options) (http.Handler, func()) {
	log := opts.Logger.With().Str("component", "www").Logger()

	var reg prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if opts.Registry != nil {
		reg, gatherer = opts.Registry, opts.Registry
	}

	hub := NewEventHub(log)
	hub.Start()
	hub.SetupEngineListeners(eng)

	h := &Handlers{
		engine:   eng,
		log:      log,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  newHTTPMetrics(reg),
		eventHub: hub,
		started:  time.Now().UTC(),
	}

	webCfg := eng.AppConfig().Web
	timeout := webCfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.metricsMiddleware)
	r.Use(h.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   webCfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Long-lived stream, kept out of the request timeout.
	r.Get("/api/events", hub.SSEHandler)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))

		r.Post("/api/reports", h.apiCreateReport)
		r.Get("/api/reports", h.apiListReports)
		r.Get("/api/reports/{id}", h.apiGetReport)
		r.Get("/api/reports/number/{number}", h.apiGetReportByNumber)

		r.Get("/api/dispatches", h.apiListDispatches)
		r.Get("/api/dispatches/{id}", h.apiGetDispatch)
		r.Get("/api/dispatches/number/{number}", h.apiGetDispatchByNumber)
		r.Get("/api/dispatches/{id}/outcome", h.apiDispatchOutcome)
		r.Post("/api/dispatches/{id}/reassign", h.apiReassignDispatch)

		r.Patch("/api/{kind}/{id}/status", h.apiSetStatus)
		r.Get("/api/{kind}/{id}/transitions", h.apiListTransitions)

		r.Get("/api/escalations", h.apiListEscalations)
		r.Get("/api/escalations/{id}", h.apiGetEscalation)
		r.Post("/api/escalations/{id}/complete", h.apiCompleteEscalation)

		r.Post("/api/units", h.apiCreateUnit)
		r.Get("/api/units", h.apiListUnits)
		r.Put("/api/units/{id}/location", h.apiUpdateUnitLocation)

		r.Post("/api/stations", h.apiCreateStation)
		r.Get("/api/stations", h.apiListStations)

		r.Get("/api/stats/unfulfilled", h.apiUnfulfilled)
		r.Get("/api/stats/{kind}", h.apiStatsForKind)

		r.Get("/api/audit", h.apiListAudit)
	})

	return r, hub.Stop
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	pending, err := h.engine.DB().CountPendingOutbox(r.Context())
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "database unavailable", err.Error())
		return
	}
	messaging := "disabled"
	if c := h.engine.MsgClient(); c != nil {
		messaging = "disconnected"
		if c.IsConnected() {
			messaging = "connected"
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime":         time.Since(h.started).Round(time.Second).String(),
		"outbox_pending": pending,
		"messaging":      messaging,
		"sse_clients":    h.eventHub.ClientCount(),
	})
}
