package main

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/avaropoint/espota/internal/logsink"
	"github.com/avaropoint/espota/internal/metrics"
	"github.com/avaropoint/espota/internal/ota"
	"github.com/avaropoint/espota/internal/security"
	"github.com/avaropoint/espota/internal/store"
	"github.com/avaropoint/espota/internal/viewer"
)

// logBodyLimit caps a single /log request body.
const logBodyLimit = 64 << 10

// Deps are the components a Server routes requests to.
type Deps struct {
	Service   *ota.Service
	Logs      *logsink.Sink
	Viewer    *viewer.Supervisor // nil disables /webconsole
	Events    store.Store        // nil disables /api/events
	Metrics   *metrics.Metrics
	Auth      *security.AuthMiddleware
	Logger    zerolog.Logger
	MaxUpload int64
}

// Server holds the HTTP handlers.
type Server struct {
	svc       *ota.Service
	logs      *logsink.Sink
	viewer    *viewer.Supervisor
	events    store.Store
	metrics   *metrics.Metrics
	auth      *security.AuthMiddleware
	log       zerolog.Logger
	maxUpload int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewServer creates a new Server instance.
func NewServer(d Deps) *Server {
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Auth == nil {
		d.Auth = security.NewAuthMiddleware(nil)
	}
	return &Server{
		svc:       d.Service,
		logs:      d.Logs,
		viewer:    d.Viewer,
		events:    d.Events,
		metrics:   d.Metrics,
		auth:      d.Auth,
		log:       d.Logger,
		maxUpload: d.MaxUpload,
		done:      make(chan struct{}),
	}
}

// Close ends live tail sessions. Hijacked connections are not covered by
// http.Server.Shutdown.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Routes builds the router. Device routes are never authenticated; the
// admin surface sits behind the token middleware.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	// Devices.
	r.Get("/update", s.handleUpdate)
	r.Post("/update", s.handleUpdate)
	r.Get("/otaargs", s.handleOTAArgs)
	r.Get("/log", s.handleLog)
	r.Post("/log", s.handleLog)

	// Administration.
	r.Group(func(r chi.Router) {
		r.Use(s.auth.Handler)

		r.Route("/api", func(r chi.Router) {
			r.Get("/platforms", s.handleListPlatforms)
			r.Post("/platforms", s.handleCreatePlatform)
			r.Delete("/platforms/{name}", s.handleDeletePlatform)
			r.Put("/platforms/{name}/otaargs", s.handleSetPlatformOTAArgs)
			r.Post("/platforms/{name}/accesslist", s.handleAddAccess)
			r.Delete("/platforms/{name}/accesslist/{mac}", s.handleRemoveAccess)
			r.Put("/platforms/{name}/accesslist/{mac}/otaargs", s.handleSetDeviceOTAArgs)
			r.Post("/upload", s.handleUpload)
			r.Get("/events", s.handleListEvents)
			r.Get("/logs", s.handleListLogs)
		})

		r.Get("/ws/logs", s.handleTail)
		r.Get("/webconsole", s.handleWebConsole)
		r.Get("/endlogger", s.handleEndLogger)
	})
	return r
}

// requestLogger logs every request and feeds the request metrics.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			// Hijacked or nothing written.
			status = http.StatusSwitchingProtocols
		}
		elapsed := time.Since(start)
		s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.metrics.RequestSeconds.WithLabelValues(route).Observe(elapsed.Seconds())

		ev := s.log.Debug()
		if status >= 500 {
			ev = s.log.Warn()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", elapsed).
			Str("remote", r.RemoteAddr).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
