package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lazypower/heatmap/internal/config"
	"github.com/lazypower/heatmap/internal/engine"
	"github.com/lazypower/heatmap/internal/metrics"
	"github.com/lazypower/heatmap/internal/store"
)

// Server is the heatmap HTTP API server.
type Server struct {
	eng      *engine.Engine
	db       *store.DB
	cfg      config.Config
	router   chi.Router
	version  string
	started  time.Time
	upgrader websocket.Upgrader
	limiter  *rateLimiter
}

// New creates a Server around a running engine. db may be nil, in which
// case the history endpoints answer 503.
func New(eng *engine.Engine, db *store.DB, version string) *Server {
	cfg := eng.Config()
	s := &Server{
		eng:     eng,
		db:      db,
		cfg:     cfg,
		version: version,
		started: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		limiter: newRateLimiter(cfg.Ingest.RatePerSecond, cfg.Ingest.Burst),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	origins := s.cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(countRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/graph", s.handleGraph)
		r.Get("/stats", s.handleStats)
		r.Get("/stats/history", s.handleStatsHistory)
		r.Get("/rejects", s.handleRejects)
		r.Get("/frame.png", s.handleFrame)

		r.Post("/click", s.handleClick)
		r.Get("/selection", s.handleSelection)
		r.Post("/pause", s.handlePause)
		r.Post("/resume", s.handleResume)
		r.Post("/resize", s.handleResize)

		r.With(s.limiter.Handler).Post("/events", s.handleEvents)
		r.Get("/ingest", s.handleIngest)
		r.Get("/live", s.handleLive)
	})
	r.Handle("/metrics", promhttp.Handler())
	r.NotFound(spaHandler())

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := false
	dbPath := ""
	if s.db != nil {
		dbOK = s.db.Ping() == nil
		dbPath = s.db.Path
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": dbPath,
		"state":   s.eng.State().String(),
		"stream":  s.eng.StreamConnected(),
	})
}

// countRequests records every request by its route pattern so path
// parameters do not explode label cardinality.
func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	})
}
