package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"research-analyzer/internal/config"
	"research-analyzer/internal/history"
	"research-analyzer/internal/research"
)

const version = "2.0.0"

// HistoryStore is the part of the history store the API reads.
type HistoryStore interface {
	List(ctx context.Context, limit int) ([]history.Record, error)
	Get(ctx context.Context, id string) (history.Record, error)
	Delete(ctx context.Context, id string) error
}

// HealthChecker probes the academic-search service.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Dependencies are the collaborators a Server is built from. History,
// Academic and Gatherer are optional.
type Dependencies struct {
	Research *research.Service
	History  HistoryStore
	Academic HealthChecker
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server holds all dependencies for the HTTP server.
type Server struct {
	config   *config.Config
	research *research.Service
	history  HistoryStore
	academic HealthChecker
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	upgrader websocket.Upgrader
	now      func() time.Time
}

// NewServer creates a new server with all dependencies.
func NewServer(cfg *config.Config, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	srv := &Server{
		config:   cfg,
		research: deps.Research,
		history:  deps.History,
		academic: deps.Academic,
		gatherer: gatherer,
		logger:   logger.With(zap.String("component", "api")),
		now:      time.Now,
	}
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     srv.checkOrigin,
	}
	return srv
}

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(srv *Server) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RecovererMiddleware(srv.logger))
	r.Use(LoggingMiddleware(srv.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   srv.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health and service routes
	r.Get("/", srv.handleRoot)
	r.Get("/health", srv.handleHealth)
	r.Get("/health/live", srv.handleLiveness)
	r.Get("/health/ready", srv.handleReadiness)
	r.Get("/debug/schema", srv.handleDebugSchema)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(srv.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/research", func(r chi.Router) {
		if srv.config.APIToken != "" {
			r.Use(AuthMiddleware(srv.config.APIToken))
		}

		// Research streams
		r.Post("/analyze/stream", srv.handleAnalyzeStream)
		r.Get("/analyze/ws", srv.handleAnalyzeWebSocket)

		// Catalog routes
		r.Get("/engines", srv.handleEngines)
		r.Get("/tools", srv.handleTools)
		r.Get("/catalog", srv.handleCatalog)
		r.Get("/health", srv.handleResearchHealth)

		// History routes
		r.Get("/history", srv.handleListHistory)
		r.Get("/history/{id}", srv.handleGetHistory)
		r.Delete("/history/{id}", srv.handleDeleteHistory)
	})

	return r
}
