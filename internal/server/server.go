package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/cyphercast/internal/domain"
	"github.com/alanyoungcy/cyphercast/internal/server/handler"
	"github.com/alanyoungcy/cyphercast/internal/server/middleware"
	"github.com/alanyoungcy/cyphercast/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimitPerMinute caps requests per client IP. Zero disables it.
	RateLimitPerMinute int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Streams   *handler.StreamHandler
	Community *handler.CommunityHandler
	Events    *handler.EventHandler
	// Metrics serves the Prometheus exposition. Optional.
	Metrics http.Handler
}

// Server is the HTTP + WebSocket API in front of the engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain. limiter is required when cfg.RateLimitPerMinute is set; observe
// may be nil.
func NewServer(
	cfg Config,
	handlers Handlers,
	wsHub *ws.Hub,
	limiter domain.RateLimiter,
	observe middleware.Observer,
	logger *slog.Logger,
) *Server {
	mux := Routes(handlers, wsHub)

	var h http.Handler = mux
	if cfg.RateLimitPerMinute > 0 && limiter != nil {
		h = middleware.RateLimit(limiter, cfg.RateLimitPerMinute, time.Minute, logger)(h)
	}
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.Logging(logger, observe)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Routes builds the bare mux without middleware.
func Routes(handlers Handlers, wsHub *ws.Hub) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	st := handlers.Streams
	mux.HandleFunc("GET /api/streams", st.ListStreams)
	mux.HandleFunc("POST /api/streams", st.CreateStream)
	mux.HandleFunc("GET /api/streams/{address}", st.GetStream)
	mux.HandleFunc("POST /api/streams/{address}/activate", st.ActivateStream())
	mux.HandleFunc("POST /api/streams/{address}/end", st.EndStream())
	mux.HandleFunc("POST /api/streams/{address}/resolve", st.ResolvePrediction())
	mux.HandleFunc("POST /api/streams/{address}/cancel", st.CancelStream())
	mux.HandleFunc("GET /api/streams/{address}/vault", st.GetVault)
	mux.HandleFunc("POST /api/streams/{address}/vault", st.InitializeTokenVault())
	mux.HandleFunc("POST /api/streams/{address}/join", st.JoinStream())
	mux.HandleFunc("GET /api/streams/{address}/predictions", st.ListPredictions)
	mux.HandleFunc("POST /api/streams/{address}/predictions", st.SubmitPrediction())
	mux.HandleFunc("GET /api/streams/{address}/predictions/{viewer}", st.GetPrediction)
	mux.HandleFunc("GET /api/streams/{address}/participants/{viewer}", st.GetParticipant)
	mux.HandleFunc("POST /api/streams/{address}/claim", st.ClaimReward())
	mux.HandleFunc("POST /api/streams/{address}/refund", st.ClaimRefund())
	mux.HandleFunc("GET /api/accounts/{address}", st.GetAccount)

	mux.HandleFunc("GET /api/community", handlers.Community.GetVault)
	mux.HandleFunc("POST /api/community", handlers.Community.Initialize)
	mux.HandleFunc("POST /api/community/contribute", handlers.Community.Contribute)

	if handlers.Events != nil {
		mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
	return mux
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Handler exposes the full middleware chain, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }
