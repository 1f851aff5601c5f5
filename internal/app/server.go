package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbsync/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/kbsync/internal/api/middlewares"
	"github.com/markdave123-py/kbsync/internal/config"
	"github.com/markdave123-py/kbsync/internal/core"
	"github.com/markdave123-py/kbsync/internal/core/tasks"
	"github.com/markdave123-py/kbsync/internal/metrics"
	"github.com/markdave123-py/kbsync/pkg/zlog"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, d tasks.Dispatcher, p handlers.Pipeline, ex core.ContentExtractor) (*Server, error) {
	router, err := NewRouter(cfg, d, p, ex)
	if err != nil {
		return nil, err
	}
	return &Server{httpServer: &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}}, nil
}

// NewRouter is split out of NewServer so tests can drive it with httptest.
func NewRouter(cfg *config.Config, d tasks.Dispatcher, p handlers.Pipeline, ex core.ContentExtractor) (http.Handler, error) {
	auth, err := appMiddleware.JWTMiddleware(cfg.JWTSecret)
	if err != nil {
		return nil, err
	}

	syncHandler := handlers.NewSyncHandler(d, p, ex, handlers.SyncHandlerConfig{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		SweepTimeout: cfg.TaskMaxDuration,
	})

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())

	// protected endpoints
	r.Group(func(protected chi.Router) {
		protected.Use(auth)
		syncHandler.Routes(protected)
	})

	return r, nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zlog.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("requestId", chimw.GetReqID(r.Context())))
	})
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	zlog.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	zlog.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
