package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/levelmind/levelmind-go/internal/download"
	"github.com/levelmind/levelmind-go/internal/library"
	"github.com/levelmind/levelmind-go/internal/monitoring"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Options wires the server to the application services
type Options struct {
	Addr      string
	Library   *library.Service
	Scheduler *download.Scheduler
	Notifier  *download.ProgressNotifier
	Health    *monitoring.HealthChecker
	Logger    *zap.Logger
}

// Server exposes the library and job scheduler over HTTP and WebSocket
type Server struct {
	addr      string
	library   *library.Service
	scheduler *download.Scheduler
	notifier  *download.ProgressNotifier
	health    *monitoring.HealthChecker
	logger    *zap.Logger
	upgrader  websocket.Upgrader
	router    *mux.Router
}

// New creates a Server and registers its routes
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		addr:      opts.Addr,
		library:   opts.Library,
		scheduler: opts.Scheduler,
		notifier:  opts.Notifier,
		health:    opts.Health,
		logger:    logger.Named("server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)
	router.Use(s.metricsMiddleware)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/catalog", s.handleCatalog).Methods(http.MethodGet)
	api.HandleFunc("/catalog/refresh", s.handleRefreshCatalog).Methods(http.MethodPost)

	api.HandleFunc("/downloads", s.handleListDownloads).Methods(http.MethodGet)
	api.HandleFunc("/downloads/{id}", s.handleGetDownload).Methods(http.MethodGet)
	api.HandleFunc("/downloads/{id}", s.handleDeleteDownload).Methods(http.MethodDelete)
	api.HandleFunc("/downloads/{id}/progress", s.handleDownloadProgress).Methods(http.MethodGet)

	api.HandleFunc("/jobs", s.handleSubmitJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handleCancelJob).Methods(http.MethodDelete)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	router.HandleFunc("/ws/downloads", s.handleDownloadsWS).Methods(http.MethodGet)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return router
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}
