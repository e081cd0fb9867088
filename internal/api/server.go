package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wxdash/wxdashd/internal/hub"
	"github.com/wxdash/wxdashd/internal/store"
)

// Server is the REST API server.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
}

// NewServer creates a new API server with all routes registered.
func NewServer(s store.Store, p WeatherFetcher, h *hub.Hub, corsOrigin string, logger *slog.Logger) *Server {
	handlers := &Handlers{
		Store:     s,
		Provider:  p,
		Hub:       h,
		Logger:    logger,
		StartTime: time.Now(),
	}

	mux := http.NewServeMux()

	// API routes.
	mux.HandleFunc("POST /weather", handlers.CreateWeatherRecord)
	mux.HandleFunc("GET /weather", handlers.ListWeatherRecords)
	mux.HandleFunc("GET /weather/{id}", handlers.GetWeatherRecord)
	mux.HandleFunc("GET /weather/location/{q}", handlers.SearchByLocation)
	mux.HandleFunc("GET /dashboard/stats", handlers.DashboardStats)
	mux.HandleFunc("GET /ws", handlers.LiveUpdates)
	mux.HandleFunc("GET /healthz", handlers.Health)
	mux.HandleFunc("GET /{$}", handlers.Index)

	// Apply middleware (outermost runs first).
	var handler http.Handler = mux
	handler = ContentType(handler)
	handler = SecurityHeaders(handler)
	handler = CORS(corsOrigin)(handler)
	handler = Logger(handler)
	handler = RequestID(handler)
	handler = Recovery(handler)

	srv := &http.Server{
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
		// No WriteTimeout: /ws connections are long-lived.
	}

	return &Server{httpServer: srv, handlers: handlers}
}

// ListenAndServe starts the HTTP server. Blocks until context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.httpServer.Addr = addr
	slog.Info("api server starting", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// SetVersion sets the version string for the index and health endpoints.
func (s *Server) SetVersion(v string) { s.handlers.Version = v }

// SetStorageDriver sets the storage driver name for the health endpoint.
func (s *Server) SetStorageDriver(driver string) {
	s.handlers.StorageDriver = driver
}
