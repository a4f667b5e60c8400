package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"voice-agent-server/pkg/config"
	"voice-agent-server/pkg/metrics"
	"voice-agent-server/pkg/session"
)

// Server is the HTTP surface of the voice agent: health and metrics,
// the media-stream WebSocket, the dashboard WebSocket, and the command
// API the dashboard calls.
type Server struct {
	logger     *logrus.Logger
	config     config.HTTPConfig
	manager    *session.Manager
	hub        *DashboardHub
	httpServer *http.Server
	startTime  time.Time
}

// StreamHandler is the media-stream WebSocket endpoint, implemented by
// the telephony gateway.
type StreamHandler interface {
	HandleStream(w http.ResponseWriter, r *http.Request)
}

// NewServer builds the router and the underlying http.Server.
func NewServer(logger *logrus.Logger, cfg config.HTTPConfig, manager *session.Manager, hub *DashboardHub, stream StreamHandler) *Server {
	s := &Server{
		logger:    logger,
		config:    cfg,
		manager:   manager,
		hub:       hub,
		startTime: time.Now(),
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if cfg.EnableMetrics {
		router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}
	router.HandleFunc("/ws/stream", stream.HandleStream)
	router.HandleFunc("/ws/dashboard", hub.ServeWS)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/calls", s.handleListCalls).Methods(http.MethodGet)
	api.HandleFunc("/calls/{id}", s.handleGetCall).Methods(http.MethodGet)
	api.HandleFunc("/calls/{id}/hangup", s.handleHangup).Methods(http.MethodPost)
	api.HandleFunc("/calls/{id}/location/send", s.handleLocationSend).Methods(http.MethodPost)
	api.HandleFunc("/calls/{id}/location/cancel", s.handleLocationCancel).Methods(http.MethodPost)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
