// Package api implements the management REST surface: device and
// tunable state over JSON, routed with gorilla/mux for named path
// parameters. The server construction and context-driven graceful
// shutdown follow the same construct-mux/ListenAndServe-in-a-goroutine
// shape used elsewhere in this codebase for long-lived network servers.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/octera-energy/surplus-manager/internal/config"
	"github.com/octera-energy/surplus-manager/internal/core"
)

// Server exposes device and tunable state over JSON/REST.
type Server struct {
	log        *logrus.Entry
	httpServer *http.Server
	registry   *core.Registry
	scheduler  *core.Scheduler
	store      *config.Store
}

func NewServer(log *logrus.Entry, host string, port int, registry *core.Registry, scheduler *core.Scheduler, store *config.Store) *Server {
	s := &Server{
		log:       log,
		registry:  registry,
		scheduler: scheduler,
		store:     store,
	}

	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/core", s.handleGetCore).Methods(http.MethodGet)
	api.HandleFunc("/surplus", s.handleGetSurplus).Methods(http.MethodGet)
	api.HandleFunc("/devices", s.handleGetDevices).Methods(http.MethodGet)
	api.HandleFunc("/device/{name}", s.handleGetDevice).Methods(http.MethodGet)
	api.HandleFunc("/device/{name}/consumption", s.handleGetDeviceConsumption).Methods(http.MethodGet)

	api.HandleFunc("/surplus_margin", s.handleSetSurplusMargin).Methods(http.MethodPost)
	api.HandleFunc("/grid_margin", s.handleSetGridMargin).Methods(http.MethodPost)
	api.HandleFunc("/idle_power", s.handleSetIdlePower).Methods(http.MethodPost)

	api.HandleFunc("/device/{name}/max_consumption", s.handleSetDeviceField("max_consumption", "max_consumption")).Methods(http.MethodPost)
	api.HandleFunc("/device/{name}/expected_consumption", s.handleSetDeviceField("expected_consumption", "expected_consumption")).Methods(http.MethodPost)
	api.HandleFunc("/device/{name}/cooldown", s.handleSetDeviceField("cooldown", "cooldown")).Methods(http.MethodPost)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: router,
	}

	return s
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.log.Info("shutting down management API")
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Infof("starting management API on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("management API server failed: %w", err)
	}
	return nil
}
