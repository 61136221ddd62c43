// Package server assembles the HTTP service: it wires the engines over the
// database, configures the handler package, and owns the http.Server
// lifecycle.
package server

import (
	"context"
	"net/http"
	"time"

	"gorm.io/gorm"

	"larder/internal/audit"
	"larder/internal/availability"
	"larder/internal/config"
	"larder/internal/handlers"
	"larder/internal/inventory"
	applog "larder/internal/log"
	"larder/internal/override"
	"larder/internal/reservation"
)

// Config captures the runtime configuration for the HTTP server.
type Config struct {
	Addr           string
	Database       *gorm.DB
	ReservationTTL time.Duration
	Compliance     config.ComplianceConfig
}

// Server wraps an http.Server and exposes helpers for bootstrapping a
// production-ready service.
type Server struct {
	config     Config
	engine     *reservation.Engine
	httpServer *http.Server
}

// New builds a Server, wiring the inventory, availability, reservation, and
// audit components over the provided database.
func New(cfg Config) (*Server, error) {
	applog.Debug(context.Background(), "initializing server",
		"addr", cfg.Addr,
		"reservationTTL", cfg.ReservationTTL.String(),
	)

	if cfg.ReservationTTL <= 0 {
		applog.Debug(context.Background(), "reservation ttl not provided, using default")
		cfg.ReservationTTL = 15 * time.Minute
	}

	store := inventory.NewStore(cfg.Database)
	availEngine := availability.New(cfg.Database, store)
	ledger := audit.NewLedger(cfg.Database, cfg.Compliance)
	verifier := override.NewVerifier(cfg.Database)
	resvEngine := reservation.New(cfg.Database, ledger, verifier, cfg.ReservationTTL)

	handlers.Configure(cfg.Database, store, availEngine, resvEngine, ledger)
	applog.Debug(context.Background(), "handler dependencies configured")

	return &Server{
		config: cfg,
		engine: resvEngine,
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           newRouter(),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// ReservationEngine exposes the wired engine so main can attach the sweeper.
func (s *Server) ReservationEngine() *reservation.Engine {
	return s.engine
}

// Start begins serving HTTP traffic using the underlying http.Server.
func (s *Server) Start() error {
	applog.Debug(context.Background(), "server starting listener", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server with a timeout.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	applog.Debug(ctx, "server initiating graceful shutdown")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the configured HTTP handler, enabling integration tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
