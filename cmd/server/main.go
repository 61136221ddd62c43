package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"larder/internal/config"
	"larder/internal/db"
	applog "larder/internal/log"
	"larder/internal/reservation"
	"larder/internal/server"
)

func main() {
	if level := os.Getenv("LARDER_LOG_LEVEL"); level != "" {
		if err := applog.SetLevel(level); err != nil {
			log.Fatalf("invalid log level %q: %v", level, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	database, err := db.Configure(cfg.Database)
	if err != nil {
		log.Fatalf("database initialization failed: %v", err)
	}

	srv, err := server.New(server.Config{
		Addr:           cfg.Server.Addr,
		Database:       database,
		ReservationTTL: cfg.Reservation.TTL,
		Compliance:     cfg.Compliance,
	})
	if err != nil {
		log.Fatalf("server initialization failed: %v", err)
	}

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	sweeper := reservation.NewSweeper(srv.ReservationEngine(), cfg.Reservation.SweepInterval)
	sweeperDone := sweeper.Start(sweepCtx)

	go func() {
		log.Printf("starting http server on %s", cfg.Server.Addr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server encountered an error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh

	log.Println("shutting down http server")
	stopSweeper()
	<-sweeperDone
	if err := srv.Stop(); err != nil {
		log.Fatalf("graceful shutdown failed: %v", err)
	}
}
