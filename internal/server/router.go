package server

import (
	"context"
	"net/http"

	"larder/internal/handlers"
	applog "larder/internal/log"
)

func newRouter() http.Handler {
	mux := http.NewServeMux()
	applog.Debug(context.Background(), "registering http routes")
	mux.HandleFunc("/healthz", handlers.Health)
	applog.Debug(context.Background(), "route registered", "path", "/healthz")
	mux.HandleFunc("/api/availability/", handlers.AvailabilityResource)
	applog.Debug(context.Background(), "route registered", "path", "/api/availability/")
	mux.HandleFunc("/api/reservations", handlers.ReservationResource)
	mux.HandleFunc("/api/reservations/", handlers.ReservationResource)
	applog.Debug(context.Background(), "route registered", "path", "/api/reservations")
	mux.HandleFunc("/api/orders/", handlers.OrderReservationResource)
	applog.Debug(context.Background(), "route registered", "path", "/api/orders/")
	mux.HandleFunc("/api/audit/", handlers.AuditResource)
	applog.Debug(context.Background(), "route registered", "path", "/api/audit/")
	return mux
}
