// Package handlers exposes the HTTP API of the inventory engine: availability
// queries, reservation lifecycle operations, and audit ledger access.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"larder/internal/audit"
	"larder/internal/availability"
	"larder/internal/inventory"
	applog "larder/internal/log"
	"larder/internal/override"
	"larder/internal/reservation"
)

var (
	database    *gorm.DB
	store       *inventory.Store
	availEngine *availability.Engine
	resvEngine  *reservation.Engine
	ledger      *audit.Ledger
)

// Configure wires the shared dependencies used by every handler in this
// package. Pass nils to reset between tests.
func Configure(db *gorm.DB, s *inventory.Store, a *availability.Engine, r *reservation.Engine, l *audit.Ledger) {
	database = db
	store = s
	availEngine = a
	resvEngine = r
	ledger = l
}

func ready(w http.ResponseWriter, r *http.Request) bool {
	if database == nil || store == nil || availEngine == nil || resvEngine == nil || ledger == nil {
		applog.Debug(r.Context(), "request before handler configuration", "path", r.URL.Path)
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// actorID pulls the acting POS terminal or staff identifier from the request.
func actorID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Actor-ID"))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		applog.Error(context.Background(), "failed to encode json response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeReservationError maps the engine's error taxonomy onto HTTP statuses.
// Insufficient inventory keeps its full report in the body so the POS can
// show the itemized shortfall and substitution options.
func writeReservationError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *reservation.ValidationError
	var insufficient *reservation.InsufficientInventoryError

	switch {
	case errors.As(err, &validation):
		writeJSONError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  insufficient.Error(),
			"report": insufficient.Report,
		})
	case errors.Is(err, reservation.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, reservation.ErrExpired):
		writeJSONError(w, http.StatusGone, err.Error())
	case errors.Is(err, reservation.ErrStateConflict), errors.Is(err, reservation.ErrVersionConflict):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, override.ErrReasonTooShort), errors.Is(err, override.ErrBadPIN),
		errors.Is(err, override.ErrNotElevated), errors.Is(err, override.ErrManagerNotFound):
		writeJSONError(w, http.StatusForbidden, err.Error())
	default:
		applog.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}
