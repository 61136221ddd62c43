package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"larder/internal/inventory"
	applog "larder/internal/log"
	"larder/internal/override"
	"larder/internal/reservation"
	"larder/models"
)

type createReservationRequest struct {
	OrderID      string             `json:"order_id"`
	Lines        []orderLinePayload `json:"lines"`
	AllowPartial bool               `json:"allow_partial"`
	TTLSeconds   int                `json:"ttl_seconds"`
	Override     *overridePayload   `json:"override,omitempty"`
}

type overridePayload struct {
	Reason     string `json:"reason"`
	ApprovedBy string `json:"approved_by"`
	PIN        string `json:"pin"`
}

type extendReservationRequest struct {
	ExtraSeconds int    `json:"extra_seconds"`
	Reason       string `json:"reason"`
}

type releaseReservationRequest struct {
	Reason string `json:"reason"`
}

type reservationResponse struct {
	*models.Reservation
	RemainingTTLSeconds int64 `json:"remaining_ttl_seconds"`
}

type createReservationResponse struct {
	reservationResponse
	AlreadyExisted bool `json:"already_existed"`
	Untracked      bool `json:"untracked"`
	Partial        bool `json:"partial"`
}

// releaseReason decodes the optional release payload. An empty body keeps
// the default reason; a body that fails to decode is rejected.
func releaseReason(r *http.Request) (string, bool) {
	var payload releaseReservationRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
			applog.Debug(r.Context(), "invalid release payload", "error", err)
			return "", false
		}
	}
	reason := strings.TrimSpace(payload.Reason)
	if reason == "" {
		reason = "order cancelled"
	}
	return reason, true
}

func projectReservation(r *models.Reservation) reservationResponse {
	ttl := int64(0)
	if r != nil {
		ttl = int64(r.RemainingTTL(time.Now().UTC()).Seconds())
	}
	return reservationResponse{Reservation: r, RemainingTTLSeconds: ttl}
}

// ReservationResource handles the reservation lifecycle under
// /api/reservations: create, status, consume, release, extend.
func ReservationResource(w http.ResponseWriter, r *http.Request) {
	if !ready(w, r) {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/reservations")
	path = strings.Trim(path, "/")

	if path == "" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		createReservation(w, r)
		return
	}

	segments := strings.Split(path, "/")
	idValue, err := strconv.ParseUint(segments[0], 10, 64)
	if err != nil {
		applog.Debug(r.Context(), "invalid reservation identifier", "identifier", segments[0])
		http.NotFound(w, r)
		return
	}
	reservationID := uint(idValue)

	if len(segments) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		showReservation(w, r, reservationID)
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch segments[1] {
	case "consume":
		consumeReservation(w, r, reservationID)
	case "release":
		releaseReservation(w, r, reservationID)
	case "extend":
		extendReservation(w, r, reservationID)
	default:
		http.NotFound(w, r)
	}
}

// OrderReservationResource resolves reservations by order id under
// /api/orders/{orderId}/reservation, with consume and release shortcuts for
// POS terminals that only know the order.
func OrderReservationResource(w http.ResponseWriter, r *http.Request) {
	if !ready(w, r) {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/orders")
	path = strings.Trim(path, "/")
	segments := strings.Split(path, "/")
	if len(segments) < 2 || segments[1] != "reservation" {
		http.NotFound(w, r)
		return
	}
	orderID := segments[0]

	if len(segments) == 2 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		found, err := resvEngine.ByOrder(r.Context(), orderID)
		if err != nil {
			writeReservationError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, projectReservation(found))
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	actor := actorID(r)
	if actor == "" {
		writeJSONError(w, http.StatusBadRequest, "X-Actor-ID header is required")
		return
	}

	switch segments[2] {
	case "consume":
		consumed, err := resvEngine.ConsumeByOrder(r.Context(), orderID, actor)
		if err != nil {
			writeReservationError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, projectReservation(consumed))
	case "release":
		reason, ok := releaseReason(r)
		if !ok {
			writeJSONError(w, http.StatusBadRequest, "invalid request payload")
			return
		}
		released, err := resvEngine.ReleaseByOrder(r.Context(), orderID, actor, reason)
		if err != nil {
			writeReservationError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, projectReservation(released))
	default:
		http.NotFound(w, r)
	}
}

func createReservation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := actorID(r)
	if actor == "" {
		writeJSONError(w, http.StatusBadRequest, "X-Actor-ID header is required")
		return
	}

	var payload createReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		applog.Debug(ctx, "invalid reservation payload", "error", err)
		writeJSONError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	lines := make([]inventory.OrderLine, 0, len(payload.Lines))
	for _, line := range payload.Lines {
		lines = append(lines, inventory.OrderLine{MenuItemID: line.MenuItemID, Quantity: line.Quantity})
	}

	opts := reservation.CreateOptions{
		AllowPartial: payload.AllowPartial,
		TTL:          time.Duration(payload.TTLSeconds) * time.Second,
	}
	if payload.Override != nil {
		opts.Override = &override.Request{
			Reason:     payload.Override.Reason,
			ApprovedBy: payload.Override.ApprovedBy,
			PIN:        payload.Override.PIN,
		}
	}

	result, err := resvEngine.Create(ctx, payload.OrderID, lines, actor, opts)
	if err != nil {
		writeReservationError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.AlreadyExisted || result.Untracked {
		status = http.StatusOK
	}
	writeJSON(w, status, createReservationResponse{
		reservationResponse: projectReservation(result.Reservation),
		AlreadyExisted:      result.AlreadyExisted,
		Untracked:           result.Untracked,
		Partial:             result.Partial,
	})
}

func showReservation(w http.ResponseWriter, r *http.Request, reservationID uint) {
	found, err := resvEngine.Status(r.Context(), reservationID)
	if err != nil {
		writeReservationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projectReservation(found))
}

func consumeReservation(w http.ResponseWriter, r *http.Request, reservationID uint) {
	actor := actorID(r)
	if actor == "" {
		writeJSONError(w, http.StatusBadRequest, "X-Actor-ID header is required")
		return
	}

	consumed, err := resvEngine.Consume(r.Context(), reservationID, actor)
	if err != nil {
		writeReservationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projectReservation(consumed))
}

func releaseReservation(w http.ResponseWriter, r *http.Request, reservationID uint) {
	actor := actorID(r)
	if actor == "" {
		writeJSONError(w, http.StatusBadRequest, "X-Actor-ID header is required")
		return
	}

	reason, ok := releaseReason(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	released, err := resvEngine.Release(r.Context(), reservationID, actor, reason)
	if err != nil {
		writeReservationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projectReservation(released))
}

func extendReservation(w http.ResponseWriter, r *http.Request, reservationID uint) {
	actor := actorID(r)
	if actor == "" {
		writeJSONError(w, http.StatusBadRequest, "X-Actor-ID header is required")
		return
	}

	var payload extendReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		applog.Debug(r.Context(), "invalid extension payload", "error", err)
		writeJSONError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if payload.ExtraSeconds <= 0 {
		writeJSONError(w, http.StatusBadRequest, "extra_seconds must be positive")
		return
	}

	extended, err := resvEngine.Extend(r.Context(), reservationID, time.Duration(payload.ExtraSeconds)*time.Second, actor, payload.Reason)
	if err != nil {
		writeReservationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projectReservation(extended))
}
