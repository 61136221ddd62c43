package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"larder/internal/audit"
	"larder/internal/availability"
	"larder/internal/config"
	"larder/internal/db"
	"larder/internal/inventory"
	"larder/internal/override"
	"larder/internal/reservation"
	"larder/models"
)

// configureTestHandlers wires the handler package against a fresh in-memory
// database and resets the globals when the test finishes. Tests in this
// package must not run in parallel because the handler dependencies are
// package-level.
func configureTestHandlers(t *testing.T, name string) *gorm.DB {
	t.Helper()
	database, err := db.OpenMemory(name)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() {
		Configure(nil, nil, nil, nil, nil)
		if sqlDB, err := database.DB(); err == nil {
			sqlDB.Close()
		}
	})

	compliance := config.ComplianceConfig{
		HighValueThreshold: decimal.NewFromInt(500),
		LargeQtyThreshold:  10000,
	}
	s := inventory.NewStore(database)
	ledger := audit.NewLedger(database, compliance)
	verifier := override.NewVerifier(database)
	engine := reservation.New(database, ledger, verifier, 15*time.Minute)
	Configure(database, s, availability.New(database, s), engine, ledger)
	return database
}

func seedFlour(t *testing.T, database *gorm.DB, stock float64) models.Ingredient {
	t.Helper()
	flour := models.Ingredient{Name: "Flour", Unit: "g", Quantity: stock, MinimumStock: 100, UnitCost: decimal.RequireFromString("0.01")}
	if err := database.Create(&flour).Error; err != nil {
		t.Fatalf("seed flour: %v", err)
	}
	req := models.RecipeRequirement{MenuItemID: 1, IngredientID: flour.ID, Quantity: 300, Unit: "g", IsRequired: true}
	if err := database.Create(&req).Error; err != nil {
		t.Fatalf("seed requirement: %v", err)
	}
	return flour
}

func TestHealth(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	Health(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected Content-Type application/json, got %q", ct)
	}

	var resp healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("expected status ok, got %q", resp.Status)
	}
	if resp.Time.IsZero() {
		t.Fatal("expected response time to be populated")
	}
}

func TestHandlersRejectRequestsBeforeConfiguration(t *testing.T) {
	Configure(nil, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/availability/ingredients/1", nil)
	w := httptest.NewRecorder()
	AvailabilityResource(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", w.Code)
	}
}

func TestIngredientAvailabilityEndpoint(t *testing.T) {
	database := configureTestHandlers(t, "handlers-avail")
	flour := seedFlour(t, database, 1000)

	req := httptest.NewRequest(http.MethodGet, "/api/availability/ingredients/1", nil)
	w := httptest.NewRecorder()
	AvailabilityResource(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp availability.IngredientAvailability
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.IngredientID != flour.ID || resp.OnHand != 1000 || resp.Available != 1000 {
		t.Fatalf("unexpected availability: %+v", resp)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/availability/ingredients/999", nil)
	w = httptest.NewRecorder()
	AvailabilityResource(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}

func TestLowStockEndpoint(t *testing.T) {
	database := configureTestHandlers(t, "handlers-lowstock")
	seedFlour(t, database, 50)

	req := httptest.NewRequest(http.MethodGet, "/api/availability/low-stock", nil)
	w := httptest.NewRecorder()
	AvailabilityResource(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp []models.Ingredient
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 1 || resp[0].Name != "Flour" {
		t.Fatalf("expected flour in low stock list, got %+v", resp)
	}
}

func TestOrderAvailabilityCheckEndpoint(t *testing.T) {
	database := configureTestHandlers(t, "handlers-check")
	seedFlour(t, database, 200)

	body := `{"lines":[{"menu_item_id":1,"quantity":1}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/availability/check", strings.NewReader(body))
	w := httptest.NewRecorder()
	AvailabilityResource(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var report availability.Report
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Feasible {
		t.Fatal("expected infeasible report with 200 g stock against 300 g demand")
	}
	if len(report.Insufficient) != 1 || report.Insufficient[0].Shortfall != 100 {
		t.Fatalf("expected 100 g shortfall, got %+v", report.Insufficient)
	}
}

func TestReservationLifecycleOverHTTP(t *testing.T) {
	database := configureTestHandlers(t, "handlers-lifecycle")
	seedFlour(t, database, 1000)

	body := `{"order_id":"ORD-1","lines":[{"menu_item_id":1,"quantity":1}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/reservations", strings.NewReader(body))
	req.Header.Set("X-Actor-ID", "pos-1")
	w := httptest.NewRecorder()
	ReservationResource(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var created createReservationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.Reservation == nil || created.Reservation.Status != models.ReservationActive {
		t.Fatalf("unexpected create response: %s", w.Body.String())
	}
	if created.RemainingTTLSeconds <= 0 {
		t.Fatalf("expected positive remaining ttl, got %d", created.RemainingTTLSeconds)
	}

	// Duplicate submission returns the existing reservation with 200.
	req = httptest.NewRequest(http.MethodPost, "/api/reservations", strings.NewReader(body))
	req.Header.Set("X-Actor-ID", "pos-1")
	w = httptest.NewRecorder()
	ReservationResource(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 for duplicate, got %d", w.Code)
	}
	var duplicate createReservationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &duplicate); err != nil {
		t.Fatalf("decode duplicate response: %v", err)
	}
	if !duplicate.AlreadyExisted || duplicate.Reservation.ID != created.Reservation.ID {
		t.Fatalf("expected existing reservation back, got %s", w.Body.String())
	}

	// Status by order id.
	req = httptest.NewRequest(http.MethodGet, "/api/orders/ORD-1/reservation", nil)
	w = httptest.NewRecorder()
	OrderReservationResource(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	// Consume by order id.
	req = httptest.NewRequest(http.MethodPost, "/api/orders/ORD-1/reservation/consume", nil)
	req.Header.Set("X-Actor-ID", "pos-1")
	w = httptest.NewRecorder()
	OrderReservationResource(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var consumed reservationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &consumed); err != nil {
		t.Fatalf("decode consume response: %v", err)
	}
	if consumed.Reservation.Status != models.ReservationConsumed {
		t.Fatalf("expected consumed status, got %s", consumed.Reservation.Status)
	}

	// Consuming again conflicts.
	req = httptest.NewRequest(http.MethodPost, "/api/orders/ORD-1/reservation/consume", nil)
	req.Header.Set("X-Actor-ID", "pos-1")
	w = httptest.NewRecorder()
	OrderReservationResource(w, req)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", w.Code)
	}
}

func TestCreateReservationRequiresActorHeader(t *testing.T) {
	configureTestHandlers(t, "handlers-actor")

	body := `{"order_id":"ORD-1","lines":[{"menu_item_id":1,"quantity":1}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/reservations", strings.NewReader(body))
	w := httptest.NewRecorder()
	ReservationResource(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestInsufficientInventoryReturnsConflictWithReport(t *testing.T) {
	database := configureTestHandlers(t, "handlers-insufficient")
	seedFlour(t, database, 200)

	body := `{"order_id":"ORD-1","lines":[{"menu_item_id":1,"quantity":1}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/reservations", strings.NewReader(body))
	req.Header.Set("X-Actor-ID", "pos-1")
	w := httptest.NewRecorder()
	ReservationResource(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Error  string              `json:"error"`
		Report availability.Report `json:"report"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.Contains(resp.Error, "Flour") {
		t.Fatalf("expected itemized error naming Flour, got %q", resp.Error)
	}
	if len(resp.Report.Insufficient) != 1 {
		t.Fatalf("expected shortfall report, got %+v", resp.Report)
	}
}

func TestExtendReservationEndpoint(t *testing.T) {
	database := configureTestHandlers(t, "handlers-extend")
	seedFlour(t, database, 1000)

	body := `{"order_id":"ORD-1","lines":[{"menu_item_id":1,"quantity":1}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/reservations", strings.NewReader(body))
	req.Header.Set("X-Actor-ID", "pos-1")
	w := httptest.NewRecorder()
	ReservationResource(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", w.Code)
	}
	var created createReservationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	extendBody := `{"extra_seconds":600,"reason":"kitchen backed up"}`
	req = httptest.NewRequest(http.MethodPost, "/api/reservations/1/extend", strings.NewReader(extendBody))
	req.Header.Set("X-Actor-ID", "pos-1")
	w = httptest.NewRecorder()
	ReservationResource(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var extended reservationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &extended); err != nil {
		t.Fatalf("decode extend response: %v", err)
	}
	want := created.Reservation.ExpiresAt.Add(10 * time.Minute)
	if !extended.Reservation.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %s, got %s", want, extended.Reservation.ExpiresAt)
	}
}

func TestReleaseRejectsMalformedBody(t *testing.T) {
	database := configureTestHandlers(t, "handlers-release-body")
	seedFlour(t, database, 1000)

	body := `{"order_id":"ORD-1","lines":[{"menu_item_id":1,"quantity":1}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/reservations", strings.NewReader(body))
	req.Header.Set("X-Actor-ID", "pos-1")
	w := httptest.NewRecorder()
	ReservationResource(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", w.Code)
	}

	// Garbage bodies are rejected on both release routes and leave the
	// reservation alone.
	req = httptest.NewRequest(http.MethodPost, "/api/reservations/1/release", strings.NewReader(`{"reason":`))
	req.Header.Set("X-Actor-ID", "pos-1")
	w = httptest.NewRecorder()
	ReservationResource(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for malformed body, got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/orders/ORD-1/reservation/release", strings.NewReader(`not json`))
	req.Header.Set("X-Actor-ID", "pos-1")
	w = httptest.NewRecorder()
	OrderReservationResource(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for malformed body, got %d: %s", w.Code, w.Body.String())
	}

	var reloaded models.Reservation
	if err := database.First(&reloaded, 1).Error; err != nil {
		t.Fatalf("reload reservation: %v", err)
	}
	if reloaded.Status != models.ReservationActive {
		t.Fatalf("malformed release must not change status, got %s", reloaded.Status)
	}

	// An empty body still releases with the default reason.
	req = httptest.NewRequest(http.MethodPost, "/api/reservations/1/release", nil)
	req.Header.Set("X-Actor-ID", "pos-1")
	w = httptest.NewRecorder()
	ReservationResource(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 for empty body, got %d: %s", w.Code, w.Body.String())
	}
	var released reservationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &released); err != nil {
		t.Fatalf("decode release response: %v", err)
	}
	if released.Reservation.Status != models.ReservationReleased {
		t.Fatalf("expected released status, got %s", released.Reservation.Status)
	}
	if released.Reservation.ReleaseReason == nil || *released.Reservation.ReleaseReason != "order cancelled" {
		t.Fatalf("expected default release reason, got %v", released.Reservation.ReleaseReason)
	}
}

func TestAuditFlagEndpoints(t *testing.T) {
	database := configureTestHandlers(t, "handlers-audit")
	flour := seedFlour(t, database, 1000)

	compliance := config.ComplianceConfig{
		HighValueThreshold: decimal.NewFromInt(500),
		LargeQtyThreshold:  10000,
	}
	testLedger := audit.NewLedger(database, compliance)
	_, err := testLedger.Record(context.Background(), nil, "ADJ-1", models.AuditManualAdjustment,
		[]audit.Line{{IngredientID: flour.ID, Delta: -50, Reason: "spillage"}}, "staff-1", audit.Options{})
	if err != nil {
		t.Fatalf("record adjustment: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/audit/flags", nil)
	w := httptest.NewRecorder()
	AuditResource(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var flagged []models.AuditEntry
	if err := json.Unmarshal(w.Body.Bytes(), &flagged); err != nil {
		t.Fatalf("decode flags response: %v", err)
	}
	if len(flagged) != 1 || len(flagged[0].Flags) == 0 {
		t.Fatalf("expected one flagged entry, got %+v", flagged)
	}
	flagID := flagged[0].Flags[0].ID

	// History endpoint sees the entry too.
	req = httptest.NewRequest(http.MethodGet, "/api/audit/ingredients/1/history", nil)
	w = httptest.NewRecorder()
	AuditResource(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	// Resolve the flag, then a second resolve conflicts.
	target := "/api/audit/flags/" + strconv.FormatUint(uint64(flagID), 10) + "/resolve"
	req = httptest.NewRequest(http.MethodPost, target, nil)
	req.Header.Set("X-Actor-ID", "mgr-1")
	w = httptest.NewRecorder()
	AuditResource(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, target, nil)
	req.Header.Set("X-Actor-ID", "mgr-1")
	w = httptest.NewRecorder()
	AuditResource(w, req)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", w.Code)
	}
}
