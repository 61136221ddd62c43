package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"larder/internal/config"
	"larder/internal/db"
	"larder/models"
)

func newTestLedger(t *testing.T, name string) (*Ledger, *gorm.DB) {
	t.Helper()
	database, err := db.OpenMemory(name)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := database.DB(); err == nil {
			sqlDB.Close()
		}
	})
	compliance := config.ComplianceConfig{
		HighValueThreshold: decimal.NewFromInt(500),
		LargeQtyThreshold:  10000,
	}
	return NewLedger(database, compliance), database
}

func seedIngredient(t *testing.T, database *gorm.DB, name string, qty float64, unitCost string) models.Ingredient {
	t.Helper()
	ingredient := models.Ingredient{
		Name:     name,
		Unit:     "g",
		Quantity: qty,
		UnitCost: decimal.RequireFromString(unitCost),
	}
	if err := database.Create(&ingredient).Error; err != nil {
		t.Fatalf("seed ingredient %s: %v", name, err)
	}
	return ingredient
}

func TestRecordEnrichesLinesWithStockContext(t *testing.T) {
	t.Parallel()

	ledger, database := newTestLedger(t, "audit-enrich")
	ctx := context.Background()

	flour := seedIngredient(t, database, "Flour", 1000, "0.01")

	entry, err := ledger.Record(ctx, nil, "ORD-1", models.AuditConsumption,
		[]Line{{IngredientID: flour.ID, Delta: -300, Reason: "order fulfilled"}},
		"pos-1", Options{})
	if err != nil {
		t.Fatalf("record entry: %v", err)
	}

	if len(entry.Lines) != 1 {
		t.Fatalf("expected one line, got %d", len(entry.Lines))
	}
	line := entry.Lines[0]
	if line.QuantityBefore != 1000 || line.QuantityAfter != 700 || line.Delta != -300 {
		t.Fatalf("unexpected stock context: %+v", line)
	}
	if !line.CostImpact.Equal(decimal.RequireFromString("-3")) {
		t.Fatalf("expected cost impact -3, got %s", line.CostImpact)
	}
	if !entry.ValueImpact.Equal(decimal.RequireFromString("-3")) {
		t.Fatalf("expected value impact -3, got %s", entry.ValueImpact)
	}
	if entry.QuantityImpact != -300 {
		t.Fatalf("expected quantity impact -300, got %g", entry.QuantityImpact)
	}
	if len(entry.Flags) != 0 {
		t.Fatalf("expected no compliance flags, got %v", entry.Flags)
	}
}

func TestRecordFlagsHighValueAndLargeQuantity(t *testing.T) {
	t.Parallel()

	ledger, database := newTestLedger(t, "audit-thresholds")
	ctx := context.Background()

	saffron := seedIngredient(t, database, "Saffron", 20000, "10.00")

	entry, err := ledger.Record(ctx, nil, "ADJ-1", models.AuditManualAdjustment,
		[]Line{{IngredientID: saffron.ID, Delta: -10001, Reason: "spoilage writeoff"}},
		"back-office", Options{})
	if err != nil {
		t.Fatalf("record entry: %v", err)
	}

	want := map[string]bool{
		models.FlagHighValue:     true,
		models.FlagLargeQuantity: true,
		models.FlagAuditRequired: true, // manual adjustment with no authorizer
	}
	if len(entry.Flags) != len(want) {
		t.Fatalf("expected %d flags, got %v", len(want), entry.Flags)
	}
	for _, flag := range entry.Flags {
		if !want[flag.Flag] {
			t.Fatalf("unexpected flag %q", flag.Flag)
		}
	}
}

func TestRecordFlagsWasteForFoodSafety(t *testing.T) {
	t.Parallel()

	ledger, database := newTestLedger(t, "audit-waste")
	ctx := context.Background()

	chicken := seedIngredient(t, database, "Chicken", 5000, "0.02")
	authorizer := "shift-lead"

	entry, err := ledger.Record(ctx, nil, "WASTE-1", models.AuditWaste,
		[]Line{{IngredientID: chicken.ID, Delta: -400, Reason: "left out overnight"}},
		"line-cook", Options{AuthorizedBy: &authorizer})
	if err != nil {
		t.Fatalf("record entry: %v", err)
	}

	if len(entry.Flags) != 1 || entry.Flags[0].Flag != models.FlagFoodSafety {
		t.Fatalf("expected food safety flag only, got %v", entry.Flags)
	}
}

func TestResolveFlagIsOneShot(t *testing.T) {
	t.Parallel()

	ledger, database := newTestLedger(t, "audit-resolve")
	ctx := context.Background()

	milk := seedIngredient(t, database, "Milk", 1000, "0.005")

	entry, err := ledger.Record(ctx, nil, "WASTE-2", models.AuditWaste,
		[]Line{{IngredientID: milk.ID, Delta: -100, Reason: "spilled"}},
		"line-cook", Options{})
	if err != nil {
		t.Fatalf("record entry: %v", err)
	}
	flagID := entry.Flags[0].ID

	if err := ledger.ResolveFlag(ctx, flagID, "manager-1"); err != nil {
		t.Fatalf("resolve flag: %v", err)
	}
	if err := ledger.ResolveFlag(ctx, flagID, "manager-2"); !errors.Is(err, ErrFlagAlreadyResolved) {
		t.Fatalf("expected ErrFlagAlreadyResolved, got %v", err)
	}
	if err := ledger.ResolveFlag(ctx, 9999, "manager-1"); !errors.Is(err, ErrFlagNotFound) {
		t.Fatalf("expected ErrFlagNotFound, got %v", err)
	}

	var resolved models.AuditFlag
	if err := database.First(&resolved, flagID).Error; err != nil {
		t.Fatalf("reload flag: %v", err)
	}
	if !resolved.Resolved || resolved.ResolvedBy == nil || *resolved.ResolvedBy != "manager-1" || resolved.ResolvedAt == nil {
		t.Fatalf("expected resolution metadata recorded, got %+v", resolved)
	}
}

func TestIngredientHistoryAndSummary(t *testing.T) {
	t.Parallel()

	ledger, database := newTestLedger(t, "audit-queries")
	ctx := context.Background()

	flour := seedIngredient(t, database, "Flour", 1000, "0.01")
	sugar := seedIngredient(t, database, "Sugar", 800, "0.02")

	if _, err := ledger.Record(ctx, nil, "ORD-1", models.AuditReservation,
		[]Line{{IngredientID: flour.ID, Delta: 0, Reason: "reserved"}}, "pos-1", Options{}); err != nil {
		t.Fatalf("record reservation: %v", err)
	}
	if _, err := ledger.Record(ctx, nil, "ORD-1", models.AuditConsumption,
		[]Line{{IngredientID: flour.ID, Delta: -300, Reason: "order fulfilled"}}, "pos-1", Options{}); err != nil {
		t.Fatalf("record consumption: %v", err)
	}
	if _, err := ledger.Record(ctx, nil, "RCV-1", models.AuditReceiving,
		[]Line{{IngredientID: sugar.ID, Delta: 500, Reason: "delivery"}}, "back-office", Options{}); err != nil {
		t.Fatalf("record receiving: %v", err)
	}

	history, err := ledger.IngredientHistory(ctx, flour.ID, 10)
	if err != nil {
		t.Fatalf("ingredient history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 entries for flour, got %d", len(history))
	}

	from := time.Now().UTC().Add(-time.Hour)
	to := time.Now().UTC().Add(time.Hour)
	summaries, err := ledger.SummaryByType(ctx, from, to)
	if err != nil {
		t.Fatalf("summary by type: %v", err)
	}
	byType := map[models.AuditReferenceType]TypeSummary{}
	for _, s := range summaries {
		byType[s.ReferenceType] = s
	}
	if byType[models.AuditConsumption].QuantityImpact != -300 {
		t.Fatalf("expected consumption impact -300, got %+v", byType[models.AuditConsumption])
	}
	if byType[models.AuditReservation].QuantityImpact != 0 {
		t.Fatalf("expected zero reservation impact, got %+v", byType[models.AuditReservation])
	}
	if byType[models.AuditReceiving].Count != 1 {
		t.Fatalf("expected one receiving entry, got %+v", byType[models.AuditReceiving])
	}
}
