// Package audit maintains the append-only ledger of stock-affecting events.
// Entries are written atomically with the stock changes they describe and are
// never edited afterwards, except to mark a compliance flag resolved.
package audit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"larder/internal/config"
	applog "larder/internal/log"
	"larder/models"
)

// ErrFlagNotFound is returned when resolving a flag that does not exist.
var ErrFlagNotFound = errors.New("audit flag not found")

// ErrFlagAlreadyResolved is returned when a flag was resolved earlier.
var ErrFlagAlreadyResolved = errors.New("audit flag already resolved")

// Ledger writes and queries audit entries.
type Ledger struct {
	db         *gorm.DB
	compliance config.ComplianceConfig
}

// NewLedger builds a Ledger with the given compliance thresholds.
func NewLedger(db *gorm.DB, compliance config.ComplianceConfig) *Ledger {
	return &Ledger{db: db, compliance: compliance}
}

// Line describes one ingredient's part in a stock-affecting event. Delta is
// signed and expressed in the ingredient's stock unit; zero deltas record
// events that touched no stock (reservation, release).
type Line struct {
	IngredientID uint
	Delta        float64
	Reason       string
}

// Options carries the optional attributes of an audit entry.
type Options struct {
	AuthorizedBy *string
	Notes        string
	// ExtraFlags are appended on top of the rule-derived compliance flags,
	// e.g. the manager override flag.
	ExtraFlags []string
}

// Record enriches each line with the current stock context, computes the
// aggregate quantity and value impact, persists the entry, and attaches
// compliance flags. When tx is non-nil the entry joins the caller's
// transaction, so the entry and the stock change it describes commit or roll
// back together. Callers record before applying their stock change: the
// current quantity is taken as on-hand-before and the delta projects
// on-hand-after.
func (l *Ledger) Record(ctx context.Context, tx *gorm.DB, referenceID string, referenceType models.AuditReferenceType, lines []Line, actor string, opts Options) (*models.AuditEntry, error) {
	if tx == nil {
		var entry *models.AuditEntry
		err := l.db.WithContext(ctx).Transaction(func(inner *gorm.DB) error {
			var innerErr error
			entry, innerErr = l.Record(ctx, inner, referenceID, referenceType, lines, actor, opts)
			return innerErr
		})
		return entry, err
	}

	if referenceID == "" {
		return nil, fmt.Errorf("audit reference id must not be empty")
	}
	if actor == "" {
		return nil, fmt.Errorf("audit actor must not be empty")
	}

	entry := &models.AuditEntry{
		ReferenceID:   referenceID,
		ReferenceType: referenceType,
		PerformedBy:   actor,
		AuthorizedBy:  opts.AuthorizedBy,
		Notes:         opts.Notes,
		ValueImpact:   decimal.Zero,
	}

	for _, line := range lines {
		var ingredient models.Ingredient
		if err := tx.WithContext(ctx).First(&ingredient, line.IngredientID).Error; err != nil {
			return nil, fmt.Errorf("load ingredient %d for audit: %w", line.IngredientID, err)
		}

		costImpact := ingredient.UnitCost.Mul(decimal.NewFromFloat(line.Delta))
		entry.Lines = append(entry.Lines, models.AuditEntryLine{
			IngredientID:   ingredient.ID,
			QuantityBefore: ingredient.Quantity,
			QuantityAfter:  ingredient.Quantity + line.Delta,
			Delta:          line.Delta,
			Unit:           ingredient.Unit,
			Reason:         line.Reason,
			CostImpact:     costImpact,
		})
		entry.QuantityImpact += line.Delta
		entry.ValueImpact = entry.ValueImpact.Add(costImpact)
	}

	for _, flag := range l.complianceFlags(entry, opts) {
		entry.Flags = append(entry.Flags, models.AuditFlag{Flag: flag})
	}

	if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("persist audit entry: %w", err)
	}

	applog.Debug(ctx, "audit entry recorded",
		"reference_id", referenceID,
		"reference_type", string(referenceType),
		"lines", len(entry.Lines),
		"flags", len(entry.Flags),
	)

	return entry, nil
}

func (l *Ledger) complianceFlags(entry *models.AuditEntry, opts Options) []string {
	var flags []string

	if entry.ValueImpact.Abs().GreaterThan(l.compliance.HighValueThreshold) {
		flags = append(flags, models.FlagHighValue)
	}
	if math.Abs(entry.QuantityImpact) > l.compliance.LargeQtyThreshold {
		flags = append(flags, models.FlagLargeQuantity)
	}
	if entry.ReferenceType == models.AuditWaste {
		flags = append(flags, models.FlagFoodSafety)
	}
	if entry.ReferenceType == models.AuditManualAdjustment && entry.AuthorizedBy == nil {
		flags = append(flags, models.FlagAuditRequired)
	}

	flags = append(flags, opts.ExtraFlags...)
	return flags
}

// ResolveFlag marks one compliance flag handled. This is the only mutation an
// audit record ever receives.
func (l *Ledger) ResolveFlag(ctx context.Context, flagID uint, resolver string) error {
	if resolver == "" {
		return fmt.Errorf("resolver must not be empty")
	}

	var flag models.AuditFlag
	err := l.db.WithContext(ctx).First(&flag, flagID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: id %d", ErrFlagNotFound, flagID)
	}
	if err != nil {
		return fmt.Errorf("load audit flag %d: %w", flagID, err)
	}
	if flag.Resolved {
		return ErrFlagAlreadyResolved
	}

	now := time.Now().UTC()
	flag.Resolved = true
	flag.ResolvedBy = &resolver
	flag.ResolvedAt = &now
	if err := l.db.WithContext(ctx).Save(&flag).Error; err != nil {
		return fmt.Errorf("resolve audit flag %d: %w", flagID, err)
	}
	return nil
}

// IngredientHistory lists the most recent audit entries touching one
// ingredient, newest first.
func (l *Ledger) IngredientHistory(ctx context.Context, ingredientID uint, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	var entryIDs []uint
	err := l.db.WithContext(ctx).
		Model(&models.AuditEntryLine{}).
		Where("ingredient_id = ?", ingredientID).
		Distinct("audit_entry_id").
		Pluck("audit_entry_id", &entryIDs).Error
	if err != nil {
		return nil, fmt.Errorf("look up audit entries for ingredient %d: %w", ingredientID, err)
	}
	if len(entryIDs) == 0 {
		return nil, nil
	}

	var entries []models.AuditEntry
	err = l.db.WithContext(ctx).
		Preload("Lines").
		Preload("Flags").
		Where("id IN ?", entryIDs).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("load audit history for ingredient %d: %w", ingredientID, err)
	}
	return entries, nil
}

// TypeSummary aggregates the entries of one reference type over a range.
type TypeSummary struct {
	ReferenceType  models.AuditReferenceType `json:"reference_type"`
	Count          int64                     `json:"count"`
	QuantityImpact float64                   `json:"quantity_impact"`
	ValueImpact    decimal.Decimal           `json:"value_impact"`
}

// SummaryByType aggregates entries per reference type between from and to.
func (l *Ledger) SummaryByType(ctx context.Context, from, to time.Time) ([]TypeSummary, error) {
	var entries []models.AuditEntry
	err := l.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("id asc").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("load audit entries for summary: %w", err)
	}

	byType := make(map[models.AuditReferenceType]*TypeSummary)
	var order []models.AuditReferenceType
	for _, entry := range entries {
		summary, ok := byType[entry.ReferenceType]
		if !ok {
			summary = &TypeSummary{ReferenceType: entry.ReferenceType, ValueImpact: decimal.Zero}
			byType[entry.ReferenceType] = summary
			order = append(order, entry.ReferenceType)
		}
		summary.Count++
		summary.QuantityImpact += entry.QuantityImpact
		summary.ValueImpact = summary.ValueImpact.Add(entry.ValueImpact)
	}

	summaries := make([]TypeSummary, 0, len(order))
	for _, refType := range order {
		summaries = append(summaries, *byType[refType])
	}
	return summaries, nil
}

// PendingReview lists entries that still carry unresolved compliance flags,
// newest first.
func (l *Ledger) PendingReview(ctx context.Context) ([]models.AuditEntry, error) {
	var entryIDs []uint
	err := l.db.WithContext(ctx).
		Model(&models.AuditFlag{}).
		Where("resolved = ?", false).
		Distinct("audit_entry_id").
		Pluck("audit_entry_id", &entryIDs).Error
	if err != nil {
		return nil, fmt.Errorf("look up flagged audit entries: %w", err)
	}
	if len(entryIDs) == 0 {
		return nil, nil
	}

	var entries []models.AuditEntry
	err = l.db.WithContext(ctx).
		Preload("Lines").
		Preload("Flags").
		Where("id IN ?", entryIDs).
		Order("created_at desc, id desc").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("load flagged audit entries: %w", err)
	}
	return entries, nil
}

// LargeAdjustments lists the entries that crossed the value or quantity
// compliance thresholds, newest first.
func (l *Ledger) LargeAdjustments(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	var entryIDs []uint
	err := l.db.WithContext(ctx).
		Model(&models.AuditFlag{}).
		Where("flag IN ?", []string{models.FlagHighValue, models.FlagLargeQuantity}).
		Distinct("audit_entry_id").
		Pluck("audit_entry_id", &entryIDs).Error
	if err != nil {
		return nil, fmt.Errorf("look up large adjustments: %w", err)
	}
	if len(entryIDs) == 0 {
		return nil, nil
	}

	var entries []models.AuditEntry
	err = l.db.WithContext(ctx).
		Preload("Lines").
		Preload("Flags").
		Where("id IN ?", entryIDs).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("load large adjustments: %w", err)
	}
	return entries, nil
}
