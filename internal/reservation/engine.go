// Package reservation implements the transactional core of the inventory
// engine: creating, consuming, releasing, and extending time-boxed holds on
// ingredient stock, plus the background sweeper that retires expired holds.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"larder/internal/audit"
	"larder/internal/availability"
	"larder/internal/inventory"
	applog "larder/internal/log"
	"larder/internal/override"
	"larder/models"
)

// Engine owns every write to the reservation store and the only stock
// decrement path. All multi-step writes run inside a single transaction.
type Engine struct {
	db       *gorm.DB
	ledger   *audit.Ledger
	verifier *override.Verifier
	ttl      time.Duration
	now      func() time.Time
}

// New builds a reservation engine. ttl is the default reservation lifetime.
func New(db *gorm.DB, ledger *audit.Ledger, verifier *override.Verifier, ttl time.Duration) *Engine {
	return &Engine{
		db:       db,
		ledger:   ledger,
		verifier: verifier,
		ttl:      ttl,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateOptions modify reservation creation behavior.
type CreateOptions struct {
	// AllowPartial caps each hold at whatever stock remains instead of
	// failing the whole order.
	AllowPartial bool
	// Override reserves the full requirement even over on-hand stock. It
	// must carry a reason and an approving manager and is always flagged in
	// the audit ledger.
	Override *override.Request
	// TTL overrides the engine default for this reservation only.
	TTL time.Duration
}

// CreateResult is the outcome of a successful Create call.
type CreateResult struct {
	// Reservation is nil when the order needs no tracking.
	Reservation *models.Reservation
	// AlreadyExisted is set when the orderId had a reservation and the
	// existing one was returned unchanged.
	AlreadyExisted bool
	// Untracked is set when no order line carried recipe requirements.
	Untracked bool
	// Partial is set when AllowPartial capped at least one hold.
	Partial       bool
	ReservedValue decimal.Decimal
	ExpiresAt     time.Time
}

// Create reserves the aggregate ingredient requirements of an order.
// Calling it again with the same orderId returns the existing reservation
// unchanged; the unique constraint on order_id catches the race where two
// submissions slip past the lookup. Any failure rolls the whole operation
// back, leaving no partial state, so callers may safely retry.
func (e *Engine) Create(ctx context.Context, orderID string, lines []inventory.OrderLine, actor string, opts CreateOptions) (*CreateResult, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, &ValidationError{Field: "order_id", Message: "must not be empty"}
	}
	if strings.TrimSpace(actor) == "" {
		return nil, &ValidationError{Field: "actor", Message: "must not be empty"}
	}
	for _, line := range lines {
		if line.MenuItemID == 0 {
			return nil, &ValidationError{Field: "menu_item_id", Message: "must not be zero"}
		}
		if line.Quantity <= 0 {
			return nil, &ValidationError{Field: "quantity", Message: "must be positive"}
		}
	}

	if existing, err := e.ByOrder(ctx, orderID); err == nil {
		applog.Debug(ctx, "duplicate reservation request", "order_id", orderID)
		return &CreateResult{
			Reservation:    existing,
			AlreadyExisted: true,
			ReservedValue:  existing.ReservedValue,
			ExpiresAt:      existing.ExpiresAt,
		}, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	var manager *models.Manager
	if opts.Override != nil {
		var err error
		manager, err = e.verifier.Verify(ctx, *opts.Override)
		if err != nil {
			return nil, err
		}
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = e.ttl
	}

	var result *CreateResult
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		store := inventory.NewStore(tx)

		demands, err := store.AggregateDemand(ctx, lines)
		if err != nil {
			return err
		}
		if len(demands) == 0 {
			applog.Debug(ctx, "order needs no inventory tracking", "order_id", orderID)
			result = &CreateResult{Untracked: true, ReservedValue: decimal.Zero}
			return nil
		}

		if err := e.lockIngredients(ctx, tx, demands); err != nil {
			return err
		}
		// demands now carries the stock view the lock guarantees.

		report, err := availability.New(tx, store).Evaluate(ctx, demands)
		if err != nil {
			return err
		}
		if !report.Feasible && !opts.AllowPartial && manager == nil {
			return &InsufficientInventoryError{Report: report}
		}

		now := e.now()
		reservation := &models.Reservation{
			OrderID:       orderID,
			Status:        models.ReservationActive,
			ExpiresAt:     now.Add(ttl),
			CreatedBy:     actor,
			Version:       1,
			ReservedValue: decimal.Zero,
		}

		availableByID := make(map[uint]float64, len(report.Details))
		for _, detail := range report.Details {
			availableByID[detail.IngredientID] = detail.Available
		}

		// Options are ranked sufficient-first, so the first sufficient entry
		// per ingredient is the pick.
		substituteFor := make(map[uint]availability.SubstituteOption)
		for _, option := range report.Substitutions {
			if !option.Sufficient {
				continue
			}
			if _, ok := substituteFor[option.ForIngredientID]; !ok {
				substituteFor[option.ForIngredientID] = option
			}
		}

		partial := false
		var auditLines []audit.Line
		for _, demand := range demands {
			hold := demand.Quantity
			holdIngredient := demand.Ingredient
			available := availableByID[demand.Ingredient.ID]
			reason := fmt.Sprintf("reserved %g %s", hold, holdIngredient.Unit)

			switch {
			case manager != nil || available >= hold:
				// The override path keeps the full requirement even over
				// on-hand stock.
			case opts.AllowPartial:
				// Partial-allow caps the hold at remaining stock, possibly
				// at zero.
				hold = available
				if hold < 0 {
					hold = 0
				}
				partial = true
				reason = fmt.Sprintf("reserved %g %s (partial)", hold, holdIngredient.Unit)
			case demand.IsRequired:
				// Feasibility rode on a substitute, so the hold moves to it.
				// The short ingredient itself is never over-committed.
				option, ok := substituteFor[demand.Ingredient.ID]
				if !ok {
					return &InsufficientInventoryError{Report: report}
				}
				sub, err := store.Ingredient(ctx, option.IngredientID)
				if err != nil {
					return err
				}
				holdIngredient = *sub
				hold = option.Required
				reason = fmt.Sprintf("reserved %g %s of %s as substitute for %s",
					hold, sub.Unit, sub.Name, demand.Ingredient.Name)
			default:
				// Optional shortfall: hold what is left and skip the rest.
				hold = available
				if hold < 0 {
					hold = 0
				}
				reason = fmt.Sprintf("reserved %g %s (optional, short)", hold, holdIngredient.Unit)
			}

			lineCost := holdIngredient.UnitCost.Mul(decimal.NewFromFloat(hold))
			reservation.Lines = append(reservation.Lines, models.ReservationLine{
				IngredientID: holdIngredient.ID,
				Quantity:     hold,
				Unit:         holdIngredient.Unit,
				Status:       models.LineReserved,
				UnitCost:     holdIngredient.UnitCost,
				LineCost:     lineCost,
			})
			reservation.ReservedValue = reservation.ReservedValue.Add(lineCost)
			auditLines = append(auditLines, audit.Line{
				IngredientID: holdIngredient.ID,
				Delta:        0,
				Reason:       reason,
			})
		}

		if partial {
			reservation.Status = models.ReservationPartial
		}
		if manager != nil {
			reason := opts.Override.Reason
			approvedBy := manager.ActorID
			overrideAt := now
			reservation.OverrideReason = &reason
			reservation.OverrideApprovedBy = &approvedBy
			reservation.OverrideAt = &overrideAt
		}

		if err := tx.Create(reservation).Error; err != nil {
			return fmt.Errorf("persist reservation: %w", err)
		}

		auditOpts := audit.Options{Notes: "reservation created"}
		if manager != nil {
			auditOpts.AuthorizedBy = &manager.ActorID
			auditOpts.Notes = "reservation created under manager override: " + opts.Override.Reason
			auditOpts.ExtraFlags = []string{models.FlagManagerOverride}
		}
		if _, err := e.ledger.Record(ctx, tx, orderID, models.AuditReservation, auditLines, actor, auditOpts); err != nil {
			return err
		}

		result = &CreateResult{
			Reservation:   reservation,
			Partial:       partial,
			ReservedValue: reservation.ReservedValue,
			ExpiresAt:     reservation.ExpiresAt,
		}
		return nil
	})

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost the race against a concurrent submission of the same order;
		// returning the winner keeps Create idempotent for the caller.
		existing, lookupErr := e.ByOrder(ctx, orderID)
		if lookupErr != nil {
			return nil, fmt.Errorf("reservation exists but could not be loaded: %w", lookupErr)
		}
		return &CreateResult{
			Reservation:    existing,
			AlreadyExisted: true,
			ReservedValue:  existing.ReservedValue,
			ExpiresAt:      existing.ExpiresAt,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	if result.Reservation != nil {
		applog.Info(ctx, "reservation created",
			"order_id", orderID,
			"reservation_id", result.Reservation.ID,
			"lines", len(result.Reservation.Lines),
			"partial", result.Partial,
			"override", opts.Override != nil,
			"expires_at", result.ExpiresAt,
		)
	}
	return result, nil
}

// Consume converts a reservation into a permanent stock decrement. Every
// reserved line decrements its ingredient by the held quantity exactly once;
// the consumption audit entry and the stock writes commit together or not at
// all.
func (e *Engine) Consume(ctx context.Context, reservationID uint, actor string) (*models.Reservation, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, &ValidationError{Field: "actor", Message: "must not be empty"}
	}

	var consumed *models.Reservation
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reservation, err := e.loadForUpdate(ctx, tx, reservationID)
		if err != nil {
			return err
		}

		if reservation.Terminal() {
			return fmt.Errorf("%w: reservation %d is %s", ErrStateConflict, reservationID, reservation.Status)
		}
		if reservation.LogicallyExpired(e.now()) {
			// Past expiry the hold no longer exists; the sweeper will do the
			// physical release. No writes happen here.
			return fmt.Errorf("%w: reservation %d", ErrExpired, reservationID)
		}

		if err := e.casTransition(ctx, tx, reservation, models.ReservationConsumed, actor); err != nil {
			return err
		}

		var auditLines []audit.Line
		for _, line := range reservation.Lines {
			if line.Status != models.LineReserved {
				continue
			}
			auditLines = append(auditLines, audit.Line{
				IngredientID: line.IngredientID,
				Delta:        -line.Quantity,
				Reason:       "order fulfilled",
			})
		}

		// Record before decrementing so the audit lines capture the
		// on-hand-before context.
		if _, err := e.ledger.Record(ctx, tx, reservation.OrderID, models.AuditConsumption, auditLines, actor, audit.Options{}); err != nil {
			return err
		}

		// Clamp at zero: an override hold can exceed on-hand stock, and the
		// ledger quantity never goes negative. sqlite spells two-argument
		// GREATEST as MAX.
		clampExpr := "GREATEST(quantity - ?, 0)"
		if tx.Dialector.Name() == "sqlite" {
			clampExpr = "MAX(quantity - ?, 0)"
		}
		for _, line := range reservation.Lines {
			if line.Status != models.LineReserved {
				continue
			}
			res := tx.Model(&models.Ingredient{}).
				Where("id = ?", line.IngredientID).
				UpdateColumn("quantity", gorm.Expr(clampExpr, line.Quantity))
			if res.Error != nil {
				return fmt.Errorf("decrement ingredient %d: %w", line.IngredientID, res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("decrement ingredient %d: row missing", line.IngredientID)
			}
		}

		if err := e.flipLines(ctx, tx, reservation.ID, models.LineConsumed); err != nil {
			return err
		}

		reservation.Status = models.ReservationConsumed
		reservation.Version++
		for i := range reservation.Lines {
			if reservation.Lines[i].Status == models.LineReserved {
				reservation.Lines[i].Status = models.LineConsumed
			}
		}
		consumed = reservation
		return nil
	})
	if err != nil {
		return nil, err
	}

	applog.Info(ctx, "reservation consumed",
		"order_id", consumed.OrderID,
		"reservation_id", consumed.ID,
		"reserved_value", consumed.ReservedValue,
	)
	return consumed, nil
}

// Release discards a reservation without touching stock. Releasing a
// reservation that already reached a terminal state is a no-op, so cleanup
// and cancellation races stay harmless.
func (e *Engine) Release(ctx context.Context, reservationID uint, actor, reason string) (*models.Reservation, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, &ValidationError{Field: "actor", Message: "must not be empty"}
	}

	var released *models.Reservation
	alreadyTerminal := false
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reservation, err := e.loadForUpdate(ctx, tx, reservationID)
		if err != nil {
			return err
		}

		if reservation.Terminal() {
			alreadyTerminal = true
			released = reservation
			return nil
		}

		if err := e.casTransition(ctx, tx, reservation, models.ReservationReleased, actor); err != nil {
			return err
		}
		if err := tx.Model(&models.Reservation{}).
			Where("id = ?", reservation.ID).
			UpdateColumn("release_reason", reason).Error; err != nil {
			return fmt.Errorf("record release reason: %w", err)
		}

		var auditLines []audit.Line
		for _, line := range reservation.Lines {
			if line.Status != models.LineReserved {
				continue
			}
			// Zero delta: stock was never decremented, so there is nothing
			// to give back.
			auditLines = append(auditLines, audit.Line{
				IngredientID: line.IngredientID,
				Delta:        0,
				Reason:       reason,
			})
		}
		if _, err := e.ledger.Record(ctx, tx, reservation.OrderID, models.AuditRelease, auditLines, actor, audit.Options{Notes: reason}); err != nil {
			return err
		}

		if err := e.flipLines(ctx, tx, reservation.ID, models.LineReleased); err != nil {
			return err
		}

		reservation.Status = models.ReservationReleased
		reservation.Version++
		reservation.ReleaseReason = &reason
		for i := range reservation.Lines {
			if reservation.Lines[i].Status == models.LineReserved {
				reservation.Lines[i].Status = models.LineReleased
			}
		}
		released = reservation
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !alreadyTerminal {
		applog.Info(ctx, "reservation released",
			"order_id", released.OrderID,
			"reservation_id", released.ID,
			"reason", reason,
		)
	}
	return released, nil
}

// Extend pushes the expiry forward. Only valid while the reservation is
// active and unexpired; the original expiry is kept on first extension.
func (e *Engine) Extend(ctx context.Context, reservationID uint, extra time.Duration, actor, reason string) (*models.Reservation, error) {
	if extra <= 0 {
		return nil, &ValidationError{Field: "extra", Message: "extension must be positive"}
	}
	if strings.TrimSpace(actor) == "" {
		return nil, &ValidationError{Field: "actor", Message: "must not be empty"}
	}

	var extended *models.Reservation
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reservation, err := e.loadForUpdate(ctx, tx, reservationID)
		if err != nil {
			return err
		}

		if reservation.Status != models.ReservationActive {
			return fmt.Errorf("%w: cannot extend %s reservation %d", ErrStateConflict, reservation.Status, reservationID)
		}
		if reservation.LogicallyExpired(e.now()) {
			return fmt.Errorf("%w: reservation %d", ErrExpired, reservationID)
		}

		updates := map[string]any{
			"expires_at": reservation.ExpiresAt.Add(extra),
			"updated_by": actor,
			"version":    reservation.Version + 1,
		}
		if reservation.OriginalExpiresAt == nil {
			updates["original_expires_at"] = reservation.ExpiresAt
		}

		res := tx.Model(&models.Reservation{}).
			Where("id = ? AND version = ?", reservation.ID, reservation.Version).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("extend reservation %d: %w", reservation.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: reservation %d", ErrVersionConflict, reservation.ID)
		}

		if reservation.OriginalExpiresAt == nil {
			original := reservation.ExpiresAt
			reservation.OriginalExpiresAt = &original
		}
		reservation.ExpiresAt = reservation.ExpiresAt.Add(extra)
		reservation.Version++
		reservation.UpdatedBy = actor
		extended = reservation
		return nil
	})
	if err != nil {
		return nil, err
	}

	applog.Info(ctx, "reservation extended",
		"reservation_id", extended.ID,
		"order_id", extended.OrderID,
		"expires_at", extended.ExpiresAt,
		"reason", reason,
	)
	return extended, nil
}

// Status returns the reservation with its lines for dashboards.
func (e *Engine) Status(ctx context.Context, reservationID uint) (*models.Reservation, error) {
	var reservation models.Reservation
	err := e.db.WithContext(ctx).
		Preload("Lines").
		First(&reservation, reservationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, reservationID)
	}
	if err != nil {
		return nil, fmt.Errorf("load reservation %d: %w", reservationID, err)
	}
	return &reservation, nil
}

// ByOrder returns the reservation for an order id.
func (e *Engine) ByOrder(ctx context.Context, orderID string) (*models.Reservation, error) {
	var reservation models.Reservation
	err := e.db.WithContext(ctx).
		Preload("Lines").
		Where("order_id = ?", orderID).
		First(&reservation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: order %q", ErrNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("load reservation for order %q: %w", orderID, err)
	}
	return &reservation, nil
}

// ConsumeByOrder consumes the reservation attached to an order id.
func (e *Engine) ConsumeByOrder(ctx context.Context, orderID, actor string) (*models.Reservation, error) {
	reservation, err := e.ByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return e.Consume(ctx, reservation.ID, actor)
}

// ReleaseByOrder releases the reservation attached to an order id.
func (e *Engine) ReleaseByOrder(ctx context.Context, orderID, actor, reason string) (*models.Reservation, error) {
	reservation, err := e.ByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return e.Release(ctx, reservation.ID, actor, reason)
}

func (e *Engine) loadForUpdate(ctx context.Context, tx *gorm.DB, reservationID uint) (*models.Reservation, error) {
	query := tx.WithContext(ctx).Preload("Lines")
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE", Table: clause.Table{Name: "reservations"}})
	}

	var reservation models.Reservation
	err := query.First(&reservation, reservationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, reservationID)
	}
	if err != nil {
		return nil, fmt.Errorf("load reservation %d: %w", reservationID, err)
	}
	return &reservation, nil
}

// lockIngredients pins the demanded ingredient rows so the availability read
// and the reservation write happen against the same stock view, then
// refreshes the demand snapshots from the locked rows. sqlite serializes
// writers on its own and rejects FOR UPDATE, so the clause only applies on
// postgres.
func (e *Engine) lockIngredients(ctx context.Context, tx *gorm.DB, demands []inventory.Demand) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}

	// Substitute candidates are locked alongside the demanded ingredients
	// since a shortfall may move the hold onto one of them.
	ids := make([]uint, 0, len(demands))
	for _, demand := range demands {
		ids = append(ids, demand.Ingredient.ID)
		for _, sub := range demand.Substitutes {
			ids = append(ids, sub.ID)
		}
	}

	var locked []models.Ingredient
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id asc").
		Find(&locked).Error
	if err != nil {
		return fmt.Errorf("lock ingredients: %w", err)
	}

	byID := make(map[uint]models.Ingredient, len(locked))
	for _, ingredient := range locked {
		byID[ingredient.ID] = ingredient
	}
	for i := range demands {
		if fresh, ok := byID[demands[i].Ingredient.ID]; ok {
			demands[i].Ingredient = fresh
		}
		for j := range demands[i].Substitutes {
			if fresh, ok := byID[demands[i].Substitutes[j].ID]; ok {
				demands[i].Substitutes[j] = fresh
			}
		}
	}
	return nil
}

// casTransition advances the reservation status with a compare-and-swap on
// the version counter. A concurrent writer makes the swap miss, which
// surfaces as ErrVersionConflict instead of a silent overwrite.
func (e *Engine) casTransition(ctx context.Context, tx *gorm.DB, reservation *models.Reservation, next models.ReservationStatus, actor string) error {
	if !reservation.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s cannot become %s", ErrStateConflict, reservation.Status, next)
	}

	res := tx.WithContext(ctx).Model(&models.Reservation{}).
		Where("id = ? AND version = ?", reservation.ID, reservation.Version).
		Updates(map[string]any{
			"status":     next,
			"version":    reservation.Version + 1,
			"updated_by": actor,
		})
	if res.Error != nil {
		return fmt.Errorf("transition reservation %d to %s: %w", reservation.ID, next, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: reservation %d", ErrVersionConflict, reservation.ID)
	}
	return nil
}

func (e *Engine) flipLines(ctx context.Context, tx *gorm.DB, reservationID uint, next models.LineStatus) error {
	err := tx.WithContext(ctx).Model(&models.ReservationLine{}).
		Where("reservation_id = ? AND status = ?", reservationID, models.LineReserved).
		Update("status", next).Error
	if err != nil {
		return fmt.Errorf("update lines for reservation %d: %w", reservationID, err)
	}
	return nil
}
