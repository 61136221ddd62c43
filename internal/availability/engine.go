// Package availability answers whether on-hand stock minus live reservations
// covers demand, for a single ingredient, one menu item, or a whole order.
package availability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"larder/internal/inventory"
	applog "larder/internal/log"
	"larder/internal/units"
	"larder/models"
)

// Engine computes availability. It only reads; reservations are written by
// the reservation engine.
type Engine struct {
	db    *gorm.DB
	store *inventory.Store
}

// New builds an availability engine over the shared database handle.
func New(db *gorm.DB, store *inventory.Store) *Engine {
	return &Engine{db: db, store: store}
}

// IngredientAvailability is the live stock position of one ingredient.
type IngredientAvailability struct {
	IngredientID uint    `json:"ingredient_id"`
	Name         string  `json:"name"`
	Unit         string  `json:"unit"`
	OnHand       float64 `json:"on_hand"`
	Reserved     float64 `json:"reserved"`
	Available    float64 `json:"available"`
	IsAvailable  bool    `json:"is_available"`
	IsLowStock   bool    `json:"is_low_stock"`
}

// IngredientDetail is the per-ingredient outcome of an order or menu item
// feasibility check. Quantities are in the ingredient's stock unit.
type IngredientDetail struct {
	IngredientID uint    `json:"ingredient_id"`
	Name         string  `json:"name"`
	Unit         string  `json:"unit"`
	Required     float64 `json:"required"`
	Available    float64 `json:"available"`
	Shortfall    float64 `json:"shortfall"`
	Sufficient   bool    `json:"sufficient"`
	IsRequired   bool    `json:"is_required"`
}

// SubstituteOption ranks one substitution candidate for an insufficient
// required ingredient.
type SubstituteOption struct {
	ForIngredientID uint    `json:"for_ingredient_id"`
	IngredientID    uint    `json:"ingredient_id"`
	Name            string  `json:"name"`
	Required        float64 `json:"required"`
	Available       float64 `json:"available"`
	Sufficient      bool    `json:"sufficient"`
}

// Report aggregates a feasibility check over a set of order lines.
type Report struct {
	Feasible      bool               `json:"feasible"`
	Details       []IngredientDetail `json:"details"`
	Insufficient  []IngredientDetail `json:"insufficient"`
	Substitutions []SubstituteOption `json:"substitutions"`
}

// Ingredient reports the live availability of one ingredient: on-hand stock
// minus the sum of reserved lines of all active or partial, unexpired
// reservations. The sum is computed fresh on every call rather than cached,
// so it cannot drift from the reservation store.
func (e *Engine) Ingredient(ctx context.Context, ingredientID uint) (*IngredientAvailability, error) {
	ingredient, err := e.store.Ingredient(ctx, ingredientID)
	if err != nil {
		return nil, err
	}
	return e.forIngredient(ctx, ingredient)
}

func (e *Engine) forIngredient(ctx context.Context, ingredient *models.Ingredient) (*IngredientAvailability, error) {
	reserved, err := e.reservedQuantity(ctx, ingredient.ID)
	if err != nil {
		return nil, err
	}

	available := ingredient.Quantity - reserved
	if available < 0 {
		// Manager overrides may hold more than is on hand.
		available = 0
	}

	return &IngredientAvailability{
		IngredientID: ingredient.ID,
		Name:         ingredient.Name,
		Unit:         ingredient.Unit,
		OnHand:       ingredient.Quantity,
		Reserved:     reserved,
		Available:    available,
		IsAvailable:  available > 0,
		IsLowStock:   ingredient.BelowMinimum(),
	}, nil
}

// reservedQuantity sums the reserved lines of every holding reservation for
// the ingredient. Reservations past their expiry are excluded in SQL, so a
// logically expired hold stops counting before the sweeper touches it.
func (e *Engine) reservedQuantity(ctx context.Context, ingredientID uint) (float64, error) {
	var reserved float64
	err := e.db.WithContext(ctx).
		Model(&models.ReservationLine{}).
		Joins("JOIN reservations ON reservations.id = reservation_lines.reservation_id").
		Where("reservation_lines.ingredient_id = ?", ingredientID).
		Where("reservation_lines.status = ?", models.LineReserved).
		Where("reservations.status IN ?", []models.ReservationStatus{models.ReservationActive, models.ReservationPartial}).
		Where("reservations.expires_at > ?", time.Now().UTC()).
		Where("reservations.deleted_at IS NULL").
		Select("COALESCE(SUM(reservation_lines.quantity), 0)").
		Scan(&reserved).Error
	if err != nil {
		return 0, fmt.Errorf("sum reserved quantity for ingredient %d: %w", ingredientID, err)
	}
	return reserved, nil
}

// MenuItem checks whether qty units of one menu item can be produced.
func (e *Engine) MenuItem(ctx context.Context, menuItemID uint, qty int) (*Report, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("menu item %d: quantity must be positive", menuItemID)
	}
	return e.Order(ctx, []inventory.OrderLine{{MenuItemID: menuItemID, Quantity: qty}})
}

// Order checks a whole order. Demand for an ingredient shared by several
// menu items is summed before the comparison, so per-item checks cannot
// under- or over-count shared stock. Orders whose items have no recipe rows
// are always feasible.
func (e *Engine) Order(ctx context.Context, lines []inventory.OrderLine) (*Report, error) {
	demands, err := e.store.AggregateDemand(ctx, lines)
	if err != nil {
		return nil, err
	}
	return e.evaluate(ctx, demands)
}

// Evaluate runs the feasibility comparison over pre-aggregated demand. The
// reservation engine calls this with demand it resolved inside its own
// transaction.
func (e *Engine) Evaluate(ctx context.Context, demands []inventory.Demand) (*Report, error) {
	return e.evaluate(ctx, demands)
}

func (e *Engine) evaluate(ctx context.Context, demands []inventory.Demand) (*Report, error) {
	report := &Report{Feasible: true}

	for _, demand := range demands {
		avail, err := e.forIngredient(ctx, &demand.Ingredient)
		if err != nil {
			return nil, err
		}

		detail := IngredientDetail{
			IngredientID: demand.Ingredient.ID,
			Name:         demand.Ingredient.Name,
			Unit:         demand.Ingredient.Unit,
			Required:     demand.Quantity,
			Available:    avail.Available,
			Sufficient:   avail.Available >= demand.Quantity,
			IsRequired:   demand.IsRequired,
		}
		if !detail.Sufficient {
			detail.Shortfall = demand.Quantity - avail.Available
		}
		report.Details = append(report.Details, detail)

		if detail.Sufficient {
			continue
		}
		report.Insufficient = append(report.Insufficient, detail)

		options, covered, err := e.substituteOptions(ctx, demand)
		if err != nil {
			return nil, err
		}
		report.Substitutions = append(report.Substitutions, options...)

		// Optional shortfalls and required shortfalls covered by a single
		// substitute do not sink the order.
		if demand.IsRequired && !covered {
			report.Feasible = false
		}
	}

	return report, nil
}

// substituteOptions evaluates each substitution candidate against the full
// required quantity, ranked sufficient-first and then by descending
// availability.
func (e *Engine) substituteOptions(ctx context.Context, demand inventory.Demand) ([]SubstituteOption, bool, error) {
	var options []SubstituteOption
	covered := false

	for _, sub := range demand.Substitutes {
		subAvail, err := e.forIngredient(ctx, &sub)
		if err != nil {
			return nil, false, err
		}

		required, ok := units.Convert(demand.Quantity, demand.Ingredient.Unit, sub.Unit)
		if !ok {
			applog.Warn(ctx, "substitute unit incompatible, comparing raw quantity",
				"ingredient", demand.Ingredient.Name,
				"substitute", sub.Name,
			)
		}

		option := SubstituteOption{
			ForIngredientID: demand.Ingredient.ID,
			IngredientID:    sub.ID,
			Name:            sub.Name,
			Required:        required,
			Available:       subAvail.Available,
			Sufficient:      subAvail.Available >= required,
		}
		options = append(options, option)
		covered = covered || option.Sufficient
	}

	sort.SliceStable(options, func(i, j int) bool {
		if options[i].Sufficient != options[j].Sufficient {
			return options[i].Sufficient
		}
		return options[i].Available > options[j].Available
	})

	return options, covered, nil
}
