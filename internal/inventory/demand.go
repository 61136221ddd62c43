package inventory

import (
	"context"
	"fmt"
	"sort"

	applog "larder/internal/log"
	"larder/internal/units"
	"larder/models"
)

// OrderLine is one line of a point-of-sale order as handed to the engine.
type OrderLine struct {
	MenuItemID uint `json:"menu_item_id"`
	Quantity   int  `json:"quantity"`
}

// Demand is the aggregate requirement for one ingredient across every line
// of an order, expressed in the ingredient's stock unit.
type Demand struct {
	Ingredient  models.Ingredient
	Quantity    float64
	IsRequired  bool
	Substitutes []models.Ingredient
	// Converted is false when a recipe unit could not be converted into the
	// stock unit (incompatible families); the raw recipe quantity was used.
	Converted bool
}

// AggregateDemand resolves the recipe requirements for every order line and
// sums them per ingredient, so an ingredient shared by several menu items is
// checked once against its combined demand. Menu items without recipe rows
// contribute nothing.
func (s *Store) AggregateDemand(ctx context.Context, lines []OrderLine) ([]Demand, error) {
	byIngredient := make(map[uint]*Demand)

	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("menu item %d: quantity must be positive", line.MenuItemID)
		}

		requirements, err := s.RequirementsForMenuItem(ctx, line.MenuItemID)
		if err != nil {
			return nil, err
		}

		for _, req := range requirements {
			if req.Ingredient == nil {
				return nil, fmt.Errorf("requirement %d references missing ingredient %d", req.ID, req.IngredientID)
			}

			needed := req.Quantity * float64(line.Quantity)
			converted, ok := units.Convert(needed, req.Unit, req.Ingredient.Unit)
			if !ok {
				applog.Warn(ctx, "recipe unit incompatible with stock unit",
					"ingredient", req.Ingredient.Name,
					"recipe_unit", req.Unit,
					"stock_unit", req.Ingredient.Unit,
				)
			}

			d, exists := byIngredient[req.IngredientID]
			if !exists {
				d = &Demand{
					Ingredient: *req.Ingredient,
					Converted:  true,
				}
				byIngredient[req.IngredientID] = d
			}
			d.Quantity += converted
			d.IsRequired = d.IsRequired || req.IsRequired
			d.Converted = d.Converted && ok
			d.Substitutes = mergeSubstitutes(d.Substitutes, req.Substitutes)
		}
	}

	demands := make([]Demand, 0, len(byIngredient))
	for _, d := range byIngredient {
		demands = append(demands, *d)
	}
	sort.Slice(demands, func(i, j int) bool {
		return demands[i].Ingredient.ID < demands[j].Ingredient.ID
	})
	return demands, nil
}

func mergeSubstitutes(existing []models.Ingredient, candidates []models.RecipeSubstitute) []models.Ingredient {
	seen := make(map[uint]bool, len(existing))
	for _, sub := range existing {
		seen[sub.ID] = true
	}
	for _, candidate := range candidates {
		if candidate.Ingredient == nil || seen[candidate.Ingredient.ID] {
			continue
		}
		seen[candidate.Ingredient.ID] = true
		existing = append(existing, *candidate.Ingredient)
	}
	return existing
}
