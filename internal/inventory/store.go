// Package inventory centralizes read and write access to the stock ledger
// and the recipe mapping tables. Other components go through this store (or
// the reservation engine) instead of issuing their own queries.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"larder/models"
)

// ErrIngredientNotFound is returned when a referenced ingredient does not
// exist in the stock ledger.
var ErrIngredientNotFound = errors.New("ingredient not found")

// Store wraps the database handle for stock ledger and recipe access.
type Store struct {
	db *gorm.DB
}

// NewStore builds a Store over the given database handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Ingredient loads one stock ledger entry by id.
func (s *Store) Ingredient(ctx context.Context, id uint) (*models.Ingredient, error) {
	var ingredient models.Ingredient
	err := s.db.WithContext(ctx).First(&ingredient, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrIngredientNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load ingredient %d: %w", id, err)
	}
	return &ingredient, nil
}

// IngredientByName loads one stock ledger entry by its unique name.
func (s *Store) IngredientByName(ctx context.Context, name string) (*models.Ingredient, error) {
	var ingredient models.Ingredient
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&ingredient).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrIngredientNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("load ingredient %q: %w", name, err)
	}
	return &ingredient, nil
}

// Ingredients lists the whole stock ledger ordered by name.
func (s *Store) Ingredients(ctx context.Context) ([]models.Ingredient, error) {
	var ingredients []models.Ingredient
	if err := s.db.WithContext(ctx).Order("name asc").Find(&ingredients).Error; err != nil {
		return nil, fmt.Errorf("list ingredients: %w", err)
	}
	return ingredients, nil
}

// LowStock lists ingredients at or below their minimum-stock threshold.
func (s *Store) LowStock(ctx context.Context) ([]models.Ingredient, error) {
	var ingredients []models.Ingredient
	err := s.db.WithContext(ctx).
		Where("quantity <= minimum_stock").
		Order("name asc").
		Find(&ingredients).Error
	if err != nil {
		return nil, fmt.Errorf("list low stock: %w", err)
	}
	return ingredients, nil
}

// SaveIngredient inserts or updates a stock ledger entry by name. Used by the
// receiving importer; order-time flows never call it.
func (s *Store) SaveIngredient(ctx context.Context, ingredient *models.Ingredient) error {
	var existing models.Ingredient
	err := s.db.WithContext(ctx).Where("name = ?", ingredient.Name).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.WithContext(ctx).Create(ingredient).Error; err != nil {
			return fmt.Errorf("create ingredient %q: %w", ingredient.Name, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("look up ingredient %q: %w", ingredient.Name, err)
	}

	ingredient.ID = existing.ID
	ingredient.CreatedAt = existing.CreatedAt
	if err := s.db.WithContext(ctx).Save(ingredient).Error; err != nil {
		return fmt.Errorf("update ingredient %q: %w", ingredient.Name, err)
	}
	return nil
}

// RequirementsForMenuItem returns the recipe rows for one menu item with
// their ingredients and substitutes preloaded. An empty slice means the item
// is untracked and bypasses inventory control.
func (s *Store) RequirementsForMenuItem(ctx context.Context, menuItemID uint) ([]models.RecipeRequirement, error) {
	var requirements []models.RecipeRequirement
	err := s.db.WithContext(ctx).
		Preload("Ingredient").
		Preload("Substitutes.Ingredient").
		Where("menu_item_id = ?", menuItemID).
		Order("id asc").
		Find(&requirements).Error
	if err != nil {
		return nil, fmt.Errorf("load requirements for menu item %d: %w", menuItemID, err)
	}
	return requirements, nil
}
