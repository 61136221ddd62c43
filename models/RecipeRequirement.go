package models

import (
	"gorm.io/gorm"
)

// RecipeRequirement maps one menu item to one ingredient it consumes. The
// (menu item, ingredient) pair is unique. Rows are written by the menu
// administration flow; the engine only reads them.
type RecipeRequirement struct {
	gorm.Model
	MenuItemID   uint    `gorm:"not null;uniqueIndex:idx_menu_item_ingredient" json:"menu_item_id"`
	IngredientID uint    `gorm:"not null;uniqueIndex:idx_menu_item_ingredient" json:"ingredient_id"`
	Quantity     float64 `gorm:"not null" json:"quantity"`
	Unit         string  `gorm:"not null" json:"unit"`
	IsRequired   bool    `gorm:"not null;default:true" json:"is_required"`
	Notes        string  `gorm:"type:text" json:"notes"`

	Substitutes []RecipeSubstitute `gorm:"foreignKey:RecipeRequirementID" json:"substitutes"`
	Ingredient  *Ingredient        `gorm:"foreignKey:IngredientID" json:"ingredient,omitempty"`
}

// RecipeSubstitute names an ingredient that may stand in for the required one
// when the required ingredient runs short.
type RecipeSubstitute struct {
	gorm.Model
	RecipeRequirementID uint        `gorm:"not null;index" json:"recipe_requirement_id"`
	IngredientID        uint        `gorm:"not null" json:"ingredient_id"`
	Ingredient          *Ingredient `gorm:"foreignKey:IngredientID" json:"ingredient,omitempty"`
}
