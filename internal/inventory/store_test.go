package inventory

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"larder/internal/db"
	"larder/models"
)

func newTestStore(t *testing.T, name string) (*Store, *gorm.DB) {
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
	return NewStore(database), database
}

func TestIngredientLookups(t *testing.T) {
	t.Parallel()

	store, database := newTestStore(t, "inventory-lookups")
	ctx := context.Background()

	flour := models.Ingredient{Name: "Flour", Unit: "g", Quantity: 1000, MinimumStock: 200}
	if err := database.Create(&flour).Error; err != nil {
		t.Fatalf("seed flour: %v", err)
	}

	got, err := store.Ingredient(ctx, flour.ID)
	if err != nil {
		t.Fatalf("load by id: %v", err)
	}
	if got.Name != "Flour" {
		t.Fatalf("expected Flour, got %q", got.Name)
	}

	got, err = store.IngredientByName(ctx, "Flour")
	if err != nil {
		t.Fatalf("load by name: %v", err)
	}
	if got.ID != flour.ID {
		t.Fatalf("expected id %d, got %d", flour.ID, got.ID)
	}

	if _, err := store.Ingredient(ctx, 9999); !errors.Is(err, ErrIngredientNotFound) {
		t.Fatalf("expected ErrIngredientNotFound, got %v", err)
	}
}

func TestSaveIngredientUpserts(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, "inventory-upsert")
	ctx := context.Background()

	butter := models.Ingredient{Name: "Butter", Unit: "g", Quantity: 500, UnitCost: decimal.RequireFromString("0.02")}
	if err := store.SaveIngredient(ctx, &butter); err != nil {
		t.Fatalf("insert butter: %v", err)
	}
	firstID := butter.ID

	restock := models.Ingredient{Name: "Butter", Unit: "g", Quantity: 900, UnitCost: decimal.RequireFromString("0.025")}
	if err := store.SaveIngredient(ctx, &restock); err != nil {
		t.Fatalf("update butter: %v", err)
	}
	if restock.ID != firstID {
		t.Fatalf("expected upsert to reuse id %d, got %d", firstID, restock.ID)
	}

	got, err := store.IngredientByName(ctx, "Butter")
	if err != nil {
		t.Fatalf("reload butter: %v", err)
	}
	if got.Quantity != 900 {
		t.Fatalf("expected quantity 900 after upsert, got %g", got.Quantity)
	}
}

func TestLowStockListing(t *testing.T) {
	t.Parallel()

	store, database := newTestStore(t, "inventory-lowstock")
	ctx := context.Background()

	rows := []models.Ingredient{
		{Name: "Salt", Unit: "g", Quantity: 50, MinimumStock: 100},
		{Name: "Sugar", Unit: "g", Quantity: 5000, MinimumStock: 100},
	}
	if err := database.Create(&rows).Error; err != nil {
		t.Fatalf("seed ingredients: %v", err)
	}

	low, err := store.LowStock(ctx)
	if err != nil {
		t.Fatalf("list low stock: %v", err)
	}
	if len(low) != 1 || low[0].Name != "Salt" {
		t.Fatalf("expected only Salt below minimum, got %v", low)
	}
}

func TestAggregateDemandSumsSharedIngredients(t *testing.T) {
	t.Parallel()

	store, database := newTestStore(t, "inventory-demand")
	ctx := context.Background()

	flour := models.Ingredient{Name: "Flour", Unit: "g", Quantity: 1000}
	milk := models.Ingredient{Name: "Milk", Unit: "ml", Quantity: 2000}
	oat := models.Ingredient{Name: "Oat Milk", Unit: "ml", Quantity: 1000}
	for _, ing := range []*models.Ingredient{&flour, &milk, &oat} {
		if err := database.Create(ing).Error; err != nil {
			t.Fatalf("seed ingredient: %v", err)
		}
	}

	// Pancakes use flour in kilograms; bread uses flour in grams. Both menu
	// items draw on the same stock row.
	requirements := []models.RecipeRequirement{
		{MenuItemID: 1, IngredientID: flour.ID, Quantity: 0.1, Unit: "kg", IsRequired: true},
		{MenuItemID: 1, IngredientID: milk.ID, Quantity: 200, Unit: "ml", IsRequired: false},
		{MenuItemID: 2, IngredientID: flour.ID, Quantity: 300, Unit: "g", IsRequired: true},
	}
	if err := database.Create(&requirements).Error; err != nil {
		t.Fatalf("seed requirements: %v", err)
	}
	sub := models.RecipeSubstitute{RecipeRequirementID: requirements[1].ID, IngredientID: oat.ID}
	if err := database.Create(&sub).Error; err != nil {
		t.Fatalf("seed substitute: %v", err)
	}

	demands, err := store.AggregateDemand(ctx, []OrderLine{
		{MenuItemID: 1, Quantity: 2},
		{MenuItemID: 2, Quantity: 1},
	})
	if err != nil {
		t.Fatalf("aggregate demand: %v", err)
	}
	if len(demands) != 2 {
		t.Fatalf("expected 2 demand rows, got %d", len(demands))
	}

	byName := map[string]Demand{}
	for _, d := range demands {
		byName[d.Ingredient.Name] = d
	}

	flourDemand := byName["Flour"]
	if math.Abs(flourDemand.Quantity-500) > 1e-9 {
		t.Fatalf("expected 500 g flour demand (2x0.1kg + 300g), got %g", flourDemand.Quantity)
	}
	if !flourDemand.IsRequired {
		t.Fatal("flour demand must be required")
	}

	milkDemand := byName["Milk"]
	if math.Abs(milkDemand.Quantity-400) > 1e-9 {
		t.Fatalf("expected 400 ml milk demand, got %g", milkDemand.Quantity)
	}
	if milkDemand.IsRequired {
		t.Fatal("milk demand must stay optional")
	}
	if len(milkDemand.Substitutes) != 1 || milkDemand.Substitutes[0].Name != "Oat Milk" {
		t.Fatalf("expected oat milk substitute, got %v", milkDemand.Substitutes)
	}
}

func TestAggregateDemandUntrackedItem(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, "inventory-untracked")

	demands, err := store.AggregateDemand(context.Background(), []OrderLine{{MenuItemID: 42, Quantity: 3}})
	if err != nil {
		t.Fatalf("aggregate demand: %v", err)
	}
	if len(demands) != 0 {
		t.Fatalf("expected no demand for untracked menu item, got %v", demands)
	}
}

func TestAggregateDemandRejectsNonPositiveQuantity(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, "inventory-badqty")

	if _, err := store.AggregateDemand(context.Background(), []OrderLine{{MenuItemID: 1, Quantity: 0}}); err == nil {
		t.Fatal("expected error for non-positive quantity")
	}
}
