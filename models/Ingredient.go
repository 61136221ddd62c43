package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Ingredient is a stock ledger entry: the single source of truth for the
// quantity physically on hand. The quantity is mutated only by reservation
// consumption and by receiving or manual adjustment flows, never by
// reservation creation or release.
type Ingredient struct {
	gorm.Model
	Name         string          `gorm:"uniqueIndex;not null" json:"name"`
	Unit         string          `gorm:"not null" json:"unit"`
	Quantity     float64         `gorm:"not null;default:0" json:"quantity"`
	MinimumStock float64         `gorm:"not null;default:0" json:"minimum_stock"`
	UnitCost     decimal.Decimal `gorm:"type:decimal(12,4);not null;default:0" json:"unit_cost"`
}

// BelowMinimum reports whether on-hand stock has fallen to or under the
// reorder threshold.
func (i *Ingredient) BelowMinimum() bool {
	return i.Quantity <= i.MinimumStock
}
