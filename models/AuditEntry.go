package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AuditReferenceType classifies the event an audit entry records.
type AuditReferenceType string

const (
	AuditReservation      AuditReferenceType = "reservation"
	AuditConsumption      AuditReferenceType = "consumption"
	AuditRelease          AuditReferenceType = "release"
	AuditManualAdjustment AuditReferenceType = "manual_adjustment"
	AuditReceiving        AuditReferenceType = "receiving"
	AuditWaste            AuditReferenceType = "waste"
	AuditTheftLoss        AuditReferenceType = "theft_loss"
	AuditSystemCorrection AuditReferenceType = "system_correction"
	AuditTransfer         AuditReferenceType = "transfer"
	AuditSample           AuditReferenceType = "sample"
)

// Compliance flag names attached to audit entries.
const (
	FlagHighValue       = "high_value"
	FlagLargeQuantity   = "large_quantity"
	FlagFoodSafety      = "food_safety_review"
	FlagAuditRequired   = "audit_required"
	FlagManagerOverride = "manager_override"
)

// AuditEntry is one immutable record in the stock ledger's compliance trail.
// Entries are never updated after creation, except that a compliance flag may
// be marked resolved.
type AuditEntry struct {
	gorm.Model
	ReferenceID    string             `gorm:"not null;index" json:"reference_id"`
	ReferenceType  AuditReferenceType `gorm:"not null;index" json:"reference_type"`
	QuantityImpact float64            `gorm:"not null;default:0" json:"quantity_impact"`
	ValueImpact    decimal.Decimal    `gorm:"type:decimal(14,4);not null;default:0" json:"value_impact"`
	PerformedBy    string             `gorm:"not null" json:"performed_by"`
	AuthorizedBy   *string            `json:"authorized_by,omitempty"`
	Notes          string             `gorm:"type:text" json:"notes"`

	Lines []AuditEntryLine `gorm:"foreignKey:AuditEntryID" json:"lines"`
	Flags []AuditFlag      `gorm:"foreignKey:AuditEntryID" json:"flags"`
}

// AuditEntryLine captures the stock context of one ingredient at the moment
// the event was recorded.
type AuditEntryLine struct {
	gorm.Model
	AuditEntryID   uint            `gorm:"not null;index" json:"audit_entry_id"`
	IngredientID   uint            `gorm:"not null;index" json:"ingredient_id"`
	QuantityBefore float64         `gorm:"not null" json:"quantity_before"`
	QuantityAfter  float64         `gorm:"not null" json:"quantity_after"`
	Delta          float64         `gorm:"not null" json:"delta"`
	Unit           string          `gorm:"not null" json:"unit"`
	Reason         string          `json:"reason"`
	CostImpact     decimal.Decimal `gorm:"type:decimal(14,4);not null;default:0" json:"cost_impact"`
}

// AuditFlag marks an entry for compliance review. Resolution is the only
// mutation an audit record ever receives.
type AuditFlag struct {
	gorm.Model
	AuditEntryID uint       `gorm:"not null;index" json:"audit_entry_id"`
	Flag         string     `gorm:"not null" json:"flag"`
	Resolved     bool       `gorm:"not null;default:false" json:"resolved"`
	ResolvedBy   *string    `json:"resolved_by,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}
