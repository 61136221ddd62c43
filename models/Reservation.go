package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ReservationStatus is the lifecycle state of a whole reservation.
type ReservationStatus string

const (
	ReservationActive   ReservationStatus = "active"
	ReservationPartial  ReservationStatus = "partial"
	ReservationConsumed ReservationStatus = "consumed"
	ReservationReleased ReservationStatus = "released"
	ReservationExpired  ReservationStatus = "expired"
)

// LineStatus is the lifecycle state of a single reserved ingredient line.
type LineStatus string

const (
	LineReserved LineStatus = "reserved"
	LineConsumed LineStatus = "consumed"
	LineReleased LineStatus = "released"
	LineExpired  LineStatus = "expired"
)

// Reservation is a time-boxed hold on ingredient quantities for exactly one
// order. Creating it never moves on-hand stock; only consumption does.
type Reservation struct {
	gorm.Model
	OrderID       string            `gorm:"uniqueIndex;not null" json:"order_id"`
	Status        ReservationStatus `gorm:"not null;default:'active';index" json:"status"`
	ReservedValue decimal.Decimal   `gorm:"type:decimal(14,4);not null;default:0" json:"reserved_value"`
	ExpiresAt     time.Time         `gorm:"not null;index" json:"expires_at"`
	// OriginalExpiresAt is set once, on the first extension, so audits can
	// recover the expiry the reservation was created with.
	OriginalExpiresAt *time.Time `json:"original_expires_at,omitempty"`
	CreatedBy         string     `gorm:"not null" json:"created_by"`
	UpdatedBy         string     `json:"updated_by"`
	Version           int64      `gorm:"not null;default:1" json:"version"`

	OverrideReason     *string    `json:"override_reason,omitempty"`
	OverrideApprovedBy *string    `json:"override_approved_by,omitempty"`
	OverrideAt         *time.Time `json:"override_at,omitempty"`
	ReleaseReason      *string    `json:"release_reason,omitempty"`

	Lines []ReservationLine `gorm:"foreignKey:ReservationID" json:"lines"`
}

// ReservationLine is one ingredient hold within a reservation. Quantity is
// expressed in the ingredient's stock unit.
type ReservationLine struct {
	gorm.Model
	ReservationID uint            `gorm:"not null;index" json:"reservation_id"`
	IngredientID  uint            `gorm:"not null;index" json:"ingredient_id"`
	Quantity      float64         `gorm:"not null" json:"quantity"`
	Unit          string          `gorm:"not null" json:"unit"`
	Status        LineStatus      `gorm:"not null;default:'reserved'" json:"status"`
	BatchHint     string          `json:"batch_hint,omitempty"`
	UnitCost      decimal.Decimal `gorm:"type:decimal(12,4);not null;default:0" json:"unit_cost"`
	LineCost      decimal.Decimal `gorm:"type:decimal(14,4);not null;default:0" json:"line_cost"`

	Ingredient *Ingredient `gorm:"foreignKey:IngredientID" json:"ingredient,omitempty"`
}

var reservationTransitions = map[ReservationStatus][]ReservationStatus{
	ReservationActive:   {ReservationPartial, ReservationConsumed, ReservationReleased, ReservationExpired},
	ReservationPartial:  {ReservationConsumed, ReservationReleased, ReservationExpired},
	ReservationConsumed: {},
	ReservationReleased: {},
	ReservationExpired:  {},
}

// CanTransitionTo reports whether the status change is a legal one-way step.
func (r *Reservation) CanTransitionTo(next ReservationStatus) bool {
	for _, s := range reservationTransitions[r.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the reservation has reached a final state.
func (r *Reservation) Terminal() bool {
	return len(reservationTransitions[r.Status]) == 0
}

// Holding reports whether the reservation still holds stock against
// availability (active or partial and not yet past its expiry).
func (r *Reservation) Holding(now time.Time) bool {
	if r.Status != ReservationActive && r.Status != ReservationPartial {
		return false
	}
	return !r.LogicallyExpired(now)
}

// LogicallyExpired reports whether the reservation is past its expiry even if
// the sweeper has not yet updated it. Readers must treat such a reservation
// as released.
func (r *Reservation) LogicallyExpired(now time.Time) bool {
	if r.Status != ReservationActive && r.Status != ReservationPartial {
		return false
	}
	return !r.ExpiresAt.After(now)
}

// RemainingTTL returns how long the reservation keeps its hold, zero if it is
// terminal or already past expiry.
func (r *Reservation) RemainingTTL(now time.Time) time.Duration {
	if !r.Holding(now) {
		return 0
	}
	return r.ExpiresAt.Sub(now)
}
