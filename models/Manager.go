package models

import (
	"gorm.io/gorm"
)

// Manager holds the override credentials for a staff member with elevated
// privilege. The PIN is stored as a bcrypt hash, never in the clear.
type Manager struct {
	gorm.Model
	ActorID  string `gorm:"uniqueIndex;not null" json:"actor_id"`
	Name     string `gorm:"not null" json:"name"`
	PINHash  string `gorm:"not null" json:"-"`
	Elevated bool   `gorm:"not null;default:false" json:"elevated"`
}
