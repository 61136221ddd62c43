// Package override enforces the manager override policy: a reason of
// meaningful length plus an approving identity with elevated privilege,
// verified against a bcrypt PIN hash.
package override

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"larder/models"
)

// MinReasonLength is the shortest acceptable override reason.
const MinReasonLength = 10

var (
	ErrReasonTooShort  = errors.New("override reason too short")
	ErrManagerNotFound = errors.New("approving manager not found")
	ErrNotElevated     = errors.New("approving manager lacks elevated privilege")
	ErrBadPIN          = errors.New("manager PIN rejected")
)

// Request captures an override attempt as received from the caller.
type Request struct {
	Reason     string `json:"reason"`
	ApprovedBy string `json:"approved_by"`
	PIN        string `json:"pin"`
}

// Verifier checks override requests against the managers table.
type Verifier struct {
	db *gorm.DB
}

// NewVerifier builds a Verifier over the given database handle.
func NewVerifier(db *gorm.DB) *Verifier {
	return &Verifier{db: db}
}

// Verify validates the reason, resolves the approving manager, and checks
// privilege and PIN. It returns the manager on success.
func (v *Verifier) Verify(ctx context.Context, req Request) (*models.Manager, error) {
	if len(strings.TrimSpace(req.Reason)) < MinReasonLength {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrReasonTooShort, MinReasonLength)
	}

	var manager models.Manager
	err := v.db.WithContext(ctx).Where("actor_id = ?", req.ApprovedBy).First(&manager).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrManagerNotFound, req.ApprovedBy)
	}
	if err != nil {
		return nil, fmt.Errorf("load manager %q: %w", req.ApprovedBy, err)
	}

	if !manager.Elevated {
		return nil, fmt.Errorf("%w: %q", ErrNotElevated, req.ApprovedBy)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(manager.PINHash), []byte(req.PIN)); err != nil {
		return nil, ErrBadPIN
	}

	return &manager, nil
}

// HashPIN hashes a manager PIN for storage.
func HashPIN(pin string) (string, error) {
	if strings.TrimSpace(pin) == "" {
		return "", fmt.Errorf("pin must not be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash pin: %w", err)
	}
	return string(hashed), nil
}
