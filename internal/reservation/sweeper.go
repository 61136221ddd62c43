package reservation

import (
	"context"
	"fmt"
	"time"

	applog "larder/internal/log"
	"larder/models"
)

// SweepReason is recorded on every reservation the sweeper releases.
const SweepReason = "automatic cleanup: reservation expired"

// SweepActor identifies the sweeper in audit entries.
const SweepActor = "expiry-sweeper"

// SweepOutcome is the typed result of one cleanup attempt, so callers and
// tests can assert on cleanup instead of relying on swallowed errors.
type SweepOutcome struct {
	ReservationID uint   `json:"reservation_id"`
	OrderID       string `json:"order_id"`
	Released      bool   `json:"released"`
	Err           error  `json:"-"`
}

// SweepReport aggregates one sweep pass.
type SweepReport struct {
	Attempted int            `json:"attempted"`
	Released  int            `json:"released"`
	Failed    int            `json:"failed"`
	Outcomes  []SweepOutcome `json:"outcomes"`
}

// Sweeper periodically releases reservations past their expiry. It goes
// through the same Release path as a user cancellation, so no invariant is
// skipped.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
}

// NewSweeper builds a sweeper over the reservation engine.
func NewSweeper(engine *Engine, interval time.Duration) *Sweeper {
	return &Sweeper{engine: engine, interval: interval}
}

// Start runs the sweep loop until the context is cancelled. It returns after
// launching the loop goroutine; the returned channel closes once the loop
// exits.
func (s *Sweeper) Start(ctx context.Context) <-chan struct{} {
	logger := applog.Component("sweeper")
	logger.Info("sweeper starting", "interval", s.interval.String())

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("sweeper stopping")
				return
			case <-ticker.C:
				report := s.SweepOnce(ctx)
				if report.Attempted > 0 {
					logger.Info("sweep pass finished",
						"attempted", report.Attempted,
						"released", report.Released,
						"failed", report.Failed,
					)
				}
			}
		}
	}()
	return done
}

// SweepOnce releases every reservation whose expiry has passed. A failure on
// one reservation does not stop the sweep of the others.
func (s *Sweeper) SweepOnce(ctx context.Context) SweepReport {
	report := SweepReport{}

	expired, err := s.expiredReservations(ctx)
	if err != nil {
		applog.Error(ctx, "sweep query failed", "error", err)
		return report
	}

	for _, candidate := range expired {
		report.Attempted++
		outcome := SweepOutcome{ReservationID: candidate.ID, OrderID: candidate.OrderID}

		if _, err := s.engine.Release(ctx, candidate.ID, SweepActor, SweepReason); err != nil {
			outcome.Err = err
			report.Failed++
			applog.Error(ctx, "sweep release failed",
				"reservation_id", candidate.ID,
				"order_id", candidate.OrderID,
				"error", err,
			)
		} else {
			outcome.Released = true
			report.Released++
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	return report
}

func (s *Sweeper) expiredReservations(ctx context.Context) ([]models.Reservation, error) {
	var expired []models.Reservation
	err := s.engine.db.WithContext(ctx).
		Select("id", "order_id").
		Where("status IN ?", []models.ReservationStatus{models.ReservationActive, models.ReservationPartial}).
		Where("expires_at <= ?", s.engine.now()).
		Find(&expired).Error
	if err != nil {
		return nil, fmt.Errorf("find expired reservations: %w", err)
	}
	return expired, nil
}
