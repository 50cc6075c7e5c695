package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-reconciler/internal/interfaces"
	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
	"github.com/akylbek/payment-system/payment-reconciler/internal/telemetry"
)

const (
	sweepLockKey         = "maintenance:sweep"
	gatewayStatusExpired = "expired"
)

// SweepReport counts what one maintenance pass found.
type SweepReport struct {
	ExpiredIntents int  `json:"expiredIntents"`
	StuckVoids     int  `json:"stuckVoids"`
	StuckRefunds   int  `json:"stuckRefunds"`
	NewEscalations int  `json:"newEscalations"`
	Skipped        bool `json:"skipped"`
}

// SweepWindows sets how long an intent may sit in a status before the sweep
// acts on it.
type SweepWindows struct {
	AbandonedAfter   time.Duration
	StuckVoidAfter   time.Duration
	StuckRefundAfter time.Duration
}

// Maintenance expires abandoned checkouts and escalates refunds and voids left
// pending too long. It never calls the gateway.
type Maintenance struct {
	core
	locker  interfaces.Locker
	windows SweepWindows
}

func NewMaintenance(store interfaces.Store, publisher interfaces.EventPublisher, locker interfaces.Locker, windows SweepWindows) *Maintenance {
	return &Maintenance{
		core:    core{store: store, publisher: publisher, now: time.Now},
		locker:  locker,
		windows: windows,
	}
}

// Sweep runs one pass. Concurrent passes on other instances are skipped.
func (m *Maintenance) Sweep(ctx context.Context) (SweepReport, error) {
	release, ok, err := m.locker.Acquire(ctx, sweepLockKey, 5*time.Minute)
	if err != nil {
		return SweepReport{}, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !ok {
		return SweepReport{Skipped: true}, nil
	}
	defer release()

	var report SweepReport
	now := m.now()

	if m.windows.AbandonedAfter > 0 {
		expired, err := m.expireAbandoned(ctx, now.Add(-m.windows.AbandonedAfter))
		if err != nil {
			return report, err
		}
		report.ExpiredIntents = expired
	}

	voids, err := m.escalateStuck(ctx, models.OpVoid, models.IntentVoidPending, models.ReasonStuckVoidPending, now.Add(-m.windows.StuckVoidAfter), &report)
	if err != nil {
		return report, err
	}
	report.StuckVoids = voids

	refunds, err := m.escalateStuck(ctx, models.OpRefund, models.IntentRefundPending, models.ReasonStuckRefundPending, now.Add(-m.windows.StuckRefundAfter), &report)
	if err != nil {
		return report, err
	}
	report.StuckRefunds = refunds

	telemetry.Logger.Info("Payment maintenance sweep finished",
		zap.Int("expired_intents", report.ExpiredIntents),
		zap.Int("stuck_voids", report.StuckVoids),
		zap.Int("stuck_refunds", report.StuckRefunds),
		zap.Int("new_escalations", report.NewEscalations),
	)
	return report, nil
}

// expireAbandoned fails checkouts that never got a callback and frees their
// stock. An intent that moved on since it was listed is left alone.
func (m *Maintenance) expireAbandoned(ctx context.Context, cutoff time.Time) (int, error) {
	expired := 0
	for _, status := range []models.IntentStatus{models.IntentPending, models.IntentAwaiting3D} {
		intents, err := m.store.ListIntentsByStatus(ctx, status, cutoff)
		if err != nil {
			return expired, fmt.Errorf("list %s intents: %w", status, err)
		}
		for _, intent := range intents {
			if err := m.transition(ctx, intent.ID, models.IntentFailed, gatewayStatusExpired); err != nil {
				if errors.Is(err, models.ErrInvalidTransition) {
					continue
				}
				return expired, fmt.Errorf("expire %s: %w", intent.ID, err)
			}
			if err := m.store.ReleaseReservations(ctx, intent.ID); err != nil {
				telemetry.Logger.Error("Failed to release reservations for expired intent",
					zap.String("intent_id", intent.ID),
					zap.Error(err),
				)
			}
			expired++
		}
	}
	return expired, nil
}

func (m *Maintenance) escalateStuck(ctx context.Context, op models.Operation, status models.IntentStatus, reason models.ReviewReason, cutoff time.Time, report *SweepReport) (int, error) {
	intents, err := m.store.ListIntentsByStatus(ctx, status, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list %s intents: %w", status, err)
	}

	for _, intent := range intents {
		inserted, err := m.store.Enqueue(ctx, &models.ManualReviewEntry{
			IntentID: intent.ID,
			Reason:   reason,
			Details: map[string]any{
				"source":         "maintenance_sweep",
				"status":         string(intent.Status),
				"gateway_status": intent.GatewayStatus,
				"pending_since":  intent.UpdatedAt.UTC().Format(time.RFC3339),
			},
			DedupeKey: PendingDedupeKey(op, intent.ID),
		})
		if err != nil {
			return len(intents), fmt.Errorf("escalate %s: %w", intent.ID, err)
		}
		telemetry.ManualReviewEnqueued.WithLabelValues(string(reason)).Inc()
		if inserted {
			report.NewEscalations++
		}
	}
	return len(intents), nil
}

// Run sweeps every interval until ctx is done.
func (m *Maintenance) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				telemetry.Logger.Error("Payment maintenance sweep failed", zap.Error(err))
			}
		}
	}
}
