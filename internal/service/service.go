package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-reconciler/internal/interfaces"
	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
	"github.com/akylbek/payment-system/payment-reconciler/internal/telemetry"
)

// Provider is the webhook provider name recorded on every event.
const Provider = "bakiyem"

// publishTimeout caps how long a state change may hold up the caller when
// the broker is slow or down.
const publishTimeout = 2 * time.Second

// core holds the writes shared by the reconciler, admin operations and the
// maintenance sweep.
type core struct {
	store     interfaces.Store
	publisher interfaces.EventPublisher
	now       func() time.Time
}

// transition applies one intent status change and publishes it.
func (c *core) transition(ctx context.Context, intentID string, to models.IntentStatus, gatewayStatus string) error {
	from, err := c.store.TransitionIntent(ctx, intentID, to, gatewayStatus)
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			telemetry.Logger.Warn("Intent transition rejected",
				zap.String("intent_id", intentID),
				zap.String("from_state", string(from)),
				zap.String("to_state", string(to)),
			)
		}
		return err
	}

	telemetry.Logger.Info("Intent state transition",
		zap.String("intent_id", intentID),
		zap.String("from_state", string(from)),
		zap.String("to_state", string(to)),
	)
	c.publish(ctx, intentID, from, to, gatewayStatus)
	return nil
}

func (c *core) publish(ctx context.Context, intentID string, from, to models.IntentStatus, gatewayStatus string) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := c.publisher.PublishStateChange(ctx, models.IntentStateChange{
		IntentID:      intentID,
		From:          from,
		To:            to,
		GatewayStatus: gatewayStatus,
		Timestamp:     c.now(),
	})
	if err != nil {
		telemetry.Logger.Error("Failed to publish state change",
			zap.String("intent_id", intentID),
			zap.String("to_state", string(to)),
			zap.Error(err),
		)
	}
}

// escalate upserts a manual review entry.
func (c *core) escalate(ctx context.Context, entry *models.ManualReviewEntry) error {
	inserted, err := c.store.Enqueue(ctx, entry)
	if err != nil {
		telemetry.Logger.Error("Failed to enqueue manual review",
			zap.String("intent_id", entry.IntentID),
			zap.String("reason", string(entry.Reason)),
			zap.Error(err),
		)
		return err
	}
	telemetry.ManualReviewEnqueued.WithLabelValues(string(entry.Reason)).Inc()
	telemetry.Logger.Warn("Manual review escalation",
		zap.String("intent_id", entry.IntentID),
		zap.String("reason", string(entry.Reason)),
		zap.String("dedupe_key", entry.DedupeKey),
		zap.Bool("new_entry", inserted),
	)
	return nil
}

func (c *core) audit(ctx context.Context, tx *models.Transaction) error {
	if err := c.store.RecordTransaction(ctx, tx); err != nil {
		telemetry.Logger.Error("Failed to record transaction",
			zap.String("intent_id", tx.IntentID),
			zap.String("operation", string(tx.Operation)),
			zap.Bool("success", tx.Success),
			zap.Error(err),
		)
		return err
	}
	return nil
}
