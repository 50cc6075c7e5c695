package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
)

// TryClaimEvent inserts the delivery as received. A unique violation on the
// dedupe key means the logical event was already claimed.
func (r *PostgresStore) TryClaimEvent(ctx context.Context, event *models.WebhookEvent) (models.ClaimResult, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	payload, err := encodeJSON(event.Payload)
	if err != nil {
		return models.ClaimResult{}, fmt.Errorf("encode webhook payload: %w", err)
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO payment_webhook_events
			(id, provider, intent_id, gateway_trx_code, other_trx_code, result_code,
			 payload_hash, event_dedupe_key, payload, processing_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, event.ID, event.Provider, nullString(event.IntentID), nullString(event.GatewayTrxCode),
		nullString(event.OtherTrxCode), nullString(event.ResultCode), event.PayloadHash,
		event.DedupeKey, payload, models.EventReceived).Scan(&event.CreatedAt)
	if err == nil {
		event.Status = models.EventReceived
		return models.ClaimResult{Outcome: models.EventClaimed, EventID: event.ID}, nil
	}
	if !isUniqueViolation(err) {
		return models.ClaimResult{}, err
	}

	var existing string
	if err := r.db.QueryRowContext(ctx, `
		SELECT id FROM payment_webhook_events WHERE event_dedupe_key = $1
	`, event.DedupeKey).Scan(&existing); err != nil {
		return models.ClaimResult{}, fmt.Errorf("load claimed event: %w", err)
	}
	return models.ClaimResult{Outcome: models.EventAlreadyClaimed, EventID: existing}, nil
}

func (r *PostgresStore) MarkDuplicate(ctx context.Context, dedupeKey string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payment_webhook_events
		SET processing_status = $1, processed_at = NOW()
		WHERE event_dedupe_key = $2 AND processing_status = ANY($3)
	`, models.EventIgnored, dedupeKey, pq.Array(eventSources(models.EventIgnored)))
	return err
}

func (r *PostgresStore) CompleteEvent(ctx context.Context, id string, status models.ProcessingStatus, errMsg string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payment_webhook_events
		SET processing_status = $1, error_message = $2, processed_at = NOW()
		WHERE id = $3 AND processing_status = ANY($4)
	`, status, nullString(errMsg), id, pq.Array(eventSources(status)))
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	var current models.ProcessingStatus
	err = r.db.QueryRowContext(ctx, `SELECT processing_status FROM payment_webhook_events WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, current, status)
}

func eventSources(to models.ProcessingStatus) []string {
	sources := models.EventSourcesFor(to)
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = string(s)
	}
	return out
}
