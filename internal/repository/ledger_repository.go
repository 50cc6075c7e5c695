package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
)

// RecordTransaction appends an audit row. Rows are never updated.
func (r *PostgresStore) RecordTransaction(ctx context.Context, tx *models.Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	request, err := encodeJSON(tx.RequestPayload)
	if err != nil {
		return fmt.Errorf("encode request payload: %w", err)
	}
	response, err := encodeJSON(tx.ResponsePayload)
	if err != nil {
		return fmt.Errorf("encode response payload: %w", err)
	}

	return r.db.QueryRowContext(ctx, `
		INSERT INTO payment_transactions
			(id, intent_id, order_id, operation, request_payload, response_payload, success, error_code, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, tx.ID, tx.IntentID, nullString(tx.OrderID), tx.Operation, request, response, tx.Success,
		nullString(tx.ErrorCode), nullString(tx.ErrorMessage)).Scan(&tx.CreatedAt)
}

func (r *PostgresStore) Enqueue(ctx context.Context, entry *models.ManualReviewEntry) (bool, error) {
	if !entry.Reason.Valid() {
		return false, fmt.Errorf("unknown review reason %q", entry.Reason)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	details, err := encodeJSON(entry.Details)
	if err != nil {
		return false, fmt.Errorf("encode review details: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_manual_review_queue (id, intent_id, order_id, reason, details, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (dedupe_key) DO NOTHING
	`, entry.ID, entry.IntentID, nullString(entry.OrderID), entry.Reason, details, entry.DedupeKey)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}
