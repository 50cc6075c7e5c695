package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
)

func (r *PostgresStore) GetIntent(ctx context.Context, id string) (*models.PaymentIntent, error) {
	var (
		intent        models.PaymentIntent
		trxCode       sql.NullString
		gatewayStatus sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, gateway_trx_code, paid_total_cents, currency, status, gateway_status, created_at, updated_at
		FROM payment_intents WHERE id = $1
	`, id).Scan(&intent.ID, &trxCode, &intent.PaidTotalCents, &intent.Currency, &intent.Status,
		&gatewayStatus, &intent.CreatedAt, &intent.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	intent.GatewayTrxCode = trxCode.String
	intent.GatewayStatus = gatewayStatus.String
	return &intent, nil
}

func (r *PostgresStore) FindIntentIDByTrxCode(ctx context.Context, trxCode string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT id FROM payment_intents
		WHERE gateway_trx_code = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, trxCode).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", models.ErrNotFound
	}
	return id, err
}

func (r *PostgresStore) FindIntentIDByShortCode(ctx context.Context, shortCode string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT id FROM payment_intents
		WHERE lower(left(replace(id, '-', ''), 20)) = lower($1)
		ORDER BY created_at DESC
		LIMIT 1
	`, shortCode).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", models.ErrNotFound
	}
	return id, err
}

// TransitionIntent locks the row and updates it only from a status the
// transition table allows.
func (r *PostgresStore) TransitionIntent(ctx context.Context, id string, to models.IntentStatus, gatewayStatus string) (models.IntentStatus, error) {
	sources := models.IntentSourcesFor(to)
	allowed := make([]string, len(sources))
	for i, s := range sources {
		allowed[i] = string(s)
	}

	var from models.IntentStatus
	err := r.db.QueryRowContext(ctx, `
		WITH prev AS (
			SELECT id, status FROM payment_intents WHERE id = $1 FOR UPDATE
		)
		UPDATE payment_intents p
		SET status = $2,
			gateway_status = COALESCE(NULLIF($3, ''), p.gateway_status),
			updated_at = NOW()
		FROM prev
		WHERE p.id = prev.id AND prev.status = ANY($4)
		RETURNING prev.status
	`, id, to, gatewayStatus, pq.Array(allowed)).Scan(&from)
	if err == nil {
		return from, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	// No row updated: either the intent is missing or its status forbids the move.
	var current models.IntentStatus
	err = r.db.QueryRowContext(ctx, `SELECT status FROM payment_intents WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return "", models.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return current, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, current, to)
}

func (r *PostgresStore) UpdateGatewayStatus(ctx context.Context, id, gatewayStatus string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payment_intents SET gateway_status = $1, updated_at = NOW() WHERE id = $2
	`, gatewayStatus, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *PostgresStore) ListIntentsByStatus(ctx context.Context, status models.IntentStatus, updatedBefore time.Time) ([]models.PaymentIntent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, gateway_trx_code, paid_total_cents, currency, status, gateway_status, created_at, updated_at
		FROM payment_intents
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
	`, status, updatedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PaymentIntent
	for rows.Next() {
		var (
			intent        models.PaymentIntent
			trxCode       sql.NullString
			gatewayStatus sql.NullString
		)
		if err := rows.Scan(&intent.ID, &trxCode, &intent.PaidTotalCents, &intent.Currency, &intent.Status,
			&gatewayStatus, &intent.CreatedAt, &intent.UpdatedAt); err != nil {
			return nil, err
		}
		intent.GatewayTrxCode = trxCode.String
		intent.GatewayStatus = gatewayStatus.String
		out = append(out, intent)
	}
	return out, rows.Err()
}
