package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
)

func (r *PostgresStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var (
		order    models.Order
		intentID sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, payment_intent_id, payment_status, total_cents, created_at
		FROM orders WHERE id = $1
	`, id).Scan(&order.ID, &intentID, &order.PaymentStatus, &order.TotalCents, &order.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	order.PaymentIntentID = intentID.String
	return &order, nil
}

func (r *PostgresStore) UpdatePaymentStatus(ctx context.Context, id, status string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE orders SET payment_status = $1 WHERE id = $2`, status, id)
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

// Finalize calls finalize_intent_create_order. The candidate order id is only
// used when no order exists for the intent yet.
func (r *PostgresStore) Finalize(ctx context.Context, intentID string, payload models.FinalizePayload) (models.FinalizeResult, error) {
	gatewayResult, err := json.Marshal(payload)
	if err != nil {
		return models.FinalizeResult{}, fmt.Errorf("encode finalize payload: %w", err)
	}

	var (
		success bool
		orderID sql.NullString
	)
	err = r.db.QueryRowContext(ctx, `
		SELECT out_success, out_order_id FROM finalize_intent_create_order($1, $2, $3)
	`, intentID, uuid.NewString(), gatewayResult).Scan(&success, &orderID)
	if err != nil {
		return models.FinalizeResult{}, err
	}
	return models.FinalizeResult{Success: success, OrderID: orderID.String}, nil
}

func (r *PostgresStore) ReleaseReservations(ctx context.Context, intentID string) error {
	_, err := r.db.ExecContext(ctx, `SELECT release_intent_reservations($1)`, intentID)
	return err
}

func (r *PostgresStore) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	profile := models.Profile{UserID: userID}
	err := r.db.QueryRowContext(ctx, `
		SELECT is_admin, is_superadmin FROM profiles WHERE user_id = $1
	`, userID).Scan(&profile.IsAdmin, &profile.IsSuperAdmin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}
