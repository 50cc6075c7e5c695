package repository

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// PostgresStore implements every repository interface on one *sql.DB.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (r *PostgresStore) InitDB() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS payment_intents (
			id VARCHAR(64) PRIMARY KEY,
			gateway_trx_code VARCHAR(128),
			paid_total_cents BIGINT NOT NULL CHECK (paid_total_cents >= 0),
			currency VARCHAR(8) NOT NULL DEFAULT 'TRY',
			status VARCHAR(32) NOT NULL DEFAULT 'pending',
			gateway_status TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_intents_trx_code ON payment_intents(gateway_trx_code)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_intents_status ON payment_intents(status, updated_at)`,
		`CREATE TABLE IF NOT EXISTS payment_webhook_events (
			id UUID PRIMARY KEY,
			provider VARCHAR(32) NOT NULL,
			intent_id VARCHAR(64),
			gateway_trx_code VARCHAR(128),
			other_trx_code VARCHAR(128),
			result_code VARCHAR(128),
			payload_hash CHAR(64) NOT NULL,
			event_dedupe_key CHAR(64) NOT NULL UNIQUE,
			payload JSONB NOT NULL DEFAULT '{}'::jsonb,
			processing_status VARCHAR(16) NOT NULL DEFAULT 'received',
			error_message TEXT,
			processed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_webhook_events_intent ON payment_webhook_events(intent_id)`,
		`CREATE TABLE IF NOT EXISTS payment_transactions (
			id UUID PRIMARY KEY,
			intent_id VARCHAR(64) NOT NULL,
			order_id VARCHAR(64),
			operation VARCHAR(16) NOT NULL,
			request_payload JSONB NOT NULL DEFAULT '{}'::jsonb,
			response_payload JSONB NOT NULL DEFAULT '{}'::jsonb,
			success BOOLEAN NOT NULL,
			error_code VARCHAR(128),
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_transactions_intent ON payment_transactions(intent_id)`,
		`CREATE TABLE IF NOT EXISTS payment_manual_review_queue (
			id UUID PRIMARY KEY,
			intent_id VARCHAR(64) NOT NULL,
			order_id VARCHAR(64),
			reason VARCHAR(32) NOT NULL,
			details JSONB NOT NULL DEFAULT '{}'::jsonb,
			dedupe_key VARCHAR(255) NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR(64) PRIMARY KEY,
			payment_intent_id VARCHAR(64) UNIQUE REFERENCES payment_intents(id),
			payment_status VARCHAR(32) NOT NULL,
			total_cents BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			user_id VARCHAR(64) PRIMARY KEY,
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			is_superadmin BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS stock_reservations (
			id UUID PRIMARY KEY,
			intent_id VARCHAR(64) NOT NULL,
			product_id VARCHAR(64) NOT NULL,
			quantity INTEGER NOT NULL CHECK (quantity > 0),
			status VARCHAR(16) NOT NULL DEFAULT 'held',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stock_reservations_intent ON stock_reservations(intent_id, status)`,
		finalizeFunction,
		releaseFunction,
	}

	for _, query := range queries {
		if _, err := r.db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// finalizeFunction creates the order, marks the intent paid and commits held
// reservations in one transaction. A second call for an intent that already
// has an order returns that order.
const finalizeFunction = `
CREATE OR REPLACE FUNCTION finalize_intent_create_order(p_intent_id TEXT, p_order_id TEXT, p_gateway_result JSONB)
RETURNS TABLE(out_success BOOLEAN, out_order_id TEXT) AS $$
DECLARE
	v_status TEXT;
	v_total BIGINT;
	v_existing TEXT;
BEGIN
	SELECT status, paid_total_cents INTO v_status, v_total
	FROM payment_intents WHERE id = p_intent_id FOR UPDATE;
	IF NOT FOUND THEN
		RETURN QUERY SELECT FALSE, NULL::TEXT;
		RETURN;
	END IF;

	SELECT o.id INTO v_existing FROM orders o WHERE o.payment_intent_id = p_intent_id;
	IF v_existing IS NOT NULL THEN
		RETURN QUERY SELECT TRUE, v_existing;
		RETURN;
	END IF;

	IF v_status NOT IN ('pending', 'awaiting_3d') THEN
		RETURN QUERY SELECT FALSE, NULL::TEXT;
		RETURN;
	END IF;

	INSERT INTO orders (id, payment_intent_id, payment_status, total_cents)
	VALUES (p_order_id, p_intent_id, 'paid', v_total);

	UPDATE payment_intents
	SET status = 'paid',
		gateway_status = COALESCE(NULLIF(p_gateway_result->>'gatewayStatus', ''), gateway_status),
		gateway_trx_code = COALESCE(NULLIF(p_gateway_result->>'trxCode', ''), gateway_trx_code),
		updated_at = NOW()
	WHERE id = p_intent_id;

	UPDATE stock_reservations SET status = 'committed', updated_at = NOW()
	WHERE intent_id = p_intent_id AND status = 'held';

	RETURN QUERY SELECT TRUE, p_order_id;
END;
$$ LANGUAGE plpgsql`

const releaseFunction = `
CREATE OR REPLACE FUNCTION release_intent_reservations(p_intent_id TEXT)
RETURNS INTEGER AS $$
DECLARE
	v_count INTEGER;
BEGIN
	UPDATE stock_reservations SET status = 'released', updated_at = NOW()
	WHERE intent_id = p_intent_id AND status = 'held';
	GET DIAGNOSTICS v_count = ROW_COUNT;
	RETURN v_count;
END;
$$ LANGUAGE plpgsql`

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func encodeJSON(v map[string]any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
