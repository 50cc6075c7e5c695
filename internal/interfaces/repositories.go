package interfaces

import (
	"context"
	"time"

	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
)

// IntentRepository defines the contract for payment intent data access.
type IntentRepository interface {
	GetIntent(ctx context.Context, id string) (*models.PaymentIntent, error)
	FindIntentIDByTrxCode(ctx context.Context, trxCode string) (string, error)
	// FindIntentIDByShortCode matches the gateway's OtherTrxCode form of an
	// intent id: dashes removed, first 20 characters, case-insensitive.
	FindIntentIDByShortCode(ctx context.Context, shortCode string) (string, error)
	// TransitionIntent applies to only when the transition table allows it and
	// returns the status it moved from.
	TransitionIntent(ctx context.Context, id string, to models.IntentStatus, gatewayStatus string) (models.IntentStatus, error)
	UpdateGatewayStatus(ctx context.Context, id, gatewayStatus string) error
	ListIntentsByStatus(ctx context.Context, status models.IntentStatus, updatedBefore time.Time) ([]models.PaymentIntent, error)
}

// WebhookEventRepository is the insert-once ledger of gateway deliveries.
type WebhookEventRepository interface {
	TryClaimEvent(ctx context.Context, event *models.WebhookEvent) (models.ClaimResult, error)
	// MarkDuplicate flags the row owning dedupeKey as ignored unless it was
	// already processed.
	MarkDuplicate(ctx context.Context, dedupeKey string) error
	CompleteEvent(ctx context.Context, id string, status models.ProcessingStatus, errMsg string) error
}

type TransactionRepository interface {
	RecordTransaction(ctx context.Context, tx *models.Transaction) error
}

type ManualReviewRepository interface {
	// Enqueue inserts the entry unless its dedupe key exists. inserted reports
	// whether a new row was written.
	Enqueue(ctx context.Context, entry *models.ManualReviewEntry) (inserted bool, err error)
}

type OrderRepository interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	UpdatePaymentStatus(ctx context.Context, id, status string) error
}

// Finalizer is the atomic, idempotent order materialization boundary.
type Finalizer interface {
	Finalize(ctx context.Context, intentID string, payload models.FinalizePayload) (models.FinalizeResult, error)
}

type ReservationReleaser interface {
	ReleaseReservations(ctx context.Context, intentID string) error
}

type ProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
}

// Store groups every repository the service layer needs.
type Store interface {
	IntentRepository
	WebhookEventRepository
	TransactionRepository
	ManualReviewRepository
	OrderRepository
	Finalizer
	ReservationReleaser
	ProfileRepository
}
