package interfaces

import (
	"context"
	"time"

	"github.com/akylbek/payment-system/payment-reconciler/internal/gateway"
	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
)

// Gateway is the payment gateway surface used by the service layer.
type Gateway interface {
	Inquire(ctx context.Context, req gateway.InquiryRequest) (gateway.InquiryResult, error)
	Capture(ctx context.Context, trxCode string, amountCents int64) (gateway.Result, error)
	Refund(ctx context.Context, trxCode string, amountCents int64, clientIP string) (gateway.Result, error)
	Void(ctx context.Context, trxCode, clientIP string) (gateway.Result, error)
	TokenizeCard(ctx context.Context, customerCode string, card gateway.CardDetails) (gateway.TokenizeResult, error)
}

type EventPublisher interface {
	PublishStateChange(ctx context.Context, change models.IntentStateChange) error
}

type Notifier interface {
	NotifyOrderConfirmed(ctx context.Context, msg models.OrderConfirmation) error
}

// Locker hands out short-lived exclusive locks. ok is false when another
// holder owns key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}
