package models

import "time"

const (
	OrderPaymentPaid     = "paid"
	OrderPaymentRefunded = "refunded"
	OrderPaymentVoided   = "voided"
)

type Order struct {
	ID              string
	PaymentIntentID string
	PaymentStatus   string
	TotalCents      int64
	CreatedAt       time.Time
}

// FinalizePayload is what the reconciler hands the finalize procedure.
type FinalizePayload struct {
	GatewayStatus string `json:"gatewayStatus"`
	TrxCode       string `json:"trxCode"`
	PayloadHash   string `json:"payloadHash"`
}

type FinalizeResult struct {
	Success bool
	OrderID string
}

// OrderConfirmation asks the mail service to send the confirmation email.
type OrderConfirmation struct {
	OrderID   string    `json:"order_id"`
	IntentID  string    `json:"intent_id"`
	Timestamp time.Time `json:"timestamp"`
}

type Profile struct {
	UserID       string
	IsAdmin      bool
	IsSuperAdmin bool
}

func (p Profile) CanOperatePayments() bool {
	return p.IsAdmin || p.IsSuperAdmin
}
