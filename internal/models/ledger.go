package models

import "time"

type Operation string

const (
	OpFinalize Operation = "finalize"
	OpCapture  Operation = "capture"
	OpRefund   Operation = "refund"
	OpVoid     Operation = "void"
)

// Transaction is an append-only audit row for one gateway operation attempt.
type Transaction struct {
	ID              string
	IntentID        string
	OrderID         string
	Operation       Operation
	RequestPayload  map[string]any
	ResponsePayload map[string]any
	Success         bool
	ErrorCode       string
	ErrorMessage    string
	CreatedAt       time.Time
}

type ReviewReason string

const (
	ReasonAmountMismatch     ReviewReason = "amount_mismatch"
	ReasonDetailQueryError   ReviewReason = "detail_query_error"
	ReasonMissingFinalize    ReviewReason = "missing_finalize"
	ReasonStuckRefundPending ReviewReason = "stuck_refund_pending"
	ReasonStuckVoidPending   ReviewReason = "stuck_void_pending"
)

func (r ReviewReason) Valid() bool {
	switch r {
	case ReasonAmountMismatch, ReasonDetailQueryError, ReasonMissingFinalize,
		ReasonStuckRefundPending, ReasonStuckVoidPending:
		return true
	}
	return false
}

// ManualReviewEntry is a deduplicated escalation; resolution happens out of band.
type ManualReviewEntry struct {
	ID        string
	IntentID  string
	OrderID   string
	Reason    ReviewReason
	Details   map[string]any
	DedupeKey string
	CreatedAt time.Time
}
