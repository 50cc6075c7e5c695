package models

import "time"

type IntentStatus string

const (
	IntentPending       IntentStatus = "pending"
	IntentAwaiting3D    IntentStatus = "awaiting_3d"
	IntentPaid          IntentStatus = "paid"
	IntentFailed        IntentStatus = "failed"
	IntentRefundPending IntentStatus = "refund_pending"
	IntentRefunded      IntentStatus = "refunded"
	IntentVoidPending   IntentStatus = "void_pending"
	IntentVoided        IntentStatus = "voided"
)

// intentTransitions lists, per status, the statuses it may move to.
// Statuses absent from the map are terminal.
var intentTransitions = map[IntentStatus][]IntentStatus{
	IntentPending:       {IntentAwaiting3D, IntentPaid, IntentFailed},
	IntentAwaiting3D:    {IntentPaid, IntentFailed},
	IntentPaid:          {IntentRefundPending, IntentRefunded, IntentVoidPending, IntentVoided},
	IntentRefundPending: {IntentRefundPending, IntentRefunded},
	IntentVoidPending:   {IntentVoidPending, IntentVoided},
}

func (s IntentStatus) CanTransitionTo(to IntentStatus) bool {
	for _, allowed := range intentTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s IntentStatus) IsTerminal() bool {
	return len(intentTransitions[s]) == 0
}

// IntentSourcesFor returns every status allowed to transition into to.
func IntentSourcesFor(to IntentStatus) []IntentStatus {
	var out []IntentStatus
	for _, from := range []IntentStatus{IntentPending, IntentAwaiting3D, IntentPaid, IntentRefundPending, IntentVoidPending} {
		if from.CanTransitionTo(to) {
			out = append(out, from)
		}
	}
	return out
}

// PaymentIntent is one checkout attempt. PaidTotalCents is fixed upstream and
// never rewritten here.
type PaymentIntent struct {
	ID             string
	GatewayTrxCode string
	PaidTotalCents int64
	Currency       string
	Status         IntentStatus
	GatewayStatus  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IntentStateChange is published for every applied intent transition.
type IntentStateChange struct {
	IntentID      string       `json:"intent_id"`
	From          IntentStatus `json:"previous_state"`
	To            IntentStatus `json:"state"`
	GatewayStatus string       `json:"gateway_status"`
	Timestamp     time.Time    `json:"timestamp"`
}
