package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntentTransitions(t *testing.T) {
	tests := []struct {
		from, to IntentStatus
		allowed  bool
	}{
		{IntentPending, IntentPaid, true},
		{IntentAwaiting3D, IntentFailed, true},
		{IntentPaid, IntentRefundPending, true},
		{IntentRefundPending, IntentRefundPending, true},
		{IntentRefundPending, IntentRefunded, true},
		{IntentVoidPending, IntentVoided, true},
		{IntentFailed, IntentPaid, false},
		{IntentPaid, IntentFailed, false},
		{IntentRefunded, IntentRefundPending, false},
		{IntentVoided, IntentPaid, false},
		{IntentPending, IntentRefunded, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestIntentTerminal(t *testing.T) {
	assert.True(t, IntentFailed.IsTerminal())
	assert.True(t, IntentRefunded.IsTerminal())
	assert.True(t, IntentVoided.IsTerminal())
	assert.False(t, IntentPaid.IsTerminal())
	assert.False(t, IntentRefundPending.IsTerminal())
}

func TestIntentSourcesFor(t *testing.T) {
	assert.ElementsMatch(t, []IntentStatus{IntentPending, IntentAwaiting3D}, IntentSourcesFor(IntentFailed))
	assert.ElementsMatch(t, []IntentStatus{IntentPaid, IntentRefundPending}, IntentSourcesFor(IntentRefunded))
}

func TestEventTransitions(t *testing.T) {
	assert.True(t, EventReceived.CanTransitionTo(EventProcessed))
	assert.True(t, EventFailed.CanTransitionTo(EventIgnored))
	assert.True(t, EventIgnored.CanTransitionTo(EventProcessed))
	assert.False(t, EventProcessed.CanTransitionTo(EventIgnored))
	assert.False(t, EventFailed.CanTransitionTo(EventProcessed))

	assert.ElementsMatch(t, []ProcessingStatus{EventReceived, EventFailed, EventIgnored}, EventSourcesFor(EventIgnored))
}

func TestCallbackSucceeded(t *testing.T) {
	tests := []struct {
		name string
		cb   CallbackEvent
		want bool
	}{
		{"is successful true", CallbackEvent{IsSuccessful: "true"}, true},
		{"is successful True", CallbackEvent{IsSuccessful: "True"}, true},
		{"result code success", CallbackEvent{ResultCode: "Success"}, true},
		{"result code 00", CallbackEvent{ResultCode: "00"}, true},
		{"is successful 1", CallbackEvent{IsSuccessful: "1"}, false},
		{"declined", CallbackEvent{IsSuccessful: "false", ResultCode: "PaymentDealer.DoDirectPayment3dRequest.InvalidRequest"}, false},
		{"empty", CallbackEvent{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cb.Succeeded())
		})
	}
}

func TestReviewReasonValid(t *testing.T) {
	assert.True(t, ReasonStuckVoidPending.Valid())
	assert.False(t, ReviewReason("reconciliation_window_overflow").Valid())
}

func TestProfileCanOperatePayments(t *testing.T) {
	assert.True(t, Profile{IsAdmin: true}.CanOperatePayments())
	assert.True(t, Profile{IsSuperAdmin: true}.CanOperatePayments())
	assert.False(t, Profile{}.CanOperatePayments())
}
