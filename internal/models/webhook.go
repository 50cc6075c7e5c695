package models

import (
	"strings"
	"time"
)

type ProcessingStatus string

const (
	EventReceived  ProcessingStatus = "received"
	EventProcessed ProcessingStatus = "processed"
	EventIgnored   ProcessingStatus = "ignored"
	EventFailed    ProcessingStatus = "failed"
)

// An in-flight first delivery may find its row already marked ignored by a
// duplicate; it still records its own outcome, hence ignored -> processed/failed.
var eventTransitions = map[ProcessingStatus][]ProcessingStatus{
	EventReceived: {EventProcessed, EventFailed, EventIgnored},
	EventFailed:   {EventIgnored},
	EventIgnored:  {EventIgnored, EventProcessed, EventFailed},
}

func (s ProcessingStatus) CanTransitionTo(to ProcessingStatus) bool {
	for _, allowed := range eventTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// EventSourcesFor returns every processing status allowed to move into to.
func EventSourcesFor(to ProcessingStatus) []ProcessingStatus {
	var out []ProcessingStatus
	for _, from := range []ProcessingStatus{EventReceived, EventFailed, EventIgnored} {
		if from.CanTransitionTo(to) {
			out = append(out, from)
		}
	}
	return out
}

// WebhookEvent is one attempted gateway delivery.
type WebhookEvent struct {
	ID             string
	Provider       string
	IntentID       string
	GatewayTrxCode string
	OtherTrxCode   string
	ResultCode     string
	PayloadHash    string
	DedupeKey      string
	Payload        map[string]any
	Status         ProcessingStatus
	ErrorMessage   string
	ProcessedAt    *time.Time
	CreatedAt      time.Time
}

type ClaimOutcome int

const (
	EventClaimed ClaimOutcome = iota
	EventAlreadyClaimed
)

// ClaimResult is the two-outcome answer of an insert-once event claim.
type ClaimResult struct {
	Outcome ClaimOutcome
	EventID string
}

func (r ClaimResult) Claimed() bool { return r.Outcome == EventClaimed }

// CallbackEvent is the typed form of a gateway callback. Downstream code never
// looks at raw payload keys.
type CallbackEvent struct {
	IntentID       string
	TrxCode        string
	OtherTrxCode   string
	ResultCode     string
	ResultMessage  string
	BankResultCode string
	IsSuccessful   string
	Payload        map[string]any
}

// Succeeded is true when IsSuccessful is literally true or the result code is
// "success" or "00".
func (c CallbackEvent) Succeeded() bool {
	if strings.EqualFold(strings.TrimSpace(c.IsSuccessful), "true") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.ResultCode)) {
	case "success", "00":
		return true
	}
	return false
}
