package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
)

const (
	reservationHeld      = "held"
	reservationReleased  = "released"
	reservationCommitted = "committed"
)

// MemoryStore is an in-process Store with the same uniqueness and transition
// rules as the Postgres schema. Used by tests and when no DATABASE_URL is set.
type MemoryStore struct {
	mu  sync.Mutex
	now func() time.Time

	intents      map[string]models.PaymentIntent
	events       map[string]models.WebhookEvent
	eventKeys    map[string]string
	transactions []models.Transaction
	reviews      []models.ManualReviewEntry
	reviewKeys   map[string]struct{}
	orders       map[string]models.Order
	orderByInt   map[string]string
	profiles     map[string]models.Profile
	reservations map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:          time.Now,
		intents:      make(map[string]models.PaymentIntent),
		events:       make(map[string]models.WebhookEvent),
		eventKeys:    make(map[string]string),
		reviewKeys:   make(map[string]struct{}),
		orders:       make(map[string]models.Order),
		orderByInt:   make(map[string]string),
		profiles:     make(map[string]models.Profile),
		reservations: make(map[string]string),
	}
}

func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Seeding and inspection helpers.

func (s *MemoryStore) SeedIntent(intent models.PaymentIntent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if intent.Status == "" {
		intent.Status = models.IntentPending
	}
	if intent.Currency == "" {
		intent.Currency = "TRY"
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = s.now()
	}
	if intent.UpdatedAt.IsZero() {
		intent.UpdatedAt = intent.CreatedAt
	}
	s.intents[intent.ID] = intent
}

func (s *MemoryStore) SeedOrder(order models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.CreatedAt.IsZero() {
		order.CreatedAt = s.now()
	}
	s.orders[order.ID] = order
	if order.PaymentIntentID != "" {
		s.orderByInt[order.PaymentIntentID] = order.ID
	}
}

func (s *MemoryStore) SeedProfile(profile models.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.UserID] = profile
}

func (s *MemoryStore) SeedReservation(intentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations[intentID] = reservationHeld
}

func (s *MemoryStore) ReservationStatus(intentID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reservations[intentID]
}

func (s *MemoryStore) Transactions() []models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Transaction(nil), s.transactions...)
}

func (s *MemoryStore) ReviewEntries() []models.ManualReviewEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ManualReviewEntry(nil), s.reviews...)
}

// Events returns every webhook event ordered by creation.
func (s *MemoryStore) Events() []models.WebhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.WebhookEvent, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *MemoryStore) Orders() []models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	return out
}

// IntentRepository

func (s *MemoryStore) GetIntent(_ context.Context, id string) (*models.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.intents[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &intent, nil
}

func (s *MemoryStore) FindIntentIDByTrxCode(_ context.Context, trxCode string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *models.PaymentIntent
	for _, intent := range s.intents {
		if intent.GatewayTrxCode != trxCode {
			continue
		}
		if found == nil || intent.CreatedAt.After(found.CreatedAt) {
			i := intent
			found = &i
		}
	}
	if found == nil {
		return "", models.ErrNotFound
	}
	return found.ID, nil
}

func (s *MemoryStore) FindIntentIDByShortCode(_ context.Context, shortCode string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := strings.ToLower(shortCode)
	var found *models.PaymentIntent
	for _, intent := range s.intents {
		if want == "" || shortIntentCode(intent.ID) != want {
			continue
		}
		if found == nil || intent.CreatedAt.After(found.CreatedAt) {
			i := intent
			found = &i
		}
	}
	if found == nil {
		return "", models.ErrNotFound
	}
	return found.ID, nil
}

func shortIntentCode(id string) string {
	s := strings.ToLower(strings.ReplaceAll(id, "-", ""))
	if len(s) > 20 {
		s = s[:20]
	}
	return s
}

func (s *MemoryStore) TransitionIntent(_ context.Context, id string, to models.IntentStatus, gatewayStatus string) (models.IntentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.intents[id]
	if !ok {
		return "", models.ErrNotFound
	}
	from := intent.Status
	if !from.CanTransitionTo(to) {
		return from, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, to)
	}
	intent.Status = to
	if gatewayStatus != "" {
		intent.GatewayStatus = gatewayStatus
	}
	intent.UpdatedAt = s.now()
	s.intents[id] = intent
	return from, nil
}

func (s *MemoryStore) UpdateGatewayStatus(_ context.Context, id, gatewayStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.intents[id]
	if !ok {
		return models.ErrNotFound
	}
	intent.GatewayStatus = gatewayStatus
	intent.UpdatedAt = s.now()
	s.intents[id] = intent
	return nil
}

func (s *MemoryStore) ListIntentsByStatus(_ context.Context, status models.IntentStatus, updatedBefore time.Time) ([]models.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.PaymentIntent
	for _, intent := range s.intents {
		if intent.Status == status && intent.UpdatedAt.Before(updatedBefore) {
			out = append(out, intent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// WebhookEventRepository

func (s *MemoryStore) TryClaimEvent(_ context.Context, event *models.WebhookEvent) (models.ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.eventKeys[event.DedupeKey]; ok {
		return models.ClaimResult{Outcome: models.EventAlreadyClaimed, EventID: existing}, nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.Status = models.EventReceived
	event.CreatedAt = s.now()
	s.events[event.ID] = *event
	s.eventKeys[event.DedupeKey] = event.ID
	return models.ClaimResult{Outcome: models.EventClaimed, EventID: event.ID}, nil
}

func (s *MemoryStore) MarkDuplicate(_ context.Context, dedupeKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.eventKeys[dedupeKey]
	if !ok {
		return nil
	}
	event := s.events[id]
	if !event.Status.CanTransitionTo(models.EventIgnored) {
		return nil
	}
	now := s.now()
	event.Status = models.EventIgnored
	event.ProcessedAt = &now
	s.events[id] = event
	return nil
}

func (s *MemoryStore) CompleteEvent(_ context.Context, id string, status models.ProcessingStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok {
		return models.ErrNotFound
	}
	if !event.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, event.Status, status)
	}
	now := s.now()
	event.Status = status
	event.ErrorMessage = errMsg
	event.ProcessedAt = &now
	s.events[id] = event
	return nil
}

// TransactionRepository and ManualReviewRepository

func (s *MemoryStore) RecordTransaction(_ context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	tx.CreatedAt = s.now()
	s.transactions = append(s.transactions, *tx)
	return nil
}

func (s *MemoryStore) Enqueue(_ context.Context, entry *models.ManualReviewEntry) (bool, error) {
	if !entry.Reason.Valid() {
		return false, fmt.Errorf("unknown review reason %q", entry.Reason)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reviewKeys[entry.DedupeKey]; ok {
		return false, nil
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = s.now()
	s.reviews = append(s.reviews, *entry)
	s.reviewKeys[entry.DedupeKey] = struct{}{}
	return true, nil
}

// OrderRepository, Finalizer, ReservationReleaser, ProfileRepository

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &order, nil
}

func (s *MemoryStore) UpdatePaymentStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return models.ErrNotFound
	}
	order.PaymentStatus = status
	s.orders[id] = order
	return nil
}

func (s *MemoryStore) Finalize(_ context.Context, intentID string, payload models.FinalizePayload) (models.FinalizeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.intents[intentID]
	if !ok {
		return models.FinalizeResult{}, nil
	}
	if orderID, ok := s.orderByInt[intentID]; ok {
		return models.FinalizeResult{Success: true, OrderID: orderID}, nil
	}
	if intent.Status != models.IntentPending && intent.Status != models.IntentAwaiting3D {
		return models.FinalizeResult{}, nil
	}

	order := models.Order{
		ID:              uuid.NewString(),
		PaymentIntentID: intentID,
		PaymentStatus:   models.OrderPaymentPaid,
		TotalCents:      intent.PaidTotalCents,
		CreatedAt:       s.now(),
	}
	s.orders[order.ID] = order
	s.orderByInt[intentID] = order.ID

	intent.Status = models.IntentPaid
	if payload.GatewayStatus != "" {
		intent.GatewayStatus = payload.GatewayStatus
	}
	if payload.TrxCode != "" {
		intent.GatewayTrxCode = payload.TrxCode
	}
	intent.UpdatedAt = s.now()
	s.intents[intentID] = intent

	if s.reservations[intentID] == reservationHeld {
		s.reservations[intentID] = reservationCommitted
	}
	return models.FinalizeResult{Success: true, OrderID: order.ID}, nil
}

func (s *MemoryStore) ReleaseReservations(_ context.Context, intentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reservations[intentID] == reservationHeld {
		s.reservations[intentID] = reservationReleased
	}
	return nil
}

func (s *MemoryStore) GetProfile(_ context.Context, userID string) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &profile, nil
}
