package service

import (
	"context"
	"errors"
	"sync"

	"github.com/akylbek/payment-system/payment-reconciler/internal/gateway"
	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
	"github.com/akylbek/payment-system/payment-reconciler/internal/repository"
)

const testAppBaseURL = "https://shop.example"

type fakeGateway struct {
	mu sync.Mutex

	inquiry    gateway.InquiryResult
	inquiryErr error
	result     gateway.Result
	opErr      error
	tokenize   gateway.TokenizeResult
	tokenErr   error

	calls        []string
	lastCustomer string
	lastCard     gateway.CardDetails
}

func (g *fakeGateway) record(op string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, op)
}

func (g *fakeGateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func (g *fakeGateway) Inquire(_ context.Context, _ gateway.InquiryRequest) (gateway.InquiryResult, error) {
	g.record("inquiry")
	return g.inquiry, g.inquiryErr
}

func (g *fakeGateway) Capture(_ context.Context, _ string, _ int64) (gateway.Result, error) {
	g.record("capture")
	return g.result, g.opErr
}

func (g *fakeGateway) Refund(_ context.Context, _ string, _ int64, _ string) (gateway.Result, error) {
	g.record("refund")
	return g.result, g.opErr
}

func (g *fakeGateway) Void(_ context.Context, _, _ string) (gateway.Result, error) {
	g.record("void")
	return g.result, g.opErr
}

func (g *fakeGateway) TokenizeCard(_ context.Context, customerCode string, card gateway.CardDetails) (gateway.TokenizeResult, error) {
	g.record("tokenize")
	g.mu.Lock()
	g.lastCustomer = customerCode
	g.lastCard = card
	g.mu.Unlock()
	return g.tokenize, g.tokenErr
}

func inquiryFound(amountCents int64) gateway.InquiryResult {
	return gateway.InquiryResult{
		Result: gateway.Result{
			Success:    true,
			HTTPStatus: 200,
			ResultCode: "Success",
			Request:    map[string]any{"PaymentDealerAuthentication": map[string]any{"Password": "masked"}},
			Raw:        map[string]any{"ResultCode": "Success"},
		},
		AmountCents: amountCents,
		HasAmount:   true,
		TrxCode:     "TRX-1",
	}
}

func gatewayOK() gateway.Result {
	return gateway.Result{
		Success:    true,
		HTTPStatus: 200,
		ResultCode: "Success",
		Request:    map[string]any{"PaymentDealerAuthentication": map[string]any{"Password": "masked"}},
		Raw:        map[string]any{"ResultCode": "Success", "Data": map[string]any{"IsSuccessful": true}},
	}
}

func gatewayDeclined() gateway.Result {
	return gateway.Result{
		HTTPStatus:    200,
		ResultCode:    "PaymentDealer.DoCreateRefundRequest.OtherTrxCodeOrVirtualPosOrderIdMustGiven",
		ResultMessage: "refund rejected",
		Raw:           map[string]any{"ResultCode": "PaymentDealer.DoCreateRefundRequest.OtherTrxCodeOrVirtualPosOrderIdMustGiven"},
	}
}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []models.IntentStateChange
}

func (p *recordingPublisher) PublishStateChange(_ context.Context, change models.IntentStateChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, change)
	return nil
}

func (p *recordingPublisher) Changes() []models.IntentStateChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.IntentStateChange(nil), p.changes...)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.OrderConfirmation
	err  error
}

func (n *recordingNotifier) NotifyOrderConfirmed(_ context.Context, msg models.OrderConfirmation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) Sent() []models.OrderConfirmation {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.OrderConfirmation(nil), n.sent...)
}

// brokenFinalizer simulates a finalize procedure that fails or loses the order.
type brokenFinalizer struct {
	*repository.MemoryStore
	err error
}

func (b brokenFinalizer) Finalize(context.Context, string, models.FinalizePayload) (models.FinalizeResult, error) {
	return models.FinalizeResult{}, b.err
}

var errFinalizeRPC = errors.New("rpc finalize_intent_create_order failed")
