package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-reconciler/internal/canonical"
	"github.com/akylbek/payment-system/payment-reconciler/internal/gateway"
	"github.com/akylbek/payment-system/payment-reconciler/internal/interfaces"
	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
	"github.com/akylbek/payment-system/payment-reconciler/internal/telemetry"
)

const (
	codeDetailQueryError = "detail_query_error"
	codeAmountMismatch   = "amount_mismatch"
	codeMissingFinalize  = "missing_finalize"
	codeIntentNotFound   = "intent_not_found"

	defaultNotifyTimeout = 10 * time.Second
)

// Outcome is what the callback endpoint answers: either a browser redirect or
// a plain-text status.
type Outcome struct {
	Status   int
	Redirect string
	Message  string
}

func (o Outcome) IsRedirect() bool { return o.Redirect != "" }

// Reconciler ingests gateway callbacks and drives intents to a terminal state
// after verifying the callback against the gateway's own records.
type Reconciler struct {
	core
	gateway       interfaces.Gateway
	notifier      interfaces.Notifier
	appBaseURL    string
	notifyTimeout time.Duration

	notifications sync.WaitGroup
}

func NewReconciler(
	store interfaces.Store,
	gw interfaces.Gateway,
	publisher interfaces.EventPublisher,
	notifier interfaces.Notifier,
	appBaseURL string,
) *Reconciler {
	return &Reconciler{
		core:          core{store: store, publisher: publisher, now: time.Now},
		gateway:       gw,
		notifier:      notifier,
		appBaseURL:    appBaseURL,
		notifyTimeout: defaultNotifyTimeout,
	}
}

// Wait blocks until in-flight confirmation notifications finish.
func (r *Reconciler) Wait() {
	r.notifications.Wait()
}

// Ingest records one delivery in the dedup ledger and reconciles it unless it
// is a duplicate. An error means the delivery could not be recorded durably.
func (r *Reconciler) Ingest(ctx context.Context, payload map[string]any) (Outcome, error) {
	cb := NormalizeCallback(payload)

	intentID, err := r.resolveIntentID(ctx, cb)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve intent: %w", err)
	}
	if intentID == "" {
		telemetry.WebhookDeliveries.WithLabelValues("unresolved").Inc()
		return Outcome{Status: http.StatusBadRequest, Message: "intent could not be resolved"}, nil
	}

	payloadHash := canonical.PayloadHash(payload)
	event := &models.WebhookEvent{
		Provider:       Provider,
		IntentID:       intentID,
		GatewayTrxCode: cb.TrxCode,
		OtherTrxCode:   cb.OtherTrxCode,
		ResultCode:     cb.ResultCode,
		PayloadHash:    payloadHash,
		DedupeKey:      canonical.EventDedupeKey(Provider, cb.TrxCode, cb.ResultCode, payloadHash),
		Payload:        payload,
	}

	claim, err := r.store.TryClaimEvent(ctx, event)
	if err != nil {
		telemetry.WebhookDeliveries.WithLabelValues("error").Inc()
		return Outcome{}, fmt.Errorf("claim webhook event: %w", err)
	}
	if !claim.Claimed() {
		if err := r.store.MarkDuplicate(ctx, event.DedupeKey); err != nil {
			telemetry.Logger.Warn("Failed to mark duplicate delivery",
				zap.String("event_id", claim.EventID),
				zap.Error(err),
			)
		}
		telemetry.WebhookDeliveries.WithLabelValues("duplicate").Inc()
		telemetry.Logger.Info("Duplicate webhook delivery ignored",
			zap.String("intent_id", intentID),
			zap.String("event_id", claim.EventID),
			zap.String("dedupe_key", event.DedupeKey),
		)
		return Outcome{Status: http.StatusOK, Message: "duplicate"}, nil
	}

	telemetry.WebhookDeliveries.WithLabelValues("claimed").Inc()
	event.ID = claim.EventID
	cb.IntentID = intentID
	return r.Reconcile(ctx, event, cb)
}

// resolveIntentID maps a callback onto an intent. Explicit ids are tried as
// stored and then as the gateway's short code; an explicit id that matches
// nothing is returned as is. Without one, the trx code is looked up.
func (r *Reconciler) resolveIntentID(ctx context.Context, cb models.CallbackEvent) (string, error) {
	for _, candidate := range []string{cb.IntentID, cb.OtherTrxCode} {
		if candidate == "" {
			continue
		}
		id, err := r.lookupIntentID(ctx, candidate)
		if err != nil || id != "" {
			return id, err
		}
	}
	if explicit := firstNonEmpty(cb.IntentID, cb.OtherTrxCode); explicit != "" {
		return explicit, nil
	}

	if cb.TrxCode == "" {
		return "", nil
	}
	id, err := r.store.FindIntentIDByTrxCode(ctx, cb.TrxCode)
	if errors.Is(err, models.ErrNotFound) {
		return "", nil
	}
	return id, err
}

func (r *Reconciler) lookupIntentID(ctx context.Context, candidate string) (string, error) {
	intent, err := r.store.GetIntent(ctx, candidate)
	if err == nil {
		return intent.ID, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return "", err
	}
	id, err := r.store.FindIntentIDByShortCode(ctx, candidate)
	if errors.Is(err, models.ErrNotFound) {
		return "", nil
	}
	return id, err
}

// Reconcile runs the verification state machine for a claimed event. Every
// branch writes one terminal processing status onto the event.
func (r *Reconciler) Reconcile(ctx context.Context, event *models.WebhookEvent, cb models.CallbackEvent) (Outcome, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "reconcile")
	defer span.End()
	span.SetAttributes(
		attribute.String("intent.id", event.IntentID),
		attribute.String("webhook.event_id", event.ID),
	)

	intent, err := r.store.GetIntent(ctx, event.IntentID)
	if errors.Is(err, models.ErrNotFound) {
		r.complete(ctx, event, models.EventFailed, codeIntentNotFound)
		r.observe(codeIntentNotFound, event)
		return Outcome{Status: http.StatusNotFound, Message: "payment intent not found"}, nil
	}
	if err != nil {
		r.complete(ctx, event, models.EventFailed, "intent_lookup_error")
		return Outcome{}, fmt.Errorf("load intent: %w", err)
	}

	if !cb.Succeeded() {
		return r.callbackFailed(ctx, event, intent, cb), nil
	}

	inquiry, err := r.gateway.Inquire(ctx, gateway.InquiryRequest{
		OtherTrxCode:    intent.ID,
		GatewayTrxCode:  intent.GatewayTrxCode,
		CallbackTrxCode: cb.TrxCode,
	})
	if err != nil || !inquiry.Success {
		return r.detailQueryFailed(ctx, event, intent, cb, inquiry, err), nil
	}

	if inquiry.AmountCents != intent.PaidTotalCents {
		return r.amountMismatch(ctx, event, intent, inquiry), nil
	}

	trxCode := firstNonEmpty(inquiry.TrxCode, cb.TrxCode, intent.GatewayTrxCode)
	result, err := r.store.Finalize(ctx, intent.ID, models.FinalizePayload{
		GatewayStatus: "paid",
		TrxCode:       trxCode,
		PayloadHash:   event.PayloadHash,
	})
	if err != nil || !result.Success || result.OrderID == "" {
		return r.finalizeMissing(ctx, event, intent, inquiry, result, err), nil
	}

	r.audit(ctx, &models.Transaction{
		IntentID:        intent.ID,
		OrderID:         result.OrderID,
		Operation:       models.OpFinalize,
		RequestPayload:  inquiry.Request,
		ResponsePayload: inquiry.Raw,
		Success:         true,
	})
	if intent.Status != models.IntentPaid {
		r.publish(ctx, intent.ID, intent.Status, models.IntentPaid, "paid")
	}
	r.notifyAsync(result.OrderID, intent.ID)
	r.complete(ctx, event, models.EventProcessed, "")
	r.observe("finalized", event)

	return Outcome{Redirect: r.appBaseURL + "/order-confirmation/" + url.PathEscape(result.OrderID)}, nil
}

func (r *Reconciler) callbackFailed(ctx context.Context, event *models.WebhookEvent, intent *models.PaymentIntent, cb models.CallbackEvent) Outcome {
	code := cb.ResultCode
	if code == "" {
		code = "fail"
	}

	r.release(ctx, intent.ID)
	// An intent that already reached a later state keeps it.
	_ = r.transition(ctx, intent.ID, models.IntentFailed, "callback_failed:"+code)
	r.audit(ctx, &models.Transaction{
		IntentID:        intent.ID,
		Operation:       models.OpFinalize,
		RequestPayload:  map[string]any{"source": "callback", "trxCode": cb.TrxCode},
		ResponsePayload: cb.Payload,
		ErrorCode:       code,
		ErrorMessage:    cb.ResultMessage,
	})
	r.complete(ctx, event, models.EventProcessed, "")
	r.observe("callback_failed", event)

	return Outcome{Redirect: r.failureURL(intent.ID, code, cb.BankResultCode)}
}

func (r *Reconciler) detailQueryFailed(ctx context.Context, event *models.WebhookEvent, intent *models.PaymentIntent, cb models.CallbackEvent, inquiry gateway.InquiryResult, callErr error) Outcome {
	details := map[string]any{
		"http_status":      inquiry.HTTPStatus,
		"result_code":      inquiry.ResultCode,
		"result_message":   inquiry.ResultMessage,
		"matched_record":   inquiry.Record != nil,
		"callback_trxcode": cb.TrxCode,
	}
	message := "inquiry returned no usable amount"
	if callErr != nil {
		details["error"] = callErr.Error()
		message = callErr.Error()
	}

	r.escalate(ctx, &models.ManualReviewEntry{
		IntentID:  intent.ID,
		Reason:    models.ReasonDetailQueryError,
		Details:   details,
		DedupeKey: codeDetailQueryError + ":" + intent.ID,
	})
	r.audit(ctx, &models.Transaction{
		IntentID:        intent.ID,
		Operation:       models.OpFinalize,
		RequestPayload:  inquiry.Request,
		ResponsePayload: inquiry.Raw,
		ErrorCode:       codeDetailQueryError,
		ErrorMessage:    message,
	})
	r.complete(ctx, event, models.EventFailed, codeDetailQueryError)
	r.observe(codeDetailQueryError, event)

	return Outcome{Redirect: r.failureURL(intent.ID, codeDetailQueryError, cb.BankResultCode)}
}

func (r *Reconciler) amountMismatch(ctx context.Context, event *models.WebhookEvent, intent *models.PaymentIntent, inquiry gateway.InquiryResult) Outcome {
	expected := intent.PaidTotalCents
	actual := inquiry.AmountCents

	r.escalate(ctx, &models.ManualReviewEntry{
		IntentID: intent.ID,
		Reason:   models.ReasonAmountMismatch,
		Details: map[string]any{
			"expected_cents": expected,
			"actual_cents":   actual,
			"trx_code":       inquiry.TrxCode,
		},
		DedupeKey: fmt.Sprintf("%s:%s:%d:%d", codeAmountMismatch, intent.ID, expected, actual),
	})
	r.release(ctx, intent.ID)
	_ = r.transition(ctx, intent.ID, models.IntentFailed, codeAmountMismatch)
	r.audit(ctx, &models.Transaction{
		IntentID:        intent.ID,
		Operation:       models.OpFinalize,
		RequestPayload:  inquiry.Request,
		ResponsePayload: inquiry.Raw,
		ErrorCode:       codeAmountMismatch,
		ErrorMessage:    fmt.Sprintf("expected %d cents, gateway reported %d", expected, actual),
	})
	r.complete(ctx, event, models.EventFailed, codeAmountMismatch)
	r.observe(codeAmountMismatch, event)

	return Outcome{Redirect: r.failureURL(intent.ID, codeAmountMismatch, "")}
}

func (r *Reconciler) finalizeMissing(ctx context.Context, event *models.WebhookEvent, intent *models.PaymentIntent, inquiry gateway.InquiryResult, result models.FinalizeResult, finalizeErr error) Outcome {
	details := map[string]any{
		"finalize_success": result.Success,
		"order_id":         result.OrderID,
		"amount_cents":     inquiry.AmountCents,
		"trx_code":         inquiry.TrxCode,
		"intent_status":    string(intent.Status),
	}
	message := "finalize returned no order"
	if finalizeErr != nil {
		details["error"] = finalizeErr.Error()
		message = finalizeErr.Error()
	}

	r.escalate(ctx, &models.ManualReviewEntry{
		IntentID:  intent.ID,
		Reason:    models.ReasonMissingFinalize,
		Details:   details,
		DedupeKey: codeMissingFinalize + ":" + intent.ID,
	})
	r.audit(ctx, &models.Transaction{
		IntentID:        intent.ID,
		Operation:       models.OpFinalize,
		RequestPayload:  inquiry.Request,
		ResponsePayload: inquiry.Raw,
		ErrorCode:       codeMissingFinalize,
		ErrorMessage:    message,
	})
	r.complete(ctx, event, models.EventFailed, codeMissingFinalize)
	r.observe(codeMissingFinalize, event)

	return Outcome{Redirect: r.failureURL(intent.ID, codeMissingFinalize, "")}
}

func (r *Reconciler) release(ctx context.Context, intentID string) {
	if err := r.store.ReleaseReservations(ctx, intentID); err != nil {
		telemetry.Logger.Error("Failed to release reservations", zap.String("intent_id", intentID), zap.Error(err))
	}
}

func (r *Reconciler) complete(ctx context.Context, event *models.WebhookEvent, status models.ProcessingStatus, errMsg string) {
	if err := r.store.CompleteEvent(ctx, event.ID, status, errMsg); err != nil {
		telemetry.Logger.Error("Failed to complete webhook event",
			zap.String("event_id", event.ID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func (r *Reconciler) observe(outcome string, event *models.WebhookEvent) {
	telemetry.ReconciliationOutcomes.WithLabelValues(outcome).Inc()
	telemetry.Logger.Info("Webhook reconciled",
		zap.String("intent_id", event.IntentID),
		zap.String("event_id", event.ID),
		zap.String("dedupe_key", event.DedupeKey),
		zap.String("outcome", outcome),
	)
}

// notifyAsync requests the confirmation email. The result never affects the
// payment flow.
func (r *Reconciler) notifyAsync(orderID, intentID string) {
	r.notifications.Add(1)
	go func() {
		defer r.notifications.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.notifyTimeout)
		defer cancel()

		err := r.notifier.NotifyOrderConfirmed(ctx, models.OrderConfirmation{
			OrderID:   orderID,
			IntentID:  intentID,
			Timestamp: r.now(),
		})
		if err != nil {
			telemetry.Logger.Warn("Order confirmation notification failed",
				zap.String("order_id", orderID),
				zap.String("intent_id", intentID),
				zap.Error(err),
			)
		}
	}()
}

func (r *Reconciler) failureURL(intentID, code, bankCode string) string {
	target := r.appBaseURL + "/payment-failed?intent=" + url.QueryEscape(intentID) + "&code=" + url.QueryEscape(code)
	if bankCode != "" {
		target += "&bankCode=" + url.QueryEscape(bankCode)
	}
	return target
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
