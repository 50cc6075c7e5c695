package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-reconciler/internal/apperr"
	"github.com/akylbek/payment-system/payment-reconciler/internal/gateway"
	"github.com/akylbek/payment-system/payment-reconciler/internal/interfaces"
	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
	"github.com/akylbek/payment-system/payment-reconciler/internal/telemetry"
)

const defaultLockTTL = 30 * time.Second

type CaptureRequest struct {
	IntentID    string
	AmountCents int64
}

// ReversalRequest targets an order for refund or void. AmountCents <= 0
// refunds the full amount and is ignored for voids.
type ReversalRequest struct {
	OrderID     string
	AmountCents int64
	Reason      string
	ClientIP    string
}

type TokenizeRequest struct {
	UserID         string
	Email          string
	CustomerCode   string
	HolderFullName string
	CardNumber     string
	ExpMonth       string
	ExpYear        string
	CVC            string
}

// OperationResult is the admin endpoint response.
type OperationResult struct {
	Status  int
	Success bool
	Pending bool
	Message string
}

type TokenizeResult struct {
	Status    int
	Success   bool
	CardToken string
	Code      string
	Message   string
}

// Operations runs admin capture, refund and void, plus card tokenization.
// Authorization is enforced before these methods are reached.
type Operations struct {
	core
	gateway interfaces.Gateway
	locker  interfaces.Locker
	lockTTL time.Duration
}

func NewOperations(store interfaces.Store, gw interfaces.Gateway, publisher interfaces.EventPublisher, locker interfaces.Locker) *Operations {
	return &Operations{
		core:    core{store: store, publisher: publisher, now: time.Now},
		gateway: gw,
		locker:  locker,
		lockTTL: defaultLockTTL,
	}
}

func (o *Operations) Capture(ctx context.Context, req CaptureRequest) (OperationResult, error) {
	intent, err := o.loadIntent(ctx, req.IntentID)
	if err != nil {
		return OperationResult{}, err
	}
	if intent.GatewayTrxCode == "" {
		return OperationResult{}, apperr.InvalidErr("gateway trx code not found")
	}

	release, err := o.lock(ctx, intent.ID)
	if err != nil {
		return OperationResult{}, err
	}
	defer release()

	amount := req.AmountCents
	if amount <= 0 {
		amount = intent.PaidTotalCents
	}

	res, callErr := o.gateway.Capture(ctx, intent.GatewayTrxCode, amount)
	success := callErr == nil && res.Success
	o.audit(ctx, ledgerRow(intent.ID, "", models.OpCapture, res, success, callErr))

	if !success {
		o.observe(models.OpCapture, "failed", intent.ID, res, callErr)
		message := firstNonEmpty(res.ResultMessage, "capture failed")
		if callErr != nil {
			return OperationResult{Status: http.StatusBadGateway, Message: "gateway unreachable"}, nil
		}
		return OperationResult{Status: http.StatusBadRequest, Message: message}, nil
	}

	if err := o.store.UpdateGatewayStatus(ctx, intent.ID, "captured"); err != nil {
		telemetry.Logger.Error("Failed to record capture on intent", zap.String("intent_id", intent.ID), zap.Error(err))
	}
	o.observe(models.OpCapture, "succeeded", intent.ID, res, nil)
	return OperationResult{Status: http.StatusOK, Success: true, Message: "capture succeeded"}, nil
}

func (o *Operations) Refund(ctx context.Context, req ReversalRequest) (OperationResult, error) {
	return o.reverse(ctx, models.OpRefund, req)
}

func (o *Operations) Void(ctx context.Context, req ReversalRequest) (OperationResult, error) {
	return o.reverse(ctx, models.OpVoid, req)
}

type reversal struct {
	pending     models.IntentStatus
	done        models.IntentStatus
	orderStatus string
	reason      models.ReviewReason
}

var reversals = map[models.Operation]reversal{
	models.OpRefund: {models.IntentRefundPending, models.IntentRefunded, models.OrderPaymentRefunded, models.ReasonStuckRefundPending},
	models.OpVoid:   {models.IntentVoidPending, models.IntentVoided, models.OrderPaymentVoided, models.ReasonStuckVoidPending},
}

// PendingDedupeKey is the review key shared by admin failures and the
// maintenance sweep for one stuck reversal.
func PendingDedupeKey(op models.Operation, intentID string) string {
	return string(op) + "_pending:" + intentID
}

// reverse refunds or voids. A gateway answer that is not a confirmed success
// leaves the intent pending and escalates instead of failing.
func (o *Operations) reverse(ctx context.Context, op models.Operation, req ReversalRequest) (OperationResult, error) {
	rv := reversals[op]

	order, err := o.store.GetOrder(ctx, req.OrderID)
	if errors.Is(err, models.ErrNotFound) || (err == nil && order.PaymentIntentID == "") {
		return OperationResult{}, apperr.NotFoundErr("order or payment intent not found")
	}
	if err != nil {
		return OperationResult{}, apperr.Wrap(err)
	}

	intent, err := o.loadIntent(ctx, order.PaymentIntentID)
	if err != nil {
		return OperationResult{}, err
	}
	if intent.GatewayTrxCode == "" {
		return OperationResult{}, apperr.InvalidErr("gateway trx code not found")
	}
	if !intent.Status.CanTransitionTo(rv.done) {
		return OperationResult{}, apperr.ConflictErr(fmt.Sprintf("cannot %s a payment in status %s", op, intent.Status))
	}

	release, err := o.lock(ctx, intent.ID)
	if err != nil {
		return OperationResult{}, err
	}
	defer release()

	var (
		res     gateway.Result
		callErr error
	)
	if op == models.OpRefund {
		res, callErr = o.gateway.Refund(ctx, intent.GatewayTrxCode, req.AmountCents, req.ClientIP)
	} else {
		res, callErr = o.gateway.Void(ctx, intent.GatewayTrxCode, req.ClientIP)
	}
	success := callErr == nil && res.Success
	o.audit(ctx, ledgerRow(intent.ID, order.ID, op, res, success, callErr))

	if success {
		if err := o.transition(ctx, intent.ID, rv.done, string(rv.done)); err != nil {
			return OperationResult{}, apperr.Wrap(fmt.Errorf("record %s on intent: %w", op, err))
		}
		if err := o.store.UpdatePaymentStatus(ctx, order.ID, rv.orderStatus); err != nil {
			return OperationResult{}, apperr.Wrap(fmt.Errorf("record %s on order: %w", op, err))
		}
		o.observe(op, "succeeded", intent.ID, res, nil)
		return OperationResult{Status: http.StatusOK, Success: true, Message: fmt.Sprintf("%s succeeded", op)}, nil
	}

	if err := o.transition(ctx, intent.ID, rv.pending, string(rv.pending)); err != nil {
		telemetry.Logger.Error("Failed to mark intent pending", zap.String("intent_id", intent.ID), zap.Error(err))
	}
	details := map[string]any{
		"request":         res.Request,
		"response":        res.Raw,
		"http_status":     res.HTTPStatus,
		"provided_reason": req.Reason,
	}
	if callErr != nil {
		details["error"] = callErr.Error()
	}
	o.escalate(ctx, &models.ManualReviewEntry{
		IntentID:  intent.ID,
		OrderID:   order.ID,
		Reason:    rv.reason,
		Details:   details,
		DedupeKey: PendingDedupeKey(op, intent.ID),
	})
	o.observe(op, "pending", intent.ID, res, callErr)

	return OperationResult{
		Status:  http.StatusAccepted,
		Pending: true,
		Message: fmt.Sprintf("%s pending, queued for manual review", op),
	}, nil
}

// TokenizeCard stores a card at the gateway for the calling user.
func (o *Operations) TokenizeCard(ctx context.Context, req TokenizeRequest) (TokenizeResult, error) {
	customerCode := strings.TrimSpace(req.CustomerCode)
	if customerCode == "" {
		customerCode = "cust-" + req.UserID
	}

	res, err := o.gateway.TokenizeCard(ctx, customerCode, gateway.CardDetails{
		HolderFullName: req.HolderFullName,
		Number:         req.CardNumber,
		ExpMonth:       req.ExpMonth,
		ExpYear:        req.ExpYear,
		CVC:            req.CVC,
		Email:          req.Email,
	})
	if err != nil {
		telemetry.Logger.Error("Card tokenization failed", zap.String("user_id", req.UserID), zap.Error(err))
		return TokenizeResult{Status: http.StatusBadGateway, Message: "gateway unreachable"}, nil
	}
	if !res.Success || res.CardToken == "" {
		return TokenizeResult{Status: http.StatusBadRequest, Code: res.Code, Message: res.Message}, nil
	}
	return TokenizeResult{Status: http.StatusOK, Success: true, CardToken: res.CardToken}, nil
}

func (o *Operations) loadIntent(ctx context.Context, id string) (*models.PaymentIntent, error) {
	intent, err := o.store.GetIntent(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, apperr.NotFoundErr("payment intent not found")
	}
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	return intent, nil
}

func (o *Operations) lock(ctx context.Context, intentID string) (func(), error) {
	release, ok, err := o.locker.Acquire(ctx, "intent:"+intentID, o.lockTTL)
	if err != nil {
		return nil, apperr.Wrap(fmt.Errorf("acquire intent lock: %w", err))
	}
	if !ok {
		return nil, apperr.ConflictErr("another operation is in progress for this payment")
	}
	return release, nil
}

func (o *Operations) observe(op models.Operation, result, intentID string, res gateway.Result, callErr error) {
	telemetry.AdminOperations.WithLabelValues(string(op), result).Inc()
	fields := []zap.Field{
		zap.String("intent_id", intentID),
		zap.String("operation", string(op)),
		zap.String("result", result),
		zap.Int("gateway_http_status", res.HTTPStatus),
		zap.String("gateway_result_code", res.ResultCode),
	}
	if callErr != nil {
		fields = append(fields, zap.Error(callErr))
	}
	telemetry.Logger.Info("Admin payment operation", fields...)
}

func ledgerRow(intentID, orderID string, op models.Operation, res gateway.Result, success bool, callErr error) *models.Transaction {
	tx := &models.Transaction{
		IntentID:        intentID,
		OrderID:         orderID,
		Operation:       op,
		RequestPayload:  res.Request,
		ResponsePayload: res.Raw,
		Success:         success,
		ErrorCode:       res.ResultCode,
		ErrorMessage:    res.ResultMessage,
	}
	if callErr != nil {
		tx.ErrorCode = "transport_error"
		tx.ErrorMessage = callErr.Error()
	}
	if success {
		tx.ErrorCode = ""
		tx.ErrorMessage = ""
	}
	return tx
}
