package service

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akylbek/payment-system/payment-reconciler/internal/interfaces"
	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
	"github.com/akylbek/payment-system/payment-reconciler/internal/repository"
)

type reconcilerFixture struct {
	store     *repository.MemoryStore
	gw        *fakeGateway
	publisher *recordingPublisher
	notifier  *recordingNotifier
	r         *Reconciler
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	f := &reconcilerFixture{
		store:     repository.NewMemoryStore(),
		gw:        &fakeGateway{inquiry: inquiryFound(9990)},
		publisher: &recordingPublisher{},
		notifier:  &recordingNotifier{},
	}
	f.store.SeedIntent(models.PaymentIntent{ID: "INT-1", PaidTotalCents: 9990, Status: models.IntentAwaiting3D})
	f.store.SeedReservation("INT-1")
	f.r = f.newReconciler(f.store)
	return f
}

func (f *reconcilerFixture) newReconciler(store interfaces.Store) *Reconciler {
	return NewReconciler(store, f.gw, f.publisher, f.notifier, testAppBaseURL)
}

func successCallback() map[string]any {
	return map[string]any{
		"intentId":     "INT-1",
		"isSuccessful": "true",
		"trxCode":      "TRX-1",
		"resultCode":   "",
	}
}

func TestIngestHappyPath(t *testing.T) {
	f := newReconcilerFixture(t)

	out, err := f.r.Ingest(context.Background(), successCallback())
	require.NoError(t, err)
	f.r.Wait()

	orders := f.store.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, testAppBaseURL+"/order-confirmation/"+orders[0].ID, out.Redirect)

	events := f.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventProcessed, events[0].Status)
	assert.Equal(t, "INT-1", events[0].IntentID)
	assert.NotNil(t, events[0].ProcessedAt)

	txs := f.store.Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, models.OpFinalize, txs[0].Operation)
	assert.True(t, txs[0].Success)
	assert.Equal(t, orders[0].ID, txs[0].OrderID)

	intent, err := f.store.GetIntent(context.Background(), "INT-1")
	require.NoError(t, err)
	assert.Equal(t, models.IntentPaid, intent.Status)
	assert.Equal(t, "committed", f.store.ReservationStatus("INT-1"))

	changes := f.publisher.Changes()
	require.Len(t, changes, 1)
	assert.Equal(t, models.IntentAwaiting3D, changes[0].From)
	assert.Equal(t, models.IntentPaid, changes[0].To)

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, orders[0].ID, sent[0].OrderID)
	assert.Empty(t, f.store.ReviewEntries())
}

func TestIngestDuplicateDeliveryIsInert(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	first, err := f.r.Ingest(ctx, successCallback())
	require.NoError(t, err)
	require.True(t, first.IsRedirect())

	for i := 0; i < 4; i++ {
		out, err := f.r.Ingest(ctx, successCallback())
		require.NoError(t, err)
		assert.False(t, out.IsRedirect())
		assert.Equal(t, http.StatusOK, out.Status)
	}
	f.r.Wait()

	assert.Len(t, f.store.Transactions(), 1)
	assert.Len(t, f.store.Orders(), 1)
	assert.Equal(t, []string{"inquiry"}, f.gw.Calls())

	events := f.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventProcessed, events[0].Status)
}

func TestIngestDuplicateAfterFailureIsIgnored(t *testing.T) {
	f := newReconcilerFixture(t)
	f.gw.inquiryErr = errors.New("dial tcp: i/o timeout")
	ctx := context.Background()

	_, err := f.r.Ingest(ctx, successCallback())
	require.NoError(t, err)
	out, err := f.r.Ingest(ctx, successCallback())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, out.Status)

	events := f.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventIgnored, events[0].Status)
	assert.Len(t, f.store.ReviewEntries(), 1)
}

func TestIngestAmountMismatch(t *testing.T) {
	f := newReconcilerFixture(t)
	f.gw.inquiry = inquiryFound(8990)

	out, err := f.r.Ingest(context.Background(), successCallback())
	require.NoError(t, err)

	assert.Equal(t, testAppBaseURL+"/payment-failed?intent=INT-1&code=amount_mismatch", out.Redirect)

	intent, err := f.store.GetIntent(context.Background(), "INT-1")
	require.NoError(t, err)
	assert.Equal(t, models.IntentFailed, intent.Status)
	assert.Empty(t, f.store.Orders())
	assert.Equal(t, "released", f.store.ReservationStatus("INT-1"))

	reviews := f.store.ReviewEntries()
	require.Len(t, reviews, 1)
	assert.Equal(t, models.ReasonAmountMismatch, reviews[0].Reason)
	assert.Equal(t, "amount_mismatch:INT-1:9990:8990", reviews[0].DedupeKey)
	assert.Equal(t, int64(9990), reviews[0].Details["expected_cents"])
	assert.Equal(t, int64(8990), reviews[0].Details["actual_cents"])

	events := f.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventFailed, events[0].Status)
	assert.Equal(t, "amount_mismatch", events[0].ErrorMessage)

	txs := f.store.Transactions()
	require.Len(t, txs, 1)
	assert.False(t, txs[0].Success)
}

func TestIngestCallbackFailure(t *testing.T) {
	f := newReconcilerFixture(t)

	out, err := f.r.Ingest(context.Background(), map[string]any{
		"intentId":       "INT-1",
		"IsSuccessful":   "false",
		"ResultCode":     "PaymentDealer.DoDirectPayment3dRequest.InsufficientFunds",
		"BankResultCode": "51",
		"TrxCode":        "TRX-1",
	})
	require.NoError(t, err)

	assert.Equal(t,
		testAppBaseURL+"/payment-failed?intent=INT-1&code=PaymentDealer.DoDirectPayment3dRequest.InsufficientFunds&bankCode=51",
		out.Redirect)
	assert.Empty(t, f.gw.Calls())

	intent, err := f.store.GetIntent(context.Background(), "INT-1")
	require.NoError(t, err)
	assert.Equal(t, models.IntentFailed, intent.Status)
	assert.Equal(t, "callback_failed:PaymentDealer.DoDirectPayment3dRequest.InsufficientFunds", intent.GatewayStatus)
	assert.Equal(t, "released", f.store.ReservationStatus("INT-1"))

	events := f.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventProcessed, events[0].Status)

	txs := f.store.Transactions()
	require.Len(t, txs, 1)
	assert.False(t, txs[0].Success)
	assert.Equal(t, models.OpFinalize, txs[0].Operation)
	assert.Empty(t, f.store.ReviewEntries())
}

func TestIngestCallbackFailureWithoutCode(t *testing.T) {
	f := newReconcilerFixture(t)

	out, err := f.r.Ingest(context.Background(), map[string]any{"intentId": "INT-1", "isSuccessful": "false"})
	require.NoError(t, err)
	assert.Equal(t, testAppBaseURL+"/payment-failed?intent=INT-1&code=fail", out.Redirect)
}

func TestIngestFailureCallbackDoesNotRegressPaidIntent(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	_, err := f.r.Ingest(ctx, successCallback())
	require.NoError(t, err)
	_, err = f.r.Ingest(ctx, map[string]any{"intentId": "INT-1", "isSuccessful": "false", "resultCode": "late"})
	require.NoError(t, err)
	f.r.Wait()

	intent, err := f.store.GetIntent(ctx, "INT-1")
	require.NoError(t, err)
	assert.Equal(t, models.IntentPaid, intent.Status)
	assert.Equal(t, "committed", f.store.ReservationStatus("INT-1"))
}

func TestIngestDetailQueryError(t *testing.T) {
	tests := []struct {
		name    string
		inquiry func(*fakeGateway)
	}{
		{"transport error", func(g *fakeGateway) { g.inquiryErr = errors.New("connection reset") }},
		{"no usable record", func(g *fakeGateway) {
			g.inquiry = inquiryFound(0)
			g.inquiry.Success = false
			g.inquiry.HasAmount = false
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newReconcilerFixture(t)
			tt.inquiry(f.gw)

			out, err := f.r.Ingest(context.Background(), successCallback())
			require.NoError(t, err)
			assert.Equal(t, testAppBaseURL+"/payment-failed?intent=INT-1&code=detail_query_error", out.Redirect)

			reviews := f.store.ReviewEntries()
			require.Len(t, reviews, 1)
			assert.Equal(t, models.ReasonDetailQueryError, reviews[0].Reason)

			events := f.store.Events()
			require.Len(t, events, 1)
			assert.Equal(t, models.EventFailed, events[0].Status)

			intent, err := f.store.GetIntent(context.Background(), "INT-1")
			require.NoError(t, err)
			assert.Equal(t, models.IntentAwaiting3D, intent.Status)
			assert.Empty(t, f.store.Orders())
		})
	}
}

func TestIngestMissingFinalize(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"finalize error", errFinalizeRPC},
		{"finalize without order", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newReconcilerFixture(t)
			r := f.newReconciler(brokenFinalizer{MemoryStore: f.store, err: tt.err})

			out, err := r.Ingest(context.Background(), successCallback())
			require.NoError(t, err)
			r.Wait()

			assert.Equal(t, testAppBaseURL+"/payment-failed?intent=INT-1&code=missing_finalize", out.Redirect)

			reviews := f.store.ReviewEntries()
			require.Len(t, reviews, 1)
			assert.Equal(t, models.ReasonMissingFinalize, reviews[0].Reason)
			assert.Equal(t, "missing_finalize:INT-1", reviews[0].DedupeKey)

			txs := f.store.Transactions()
			require.Len(t, txs, 1)
			assert.False(t, txs[0].Success)
			assert.Equal(t, "missing_finalize", txs[0].ErrorCode)

			assert.Equal(t, models.EventFailed, f.store.Events()[0].Status)
			assert.Empty(t, f.notifier.Sent())
		})
	}
}

func TestIngestSuccessCallbackOnFailedIntentEscalates(t *testing.T) {
	f := newReconcilerFixture(t)
	f.store.SeedIntent(models.PaymentIntent{ID: "INT-2", PaidTotalCents: 9990, Status: models.IntentFailed})

	out, err := f.r.Ingest(context.Background(), map[string]any{"intentId": "INT-2", "isSuccessful": "true"})
	require.NoError(t, err)
	assert.Contains(t, out.Redirect, "code=missing_finalize")

	reviews := f.store.ReviewEntries()
	require.Len(t, reviews, 1)
	assert.Equal(t, models.ReasonMissingFinalize, reviews[0].Reason)
}

func TestIngestIntentNotFound(t *testing.T) {
	f := newReconcilerFixture(t)

	out, err := f.r.Ingest(context.Background(), map[string]any{"intentId": "INT-404", "isSuccessful": "true"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, out.Status)

	events := f.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventFailed, events[0].Status)
	assert.Equal(t, "intent_not_found", events[0].ErrorMessage)
	assert.Empty(t, f.gw.Calls())
}

func TestIngestResolvesIntent(t *testing.T) {
	f := newReconcilerFixture(t)
	f.store.SeedIntent(models.PaymentIntent{ID: "INT-7", GatewayTrxCode: "TRX-7", PaidTotalCents: 100})

	out, err := f.r.Ingest(context.Background(), map[string]any{"TrxCode": "TRX-7", "isSuccessful": "false"})
	require.NoError(t, err)
	assert.Contains(t, out.Redirect, "intent=INT-7")

	out, err = f.r.Ingest(context.Background(), map[string]any{"OtherTrxCode": "INT-1", "isSuccessful": "false"})
	require.NoError(t, err)
	assert.Contains(t, out.Redirect, "intent=INT-1")
}

func TestIngestResolvesGatewayShortCode(t *testing.T) {
	f := newReconcilerFixture(t)
	const intentID = "3f2b9c1e-7a4d-4c2b-9e8f-0a1b2c3d4e5f"
	f.store.SeedIntent(models.PaymentIntent{ID: intentID, GatewayTrxCode: "TRX-9", PaidTotalCents: 9990, Status: models.IntentAwaiting3D})

	out, err := f.r.Ingest(context.Background(), map[string]any{
		"OtherTrxCode": "3F2B9C1E7A4D4C2B9E8F",
		"trxCode":      "TRX-9",
		"isSuccessful": "true",
	})
	require.NoError(t, err)
	f.r.Wait()

	assert.Contains(t, out.Redirect, "/order-confirmation/")
	intent, err := f.store.GetIntent(context.Background(), intentID)
	require.NoError(t, err)
	assert.Equal(t, models.IntentPaid, intent.Status)

	events := f.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, intentID, events[0].IntentID)
	assert.Equal(t, models.EventProcessed, events[0].Status)
}

func TestIngestUnknownExplicitIDIsRecorded(t *testing.T) {
	f := newReconcilerFixture(t)

	out, err := f.r.Ingest(context.Background(), map[string]any{"OtherTrxCode": "nosuchintent", "trxCode": "TRX-1", "isSuccessful": "true"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, out.Status)

	events := f.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "nosuchintent", events[0].IntentID)
	assert.Equal(t, models.EventFailed, events[0].Status)
}

func TestIngestUnresolvedIntent(t *testing.T) {
	f := newReconcilerFixture(t)

	tests := []map[string]any{
		{"isSuccessful": "true"},
		{"trxCode": "TRX-unknown", "isSuccessful": "true"},
	}
	for _, payload := range tests {
		out, err := f.r.Ingest(context.Background(), payload)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, out.Status)
	}
	assert.Empty(t, f.store.Events())
}

func TestNotificationFailureDoesNotAffectOutcome(t *testing.T) {
	f := newReconcilerFixture(t)
	f.notifier.err = errors.New("nats: connection closed")

	out, err := f.r.Ingest(context.Background(), successCallback())
	require.NoError(t, err)
	f.r.Wait()

	assert.Contains(t, out.Redirect, "/order-confirmation/")
	assert.Equal(t, models.EventProcessed, f.store.Events()[0].Status)
}

func TestMergeParamsQueryNeverOverrides(t *testing.T) {
	merged := MergeParams(
		map[string]any{"intentId": "from-body"},
		map[string][]string{"intentId": {"from-query"}, "trxCode": {"TRX-1"}, "empty": {}},
	)
	assert.Equal(t, "from-body", merged["intentId"])
	assert.Equal(t, "TRX-1", merged["trxCode"])
	_, ok := merged["empty"]
	assert.False(t, ok)
}

func TestNormalizeCallbackCasingVariants(t *testing.T) {
	cb := NormalizeCallback(map[string]any{
		"TrxCode":       "TRX-1",
		"OtherTrxCode":  "INT-1",
		"ResultCode":    "00",
		"ResultMessage": "ok",
		"IsSuccessful":  true,
		"MyTrxCode":     "INT-1",
	})
	assert.Equal(t, "TRX-1", cb.TrxCode)
	assert.Equal(t, "INT-1", cb.OtherTrxCode)
	assert.Equal(t, "INT-1", cb.IntentID)
	assert.Equal(t, "00", cb.ResultCode)
	assert.Equal(t, "true", cb.IsSuccessful)
	assert.True(t, cb.Succeeded())
}
