package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_deliveries_total",
		Help: "Gateway callback deliveries by ingestion outcome.",
	}, []string{"outcome"})

	ReconciliationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_reconciliation_outcomes_total",
		Help: "Reconciliation engine results by outcome.",
	}, []string{"outcome"})

	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_gateway_requests_total",
		Help: "Outbound gateway calls by operation and success.",
	}, []string{"operation", "success"})

	ManualReviewEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_manual_review_enqueued_total",
		Help: "Manual review escalations by reason, including collapsed duplicates.",
	}, []string{"reason"})

	AdminOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_admin_operations_total",
		Help: "Admin capture/refund/void calls by result.",
	}, []string{"operation", "result"})
)

func ObserveGateway(operation string, success bool) {
	GatewayRequests.WithLabelValues(operation, strconv.FormatBool(success)).Inc()
}
