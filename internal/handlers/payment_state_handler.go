package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-reconciler/internal/interfaces"
	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
	"github.com/akylbek/payment-system/payment-reconciler/internal/telemetry"
)

type PaymentStateHandler struct {
	intents interfaces.IntentRepository
}

func NewPaymentStateHandler(intents interfaces.IntentRepository) *PaymentStateHandler {
	return &PaymentStateHandler{intents: intents}
}

func (h *PaymentStateHandler) GetPaymentState(c *gin.Context) {
	intentID := c.Param("id")

	intent, err := h.intents.GetIntent(c.Request.Context(), intentID)
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Payment intent not found"})
		return
	}

	if err != nil {
		telemetry.Logger.Error("Failed to fetch payment intent", zap.String("intent_id", intentID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch payment state"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"intent_id":        intent.ID,
		"state":            intent.Status,
		"terminal":         intent.Status.IsTerminal(),
		"gateway_status":   intent.GatewayStatus,
		"gateway_trx_code": intent.GatewayTrxCode,
		"paid_total_cents": intent.PaidTotalCents,
		"currency":         intent.Currency,
		"created_at":       intent.CreatedAt,
		"updated_at":       intent.UpdatedAt,
	})
}
