package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-reconciler/internal/service"
	"github.com/akylbek/payment-system/payment-reconciler/internal/telemetry"
)

const maintenanceSecretHeader = "x-maintenance-secret"

type MaintenanceHandler struct {
	maintenance *service.Maintenance
	secret      string
}

func NewMaintenanceHandler(maintenance *service.Maintenance, secret string) *MaintenanceHandler {
	return &MaintenanceHandler{maintenance: maintenance, secret: secret}
}

func (h *MaintenanceHandler) Sweep(c *gin.Context) {
	if h.secret == "" {
		telemetry.Logger.Error("Maintenance endpoint called but no secret is configured")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Maintenance secret not configured"})
		return
	}
	provided := c.GetHeader(maintenanceSecretHeader)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Unauthorized"})
		return
	}

	report, err := h.maintenance.Sweep(c.Request.Context())
	if err != nil {
		telemetry.Logger.Error("Maintenance sweep failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Maintenance sweep failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "report": report})
}
