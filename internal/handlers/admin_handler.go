package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-reconciler/internal/apperr"
	"github.com/akylbek/payment-system/payment-reconciler/internal/auth"
	"github.com/akylbek/payment-system/payment-reconciler/internal/service"
	"github.com/akylbek/payment-system/payment-reconciler/internal/telemetry"
)

type captureRequest struct {
	IntentID    string `json:"intentId" binding:"required"`
	AmountCents int64  `json:"amountCents" binding:"gte=0"`
}

type refundRequest struct {
	OrderID     string `json:"orderId" binding:"required"`
	AmountCents int64  `json:"amountCents" binding:"gte=0"`
	Reason      string `json:"reason"`
}

type voidRequest struct {
	OrderID string `json:"orderId" binding:"required"`
	Reason  string `json:"reason"`
}

type tokenizeRequest struct {
	CardHolderFullName string `json:"cardHolderFullName" binding:"required"`
	CardNumber         string `json:"cardNumber" binding:"required"`
	ExpMonth           string `json:"expMonth" binding:"required"`
	ExpYear            string `json:"expYear" binding:"required"`
	CvcNumber          string `json:"cvcNumber" binding:"required"`
	CustomerCode       string `json:"customerCode"`
}

// AdminHandler serves the payment operations behind the admin gate, plus
// card tokenization for any signed-in user.
type AdminHandler struct {
	ops *service.Operations
}

func NewAdminHandler(ops *service.Operations) *AdminHandler {
	return &AdminHandler{ops: ops}
}

func (h *AdminHandler) Capture(c *gin.Context) {
	var req captureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "intentId is required")
		return
	}

	res, err := h.ops.Capture(c.Request.Context(), service.CaptureRequest{
		IntentID:    strings.TrimSpace(req.IntentID),
		AmountCents: req.AmountCents,
	})
	if err != nil {
		writeError(c, "capture", err)
		return
	}
	c.JSON(res.Status, gin.H{"success": res.Success, "message": res.Message})
}

func (h *AdminHandler) Refund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "orderId is required")
		return
	}

	res, err := h.ops.Refund(c.Request.Context(), service.ReversalRequest{
		OrderID:     strings.TrimSpace(req.OrderID),
		AmountCents: req.AmountCents,
		Reason:      req.Reason,
		ClientIP:    forwardedFor(c),
	})
	writeReversal(c, "refund", res, err)
}

func (h *AdminHandler) Void(c *gin.Context) {
	var req voidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "orderId is required")
		return
	}

	res, err := h.ops.Void(c.Request.Context(), service.ReversalRequest{
		OrderID:  strings.TrimSpace(req.OrderID),
		Reason:   req.Reason,
		ClientIP: forwardedFor(c),
	})
	writeReversal(c, "void", res, err)
}

func (h *AdminHandler) TokenizeCard(c *gin.Context) {
	claims, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Unauthorized"})
		return
	}

	var req tokenizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Missing card fields")
		return
	}

	res, err := h.ops.TokenizeCard(c.Request.Context(), service.TokenizeRequest{
		UserID:         claims.UserID,
		Email:          claims.Email,
		CustomerCode:   req.CustomerCode,
		HolderFullName: req.CardHolderFullName,
		CardNumber:     req.CardNumber,
		ExpMonth:       req.ExpMonth,
		ExpYear:        req.ExpYear,
		CVC:            req.CvcNumber,
	})
	if err != nil {
		writeError(c, "tokenize", err)
		return
	}
	if !res.Success {
		body := gin.H{"success": false, "message": res.Message}
		if res.Code != "" {
			body["code"] = res.Code
		}
		c.JSON(res.Status, body)
		return
	}
	c.JSON(res.Status, gin.H{"success": true, "cardToken": res.CardToken})
}

func writeReversal(c *gin.Context, op string, res service.OperationResult, err error) {
	if err != nil {
		writeError(c, op, err)
		return
	}
	c.JSON(res.Status, gin.H{"success": res.Success, "pending": res.Pending, "message": res.Message})
}

func writeError(c *gin.Context, op string, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		telemetry.Logger.Error("Payment operation failed", zap.String("operation", op), zap.Error(err))
	}
	c.JSON(status, gin.H{"success": false, "message": apperr.PublicMessage(err)})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": message})
}

// forwardedFor returns the first X-Forwarded-For entry, or "" when absent.
func forwardedFor(c *gin.Context) string {
	first, _, _ := strings.Cut(c.GetHeader("X-Forwarded-For"), ",")
	return strings.TrimSpace(first)
}
