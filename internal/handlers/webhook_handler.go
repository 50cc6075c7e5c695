package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-reconciler/internal/service"
	"github.com/akylbek/payment-system/payment-reconciler/internal/telemetry"
)

const maxCallbackBytes = 64 << 10

// WebhookHandler receives the gateway's 3D return. The gateway and the
// browser both land here, so answers are redirects or plain text.
type WebhookHandler struct {
	reconciler *service.Reconciler
}

func NewWebhookHandler(reconciler *service.Reconciler) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler}
}

func (h *WebhookHandler) HandleReturn(c *gin.Context) {
	body, err := readCallbackBody(c.Request)
	if err != nil {
		telemetry.Logger.Warn("Error decoding gateway callback", zap.Error(err))
		c.String(http.StatusBadRequest, "Invalid payload")
		return
	}

	payload := service.MergeParams(body, c.Request.URL.Query())
	outcome, err := h.reconciler.Ingest(c.Request.Context(), payload)
	if err != nil {
		telemetry.Logger.Error("Error processing gateway callback", zap.Error(err))
		c.String(http.StatusInternalServerError, "Internal error")
		return
	}

	if outcome.IsRedirect() {
		c.Redirect(http.StatusFound, outcome.Redirect)
		return
	}
	c.String(outcome.Status, outcome.Message)
}

// readCallbackBody accepts JSON, urlencoded and multipart form bodies. GET
// requests and empty bodies yield an empty map so the query string alone can
// carry the callback.
func readCallbackBody(r *http.Request) (map[string]any, error) {
	out := map[string]any{}
	if r.Method == http.MethodGet || r.Body == nil {
		return out, nil
	}

	contentType := strings.ToLower(r.Header.Get("Content-Type"))
	switch {
	case strings.Contains(contentType, "application/x-www-form-urlencoded"):
		r.Body = io.NopCloser(io.LimitReader(r.Body, maxCallbackBytes))
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		for k, values := range r.PostForm {
			if len(values) > 0 {
				out[k] = values[0]
			}
		}
		return out, nil
	case strings.Contains(contentType, "multipart/form-data"):
		if err := r.ParseMultipartForm(maxCallbackBytes); err != nil {
			return nil, err
		}
		for k, values := range r.MultipartForm.Value {
			if len(values) > 0 {
				out[k] = values[0]
			}
		}
		return out, nil
	default:
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
		if err != nil {
			return nil, err
		}
		if len(bytes.TrimSpace(raw)) == 0 {
			return out, nil
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&out); err != nil {
			return nil, err
		}
		return out, nil
	}
}
