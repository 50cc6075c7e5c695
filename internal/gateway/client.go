// Package gateway wraps the Bakiyem (Moka dealer API) payment gateway. The
// client is stateless and never retries; callers own retry and ledger policy.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/akylbek/payment-system/payment-reconciler/internal/canonical"
	"github.com/akylbek/payment-system/payment-reconciler/internal/config"
	"github.com/akylbek/payment-system/payment-reconciler/internal/telemetry"
)

const (
	pathPaymentList         = "/PaymentDealer/GetPaymentList"
	pathCapture             = "/PaymentDealer/DoCapture"
	pathRefund              = "/PaymentDealer/DoCreateRefundRequest"
	pathVoid                = "/PaymentDealer/DoVoid"
	pathAddCard             = "/DealerCustomer/AddCard"
	pathAddCustomerWithCard = "/DealerCustomer/AddCustomerWithCard"

	paymentAuthKey  = "PaymentDealerAuthentication"
	paymentReqKey   = "PaymentDealerRequest"
	customerAuthKey = "DealerCustomerAuthentication"
	customerReqKey  = "DealerCustomerRequest"

	// VoidRefundReason 2 is "other" in the dealer API.
	voidReasonOther = 2

	maxResponseBytes = 1 << 20
	shortTrxCodeLen  = 20
	defaultClientIP  = "127.0.0.1"
)

type Credentials struct {
	DealerCode string
	Username   string
	Password   string
}

// CheckKey is the gateway's shared-secret digest, recomputed per request.
func (c Credentials) CheckKey() string {
	return canonical.Digest(c.DealerCode + "MK" + c.Username + "PD" + c.Password)
}

func (c Credentials) block() map[string]any {
	return map[string]any{
		"DealerCode": c.DealerCode,
		"Username":   c.Username,
		"Password":   c.Password,
		"CheckKey":   c.CheckKey(),
	}
}

func maskedBlock() map[string]any {
	return map[string]any{
		"DealerCode": "masked",
		"Username":   "masked",
		"Password":   "masked",
		"CheckKey":   "masked",
	}
}

// Result is the outcome of one gateway call. Request is safe to persist:
// credentials and card secrets are masked.
type Result struct {
	Success       bool
	HTTPStatus    int
	ResultCode    string
	ResultMessage string
	Request       map[string]any
	Raw           map[string]any
}

type Client struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
	lookback   time.Duration
	now        func() time.Time
}

func NewClient(cfg config.GatewayConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	lookback := cfg.InquiryLookback
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		creds:      Credentials{DealerCode: cfg.DealerCode, Username: cfg.Username, Password: cfg.Password},
		httpClient: &http.Client{Timeout: timeout},
		lookback:   lookback,
		now:        time.Now,
	}
}

// ShortTrxCode is the intent id as the gateway stores it in OtherTrxCode:
// dashes removed, at most 20 characters.
func ShortTrxCode(intentID string) string {
	s := strings.ReplaceAll(intentID, "-", "")
	if len(s) > shortTrxCodeLen {
		s = s[:shortTrxCodeLen]
	}
	return s
}

// Capture settles a pre-authorized transaction.
func (c *Client) Capture(ctx context.Context, trxCode string, amountCents int64) (Result, error) {
	res, err := c.post(ctx, "capture", pathCapture, paymentAuthKey, paymentReqKey, map[string]any{
		"VirtualPosOrderId": trxCode,
		"Amount":            FormatAmount(amountCents),
	})
	if err != nil {
		return res, err
	}
	res.Success = operationSucceeded(res)
	telemetry.ObserveGateway("capture", res.Success)
	return res, nil
}

// Refund requests a refund. amountCents <= 0 refunds the full amount.
func (c *Client) Refund(ctx context.Context, trxCode string, amountCents int64, clientIP string) (Result, error) {
	body := map[string]any{
		"VirtualPosOrderId": trxCode,
		"ClientIP":          clientIPOrDefault(clientIP),
	}
	if amountCents > 0 {
		body["Amount"] = FormatAmount(amountCents)
	}
	res, err := c.post(ctx, "refund", pathRefund, paymentAuthKey, paymentReqKey, body)
	if err != nil {
		return res, err
	}
	res.Success = operationSucceeded(res)
	telemetry.ObserveGateway("refund", res.Success)
	return res, nil
}

// Void cancels a transaction before settlement.
func (c *Client) Void(ctx context.Context, trxCode, clientIP string) (Result, error) {
	res, err := c.post(ctx, "void", pathVoid, paymentAuthKey, paymentReqKey, map[string]any{
		"VirtualPosOrderId": trxCode,
		"VoidRefundReason":  voidReasonOther,
		"ClientIP":          clientIPOrDefault(clientIP),
	})
	if err != nil {
		return res, err
	}
	res.Success = operationSucceeded(res)
	telemetry.ObserveGateway("void", res.Success)
	return res, nil
}

// post sends one JSON request. Transport faults come back as errors; any HTTP
// response, 2xx or not, comes back as a Result.
func (c *Client) post(ctx context.Context, op, path, authKey, reqKey string, body map[string]any) (Result, error) {
	return c.postMasked(ctx, op, path, authKey, reqKey, body, body)
}

func (c *Client) postMasked(ctx context.Context, op, path, authKey, reqKey string, body, logged map[string]any) (Result, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "gateway."+op)
	defer span.End()
	span.SetAttributes(attribute.String("gateway.path", path))

	res := Result{Request: map[string]any{authKey: maskedBlock(), reqKey: logged}}

	payload, err := json.Marshal(map[string]any{authKey: c.creds.block(), reqKey: body})
	if err != nil {
		return res, fmt.Errorf("encode %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return res, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		telemetry.ObserveGateway(op, false)
		return res, fmt.Errorf("gateway %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		span.RecordError(err)
		telemetry.ObserveGateway(op, false)
		return res, fmt.Errorf("read %s response: %w", op, err)
	}

	res.HTTPStatus = resp.StatusCode
	res.Raw = decodeObject(data)
	res.ResultCode = text(res.Raw["ResultCode"])
	res.ResultMessage = text(res.Raw["ResultMessage"])

	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.String("gateway.result_code", res.ResultCode),
	)
	return res, nil
}

// operationSucceeded requires a 2xx, a top-level "Success" and the nested
// bank confirmation.
func operationSucceeded(res Result) bool {
	if !httpOK(res.HTTPStatus) || res.ResultCode != "Success" {
		return false
	}
	data, ok := res.Raw["Data"].(map[string]any)
	if !ok {
		return false
	}
	if successful, _ := data["IsSuccessful"].(bool); successful {
		return true
	}
	return text(data["ResultCode"]) == "00"
}

func httpOK(status int) bool {
	return status >= 200 && status < 300
}

func decodeObject(data []byte) map[string]any {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var out map[string]any
	if err := dec.Decode(&out); err != nil || out == nil {
		raw := strings.TrimSpace(string(data))
		if raw == "" {
			return map[string]any{}
		}
		if len(raw) > 512 {
			raw = raw[:512]
		}
		return map[string]any{"raw": raw}
	}
	return out
}

func text(v any) string {
	return strings.TrimSpace(canonical.Stringify(v))
}

func clientIPOrDefault(ip string) string {
	if ip = strings.TrimSpace(ip); ip != "" {
		return ip
	}
	return defaultClientIP
}
