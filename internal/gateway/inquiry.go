package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/akylbek/payment-system/payment-reconciler/internal/telemetry"
)

const inquiryDateLayout = "2006-01-02 15:04"

// InquiryRequest identifies the transaction to look up. OtherTrxCode is the
// intent id; the trx codes are fallbacks for matching the returned records.
type InquiryRequest struct {
	OtherTrxCode    string
	GatewayTrxCode  string
	CallbackTrxCode string
}

type InquiryResult struct {
	Result
	AmountCents int64
	HasAmount   bool
	TrxCode     string
	Record      map[string]any
}

// Inquire asks the gateway for its own record of the transaction. Success
// means a matching record with a usable amount was found.
func (c *Client) Inquire(ctx context.Context, req InquiryRequest) (InquiryResult, error) {
	now := c.now().UTC()
	short := ShortTrxCode(req.OtherTrxCode)

	res, err := c.post(ctx, "inquiry", pathPaymentList, paymentAuthKey, paymentReqKey, map[string]any{
		"OtherTrxCode":     short,
		"PaymentStartDate": now.Add(-c.lookback).Format(inquiryDateLayout),
		"PaymentEndDate":   now.Format(inquiryDateLayout),
	})
	out := InquiryResult{Result: res}
	if err != nil {
		return out, err
	}

	if httpOK(res.HTTPStatus) && res.ResultCode == "Success" {
		out.Record = matchRecord(recordList(res.Raw["Data"]), short, req.GatewayTrxCode, req.CallbackTrxCode)
	}
	if out.Record != nil {
		out.TrxCode = text(out.Record["TrxCode"])
		if cents, err := ParseAmountCents(out.Record["Amount"]); err == nil {
			out.AmountCents = cents
			out.HasAmount = true
		}
	}
	out.Success = out.Record != nil && out.HasAmount
	telemetry.ObserveGateway("inquiry", out.Success)
	return out, nil
}

func recordList(data any) []map[string]any {
	switch t := data.(type) {
	case []any:
		return objects(t)
	case map[string]any:
		for _, key := range []string{"PaymentList", "DealerPaymentList", "TrxList", "Items", "List", "Payments"} {
			if list, ok := t[key].([]any); ok {
				return objects(list)
			}
		}
	}
	return nil
}

func objects(list []any) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// matchRecord prefers OtherTrxCode, then the stored gateway trx code, then the
// trx code claimed by the callback.
func matchRecord(records []map[string]any, short, gatewayTrxCode, callbackTrxCode string) map[string]any {
	want := strings.ToLower(short)
	for _, r := range records {
		if want != "" && strings.ToLower(strings.ReplaceAll(text(r["OtherTrxCode"]), "-", "")) == want {
			return r
		}
	}
	for _, code := range []string{gatewayTrxCode, callbackTrxCode} {
		if code == "" {
			continue
		}
		for _, r := range records {
			if strings.EqualFold(text(r["TrxCode"]), code) {
				return r
			}
		}
	}
	return nil
}

// SetClock replaces the client's time source.
func (c *Client) SetClock(now func() time.Time) {
	c.now = now
}
