package gateway

import (
	"context"
	"strings"

	"github.com/akylbek/payment-system/payment-reconciler/internal/telemetry"
)

type CardDetails struct {
	HolderFullName string
	Number         string
	ExpMonth       string
	ExpYear        string
	CVC            string
	Email          string
}

type TokenizeResult struct {
	Result
	CardToken string
	Code      string
	Message   string
}

// TokenizeCard stores a card for customerCode. It first tries adding the card
// to an existing customer and falls back to creating the customer with it.
func (c *Client) TokenizeCard(ctx context.Context, customerCode string, card CardDetails) (TokenizeResult, error) {
	req := map[string]any{
		"CustomerCode":       customerCode,
		"CardHolderFullName": card.HolderFullName,
		"CardNumber":         strings.Join(strings.Fields(card.Number), ""),
		"ExpMonth":           card.ExpMonth,
		"ExpYear":            card.ExpYear,
		"CvcNumber":          card.CVC,
	}

	addCard, err := c.postMasked(ctx, "add_card", pathAddCard, customerAuthKey, customerReqKey, req, maskCard(req))
	if err != nil {
		return TokenizeResult{Result: addCard}, err
	}
	if token := cardToken(addCard); token != "" {
		addCard.Success = true
		telemetry.ObserveGateway("add_card", true)
		return TokenizeResult{Result: addCard, CardToken: token}, nil
	}
	telemetry.ObserveGateway("add_card", false)

	withCustomer := make(map[string]any, len(req)+1)
	for k, v := range req {
		withCustomer[k] = v
	}
	withCustomer["CustomerEmail"] = card.Email

	addCustomer, err := c.postMasked(ctx, "add_customer_with_card", pathAddCustomerWithCard, customerAuthKey, customerReqKey, withCustomer, maskCard(withCustomer))
	if err != nil {
		return TokenizeResult{Result: addCustomer}, err
	}
	if token := cardToken(addCustomer); token != "" {
		addCustomer.Success = true
		telemetry.ObserveGateway("add_customer_with_card", true)
		return TokenizeResult{Result: addCustomer, CardToken: token}, nil
	}
	telemetry.ObserveGateway("add_customer_with_card", false)

	out := TokenizeResult{Result: addCustomer}
	out.Code = firstNonEmpty(addCustomer.ResultCode, addCard.ResultCode)
	out.Message = firstNonEmpty(addCustomer.ResultMessage, addCard.ResultMessage)
	if out.Message == "" {
		out.Message = "card token could not be created"
		if out.Code != "" {
			out.Message += " (" + out.Code + ")"
		}
	}
	return out, nil
}

func cardToken(res Result) string {
	if !httpOK(res.HTTPStatus) || res.ResultCode != "Success" {
		return ""
	}
	data, ok := res.Raw["Data"].(map[string]any)
	if !ok {
		return ""
	}
	return text(data["CardToken"])
}

func maskCard(req map[string]any) map[string]any {
	out := make(map[string]any, len(req))
	for k, v := range req {
		out[k] = v
	}
	if pan, _ := out["CardNumber"].(string); len(pan) > 4 {
		out["CardNumber"] = strings.Repeat("*", len(pan)-4) + pan[len(pan)-4:]
	}
	out["CvcNumber"] = "***"
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
