package service

import (
	"strings"

	"github.com/akylbek/payment-system/payment-reconciler/internal/canonical"
	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
)

// Accepted spellings per callback field, first match wins.
var (
	intentIDKeys      = []string{"intentId", "IntentId", "MyTrxCode", "myTrxCode"}
	otherTrxCodeKeys  = []string{"OtherTrxCode", "otherTrxCode"}
	trxCodeKeys       = []string{"trxCode", "TrxCode"}
	resultCodeKeys    = []string{"resultCode", "ResultCode"}
	resultMessageKeys = []string{"resultMessage", "ResultMessage"}
	bankCodeKeys      = []string{"bankResultCode", "BankResultCode"}
	isSuccessfulKeys  = []string{"isSuccessful", "IsSuccessful"}
)

// MergeParams overlays query values onto body without overriding any key the
// body already carries.
func MergeParams(body map[string]any, query map[string][]string) map[string]any {
	out := make(map[string]any, len(body)+len(query))
	for k, v := range body {
		out[k] = v
	}
	for k, values := range query {
		if _, ok := out[k]; ok || len(values) == 0 {
			continue
		}
		out[k] = values[0]
	}
	return out
}

// NormalizeCallback maps a raw callback payload onto the typed event.
func NormalizeCallback(payload map[string]any) models.CallbackEvent {
	return models.CallbackEvent{
		IntentID:       lookup(payload, intentIDKeys),
		TrxCode:        lookup(payload, trxCodeKeys),
		OtherTrxCode:   lookup(payload, otherTrxCodeKeys),
		ResultCode:     lookup(payload, resultCodeKeys),
		ResultMessage:  lookup(payload, resultMessageKeys),
		BankResultCode: lookup(payload, bankCodeKeys),
		IsSuccessful:   lookup(payload, isSuccessfulKeys),
		Payload:        payload,
	}
}

func lookup(payload map[string]any, keys []string) string {
	for _, k := range keys {
		v, ok := payload[k]
		if !ok {
			continue
		}
		if s := strings.TrimSpace(canonical.Stringify(v)); s != "" {
			return s
		}
	}
	return ""
}
