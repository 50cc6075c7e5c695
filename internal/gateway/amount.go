package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var errNoAmount = errors.New("no amount")

var hundred = decimal.NewFromInt(100)

// ParseAmountCents normalizes a gateway amount ("99.90", "99,90", 99.9) to
// integer cents, rounding half away from zero.
func ParseAmountCents(v any) (int64, error) {
	var d decimal.Decimal
	var err error

	switch t := v.(type) {
	case nil:
		return 0, errNoAmount
	case json.Number:
		d, err = decimal.NewFromString(t.String())
	case float64:
		d = decimal.NewFromFloat(t)
	case int64:
		d = decimal.NewFromInt(t)
	case int:
		d = decimal.NewFromInt(int64(t))
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(t, ",", "."))
		if s == "" {
			return 0, errNoAmount
		}
		d, err = decimal.NewFromString(s)
	default:
		return 0, fmt.Errorf("unsupported amount type %T", v)
	}
	if err != nil {
		return 0, fmt.Errorf("parse amount: %w", err)
	}
	return d.Mul(hundred).Round(0).IntPart(), nil
}

// FormatAmount renders cents the way the gateway expects ("99.90").
func FormatAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
