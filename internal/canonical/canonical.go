// Package canonical turns webhook payloads into stable strings and digests
// used as dedupe and audit keys.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Canonicalize sorts keys and joins key=value pairs with "&". Nil values
// become the empty string.
func Canonicalize(payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(Stringify(payload[k]))
	}
	return b.String()
}

// Stringify renders a decoded JSON or form value as text. Nested values are
// rendered as JSON, whose object keys are already sorted.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case []string:
		return strings.Join(t, ",")
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	}
}

// Digest is the hex SHA-256 of the UTF-8 bytes of input.
func Digest(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

func PayloadHash(payload map[string]any) string {
	return Digest(Canonicalize(payload))
}

func EventDedupeKey(provider, trxCode, resultCode, payloadHash string) string {
	return Digest(provider + ":" + trxCode + ":" + resultCode + ":" + payloadHash)
}
