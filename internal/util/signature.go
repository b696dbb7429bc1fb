package util

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// VerifyHMACHex checks a hex-encoded HMAC-SHA256 signature over the raw
// payload bytes. Comparison is constant-time; malformed input and an empty
// secret both report invalid rather than erroring.
func VerifyHMACHex(payload []byte, signatureHex, secret string) bool {
	if secret == "" || signatureHex == "" {
		return false
	}
	sig, err := hex.DecodeString(strings.TrimSpace(signatureHex))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(sig, mac.Sum(nil))
}

// VerifySvixSignature checks a svix-style webhook signature. The secret is
// "whsec_" + base64(key); the signed content is "id.timestamp.payload"; the
// signature header carries space-separated "v1,<base64>" entries, any one of
// which may match (svix sends multiple entries during secret rotation).
func VerifySvixSignature(id, timestamp string, payload []byte, signatureHeader, secret string) bool {
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	if err != nil || len(key) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s.%s.", id, timestamp)
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, entry := range strings.Fields(signatureHeader) {
		version, sig, ok := strings.Cut(entry, ",")
		if !ok || version != "v1" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return true
		}
	}
	return false
}

// SignHMACHex produces the hex HMAC-SHA256 of the payload. Used by tests and
// by local webhook replay tooling.
func SignHMACHex(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignSvix produces a "v1,<base64>" signature header value for the given
// message. Counterpart of VerifySvixSignature, for tests and replay tooling.
func SignSvix(id, timestamp string, payload []byte, secret string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	if err != nil {
		return "", fmt.Errorf("decode svix secret: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s.%s.", id, timestamp)
	mac.Write(payload)
	return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// IdempotencyKey derives the ledger key for a billing event. Two deliveries
// describing the same logical transition collapse to the same key; a changed
// status or update timestamp yields a new one.
func IdempotencyKey(eventID, status string, updatedAtMs int64) string {
	return fmt.Sprintf("%s:%s:%d", eventID, status, updatedAtMs)
}

// NormalizeTimestamp coerces the timestamp encodings seen across billing
// providers (epoch millis, epoch seconds, RFC3339 strings, native times,
// JSON numbers) to epoch milliseconds. Unparsable input falls back to now.
func NormalizeTimestamp(v any, now time.Time) int64 {
	switch t := v.(type) {
	case nil:
		return now.UnixMilli()
	case time.Time:
		return t.UnixMilli()
	case int64:
		return epochToMillis(t)
	case int:
		return epochToMillis(int64(t))
	case float64:
		return epochToMillis(int64(t))
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed.UnixMilli()
		}
		return now.UnixMilli()
	default:
		return now.UnixMilli()
	}
}

// Values below 1e12 are epoch seconds (1e12 ms is year 2001, 1e12 s is year
// 33658; real timestamps never fall in between).
func epochToMillis(v int64) int64 {
	if v > 0 && v < 1e12 {
		return v * 1000
	}
	return v
}
