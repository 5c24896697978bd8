package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/fluxcode/transcoder/pkg/cache"
)

// Sign computes the X-Webhook-Signature header value: sha256=<hex HMAC-SHA256>
// over the canonical JSON encoding of payload (spec §6's "Signature header").
func Sign(secret string, payload map[string]interface{}) (string, error) {
	canonical, err := cache.CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifySignature recomputes the signature and compares it in constant time
// — used by tests asserting the round-trip property from spec §8.
func VerifySignature(secret string, payload map[string]interface{}, signature string) (bool, error) {
	expected, err := Sign(secret, payload)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(signature)), nil
}
