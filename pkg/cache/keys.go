// Package cache implements the two-tier key/value store from spec §4.A: a
// remote shared tier (pkg/cache/redis) backing a bounded in-process fallback
// tier, with transparent degradation when the remote tier is unavailable.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

// Namespace is the fixed prefix every cache key lives under.
const Namespace = "transcoder"

var unsafeKeyChars = regexp.MustCompile(`[:\s]+`)

// BuildKey joins parts with colons under the fixed namespace, replacing any
// colon or whitespace within a part with an underscore so the join is
// unambiguous.
func BuildKey(parts ...string) string {
	cleaned := make([]string, 0, len(parts)+1)
	cleaned = append(cleaned, Namespace)
	for _, p := range parts {
		cleaned = append(cleaned, unsafeKeyChars.ReplaceAllString(p, "_"))
	}
	return strings.Join(cleaned, ":")
}

// HashValue deterministically encodes a complex input (map, slice, struct)
// using canonical JSON (sorted object keys) and returns the first 16 hex
// characters of its SHA-256 digest, for use as a cache-key component.
func HashValue(v interface{}) string {
	canonical, err := CanonicalJSON(v)
	if err != nil {
		canonical = []byte(`"` + err.Error() + `"`)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:16]
}

// CanonicalJSON re-marshals v through a generic interface{} decode/encode
// pass so object keys come out sorted lexicographically with no extraneous
// whitespace — the encoding used both for cache-key hashing and for webhook
// HMAC signing (spec's "Canonical JSON" glossary entry).
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return marshalSorted(generic)
}

func marshalSorted(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			b.Write(kb)
			b.WriteByte(':')
			vb, err := marshalSorted(val[k])
			if err != nil {
				return nil, err
			}
			b.Write(vb)
		}
		b.WriteByte('}')
		return []byte(b.String()), nil
	case []interface{}:
		var b strings.Builder
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			ib, err := marshalSorted(item)
			if err != nil {
				return nil, err
			}
			b.Write(ib)
		}
		b.WriteByte(']')
		return []byte(b.String()), nil
	default:
		return json.Marshal(val)
	}
}
