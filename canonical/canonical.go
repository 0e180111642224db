// Package canonical computes deterministic content hashes over JSON values.
// Change detection across webhook replays and full refreshes depends on the
// same value always producing the same digest, regardless of map iteration
// order or which process computed it.
//
// Normalization rules:
//   - object keys are sorted ascending (byte-wise), recursively
//   - array order is preserved (availability vectors are positional)
//   - numbers are rendered the way encoding/json renders the decoded value,
//     so an integer-valued float is emitted as "1", never "1.0"
//   - strings pass through unchanged; null and booleans use literal forms
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Hash returns the 64-hex-char SHA-256 digest of the normalized form of v.
// v may be any JSON-marshalable value; structs and decoded interface{} trees
// hash identically.
func Hash(v interface{}) (string, error) {
	normalized, err := Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:]), nil
}

// Equal reports whether two digests match. Empty or missing digests never
// compare equal, not even to each other.
func Equal(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return a == b
}

// DeletionHash returns the canonical digest of the deletion marker for an
// entity. A stream entry carrying this digest tells clients to drop the
// entity from their local cache.
func DeletionHash(entityID string) string {
	h, err := Hash(map[string]interface{}{
		"deleted":   true,
		"entity_id": entityID,
	})
	if err != nil {
		// The marker value is a two-field map of primitives; Hash cannot
		// fail on it.
		panic(fmt.Sprintf("canonical: deletion marker hash: %v", err))
	}
	return h
}

// Marshal returns the canonical JSON encoding of v: the value is first
// round-tripped through encoding/json so that struct inputs and decoded
// inputs normalize identically, then re-encoded with sorted object keys.
func Marshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}

	var tree interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("canonical: decode: %w", err)
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("canonical: key %q: %w", k, err)
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	default:
		// string, float64, bool, nil
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("canonical: value: %w", err)
		}
		buf.Write(raw)
		return nil
	}
}
