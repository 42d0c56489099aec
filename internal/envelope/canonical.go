package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Canonicalize re-encodes arbitrary JSON bytes into the canonical form
// every envelope producer/consumer must agree on: keys sorted
// lexicographically at every nesting level, no insignificant whitespace,
// numbers preserved as written (via json.Number, so integers stay
// integers instead of drifting through float64).
//
// encoding/json already sorts map[string]any keys when marshaling, so
// decoding into `any` with UseNumber and re-marshaling is sufficient —
// there is no separate sort step to get wrong.
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("envelope: canonicalize decode: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("envelope: canonicalize: trailing data after JSON value")
	}

	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("envelope: canonicalize encode: %w", err)
	}
	return out, nil
}

// CanonicalizeValue canonicalizes an in-memory value (map/slice/etc.)
// directly, for producers building a payload without going through raw
// bytes first.
func CanonicalizeValue(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal for canonicalization: %w", err)
	}
	return Canonicalize(b)
}
