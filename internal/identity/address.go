// Package identity provides the Ed25519 address primitives shared by
// every other package: deriving a call address from a public key and
// validating the binding between the two.
package identity

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// AddressPrefix is prepended to the base58 encoding of a public key to
// form a call address.
const AddressPrefix = "call:"

var (
	// ErrBadAddress is returned when an address string is malformed.
	ErrBadAddress = errors.New("identity: malformed address")
	// ErrKeyLength is returned when a decoded public key is the wrong size.
	ErrKeyLength = errors.New("identity: public key must be 32 bytes")
)

// AddressFromPublicKey derives the canonical call address for a public key.
func AddressFromPublicKey(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", ErrKeyLength
	}
	return AddressPrefix + base58.Encode(pub), nil
}

// PublicKeyFromAddress reverses AddressFromPublicKey, decoding the
// base58 payload back into a raw Ed25519 public key.
func PublicKeyFromAddress(address string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(address, AddressPrefix) {
		return nil, ErrBadAddress
	}
	raw, err := base58.Decode(strings.TrimPrefix(address, AddressPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadAddress, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, ErrKeyLength
	}
	return ed25519.PublicKey(raw), nil
}

// AddressMatchesKey reports whether address is the canonical address for pub.
func AddressMatchesKey(address string, pub ed25519.PublicKey) bool {
	want, err := AddressFromPublicKey(pub)
	if err != nil {
		return false
	}
	return want == address
}

// IsValidAddress reports whether address is well-formed (correct prefix,
// valid base58, correct decoded length). It does not prove key ownership.
func IsValidAddress(address string) bool {
	_, err := PublicKeyFromAddress(address)
	return err == nil
}
