package envelope

import (
	"crypto/ed25519"
	"time"

	"github.com/callhub/signalhub/internal/identity"
)

// Code is a stable, wire-safe failure code (spec.md §4.1, §7).
type Code string

const (
	CodeOK              Code = ""
	CodeExpired         Code = "expired"
	CodeReplay          Code = "replay"
	CodeBadSignature    Code = "bad_signature"
	CodeAddressMismatch Code = "address_mismatch"
	CodeNotRegistered   Code = "not_registered"
)

// FreshnessWindow is the maximum allowed clock skew between client
// timestamp and server time (spec.md §4.1: "|now - timestamp| <= 60s").
const FreshnessWindow = 60 * time.Second

// ConnectionOwnership is implemented by the connection registry and lets
// the verifier confirm "the live connection that delivered the envelope
// must be the one registered under from_address" without importing the
// registry package (which would create an import cycle, since the
// registry sits above envelope verification in the dependency graph).
type ConnectionOwnership interface {
	IsOwner(address string, connID int64) bool
}

// Verifier checks envelopes per spec.md §4.1.
type Verifier struct {
	nonces   *NonceMemo
	registry ConnectionOwnership
	now      func() time.Time
}

// NewVerifier builds a Verifier backed by its own nonce memo and the
// given connection registry.
func NewVerifier(registry ConnectionOwnership) *Verifier {
	return &Verifier{
		nonces:   NewNonceMemo(),
		registry: registry,
		now:      time.Now,
	}
}

// Nonces exposes the underlying memo so cmd/hubd's periodic pruning loop
// can prune it.
func (v *Verifier) Nonces() *NonceMemo { return v.nonces }

// Verify runs every check in spec.md §4.1 and returns CodeOK on success
// or the first failing check's code otherwise.
func (v *Verifier) Verify(e *Envelope, connID int64) Code {
	now := v.now()

	delta := now.UnixMilli() - e.Timestamp
	if delta < 0 {
		delta = -delta
	}
	if delta > FreshnessWindow.Milliseconds() {
		return CodeExpired
	}

	if !v.nonces.CheckAndInsert(e.Nonce, now) {
		return CodeReplay
	}

	pub, err := e.DecodedPubkey()
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return CodeBadSignature
	}

	if !identity.AddressMatchesKey(e.FromAddress, ed25519.PublicKey(pub)) {
		return CodeAddressMismatch
	}

	signed, err := e.SignedBytes()
	if err != nil {
		return CodeBadSignature
	}

	sig, err := e.DecodedSignature()
	if err != nil {
		return CodeBadSignature
	}

	if !ed25519.Verify(ed25519.PublicKey(pub), signed, sig) {
		return CodeBadSignature
	}

	if v.registry != nil && !v.registry.IsOwner(e.FromAddress, connID) {
		return CodeNotRegistered
	}

	return CodeOK
}

// VerifyRegistration runs the subset of checks that apply to the very
// first envelope on a connection (the `register` envelope), where the
// connection is not yet bound to from_address so the ownership check is
// skipped — registration is what creates that binding.
func (v *Verifier) VerifyRegistration(e *Envelope) Code {
	now := v.now()

	delta := now.UnixMilli() - e.Timestamp
	if delta < 0 {
		delta = -delta
	}
	if delta > FreshnessWindow.Milliseconds() {
		return CodeExpired
	}

	if !v.nonces.CheckAndInsert(e.Nonce, now) {
		return CodeReplay
	}

	pub, err := e.DecodedPubkey()
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return CodeBadSignature
	}

	if !identity.AddressMatchesKey(e.FromAddress, ed25519.PublicKey(pub)) {
		return CodeAddressMismatch
	}

	signed, err := e.SignedBytes()
	if err != nil {
		return CodeBadSignature
	}

	sig, err := e.DecodedSignature()
	if err != nil {
		return CodeBadSignature
	}

	if !ed25519.Verify(ed25519.PublicKey(pub), signed, sig) {
		return CodeBadSignature
	}

	return CodeOK
}
