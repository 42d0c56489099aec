package envelope

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/callhub/signalhub/internal/identity"
)

// Sign builds and signs a new Envelope for the given keypair. It is used
// by tests and can double as a reference implementation for client SDKs.
func Sign(priv ed25519.PrivateKey, typ Type, nonce string, payload interface{}, at time.Time) (*Envelope, error) {
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("envelope: private key has no Ed25519 public key")
	}

	address, err := identity.AddressFromPublicKey(pub)
	if err != nil {
		return nil, err
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal payload: %w", err)
	}

	e := &Envelope{
		Type:        typ,
		FromPubkey:  base64.StdEncoding.EncodeToString(pub),
		FromAddress: address,
		Nonce:       nonce,
		Timestamp:   at.UnixMilli(),
		Payload:     payloadBytes,
	}

	signed, err := e.SignedBytes()
	if err != nil {
		return nil, err
	}

	sig := ed25519.Sign(priv, signed)
	e.Signature = base64.StdEncoding.EncodeToString(sig)
	return e, nil
}
