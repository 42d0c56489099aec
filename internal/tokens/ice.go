package tokens

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/callhub/signalhub/internal/config"
)

// ICEServer is one entry of the RTCIceServer list handed to clients by
// POST /api/call-session-token and GET /api/ice.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// iceCredentialTTL bounds how long a generated TURN credential remains
// valid, independent of the call-session token's own TTL.
const iceCredentialTTL = 1 * time.Hour

// BuildICEServers returns the tier-appropriate ICE server list: STUN
// only for free-tier/unauthorized requests, STUN+TURN for paid tiers
// when a TURN server is configured (spec.md §4.6).
func BuildICEServers(cfg *config.Config, allowTURN bool, address string) []ICEServer {
	var servers []ICEServer

	if stun := splitURLs(cfg.StunURLs); len(stun) > 0 {
		servers = append(servers, ICEServer{URLs: stun})
	}

	if !allowTURN || cfg.TurnMode == config.TurnModeOff {
		return servers
	}

	switch cfg.TurnMode {
	case config.TurnModeCustom:
		turnURLs := splitURLs(cfg.TurnURLs)
		if len(turnURLs) == 0 {
			return servers
		}
		if cfg.TurnSecret != "" {
			username, credential := timeLimitedTURNCredential(cfg.TurnSecret, address, iceCredentialTTL)
			servers = append(servers, ICEServer{URLs: turnURLs, Username: username, Credential: credential})
		} else if cfg.TurnUsername != "" {
			servers = append(servers, ICEServer{URLs: turnURLs, Username: cfg.TurnUsername, Credential: cfg.TurnCredential})
		}
	case config.TurnModePublic:
		// Public mode relies on the STUN server list above; no
		// credentialed TURN relay is offered.
	}

	return servers
}

// timeLimitedTURNCredential implements the coturn/rfc-draft REST API
// convention: username is "<expiry-unix>:<user>", credential is the
// base64 HMAC-SHA1 of username keyed by the shared secret.
func timeLimitedTURNCredential(secret, address string, ttl time.Duration) (username, credential string) {
	expiry := time.Now().Add(ttl).Unix()
	username = fmt.Sprintf("%d:%s", expiry, address)

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(username))
	credential = base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return username, credential
}

func splitURLs(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
