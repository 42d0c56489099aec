// Package tokens implements the call-session token issuer (spec.md
// §4.6): opaque single-use tokens gating call-initiation envelopes.
package tokens

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/callhub/signalhub/internal/config"
	"github.com/callhub/signalhub/internal/events"
	"github.com/callhub/signalhub/internal/identity"
	"github.com/callhub/signalhub/internal/store"
)

// TTL is the call-session token lifetime (spec.md §4.6).
const TTL = 10 * time.Minute

// Code is the outcome of a token lifecycle operation.
type Code int

const (
	CodeOK Code = iota
	CodeNotFound
	CodeExpired
	CodeReplay
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeNotFound:
		return "token_not_found"
	case CodeExpired:
		return "token_expired"
	case CodeReplay:
		return "token_replay"
	default:
		return "unknown"
	}
}

// IssueResult is the response body of POST /api/call-session-token.
type IssueResult struct {
	Token          string
	Nonce          string
	IssuedAt       time.Time
	ExpiresAt      time.Time
	ServerTime     time.Time
	Plan           identity.Plan
	AllowTURN      bool
	AllowVideo     bool
	TurnConfigured bool
	ICEServers     []ICEServer
}

// Service issues and consumes call-session tokens.
type Service struct {
	store store.TokenStore
	cfg   *config.Config
	audit *events.Stream
}

func New(s store.TokenStore, cfg *config.Config) *Service {
	return &Service{store: s, cfg: cfg}
}

// WithAudit attaches an audit event stream; every subsequent Issue and
// Consume call appends a token.issued/token.used/token.rejected event.
// Passing a nil stream (the default) makes this a no-op, matching
// events.Stream's own nil-receiver semantics.
func (s *Service) WithAudit(stream *events.Stream) *Service {
	s.audit = stream
	return s
}

// Issue mints a fresh call-session token for address, optionally scoped
// to targetAddress (spec.md §4.6). The raw nonce is returned to the
// client once; only its SHA-256 hash is persisted.
func (s *Service) Issue(ctx context.Context, address, targetAddress string, plan identity.Plan) (*IssueResult, error) {
	nonce, err := randomNonce()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	t := &store.CallToken{
		Token:         uuid.NewString(),
		NonceHash:     sha256.Sum256([]byte(nonce)),
		UserAddress:   address,
		TargetAddress: targetAddress,
		Plan:          plan,
		IssuedAt:      now,
		ExpiresAt:     now.Add(TTL),
	}

	turnConfigured := s.cfg.TurnMode != config.TurnModeOff
	t.AllowTURN = plan.IsPaid() && turnConfigured
	t.AllowVideo = true

	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}
	s.audit.Emit(ctx, events.KindTokenIssued, address, map[string]any{"target_address": targetAddress})

	return &IssueResult{
		Token:          t.Token,
		Nonce:          nonce,
		IssuedAt:       t.IssuedAt,
		ExpiresAt:      t.ExpiresAt,
		ServerTime:     now,
		Plan:           plan,
		AllowTURN:      t.AllowTURN,
		AllowVideo:     t.AllowVideo,
		TurnConfigured: turnConfigured,
		ICEServers:     BuildICEServers(s.cfg, t.AllowTURN, address),
	}, nil
}

// Consume implements spec.md §4.6's atomic verification: a single
// nil->non-nil transition of used_at. CodeReplay means zero rows were
// affected because the token was already used.
func (s *Service) Consume(ctx context.Context, token string, now time.Time, byIP string) (Code, *store.CallToken, error) {
	t, ok, err := s.store.Get(ctx, token)
	if err != nil {
		return CodeNotFound, nil, err
	}
	if !ok {
		return CodeNotFound, nil, nil
	}
	if now.After(t.ExpiresAt) {
		s.audit.Emit(ctx, events.KindTokenRejected, t.UserAddress, map[string]any{"reason": CodeExpired.String()})
		return CodeExpired, t, nil
	}

	used, err := s.store.MarkUsed(ctx, token, now, byIP)
	if err != nil {
		return CodeNotFound, nil, err
	}
	if !used {
		s.audit.Emit(ctx, events.KindTokenRejected, t.UserAddress, map[string]any{"reason": CodeReplay.String()})
		return CodeReplay, t, nil
	}
	s.audit.Emit(ctx, events.KindTokenUsed, t.UserAddress, map[string]any{"by_ip": byIP})
	return CodeOK, t, nil
}

// PruneExpired deletes tokens more than 24h past expiry (spec.md §4.9).
func (s *Service) PruneExpired(ctx context.Context, now time.Time) (int, error) {
	return s.store.DeleteExpiredBefore(ctx, now.Add(-24*time.Hour))
}

func randomNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("tokens: failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
