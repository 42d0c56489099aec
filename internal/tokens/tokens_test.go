package tokens

import (
	"context"
	"testing"
	"time"

	"github.com/callhub/signalhub/internal/config"
	"github.com/callhub/signalhub/internal/identity"
	"github.com/callhub/signalhub/internal/store/memory"
)

func testConfig() *config.Config {
	return &config.Config{
		TurnMode:       config.TurnModeCustom,
		TurnURLs:       "turn:turn.example.com:3478",
		TurnUsername:   "static-user",
		TurnCredential: "static-pass",
		StunURLs:       "stun:stun.l.google.com:19302",
	}
}

func TestIssueFreeTierGetsStunOnlyNoTURN(t *testing.T) {
	st := memory.New()
	svc := New(st.Tokens(), testConfig())
	ctx := context.Background()

	res, err := svc.Issue(ctx, "call:alice", "call:bob", identity.PlanFree)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if res.AllowTURN {
		t.Fatalf("expected free tier to not be granted TURN")
	}
	for _, srv := range res.ICEServers {
		for _, u := range srv.URLs {
			if len(u) >= 4 && u[:4] == "turn" {
				t.Fatalf("expected no TURN urls for free tier, got %v", srv.URLs)
			}
		}
	}
}

func TestIssuePaidTierGetsTURNWhenConfigured(t *testing.T) {
	st := memory.New()
	svc := New(st.Tokens(), testConfig())
	ctx := context.Background()

	res, err := svc.Issue(ctx, "call:alice", "call:bob", identity.PlanPro)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !res.AllowTURN {
		t.Fatalf("expected paid tier with TURN configured to get AllowTURN=true")
	}
	found := false
	for _, srv := range res.ICEServers {
		if srv.Username != "" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected at least one ICE server with TURN credentials, got %+v", res.ICEServers)
	}
}

func TestConsumeIsSingleUse(t *testing.T) {
	st := memory.New()
	svc := New(st.Tokens(), testConfig())
	ctx := context.Background()

	res, err := svc.Issue(ctx, "call:carol", "call:dave", identity.PlanFree)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	code, _, err := svc.Consume(ctx, res.Token, time.Now(), "127.0.0.1")
	if err != nil {
		t.Fatalf("Consume first: %v", err)
	}
	if code != CodeOK {
		t.Fatalf("expected CodeOK on first use, got %v", code)
	}

	code, _, err = svc.Consume(ctx, res.Token, time.Now(), "127.0.0.1")
	if err != nil {
		t.Fatalf("Consume replay: %v", err)
	}
	if code != CodeReplay {
		t.Fatalf("expected CodeReplay on second use, got %v", code)
	}
}

func TestConsumeExpiredToken(t *testing.T) {
	st := memory.New()
	svc := New(st.Tokens(), testConfig())
	ctx := context.Background()

	res, err := svc.Issue(ctx, "call:erin", "call:frank", identity.PlanFree)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	future := time.Now().Add(TTL + time.Minute)
	code, _, err := svc.Consume(ctx, res.Token, future, "127.0.0.1")
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if code != CodeExpired {
		t.Fatalf("expected CodeExpired, got %v", code)
	}
}

func TestConsumeUnknownToken(t *testing.T) {
	st := memory.New()
	svc := New(st.Tokens(), testConfig())
	ctx := context.Background()

	code, _, err := svc.Consume(ctx, "does-not-exist", time.Now(), "127.0.0.1")
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if code != CodeNotFound {
		t.Fatalf("expected CodeNotFound, got %v", code)
	}
}

func TestConcurrentConsumeOnlyOneWins(t *testing.T) {
	st := memory.New()
	svc := New(st.Tokens(), testConfig())
	ctx := context.Background()

	res, err := svc.Issue(ctx, "call:grace", "call:hank", identity.PlanFree)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	const n = 10
	results := make(chan Code, n)
	for i := 0; i < n; i++ {
		go func() {
			code, _, err := svc.Consume(ctx, res.Token, time.Now(), "127.0.0.1")
			if err != nil {
				results <- CodeNotFound
				return
			}
			results <- code
		}()
	}

	oks := 0
	for i := 0; i < n; i++ {
		if <-results == CodeOK {
			oks++
		}
	}
	if oks != 1 {
		t.Fatalf("expected exactly one winning Consume, got %d", oks)
	}
}
