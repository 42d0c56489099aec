package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/callhub/signalhub/internal/config"
	"github.com/callhub/signalhub/internal/ledger"
	"github.com/callhub/signalhub/internal/store/memory"
	"github.com/callhub/signalhub/internal/tokens"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st := memory.New()
	cfg := &config.Config{
		TurnMode:       config.TurnModeOff,
		UploadDir:      t.TempDir(),
		MaxUploadBytes: 1 << 20,
	}
	return New(cfg, tokens.New(st.Tokens(), cfg), ledger.New(st.Conversations()), st.Identities(), zerolog.Nop())
}

func TestCallSessionTokenRequiresExistingIdentity(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(callSessionTokenRequest{Address: "call:nobody"})
	req := httptest.NewRequest(http.MethodPost, "/api/call-session-token", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown identity, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCallSessionTokenIssuesForKnownIdentity(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.identities.GetOrCreate(context.Background(), "call:alice", []byte("pubkey")); err != nil {
		t.Fatalf("seed identity: %v", err)
	}

	body, _ := json.Marshal(callSessionTokenRequest{Address: "call:alice", TargetAddress: "call:bob"})
	req := httptest.NewRequest(http.MethodPost, "/api/call-session-token", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res callSessionTokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Token == "" || res.Nonce == "" {
		t.Fatalf("expected token and nonce in response, got %+v", res)
	}
}

func TestICEReturnsConfiguredMode(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/ice", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["mode"] != string(config.TurnModeOff) {
		t.Fatalf("expected mode %q, got %v", config.TurnModeOff, out["mode"])
	}
}

func TestConversationsListsParticipant(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.ledger.EnsureDirectConversation(context.Background(), "call:alice", "call:bob"); err != nil {
		t.Fatalf("EnsureDirectConversation: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/call:alice", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Conversations []map[string]interface{} `json:"conversations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Conversations) != 1 {
		t.Fatalf("expected one conversation, got %+v", out.Conversations)
	}
}

func TestMessagesUnknownConversationIs404(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/messages/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHealthReportsHealthy(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestUploadThenFetchRoundTrips(t *testing.T) {
	s := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "note.txt")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write([]byte("hello upload")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var up uploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &up); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if up.Size != int64(len("hello upload")) {
		t.Fatalf("expected size %d, got %d", len("hello upload"), up.Size)
	}

	fetch := httptest.NewRequest(http.MethodGet, up.URL, nil)
	fetchRec := httptest.NewRecorder()
	s.Mux().ServeHTTP(fetchRec, fetch)
	if fetchRec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching uploaded file, got %d", fetchRec.Code)
	}
	if fetchRec.Body.String() != "hello upload" {
		t.Fatalf("expected roundtripped contents, got %q", fetchRec.Body.String())
	}
}

func TestFileRejectsPathTraversal(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/files/..%2F..%2Fetc%2Fpasswd", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	if rec.Code == http.StatusOK {
		t.Fatalf("expected traversal attempt to be rejected, got 200")
	}
}
