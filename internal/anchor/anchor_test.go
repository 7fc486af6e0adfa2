package anchor_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tcredex/ledgerd/internal/anchor"
	"github.com/tcredex/ledgerd/internal/ledger/model"
	"github.com/tcredex/ledgerd/internal/ledger/repository"
	"github.com/tcredex/ledgerd/internal/ledger/service"
	"go.uber.org/zap"
)

var ctx = context.Background()

func newLedger(t *testing.T) *service.LedgerService {
	t.Helper()
	return service.New(repository.NewMemory(), zap.NewNop())
}

func appendEvent(t *testing.T, svc *service.LedgerService) *model.LedgerEvent {
	t.Helper()
	ev, err := svc.LogEvent(ctx, &model.EventInput{
		ActorType:  model.ActorSystem,
		ActorID:    "matching-engine",
		EntityType: model.EntityProject,
		EntityID:   "proj-1",
		Action:     model.ActionCDEMatchSuggested,
		Payload:    map[string]any{"cde": "cde-44"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return ev
}

// recordingSender captures escrow messages instead of delivering them.
type recordingSender struct {
	to, subject, body string
	sends             int
}

func (r *recordingSender) Send(_ context.Context, to, subject, body string) error {
	r.to, r.subject, r.body = to, subject, body
	r.sends++
	return nil
}

func TestGistTarget_createThenUpdate(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		if got := r.Header.Get("Authorization"); got != "token test-token" {
			t.Errorf("auth header %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "tcredex-ledger-anchor.json") {
			t.Errorf("request body missing anchor filename: %s", body)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":         "gist-777",
			"html_url":   "https://gist.github.com/gist-777",
			"updated_at": "2026-09-01T10:00:00Z",
		})
	}))
	defer srv.Close()

	target := anchor.NewGistTarget("test-token", "", "tCredex.com", srv.Client())
	target.SetBaseURL(srv.URL)

	tip := &model.TipInfo{EventID: 5, Hash: strings.Repeat("ab", 32), Timestamp: time.Now().UTC()}

	ref, meta, err := target.Publish(ctx, tip)
	if err != nil {
		t.Fatal(err)
	}
	if ref != "gist-777" {
		t.Errorf("ref %q", ref)
	}
	if meta["url"] != "https://gist.github.com/gist-777" {
		t.Errorf("metadata url %v", meta["url"])
	}

	// Second publish must update the gist created by the first, not open a
	// second external record.
	if _, _, err := target.Publish(ctx, tip); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 API calls, got %v", calls)
	}
	if calls[0] != "POST /gists" {
		t.Errorf("first call %q, want POST /gists", calls[0])
	}
	if calls[1] != "PATCH /gists/gist-777" {
		t.Errorf("second call %q, want PATCH /gists/gist-777", calls[1])
	}
}

func TestGistTarget_surfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"Bad credentials"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	target := anchor.NewGistTarget("bad-token", "", "tCredex.com", srv.Client())
	target.SetBaseURL(srv.URL)

	_, _, err := target.Publish(ctx, &model.TipInfo{EventID: 1, Hash: strings.Repeat("00", 32)})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestEscrowEmailTarget_publish(t *testing.T) {
	sender := &recordingSender{}
	target := anchor.NewEscrowEmailTarget(sender, "escrow@thirdparty.example", "tCredex.com")

	tip := &model.TipInfo{EventID: 9, Hash: strings.Repeat("cd", 32), Timestamp: time.Now().UTC()}
	ref, meta, err := target.Publish(ctx, tip)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(ref, "anchor-9-") {
		t.Errorf("ref %q", ref)
	}
	if sender.to != "escrow@thirdparty.example" {
		t.Errorf("recipient %q", sender.to)
	}
	if !strings.Contains(sender.body, tip.Hash) {
		t.Error("escrow body missing tip hash")
	}
	if meta["recipient"] != "escrow@thirdparty.example" {
		t.Errorf("metadata %v", meta)
	}
}

func TestOpenTimestampsTarget_publish(t *testing.T) {
	proof := []byte{0x00, 0x4f, 0x54, 0x53}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/digest" {
			t.Errorf("path %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if len(body) != 32 {
			t.Errorf("digest length %d, want 32 raw bytes", len(body))
		}
		w.Write(proof)
	}))
	defer srv.Close()

	target := anchor.NewOpenTimestampsTarget(srv.URL, srv.Client())
	tip := &model.TipInfo{EventID: 3, Hash: strings.Repeat("ef", 32), Timestamp: time.Now().UTC()}

	ref, meta, err := target.Publish(ctx, tip)
	if err != nil {
		t.Fatal(err)
	}
	if ref != "ots-3" {
		t.Errorf("ref %q", ref)
	}
	if meta["proof_base64"] == "" {
		t.Error("missing proof in metadata")
	}
}

func TestOpenTimestampsTarget_rejectsBadHash(t *testing.T) {
	target := anchor.NewOpenTimestampsTarget("http://127.0.0.1:0", nil)
	_, _, err := target.Publish(ctx, &model.TipInfo{EventID: 1, Hash: "not-hex"})
	if err == nil {
		t.Error("expected error for non-hex tip hash")
	}
}

// Publishing the same tip twice through the publisher must hit the external
// target once: the second pass sees the receipt and skips.
func TestPublisher_idempotentPerTip(t *testing.T) {
	svc := newLedger(t)
	appendEvent(t, svc)

	sender := &recordingSender{}
	target := anchor.NewEscrowEmailTarget(sender, "escrow@thirdparty.example", "tCredex.com")
	pub := anchor.NewPublisher(svc, []anchor.Target{target}, time.Hour, zap.NewNop())

	if got := pub.RunOnce(ctx); len(got) != 1 {
		t.Fatalf("first pass recorded %d receipts, want 1", len(got))
	}
	if got := pub.RunOnce(ctx); len(got) != 0 {
		t.Fatalf("second pass recorded %d receipts, want 0", len(got))
	}
	if sender.sends != 1 {
		t.Errorf("external target hit %d times, want 1", sender.sends)
	}

	// A new event moves the tip; the next pass anchors again.
	appendEvent(t, svc)
	if got := pub.RunOnce(ctx); len(got) != 1 {
		t.Fatalf("post-append pass recorded %d receipts, want 1", len(got))
	}
	if sender.sends != 2 {
		t.Errorf("external target hit %d times, want 2", sender.sends)
	}
}

func TestPublisher_emptyLedgerIsNoop(t *testing.T) {
	svc := newLedger(t)
	sender := &recordingSender{}
	target := anchor.NewEscrowEmailTarget(sender, "escrow@thirdparty.example", "tCredex.com")
	pub := anchor.NewPublisher(svc, []anchor.Target{target}, time.Hour, zap.NewNop())

	if got := pub.RunOnce(ctx); len(got) != 0 {
		t.Fatalf("empty ledger recorded %d receipts", len(got))
	}
	if sender.sends != 0 {
		t.Error("external target hit on empty ledger")
	}
}

// One failing target must not block the others.
type failingTarget struct{}

func (failingTarget) Type() model.AnchorType { return model.AnchorOpenTimestamps }
func (failingTarget) Publish(context.Context, *model.TipInfo) (string, map[string]any, error) {
	return "", nil, context.DeadlineExceeded
}

func TestPublisher_failureIsIsolated(t *testing.T) {
	svc := newLedger(t)
	appendEvent(t, svc)

	sender := &recordingSender{}
	ok := anchor.NewEscrowEmailTarget(sender, "escrow@thirdparty.example", "tCredex.com")
	pub := anchor.NewPublisher(svc, []anchor.Target{failingTarget{}, ok}, time.Hour, zap.NewNop())

	var attempts []string
	pub.SetMetricsFunc(func(target string, success bool) {
		if success {
			attempts = append(attempts, target+":ok")
		} else {
			attempts = append(attempts, target+":fail")
		}
	})

	receipts := pub.RunOnce(ctx)
	if len(receipts) != 1 || receipts[0].AnchorType != model.AnchorEscrowEmail {
		t.Fatalf("receipts %+v", receipts)
	}
	if len(attempts) != 2 {
		t.Errorf("metrics attempts %v", attempts)
	}
}
