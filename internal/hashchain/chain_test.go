package hashchain_test

import (
	"testing"
	"time"

	"github.com/tcredex/ledgerd/internal/hashchain"
	"github.com/tcredex/ledgerd/internal/ledger/model"
)

var baseTime = time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)

func makeEvent(t *testing.T, id int64, prevHash string) model.LedgerEvent {
	t.Helper()
	ev := model.LedgerEvent{
		ID:             id,
		EventTimestamp: baseTime.Add(time.Duration(id) * time.Minute),
		ActorType:      model.ActorSystem,
		ActorID:        "scoring-engine",
		EntityType:     model.EntityApplication,
		EntityID:       "app-1042",
		Action:         model.ActionDistressScoreCalculated,
		Payload:        map[string]any{"score": 71.5, "tract": "06037206020"},
		ModelVersion:   "distress-v3.2",
		ReasonCodes:    map[string]any{"poverty_rate": "above_threshold"},
		PrevHash:       prevHash,
	}
	hash, err := hashchain.ComputeEventHash(&ev)
	if err != nil {
		t.Fatalf("ComputeEventHash: %v", err)
	}
	ev.Hash = hash
	return ev
}

func makeChain(t *testing.T, n int) []model.LedgerEvent {
	t.Helper()
	events := make([]model.LedgerEvent, 0, n)
	prev := ""
	for i := 1; i <= n; i++ {
		ev := makeEvent(t, int64(i), prev)
		events = append(events, ev)
		prev = ev.Hash
	}
	return events
}

func TestComputeEventHash_deterministic(t *testing.T) {
	ev := makeEvent(t, 1, "")

	again, err := hashchain.ComputeEventHash(&ev)
	if err != nil {
		t.Fatal(err)
	}
	if again != ev.Hash {
		t.Errorf("hash not deterministic: %q vs %q", again, ev.Hash)
	}
	if len(ev.Hash) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(ev.Hash))
	}
}

func TestCanonicalMap_keyOrderIndependent(t *testing.T) {
	a := map[string]any{"zeta": 1.0, "alpha": "x", "mid": true}
	b := map[string]any{"mid": true, "alpha": "x", "zeta": 1.0}

	ca, err := hashchain.CanonicalMap(a)
	if err != nil {
		t.Fatal(err)
	}
	cb, err := hashchain.CanonicalMap(b)
	if err != nil {
		t.Fatal(err)
	}
	if ca != cb {
		t.Errorf("canonical encodings differ: %q vs %q", ca, cb)
	}
	if ca != `{"alpha":"x","mid":true,"zeta":1}` {
		t.Errorf("unexpected canonical form: %q", ca)
	}
}

func TestCanonicalMap_absentMapIsEmptyString(t *testing.T) {
	c, err := hashchain.CanonicalMap(nil)
	if err != nil {
		t.Fatal(err)
	}
	if c != "" {
		t.Errorf("nil map: got %q, want empty string", c)
	}
}

func TestBuildCanonicalString_fieldOrder(t *testing.T) {
	s, err := hashchain.BuildCanonicalString(
		7, baseTime,
		model.ActorHuman, "analyst-9",
		model.EntityDocument, "doc-55",
		model.ActionDocumentExecuted,
		map[string]any{"pages": 12.0},
		"", nil, "abc123",
	)
	if err != nil {
		t.Fatal(err)
	}
	want := "7|2026-03-14T09:26:53.589793238Z|human|analyst-9|document|doc-55|document_executed|" +
		`{"pages":12}` + "|||abc123"
	if s != want {
		t.Errorf("canonical string:\n got %q\nwant %q", s, want)
	}
}

func TestVerifyChain_emptyRangeIsValid(t *testing.T) {
	issues := hashchain.VerifyChain(nil)
	if len(issues) != 0 {
		t.Errorf("expected no issues for empty range, got %d", len(issues))
	}
}

func TestVerifyChain_validChain(t *testing.T) {
	events := makeChain(t, 5)
	issues := hashchain.VerifyChain(events)
	if len(issues) != 0 {
		t.Errorf("valid chain reported %d issue(s): %+v", len(issues), issues)
	}
}

func TestVerifyChain_unorderedInputIsSorted(t *testing.T) {
	events := makeChain(t, 4)
	shuffled := []model.LedgerEvent{events[2], events[0], events[3], events[1]}
	issues := hashchain.VerifyChain(shuffled)
	if len(issues) != 0 {
		t.Errorf("shuffled valid chain reported issues: %+v", issues)
	}
}

// Tampering with B's payload (without recomputing its hash) must produce
// exactly one hash_mismatch on B. C's prev_hash still matches B's stored
// hash, so no prev_hash_mismatch may cascade onto C.
func TestVerifyChain_targetedTamperDetection(t *testing.T) {
	events := makeChain(t, 3)
	events[1].Payload["score"] = 99.9

	issues := hashchain.VerifyChain(events)
	if len(issues) != 1 {
		t.Fatalf("expected exactly 1 issue, got %d: %+v", len(issues), issues)
	}
	issue := issues[0]
	if issue.EventID != events[1].ID {
		t.Errorf("issue on event %d, want %d", issue.EventID, events[1].ID)
	}
	if issue.IssueType != model.IssueHashMismatch {
		t.Errorf("issue type %q, want %q", issue.IssueType, model.IssueHashMismatch)
	}
	if issue.Actual != events[1].Hash {
		t.Errorf("actual digest should be the stored hash")
	}
	if issue.Expected == "" || issue.Expected == events[1].Hash {
		t.Errorf("expected digest should be the recomputed (differing) hash")
	}
}

// Altering B's stored hash field breaks both B's own hash check and C's
// prev-link, which still references B's original hash.
func TestVerifyChain_brokenLinkDetection(t *testing.T) {
	events := makeChain(t, 3)
	events[1].Hash = "deadbeef" + events[1].Hash[8:]

	issues := hashchain.VerifyChain(events)
	if len(issues) != 2 {
		t.Fatalf("expected 2 issues, got %d: %+v", len(issues), issues)
	}

	byType := map[string]model.ChainIssue{}
	for _, is := range issues {
		byType[is.IssueType] = is
	}

	hm, ok := byType[model.IssueHashMismatch]
	if !ok || hm.EventID != events[1].ID {
		t.Errorf("expected hash_mismatch on event %d, got %+v", events[1].ID, byType)
	}
	pm, ok := byType[model.IssuePrevHashMismatch]
	if !ok || pm.EventID != events[2].ID {
		t.Errorf("expected prev_hash_mismatch on event %d, got %+v", events[2].ID, byType)
	}
	if pm.Expected != events[1].Hash {
		t.Errorf("prev_hash_mismatch expected value should be B's stored hash")
	}
	if pm.Actual != events[2].PrevHash {
		t.Errorf("prev_hash_mismatch actual value should be C's prev_hash")
	}
}

func TestSummary(t *testing.T) {
	if s := hashchain.Summary(nil); s != nil {
		t.Errorf("expected nil summary for empty range, got %+v", s)
	}

	events := makeChain(t, 4)
	s := hashchain.Summary(events)
	if s == nil {
		t.Fatal("nil summary")
	}
	if s.FirstEventID != 1 || s.LastEventID != 4 {
		t.Errorf("boundary ids: %d..%d, want 1..4", s.FirstEventID, s.LastEventID)
	}
	if s.FirstHash != events[0].Hash || s.LastHash != events[3].Hash {
		t.Error("boundary hashes do not match")
	}
	if s.EventCount != 4 {
		t.Errorf("count %d, want 4", s.EventCount)
	}
}

func TestGenerateReport(t *testing.T) {
	events := makeChain(t, 3)
	report := hashchain.GenerateReport(events, "auditor@example.com")

	if !report.Valid {
		t.Errorf("valid chain reported invalid: %+v", report.Issues)
	}
	if report.EventsChecked != 3 {
		t.Errorf("events checked %d, want 3", report.EventsChecked)
	}
	if report.RequestedBy != "auditor@example.com" {
		t.Errorf("requested_by %q", report.RequestedBy)
	}
	if report.Summary == nil || report.Summary.LastHash != events[2].Hash {
		t.Error("report summary missing or wrong")
	}

	// A tampered chain still produces a report — issues are data, not errors.
	events[0].ActorID = "someone-else"
	report = hashchain.GenerateReport(events, "auditor@example.com")
	if report.Valid {
		t.Error("tampered chain reported valid")
	}
	if len(report.Issues) == 0 {
		t.Error("tampered chain produced no issues")
	}
}

func TestComputeFileHash(t *testing.T) {
	h1 := hashchain.ComputeFileHash([]byte("loan agreement v1"))
	h2 := hashchain.ComputeFileHash([]byte("loan agreement v1"))
	h3 := hashchain.ComputeFileHash([]byte("loan agreement v2"))
	if h1 != h2 {
		t.Error("file hash not deterministic")
	}
	if h1 == h3 {
		t.Error("distinct content produced identical hashes")
	}
	if len(h1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(h1))
	}
}
