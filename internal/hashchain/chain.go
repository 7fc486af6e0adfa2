package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/tcredex/ledgerd/internal/ledger/model"
)

// ComputeHash returns the hex-encoded SHA-256 digest of a canonical string.
func ComputeHash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// ComputeEventHash builds the canonical string for an event and hashes it.
// Pure: identical logical input always yields the identical digest.
func ComputeEventHash(ev *model.LedgerEvent) (string, error) {
	canonical, err := CanonicalEventString(ev)
	if err != nil {
		return "", err
	}
	return ComputeHash(canonical), nil
}

// ComputeFileHash returns the hex SHA-256 of raw content. Producers use it to
// fingerprint documents before logging document_hashed events.
func ComputeFileHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// VerifyChain recomputes and cross-checks a range of events and returns every
// integrity issue found. An empty slice of events is trivially valid.
//
// Two checks run per event:
//   - the stored hash must equal the recomputed hash of the event's own
//     content (hash_mismatch);
//   - for every event after the first in the range, prev_hash must equal the
//     *stored* hash of the preceding event (prev_hash_mismatch). Comparing
//     against the stored rather than recomputed predecessor hash isolates
//     the tampered event instead of cascading false positives downstream.
func VerifyChain(events []model.LedgerEvent) []model.ChainIssue {
	issues := []model.ChainIssue{}
	if len(events) == 0 {
		return issues
	}

	sorted := make([]model.LedgerEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for i := range sorted {
		ev := &sorted[i]

		computed, err := ComputeEventHash(ev)
		if err != nil {
			issues = append(issues, model.ChainIssue{
				EventID:   ev.ID,
				IssueType: model.IssueHashMismatch,
				Actual:    ev.Hash,
				Message:   fmt.Sprintf("event %d: cannot canonicalize: %v", ev.ID, err),
			})
			continue
		}
		if computed != ev.Hash {
			issues = append(issues, model.ChainIssue{
				EventID:   ev.ID,
				IssueType: model.IssueHashMismatch,
				Expected:  computed,
				Actual:    ev.Hash,
				Message:   fmt.Sprintf("event %d: computed hash does not match stored hash", ev.ID),
			})
		}

		if i > 0 {
			prev := &sorted[i-1]
			if ev.PrevHash != prev.Hash {
				issues = append(issues, model.ChainIssue{
					EventID:   ev.ID,
					IssueType: model.IssuePrevHashMismatch,
					Expected:  prev.Hash,
					Actual:    ev.PrevHash,
					Message:   fmt.Sprintf("event %d: prev_hash does not match hash of event %d", ev.ID, prev.ID),
				})
			}
		}
	}
	return issues
}

// Summary returns the boundary ids and hashes of a range, or nil for an
// empty range.
func Summary(events []model.LedgerEvent) *model.ChainSummary {
	if len(events) == 0 {
		return nil
	}
	sorted := make([]model.LedgerEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	first, last := sorted[0], sorted[len(sorted)-1]
	return &model.ChainSummary{
		FirstEventID: first.ID,
		LastEventID:  last.ID,
		FirstHash:    first.Hash,
		LastHash:     last.Hash,
		EventCount:   len(events),
	}
}

// Report wraps VerifyChain output with range boundaries, a timestamp, and the
// requester's identity, suitable for audit filing.
type Report struct {
	Valid         bool                `json:"valid"`
	EventsChecked int                 `json:"events_checked"`
	Issues        []model.ChainIssue  `json:"issues"`
	Summary       *model.ChainSummary `json:"summary"`
	VerifiedAt    time.Time           `json:"verified_at"`
	RequestedBy   string              `json:"requested_by"`
}

// GenerateReport verifies events and assembles an audit report.
func GenerateReport(events []model.LedgerEvent, requestedBy string) *Report {
	issues := VerifyChain(events)
	return &Report{
		Valid:         len(issues) == 0,
		EventsChecked: len(events),
		Issues:        issues,
		Summary:       Summary(events),
		VerifiedAt:    time.Now().UTC(),
		RequestedBy:   requestedBy,
	}
}
