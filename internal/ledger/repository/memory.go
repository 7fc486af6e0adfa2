package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tcredex/ledgerd/internal/hashchain"
	"github.com/tcredex/ledgerd/internal/ledger/model"
)

// Memory is an in-process, mutex-serialised ledger store. It implements the
// same chain semantics as Postgres and is used by tests and dev mode; it does
// not survive restarts.
type Memory struct {
	mu            sync.RWMutex
	events        []model.LedgerEvent
	anchors       []model.LedgerAnchor
	verifications []model.VerificationResult
	nextAnchorID  int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{nextAnchorID: 1}
}

// AppendEvent extends the chain under the store mutex, assigning id,
// prev_hash, and hash exactly as the Postgres store does.
func (s *Memory) AppendEvent(_ context.Context, candidate *model.LedgerEvent) (*model.LedgerEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := *candidate
	ev.ID = int64(len(s.events)) + 1
	if n := len(s.events); n > 0 {
		ev.PrevHash = s.events[n-1].Hash
	}
	ev.CreatedAt = time.Now().UTC()

	hash, err := hashchain.ComputeEventHash(&ev)
	if err != nil {
		return nil, err
	}
	ev.Hash = hash

	s.events = append(s.events, ev)
	return &ev, nil
}

// QueryEvents filters the in-memory event list; results are in ascending id
// order because the slice is append-only.
func (s *Memory) QueryEvents(_ context.Context, f model.EventFilter) ([]model.LedgerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []model.LedgerEvent
	for _, ev := range s.events {
		if f.EntityType != "" && ev.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != "" && ev.EntityID != f.EntityID {
			continue
		}
		if f.ActorID != "" && ev.ActorID != f.ActorID {
			continue
		}
		if f.Action != "" && ev.Action != f.Action {
			continue
		}
		if !f.StartTime.IsZero() && ev.EventTimestamp.Before(f.StartTime) {
			continue
		}
		if !f.EndTime.IsZero() && ev.EventTimestamp.After(f.EndTime) {
			continue
		}
		matched = append(matched, ev)
	}

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[f.Offset:]
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// RangeEvents returns events with startID <= id <= endID; zero bounds are
// unbounded.
func (s *Memory) RangeEvents(_ context.Context, startID, endID int64) ([]model.LedgerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.LedgerEvent
	for _, ev := range s.events {
		if startID != 0 && ev.ID < startID {
			continue
		}
		if endID != 0 && ev.ID > endID {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// GetEvent returns a single event by id.
func (s *Memory) GetEvent(_ context.Context, id int64) (*model.LedgerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id < 1 || id > int64(len(s.events)) {
		return nil, ErrNotFound
	}
	ev := s.events[id-1]
	return &ev, nil
}

// LatestTip returns the newest event's id, hash, and timestamp.
func (s *Memory) LatestTip(_ context.Context) (*model.TipInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return nil, ErrNotFound
	}
	last := s.events[len(s.events)-1]
	return &model.TipInfo{EventID: last.ID, Hash: last.Hash, Timestamp: last.EventTimestamp}, nil
}

// CountEvents returns the number of events.
func (s *Memory) CountEvents(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.events)), nil
}

// InsertAnchor records an anchor receipt.
func (s *Memory) InsertAnchor(_ context.Context, a *model.LedgerAnchor) (*model.LedgerAnchor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := *a
	rec.ID = s.nextAnchorID
	s.nextAnchorID++
	if rec.AnchoredAt.IsZero() {
		rec.AnchoredAt = time.Now().UTC()
	}
	s.anchors = append(s.anchors, rec)
	return &rec, nil
}

// ListAnchors returns the most recent anchors, newest first.
func (s *Memory) ListAnchors(_ context.Context, limit int) ([]model.LedgerAnchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}
	out := make([]model.LedgerAnchor, len(s.anchors))
	copy(out, s.anchors)
	sort.Slice(out, func(i, j int) bool {
		if out[i].AnchoredAt.Equal(out[j].AnchoredAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].AnchoredAt.After(out[j].AnchoredAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LatestAnchor returns the newest anchor for a target type.
func (s *Memory) LatestAnchor(_ context.Context, t model.AnchorType) (*model.LedgerAnchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *model.LedgerAnchor
	for i := range s.anchors {
		a := &s.anchors[i]
		if a.AnchorType != t {
			continue
		}
		if latest == nil || a.AnchoredAt.After(latest.AnchoredAt) ||
			(a.AnchoredAt.Equal(latest.AnchoredAt) && a.ID > latest.ID) {
			latest = a
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	rec := *latest
	return &rec, nil
}

// InsertVerification records a verification-run summary.
func (s *Memory) InsertVerification(_ context.Context, v *model.VerificationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifications = append(s.verifications, *v)
	return nil
}

// Verifications returns recorded verification runs. Test helper.
func (s *Memory) Verifications() []model.VerificationResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.VerificationResult, len(s.verifications))
	copy(out, s.verifications)
	return out
}

// TamperEvent overwrites a stored event in place, bypassing all integrity
// machinery. It exists only so tests can simulate out-of-band mutation of
// durable rows; nothing in the service calls it.
func (s *Memory) TamperEvent(id int64, mutate func(*model.LedgerEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id >= 1 && id <= int64(len(s.events)) {
		mutate(&s.events[id-1])
	}
}
