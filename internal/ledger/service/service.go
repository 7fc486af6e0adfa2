// Package service orchestrates the tamper-evident ledger: append, query,
// verification, extract generation, and anchor receipt recording.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tcredex/ledgerd/internal/hashchain"
	"github.com/tcredex/ledgerd/internal/ledger/model"
	"go.uber.org/zap"
)

// ErrEmptyExtract is returned when an extract request matches zero events.
// An extract with no content is not a meaningful audit artifact, so this is
// a caller error rather than a silent empty result.
var ErrEmptyExtract = errors.New("no events match the extract criteria")

// ErrUnknownAnchorType is returned when an anchor receipt names a target
// outside the closed set.
var ErrUnknownAnchorType = errors.New("unknown anchor type")

// Store is the persistence interface the service consumes. Both
// *repository.Postgres and *repository.Memory satisfy it.
type Store interface {
	AppendEvent(ctx context.Context, candidate *model.LedgerEvent) (*model.LedgerEvent, error)
	QueryEvents(ctx context.Context, f model.EventFilter) ([]model.LedgerEvent, error)
	RangeEvents(ctx context.Context, startID, endID int64) ([]model.LedgerEvent, error)
	GetEvent(ctx context.Context, id int64) (*model.LedgerEvent, error)
	LatestTip(ctx context.Context) (*model.TipInfo, error)
	CountEvents(ctx context.Context) (int64, error)

	InsertAnchor(ctx context.Context, a *model.LedgerAnchor) (*model.LedgerAnchor, error)
	ListAnchors(ctx context.Context, limit int) ([]model.LedgerAnchor, error)
	LatestAnchor(ctx context.Context, t model.AnchorType) (*model.LedgerAnchor, error)

	InsertVerification(ctx context.Context, v *model.VerificationResult) error
}

// LedgerService is the single writer of ledger events. It never deletes and
// never mutates persisted rows; it holds no chain state of its own — the
// durable, lock-protected tip inside the store is the only source of truth,
// so correctness holds across concurrent callers and multiple instances.
type LedgerService struct {
	store  Store
	logger *zap.Logger
}

// New creates a LedgerService.
func New(store Store, logger *zap.Logger) *LedgerService {
	return &LedgerService{store: store, logger: logger}
}

// LogEvent validates the input against the closed taxonomies, stamps the
// capture time, and appends the event through the store's atomic chain
// extension. A store failure propagates unchanged: no partial write occurs
// and the chain is safe to retry against.
func (s *LedgerService) LogEvent(ctx context.Context, input *model.EventInput) (*model.LedgerEvent, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	// Postgres stores timestamptz at microsecond precision; the canonical
	// string must survive a round trip through the store or historic hashes
	// become un-rederivable.
	now := time.Now().UTC().Truncate(time.Microsecond)

	candidate := &model.LedgerEvent{
		EventTimestamp: now,
		ActorType:      input.ActorType,
		ActorID:        input.ActorID,
		EntityType:     input.EntityType,
		EntityID:       input.EntityID,
		Action:         input.Action,
		Payload:        input.Payload,
		ModelVersion:   input.ModelVersion,
		ReasonCodes:    input.ReasonCodes,
	}

	ev, err := s.store.AppendEvent(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("append ledger event: %w", err)
	}

	s.logger.Info("ledger event logged",
		zap.Int64("id", ev.ID),
		zap.String("action", string(ev.Action)),
		zap.String("entity", string(ev.EntityType)+":"+ev.EntityID),
		zap.String("actor", string(ev.ActorType)+":"+ev.ActorID),
	)
	return ev, nil
}

// QueryEvents returns events matching the filter in ascending id order.
func (s *LedgerService) QueryEvents(ctx context.Context, f model.EventFilter) ([]model.LedgerEvent, error) {
	return s.store.QueryEvents(ctx, f)
}

// GetEntityHistory returns every event concerning one business object.
func (s *LedgerService) GetEntityHistory(ctx context.Context, entityType model.EntityType, entityID string) ([]model.LedgerEvent, error) {
	return s.store.QueryEvents(ctx, model.EventFilter{
		EntityType: entityType,
		EntityID:   entityID,
	})
}

// GetEvent returns a single event by id.
func (s *LedgerService) GetEvent(ctx context.Context, id int64) (*model.LedgerEvent, error) {
	return s.store.GetEvent(ctx, id)
}

// VerifyChain fetches the requested id range (zero bounds are unbounded),
// recomputes the hash chain, persists a run summary for audit filing, and
// returns the result. Finding issues is a successful outcome; only a failed
// store read is an error — "could not fetch" is never treated as "valid".
func (s *LedgerService) VerifyChain(ctx context.Context, startID, endID int64, requestedBy string) (*model.VerificationResult, error) {
	events, err := s.store.RangeEvents(ctx, startID, endID)
	if err != nil {
		return nil, fmt.Errorf("fetch events for verification: %w", err)
	}

	issues := hashchain.VerifyChain(events)
	summary := hashchain.Summary(events)

	result := &model.VerificationResult{
		RunID:         uuid.NewString(),
		Valid:         len(issues) == 0,
		EventsChecked: len(events),
		Issues:        issues,
		RequestedBy:   requestedBy,
		VerifiedAt:    time.Now().UTC(),
	}
	if summary != nil {
		result.StartEventID = summary.FirstEventID
		result.EndEventID = summary.LastEventID
		result.FinalHash = summary.LastHash
	}

	// The run record is an audit convenience; failing to write it must not
	// turn a completed verification into an error.
	if err := s.store.InsertVerification(ctx, result); err != nil {
		s.logger.Warn("could not record verification run", zap.Error(err))
	}

	if !result.Valid {
		s.logger.Warn("chain verification found issues",
			zap.String("run_id", result.RunID),
			zap.Int("issues", len(issues)),
			zap.Int("events_checked", result.EventsChecked),
		)
	}
	return result, nil
}

// GenerateExtract returns the full event list for a filter plus boundary
// hashes for external audit hand-off. It fails with ErrEmptyExtract when the
// filter matches nothing.
func (s *LedgerService) GenerateExtract(ctx context.Context, f model.EventFilter, extractedBy string) (*model.LedgerExtract, error) {
	if f.Limit <= 0 {
		// An extract is a complete artifact, not a page.
		f.Limit = 100000
	}
	events, err := s.store.QueryEvents(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("fetch events for extract: %w", err)
	}
	if len(events) == 0 {
		return nil, ErrEmptyExtract
	}

	first, last := events[0], events[len(events)-1]
	return &model.LedgerExtract{
		ExtractID:      uuid.NewString(),
		Events:         events,
		StartTimestamp: first.EventTimestamp,
		EndTimestamp:   last.EventTimestamp,
		EventCount:     len(events),
		FirstHash:      first.Hash,
		FinalHash:      last.Hash,
		ExtractedAt:    time.Now().UTC(),
		ExtractedBy:    extractedBy,
	}, nil
}

// GetLatestHash returns the current chain tip. Used by the anchor publisher.
func (s *LedgerService) GetLatestHash(ctx context.Context) (*model.TipInfo, error) {
	return s.store.LatestTip(ctx)
}

// CountEvents returns the total chain length.
func (s *LedgerService) CountEvents(ctx context.Context) (int64, error) {
	return s.store.CountEvents(ctx)
}

// RecordAnchor persists an anchor receipt. It never touches event rows.
func (s *LedgerService) RecordAnchor(ctx context.Context, eventID int64, hash string, anchorType model.AnchorType, externalRef string, metadata map[string]any) (*model.LedgerAnchor, error) {
	if !anchorType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAnchorType, anchorType)
	}
	anchor := &model.LedgerAnchor{
		LedgerEventID:     eventID,
		AnchoredHash:      hash,
		AnchorType:        anchorType,
		ExternalReference: externalRef,
		AnchoredAt:        time.Now().UTC(),
		Metadata:          metadata,
	}
	rec, err := s.store.InsertAnchor(ctx, anchor)
	if err != nil {
		return nil, fmt.Errorf("record anchor: %w", err)
	}
	s.logger.Info("anchor recorded",
		zap.Int64("event_id", eventID),
		zap.String("anchor_type", string(anchorType)),
		zap.String("external_ref", externalRef),
	)
	return rec, nil
}

// GetAnchors returns the most recent anchor receipts.
func (s *LedgerService) GetAnchors(ctx context.Context, limit int) ([]model.LedgerAnchor, error) {
	return s.store.ListAnchors(ctx, limit)
}

// LatestAnchorFor returns the newest receipt for one target type, letting
// the publisher skip tips it has already anchored.
func (s *LedgerService) LatestAnchorFor(ctx context.Context, t model.AnchorType) (*model.LedgerAnchor, error) {
	return s.store.LatestAnchor(ctx, t)
}
