package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tcredex/ledgerd/internal/hashchain"
	"github.com/tcredex/ledgerd/internal/ledger/model"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// advisoryLockKey serialises concurrent appends across all service instances.
// The value is arbitrary but must be identical everywhere the ledger runs.
const advisoryLockKey = int64(7_420_261_188)

// Postgres persists the ledger to PostgreSQL. The chain tip is never cached:
// every append re-reads the durable tip inside a transaction that holds a
// pg_advisory_xact_lock, so two racing appends cannot fork the chain even
// across horizontally-scaled instances.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres creates a Postgres store backed by the given connection pool.
func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) *Postgres {
	return &Postgres{pool: pool, logger: logger}
}

const eventColumns = `id, event_timestamp, actor_type, actor_id, entity_type, entity_id,
	action, payload, model_version, reason_codes, prev_hash, hash, sig, created_at`

// AppendEvent extends the chain with a candidate event. The candidate carries
// the business fields and event timestamp; id, prev_hash, and hash are
// assigned here, inside a single locked transaction. A failed append leaves
// the chain untouched and is safe to retry.
func (s *Postgres) AppendEvent(ctx context.Context, candidate *model.LedgerEvent) (*model.LedgerEvent, error) {
	payloadJSON, err := json.Marshal(candidate.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var reasonsJSON []byte
	if candidate.ReasonCodes != nil {
		if reasonsJSON, err = json.Marshal(candidate.ReasonCodes); err != nil {
			return nil, fmt.Errorf("marshal reason codes: %w", err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Transaction-scoped advisory lock; released on commit or rollback.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	// Read the durable chain tip. The first event ever appended gets id 1
	// and an empty prev_hash (the genesis invariant).
	var tipID int64
	var tipHash string
	err = tx.QueryRow(ctx,
		"SELECT id, hash FROM ledger_events ORDER BY id DESC LIMIT 1",
	).Scan(&tipID, &tipHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("read chain tip: %w", err)
	}

	ev := *candidate
	ev.ID = tipID + 1
	ev.PrevHash = tipHash
	ev.CreatedAt = time.Now().UTC()
	ev.Hash, err = hashchain.ComputeEventHash(&ev)
	if err != nil {
		return nil, fmt.Errorf("compute event hash: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_events (
			id, event_timestamp, actor_type, actor_id, entity_type, entity_id,
			action, payload, model_version, reason_codes, prev_hash, hash, sig, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		ev.ID, ev.EventTimestamp, ev.ActorType, ev.ActorID, ev.EntityType, ev.EntityID,
		ev.Action, payloadJSON, nullIfEmpty(ev.ModelVersion), reasonsJSON,
		nullIfEmpty(ev.PrevHash), ev.Hash, nullIfEmpty(ev.Sig), ev.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert ledger event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}

	s.logger.Debug("ledger event appended",
		zap.Int64("id", ev.ID),
		zap.String("action", string(ev.Action)),
		zap.String("entity", string(ev.EntityType)+":"+ev.EntityID),
	)
	return &ev, nil
}

// QueryEvents returns events matching the filter, ordered by ascending id.
func (s *Postgres) QueryEvents(ctx context.Context, f model.EventFilter) ([]model.LedgerEvent, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	var start, end *time.Time
	if !f.StartTime.IsZero() {
		start = &f.StartTime
	}
	if !f.EndTime.IsZero() {
		end = &f.EndTime
	}

	query := `
		SELECT ` + eventColumns + `
		FROM ledger_events
		WHERE ($1 = '' OR entity_type = $1)
		  AND ($2 = '' OR entity_id = $2)
		  AND ($3 = '' OR actor_id = $3)
		  AND ($4 = '' OR action = $4)
		  AND ($5::timestamptz IS NULL OR event_timestamp >= $5)
		  AND ($6::timestamptz IS NULL OR event_timestamp <= $6)
		ORDER BY id ASC
		LIMIT $7 OFFSET $8`

	rows, err := s.pool.Query(ctx, query,
		string(f.EntityType), f.EntityID, f.ActorID, string(f.Action),
		start, end, limit, f.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query ledger events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// RangeEvents returns events with startID <= id <= endID, ordered ascending.
// Zero bounds mean "unbounded" on that side.
func (s *Postgres) RangeEvents(ctx context.Context, startID, endID int64) ([]model.LedgerEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM ledger_events
		WHERE ($1 = 0 OR id >= $1)
		  AND ($2 = 0 OR id <= $2)
		ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query, startID, endID)
	if err != nil {
		return nil, fmt.Errorf("query ledger range: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetEvent returns a single event by id.
func (s *Postgres) GetEvent(ctx context.Context, id int64) (*model.LedgerEvent, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+eventColumns+" FROM ledger_events WHERE id = $1", id)
	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger event %d: %w", id, err)
	}
	return ev, nil
}

// LatestTip returns the id, hash, and timestamp of the newest event.
func (s *Postgres) LatestTip(ctx context.Context) (*model.TipInfo, error) {
	tip := &model.TipInfo{}
	err := s.pool.QueryRow(ctx,
		"SELECT id, hash, event_timestamp FROM ledger_events ORDER BY id DESC LIMIT 1",
	).Scan(&tip.EventID, &tip.Hash, &tip.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read chain tip: %w", err)
	}
	return tip, nil
}

// CountEvents returns the total number of ledger events.
func (s *Postgres) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM ledger_events").Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger events: %w", err)
	}
	return n, nil
}

// InsertAnchor persists an anchor receipt.
func (s *Postgres) InsertAnchor(ctx context.Context, a *model.LedgerAnchor) (*model.LedgerAnchor, error) {
	metaJSON, err := json.Marshal(a.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal anchor metadata: %w", err)
	}
	if a.AnchoredAt.IsZero() {
		a.AnchoredAt = time.Now().UTC()
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO ledger_anchors (
			ledger_event_id, anchored_hash, anchor_type, external_reference,
			anchored_at, verified, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		a.LedgerEventID, a.AnchoredHash, a.AnchorType,
		nullIfEmpty(a.ExternalReference), a.AnchoredAt, a.Verified, metaJSON,
	).Scan(&a.ID)
	if err != nil {
		return nil, fmt.Errorf("insert ledger anchor: %w", err)
	}
	return a, nil
}

// ListAnchors returns the most recent anchor receipts, newest first.
func (s *Postgres) ListAnchors(ctx context.Context, limit int) ([]model.LedgerAnchor, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, ledger_event_id, anchored_hash, anchor_type,
			COALESCE(external_reference, ''), anchored_at, verified, metadata
		 FROM ledger_anchors ORDER BY anchored_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger anchors: %w", err)
	}
	defer rows.Close()

	var anchors []model.LedgerAnchor
	for rows.Next() {
		var a model.LedgerAnchor
		var metaJSON []byte
		if err := rows.Scan(
			&a.ID, &a.LedgerEventID, &a.AnchoredHash, &a.AnchorType,
			&a.ExternalReference, &a.AnchoredAt, &a.Verified, &metaJSON,
		); err != nil {
			return nil, fmt.Errorf("scan ledger anchor: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &a.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal anchor metadata: %w", err)
			}
		}
		anchors = append(anchors, a)
	}
	return anchors, rows.Err()
}

// LatestAnchor returns the newest anchor receipt for a given target type.
func (s *Postgres) LatestAnchor(ctx context.Context, t model.AnchorType) (*model.LedgerAnchor, error) {
	a := &model.LedgerAnchor{}
	var metaJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, ledger_event_id, anchored_hash, anchor_type,
			COALESCE(external_reference, ''), anchored_at, verified, metadata
		 FROM ledger_anchors WHERE anchor_type = $1
		 ORDER BY anchored_at DESC, id DESC LIMIT 1`, t,
	).Scan(&a.ID, &a.LedgerEventID, &a.AnchoredHash, &a.AnchorType,
		&a.ExternalReference, &a.AnchoredAt, &a.Verified, &metaJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest anchor for %s: %w", t, err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &a.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal anchor metadata: %w", err)
		}
	}
	return a, nil
}

// InsertVerification records a verification-run summary for audit filing.
func (s *Postgres) InsertVerification(ctx context.Context, v *model.VerificationResult) error {
	var issuesJSON []byte
	if len(v.Issues) > 0 {
		var err error
		if issuesJSON, err = json.Marshal(v.Issues); err != nil {
			return fmt.Errorf("marshal chain issues: %w", err)
		}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_verifications (
			run_id, start_event_id, end_event_id, events_checked,
			chain_valid, issues, requested_by, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.RunID, v.StartEventID, v.EndEventID, v.EventsChecked,
		v.Valid, issuesJSON, nullIfEmpty(v.RequestedBy), v.VerifiedAt,
	)
	if err != nil {
		return fmt.Errorf("insert verification run: %w", err)
	}
	return nil
}

func scanEvents(rows pgx.Rows) ([]model.LedgerEvent, error) {
	var events []model.LedgerEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger event: %w", err)
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

func scanEvent(row pgx.Row) (*model.LedgerEvent, error) {
	ev := &model.LedgerEvent{}
	var payloadJSON, reasonsJSON []byte
	var modelVersion, prevHash, sig *string

	if err := row.Scan(
		&ev.ID, &ev.EventTimestamp, &ev.ActorType, &ev.ActorID,
		&ev.EntityType, &ev.EntityID, &ev.Action, &payloadJSON,
		&modelVersion, &reasonsJSON, &prevHash, &ev.Hash, &sig, &ev.CreatedAt,
	); err != nil {
		return nil, err
	}

	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &ev.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if len(reasonsJSON) > 0 {
		if err := json.Unmarshal(reasonsJSON, &ev.ReasonCodes); err != nil {
			return nil, fmt.Errorf("unmarshal reason codes: %w", err)
		}
	}
	if modelVersion != nil {
		ev.ModelVersion = *modelVersion
	}
	if prevHash != nil {
		ev.PrevHash = *prevHash
	}
	if sig != nil {
		ev.Sig = *sig
	}
	return ev, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
