package model

import (
	"errors"
	"fmt"
	"time"
)

// Validation errors returned when an event input falls outside the closed
// taxonomies. These are caller errors, not infrastructure failures.
var (
	ErrUnknownAction     = errors.New("unknown ledger action")
	ErrUnknownActorType  = errors.New("unknown actor type")
	ErrUnknownEntityType = errors.New("unknown entity type")
	ErrMissingActorID    = errors.New("actor_id is required")
	ErrMissingEntityID   = errors.New("entity_id is required")
)

// LedgerEvent is one immutable record in the tamper-evident ledger.
//
// ID is assigned by the store at insertion time and is strictly increasing.
// Hash is the SHA-256 of the event's canonical encoding (which includes
// PrevHash), so any retroactive edit to a persisted row is detectable by
// recomputation. Rows are never updated or deleted.
type LedgerEvent struct {
	ID             int64          `json:"id"`
	EventTimestamp time.Time      `json:"event_timestamp"`
	ActorType      ActorType      `json:"actor_type"`
	ActorID        string         `json:"actor_id"`
	EntityType     EntityType     `json:"entity_type"`
	EntityID       string         `json:"entity_id"`
	Action         Action         `json:"action"`
	Payload        map[string]any `json:"payload"`
	ModelVersion   string         `json:"model_version,omitempty"`
	ReasonCodes    map[string]any `json:"reason_codes,omitempty"`
	PrevHash       string         `json:"prev_hash,omitempty"` // empty for the genesis event
	Hash           string         `json:"hash"`
	Sig            string         `json:"sig,omitempty"` // reserved for a future signature over Hash
	CreatedAt      time.Time      `json:"created_at"`
}

// EventInput is what producers supply to log a new event. Everything else on
// LedgerEvent (id, timestamps, prev_hash, hash) is assigned by the service
// and store.
type EventInput struct {
	ActorType    ActorType      `json:"actor_type"`
	ActorID      string         `json:"actor_id"`
	EntityType   EntityType     `json:"entity_type"`
	EntityID     string         `json:"entity_id"`
	Action       Action         `json:"action"`
	Payload      map[string]any `json:"payload"`
	ModelVersion string         `json:"model_version,omitempty"`
	ReasonCodes  map[string]any `json:"reason_codes,omitempty"`
}

// Validate checks the input against the closed taxonomies.
func (in *EventInput) Validate() error {
	if !in.ActorType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownActorType, in.ActorType)
	}
	if in.ActorID == "" {
		return ErrMissingActorID
	}
	if !in.EntityType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEntityType, in.EntityType)
	}
	if in.EntityID == "" {
		return ErrMissingEntityID
	}
	if !in.Action.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownAction, in.Action)
	}
	return nil
}

// EventFilter selects events for query, extract, and history operations.
// Zero values mean "no constraint". Results are always ordered by ascending id.
type EventFilter struct {
	EntityType EntityType
	EntityID   string
	ActorID    string
	Action     Action
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
	Offset     int
}
