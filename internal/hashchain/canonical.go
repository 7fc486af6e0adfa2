package hashchain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tcredex/ledgerd/internal/ledger/model"
)

// delimiter separates fields in the canonical string. Field values are either
// enum members, identifiers, hex digests, or canonical JSON, none of which can
// legally contain a bare pipe outside a JSON string literal at a field boundary.
const delimiter = "|"

// CanonicalMap encodes a payload or reason-code map as canonical JSON:
// keys sorted, no whitespace. An absent (nil) map encodes as the empty
// string — not the string "null" — so optional-map representation never
// changes a hash. encoding/json marshals map keys in sorted order, which is
// exactly the determinism guarantee canonical encoding needs.
func CanonicalMap(m map[string]any) (string, error) {
	if m == nil {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("canonical map encode: %w", err)
	}
	return string(b), nil
}

// CanonicalTime renders a timestamp for hashing: RFC3339Nano in UTC.
// Historic hashes must stay re-derivable, so this format is frozen.
func CanonicalTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// BuildCanonicalString produces the deterministic byte string an event hash
// is computed over. The field order is fixed and includes prev_hash, so the
// digest of event N commits to the digest of event N-1.
func BuildCanonicalString(
	id int64,
	timestamp time.Time,
	actorType model.ActorType,
	actorID string,
	entityType model.EntityType,
	entityID string,
	action model.Action,
	payload map[string]any,
	modelVersion string,
	reasonCodes map[string]any,
	prevHash string,
) (string, error) {
	canonicalPayload, err := CanonicalMap(payload)
	if err != nil {
		return "", err
	}
	canonicalReasons, err := CanonicalMap(reasonCodes)
	if err != nil {
		return "", err
	}

	parts := []string{
		fmt.Sprintf("%d", id),
		CanonicalTime(timestamp),
		string(actorType),
		actorID,
		string(entityType),
		entityID,
		string(action),
		canonicalPayload,
		modelVersion,
		canonicalReasons,
		prevHash,
	}
	return strings.Join(parts, delimiter), nil
}

// CanonicalEventString builds the canonical string for a complete event,
// using its own id, content, and prev_hash.
func CanonicalEventString(ev *model.LedgerEvent) (string, error) {
	return BuildCanonicalString(
		ev.ID,
		ev.EventTimestamp,
		ev.ActorType,
		ev.ActorID,
		ev.EntityType,
		ev.EntityID,
		ev.Action,
		ev.Payload,
		ev.ModelVersion,
		ev.ReasonCodes,
		ev.PrevHash,
	)
}
