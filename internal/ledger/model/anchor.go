package model

import "time"

// AnchorType identifies an external anchor target.
type AnchorType string

const (
	AnchorGitHubGist     AnchorType = "github_gist"
	AnchorEscrowEmail    AnchorType = "escrow_email"
	AnchorOpenTimestamps AnchorType = "opentimestamps"
)

// Valid reports whether t is a known anchor target type.
func (t AnchorType) Valid() bool {
	switch t {
	case AnchorGitHubGist, AnchorEscrowEmail, AnchorOpenTimestamps:
		return true
	}
	return false
}

// LedgerAnchor is a receipt proving that a specific chain-tip hash was
// published to an independently-controlled external system at a specific
// time. Anchors never touch LedgerEvent rows.
type LedgerAnchor struct {
	ID                int64          `json:"id"`
	LedgerEventID     int64          `json:"ledger_event_id"`
	AnchoredHash      string         `json:"anchored_hash"`
	AnchorType        AnchorType     `json:"anchor_type"`
	ExternalReference string         `json:"external_reference,omitempty"`
	AnchoredAt        time.Time      `json:"anchored_at"`
	Verified          bool           `json:"verified"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// TipInfo describes the current end of the chain, as published to anchors.
type TipInfo struct {
	EventID   int64     `json:"event_id"`
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
}
