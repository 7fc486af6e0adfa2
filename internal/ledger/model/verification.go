package model

import "time"

// ChainIssue describes a single integrity failure found while verifying a
// range of events. Issues are data, not errors: a verifier that finds them
// has done its job correctly.
type ChainIssue struct {
	EventID   int64  `json:"event_id"`
	IssueType string `json:"issue_type"` // hash_mismatch or prev_hash_mismatch
	Expected  string `json:"expected,omitempty"`
	Actual    string `json:"actual,omitempty"`
	Message   string `json:"message"`
}

const (
	IssueHashMismatch     = "hash_mismatch"
	IssuePrevHashMismatch = "prev_hash_mismatch"
)

// ChainSummary captures the boundaries of a verified or extracted range.
type ChainSummary struct {
	FirstEventID int64  `json:"first_event_id"`
	LastEventID  int64  `json:"last_event_id"`
	FirstHash    string `json:"first_hash"`
	LastHash     string `json:"last_hash"`
	EventCount   int    `json:"event_count"`
}

// VerificationResult is the outcome of verifying a range of the chain.
// Valid=false with itemized issues is a successful verification of a
// tampered chain, not a failure of the verifier.
type VerificationResult struct {
	RunID         string       `json:"run_id"`
	Valid         bool         `json:"valid"`
	EventsChecked int          `json:"events_checked"`
	Issues        []ChainIssue `json:"issues"`
	StartEventID  int64        `json:"start_event_id"`
	EndEventID    int64        `json:"end_event_id"`
	FinalHash     string       `json:"final_hash,omitempty"`
	RequestedBy   string       `json:"requested_by,omitempty"`
	VerifiedAt    time.Time    `json:"verified_at"`
}

// LedgerExtract is a self-contained audit hand-off: the full event list for a
// filter plus boundary hashes so an external party can re-verify the range.
type LedgerExtract struct {
	ExtractID      string        `json:"extract_id"`
	Events         []LedgerEvent `json:"events"`
	StartTimestamp time.Time     `json:"start_timestamp"`
	EndTimestamp   time.Time     `json:"end_timestamp"`
	EventCount     int           `json:"event_count"`
	FirstHash      string        `json:"first_hash"`
	FinalHash      string        `json:"final_hash"`
	ExtractedAt    time.Time     `json:"extracted_at"`
	ExtractedBy    string        `json:"extracted_by"`
}
