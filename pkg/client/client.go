package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// Event is a single tamper-evident ledger entry as returned by the API.
type Event struct {
	ID             int64          `json:"id"`
	EventTimestamp time.Time      `json:"event_timestamp"`
	ActorType      string         `json:"actor_type"`
	ActorID        string         `json:"actor_id"`
	EntityType     string         `json:"entity_type"`
	EntityID       string         `json:"entity_id"`
	Action         string         `json:"action"`
	Payload        map[string]any `json:"payload,omitempty"`
	ModelVersion   string         `json:"model_version,omitempty"`
	ReasonCodes    map[string]any `json:"reason_codes,omitempty"`
	PrevHash       string         `json:"prev_hash,omitempty"`
	Hash           string         `json:"hash"`
	CreatedAt      time.Time      `json:"created_at"`
}

// EventInput is the payload for LogEvent.
type EventInput struct {
	ActorType    string         `json:"actor_type"`
	ActorID      string         `json:"actor_id,omitempty"`
	EntityType   string         `json:"entity_type"`
	EntityID     string         `json:"entity_id"`
	Action       string         `json:"action"`
	Payload      map[string]any `json:"payload,omitempty"`
	ModelVersion string         `json:"model_version,omitempty"`
	ReasonCodes  map[string]any `json:"reason_codes,omitempty"`
}

// Filter narrows QueryEvents and Extract calls. Zero fields are ignored.
type Filter struct {
	EntityType string
	EntityID   string
	ActorID    string
	Action     string
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
	Offset     int
}

// ChainIssue describes a single verification failure.
type ChainIssue struct {
	EventID   int64  `json:"event_id"`
	IssueType string `json:"issue_type"`
	Expected  string `json:"expected"`
	Actual    string `json:"actual"`
	Message   string `json:"message"`
}

// VerificationResult is the outcome of a chain verification run.
type VerificationResult struct {
	RunID         string       `json:"run_id"`
	Valid         bool         `json:"valid"`
	EventsChecked int          `json:"events_checked"`
	Issues        []ChainIssue `json:"issues,omitempty"`
	StartEventID  int64        `json:"start_event_id,omitempty"`
	EndEventID    int64        `json:"end_event_id,omitempty"`
	FinalHash     string       `json:"final_hash,omitempty"`
	VerifiedAt    time.Time    `json:"verified_at"`
}

// Tip identifies the newest ledger event.
type Tip struct {
	EventID   int64     `json:"event_id"`
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
}

// Anchor is an external anchoring receipt.
type Anchor struct {
	ID                int64          `json:"id"`
	LedgerEventID     int64          `json:"ledger_event_id"`
	AnchoredHash      string         `json:"anchored_hash"`
	AnchorType        string         `json:"anchor_type"`
	ExternalReference string         `json:"external_reference"`
	AnchoredAt        time.Time      `json:"anchored_at"`
	Verified          bool           `json:"verified"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// Extract is a verifiable slice of the ledger for external audit.
type Extract struct {
	ExtractID      string    `json:"extract_id"`
	Events         []Event   `json:"events"`
	StartTimestamp time.Time `json:"start_timestamp"`
	EndTimestamp   time.Time `json:"end_timestamp"`
	EventCount     int       `json:"event_count"`
	FirstHash      string    `json:"first_hash"`
	FinalHash      string    `json:"final_hash"`
	ExtractedAt    time.Time `json:"extracted_at"`
	ExtractedBy    string    `json:"extracted_by"`
}

// Client is the ledger SDK entry point.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// API key credentials for automatic token exchange.
	keyID  string
	secret string

	// token state — guarded by mu
	mu          sync.Mutex
	bearerToken string
	tokenExpiry time.Time // zero = token was set manually (no auto-refresh)
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAPIKey configures automatic token exchange: the client trades the key
// for a scoped bearer token on first use and refreshes it before expiry.
func WithAPIKey(keyID, secret string) Option {
	return func(c *Client) {
		c.keyID = keyID
		c.secret = secret
	}
}

// WithBearerToken attaches a pre-obtained token to every request. The token
// is treated as long-lived and will not be auto-refreshed.
func WithBearerToken(token string) Option {
	return func(c *Client) {
		c.bearerToken = token
		c.tokenExpiry = time.Time{}
	}
}

// New creates a Client for the ledger service at baseURL.
//
//	c := client.New("https://ledger.internal:8080",
//	    client.WithAPIKey("svc-matching", secret),
//	)
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// LogEvent appends an event to the ledger. Requires the append scope.
func (c *Client) LogEvent(ctx context.Context, input *EventInput) (*Event, error) {
	var ev Event
	if err := c.do(ctx, http.MethodPost, "/api/v1/ledger/events", input, &ev, true); err != nil {
		return nil, err
	}
	return &ev, nil
}

// QueryEvents returns events matching the filter.
func (c *Client) QueryEvents(ctx context.Context, f Filter) ([]Event, error) {
	var resp struct {
		Events []Event `json:"events"`
	}
	path := "/api/v1/ledger/events"
	if q := f.encode(); q != "" {
		path += "?" + q
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, false); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// GetEvent fetches a single event by id.
func (c *Client) GetEvent(ctx context.Context, id int64) (*Event, error) {
	var ev Event
	path := "/api/v1/ledger/events/" + strconv.FormatInt(id, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &ev, false); err != nil {
		return nil, err
	}
	return &ev, nil
}

// EntityHistory returns the complete audit trail of one entity, oldest first.
func (c *Client) EntityHistory(ctx context.Context, entityType, entityID string) ([]Event, error) {
	var resp struct {
		Events []Event `json:"events"`
	}
	path := "/api/v1/ledger/entities/" + url.PathEscape(entityType) + "/" + url.PathEscape(entityID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, false); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// VerifyChain asks the service to re-derive and check the hash chain.
// Pass 0 for either bound to leave the range open.
func (c *Client) VerifyChain(ctx context.Context, startID, endID int64) (*VerificationResult, error) {
	q := url.Values{}
	if startID > 0 {
		q.Set("start_id", strconv.FormatInt(startID, 10))
	}
	if endID > 0 {
		q.Set("end_id", strconv.FormatInt(endID, 10))
	}
	path := "/api/v1/ledger/verify"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var result VerificationResult
	if err := c.do(ctx, http.MethodGet, path, nil, &result, false); err != nil {
		return nil, err
	}
	return &result, nil
}

// Extract downloads a verifiable ledger slice. Requires the audit scope.
func (c *Client) Extract(ctx context.Context, f Filter) (*Extract, error) {
	path := "/api/v1/ledger/extract"
	if q := f.encode(); q != "" {
		path += "?" + q
	}
	var extract Extract
	if err := c.do(ctx, http.MethodGet, path, nil, &extract, true); err != nil {
		return nil, err
	}
	return &extract, nil
}

// Tip returns the newest event's id, hash, and timestamp.
func (c *Client) Tip(ctx context.Context) (*Tip, error) {
	var tip Tip
	if err := c.do(ctx, http.MethodGet, "/api/v1/ledger/tip", nil, &tip, false); err != nil {
		return nil, err
	}
	return &tip, nil
}

// Anchors returns the most recent anchoring receipts.
func (c *Client) Anchors(ctx context.Context, limit int) ([]Anchor, error) {
	path := "/api/v1/ledger/anchors"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Anchors []Anchor `json:"anchors"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, false); err != nil {
		return nil, err
	}
	return resp.Anchors, nil
}

// RunAnchors triggers an immediate anchor pass. Requires the audit scope.
func (c *Client) RunAnchors(ctx context.Context) ([]Anchor, error) {
	var resp struct {
		Recorded []Anchor `json:"recorded"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/ledger/anchors/run", nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Recorded, nil
}

func (f Filter) encode() string {
	q := url.Values{}
	set := func(key, val string) {
		if val != "" {
			q.Set(key, val)
		}
	}
	set("entity_type", f.EntityType)
	set("entity_id", f.EntityID)
	set("actor_id", f.ActorID)
	set("action", f.Action)
	if !f.StartTime.IsZero() {
		q.Set("start_time", f.StartTime.Format(time.RFC3339))
	}
	if !f.EndTime.IsZero() {
		q.Set("end_time", f.EndTime.Format(time.RFC3339))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	return q.Encode()
}

// fetchToken trades the configured API key for a bearer token without
// touching cached state.
func (c *Client) fetchToken(ctx context.Context) (token string, expiry time.Time, err error) {
	body, err := json.Marshal(map[string]string{"key_id": c.keyID, "secret": c.secret})
	if err != nil {
		return "", time.Time{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/auth/token", bytes.NewReader(body))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", time.Time{}, fmt.Errorf("token endpoint error %d: %s", resp.StatusCode, respBytes)
	}

	var payload struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"`
	}
	if err := json.Unmarshal(respBytes, &payload); err != nil {
		return "", time.Time{}, fmt.Errorf("decode token response: %w", err)
	}

	// Refresh 60 s before actual expiry to avoid clock-skew failures.
	const refreshBuffer = 60 * time.Second
	exp := time.Now().Add(time.Duration(payload.ExpiresIn)*time.Second - refreshBuffer)
	return payload.Token, exp, nil
}

// ensureToken returns a valid bearer token, fetching a new one when the
// cached token is absent or approaching expiry. Thread-safe.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bearerToken != "" && (c.tokenExpiry.IsZero() || time.Now().Before(c.tokenExpiry)) {
		return c.bearerToken, nil
	}
	if c.keyID == "" {
		return "", fmt.Errorf("no credentials: configure WithAPIKey or WithBearerToken")
	}

	token, expiry, err := c.fetchToken(ctx)
	if err != nil {
		return "", err
	}
	c.bearerToken = token
	c.tokenExpiry = expiry
	return token, nil
}

func (c *Client) do(ctx context.Context, method, path string, reqBody, respBody any, authed bool) error {
	var bodyReader io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if authed {
		token, err := c.ensureToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBytes, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("ledger returned HTTP %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("ledger returned HTTP %d: %s", resp.StatusCode, respBytes)
	}

	if respBody != nil && len(respBytes) > 0 {
		if err := json.Unmarshal(respBytes, respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
