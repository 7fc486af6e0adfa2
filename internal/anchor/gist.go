package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tcredex/ledgerd/internal/ledger/model"
)

const gistFilename = "tcredex-ledger-anchor.json"

// GistTarget anchors the chain tip into a private GitHub gist. When a gist id
// is configured (or one has been created earlier), the same gist is updated
// in place, so repeated publishes of one ledger state cannot fork the
// external record.
type GistTarget struct {
	token    string
	platform string
	baseURL  string
	client   *http.Client

	mu     sync.Mutex
	gistID string
}

// NewGistTarget creates a GistTarget.
//
//	token    — GitHub token with gist scope.
//	gistID   — existing gist to update; empty means create on first publish.
//	platform — platform identifier embedded in the anchored record.
func NewGistTarget(token, gistID, platform string, client *http.Client) *GistTarget {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &GistTarget{
		token:    token,
		platform: platform,
		baseURL:  "https://api.github.com",
		client:   client,
		gistID:   gistID,
	}
}

// SetBaseURL points the target at a different API host. Tests use it.
func (g *GistTarget) SetBaseURL(u string) { g.baseURL = u }

// Type implements Target.
func (g *GistTarget) Type() model.AnchorType { return model.AnchorGitHubGist }

// Publish implements Target.
func (g *GistTarget) Publish(ctx context.Context, tip *model.TipInfo) (string, map[string]any, error) {
	content, err := json.MarshalIndent(map[string]any{
		"platform":    g.platform,
		"anchor_type": "ledger_hash",
		"event_id":    tip.EventID,
		"hash":        tip.Hash,
		"timestamp":   tip.Timestamp.UTC().Format(time.RFC3339Nano),
		"anchored_at": time.Now().UTC().Format(time.RFC3339Nano),
	}, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("marshal anchor content: %w", err)
	}

	g.mu.Lock()
	gistID := g.gistID
	g.mu.Unlock()

	var method, url string
	body := map[string]any{
		"files": map[string]any{
			gistFilename: map[string]string{"content": string(content)},
		},
	}
	if gistID != "" {
		method, url = http.MethodPatch, g.baseURL+"/gists/"+gistID
	} else {
		method, url = http.MethodPost, g.baseURL+"/gists"
		body["description"] = g.platform + " ledger anchor — tamper-evident hash chain"
		body["public"] = false
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return "", nil, fmt.Errorf("marshal gist request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", nil, fmt.Errorf("build gist request: %w", err)
	}
	req.Header.Set("Authorization", "token "+g.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("gist request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", nil, fmt.Errorf("github api status %d: %s", resp.StatusCode, errBody)
	}

	var gist struct {
		ID        string `json:"id"`
		HTMLURL   string `json:"html_url"`
		UpdatedAt string `json:"updated_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&gist); err != nil {
		return "", nil, fmt.Errorf("decode gist response: %w", err)
	}

	g.mu.Lock()
	g.gistID = gist.ID
	g.mu.Unlock()

	return gist.ID, map[string]any{
		"url":        gist.HTMLURL,
		"updated_at": gist.UpdatedAt,
	}, nil
}
