package anchor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tcredex/ledgerd/internal/ledger/model"
)

// DefaultCalendarURL is a public OpenTimestamps calendar server.
const DefaultCalendarURL = "https://a.pool.opentimestamps.org"

// OpenTimestampsTarget submits the raw tip digest to an OpenTimestamps
// calendar, which aggregates it into a Bitcoin transaction. The returned
// .ots proof is stored in the receipt metadata; it upgrades to a full
// blockchain attestation once the calendar's commitment confirms.
type OpenTimestampsTarget struct {
	calendarURL string
	client      *http.Client
}

// NewOpenTimestampsTarget creates an OpenTimestampsTarget. An empty
// calendarURL selects DefaultCalendarURL.
func NewOpenTimestampsTarget(calendarURL string, client *http.Client) *OpenTimestampsTarget {
	if calendarURL == "" {
		calendarURL = DefaultCalendarURL
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &OpenTimestampsTarget{calendarURL: calendarURL, client: client}
}

// Type implements Target.
func (o *OpenTimestampsTarget) Type() model.AnchorType { return model.AnchorOpenTimestamps }

// Publish implements Target.
func (o *OpenTimestampsTarget) Publish(ctx context.Context, tip *model.TipInfo) (string, map[string]any, error) {
	digest, err := hex.DecodeString(tip.Hash)
	if err != nil {
		return "", nil, fmt.Errorf("tip hash is not hex: %w", err)
	}
	if len(digest) != 32 {
		return "", nil, fmt.Errorf("tip hash length %d, want 32 bytes", len(digest))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.calendarURL+"/digest", bytes.NewReader(digest))
	if err != nil {
		return "", nil, fmt.Errorf("build calendar request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("calendar request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", nil, fmt.Errorf("calendar status %d: %s", resp.StatusCode, errBody)
	}

	proof, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", nil, fmt.Errorf("read calendar proof: %w", err)
	}

	ref := fmt.Sprintf("ots-%d", tip.EventID)
	return ref, map[string]any{
		"calendar":     o.calendarURL,
		"proof_base64": base64.StdEncoding.EncodeToString(proof),
		"submitted_at": time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}
