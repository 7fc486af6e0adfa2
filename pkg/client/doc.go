// Package client is the Go SDK for the tCredex tamper-evident ledger.
//
// It covers both sides of the API: producers appending audit events, and
// auditors querying, verifying, and extracting the chain.
//
// # Appending events (producer side)
//
// Configure the client with an API key carrying the append scope; token
// exchange and refresh happen automatically:
//
//	c := client.New("https://ledger.internal:8080",
//	    client.WithAPIKey("svc-matching", os.Getenv("LEDGER_KEY_SECRET")),
//	)
//	ev, err := c.LogEvent(ctx, &client.EventInput{
//	    ActorType:    "system",
//	    ActorID:      "matching-engine",
//	    EntityType:   "project",
//	    EntityID:     projectID,
//	    Action:       "cde_match_suggested",
//	    Payload:      map[string]any{"cde_id": cdeID, "score": score},
//	    ModelVersion: "match-v2",
//	})
//
// The returned event carries the id and hash assigned by the service.
//
// # Auditing
//
// Reads are public; extraction needs the audit scope:
//
//	history, err := c.EntityHistory(ctx, "project", projectID)
//	result, err := c.VerifyChain(ctx, 0, 0) // whole chain
//	if !result.Valid {
//	    // result.Issues pinpoints the tampered events
//	}
//	extract, err := c.Extract(ctx, client.Filter{
//	    StartTime: quarterStart,
//	    EndTime:   quarterEnd,
//	})
//
// # Anchors
//
// The current chain tip and its external anchor receipts:
//
//	tip, err := c.Tip(ctx)
//	receipts, err := c.Anchors(ctx, 10)
package client
