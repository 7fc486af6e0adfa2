// Package anchor publishes the ledger's chain-tip hash to independently
// operated external systems and records the resulting receipts. A witnessed
// tip lets an auditor compare what the ledger claims its history was at time
// T against what an uncontrolled third party saw at time T.
package anchor

import (
	"context"

	"github.com/tcredex/ledgerd/internal/ledger/model"
)

// Target is one interchangeable external anchoring strategy. Given the
// current tip, it creates or updates a small external record and returns a
// reference that locates the record later. Publishing the same tip to the
// same target twice must not create divergent external records.
type Target interface {
	Type() model.AnchorType
	Publish(ctx context.Context, tip *model.TipInfo) (externalRef string, metadata map[string]any, err error)
}
