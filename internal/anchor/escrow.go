package anchor

import (
	"context"
	"fmt"
	"time"

	"github.com/tcredex/ledgerd/internal/email"
	"github.com/tcredex/ledgerd/internal/ledger/model"
)

// EscrowEmailTarget mails the chain tip to a designated external mailbox.
// The receiving provider's delivery timestamp is the independent witness;
// the message id is the locator an auditor can chase.
type EscrowEmailTarget struct {
	sender   email.Sender
	mailbox  string
	platform string
}

// NewEscrowEmailTarget creates an EscrowEmailTarget.
func NewEscrowEmailTarget(sender email.Sender, mailbox, platform string) *EscrowEmailTarget {
	return &EscrowEmailTarget{sender: sender, mailbox: mailbox, platform: platform}
}

// Type implements Target.
func (e *EscrowEmailTarget) Type() model.AnchorType { return model.AnchorEscrowEmail }

// Publish implements Target.
func (e *EscrowEmailTarget) Publish(ctx context.Context, tip *model.TipInfo) (string, map[string]any, error) {
	sentAt := time.Now().UTC()
	messageID := fmt.Sprintf("anchor-%d-%d", tip.EventID, sentAt.UnixMilli())

	subject := fmt.Sprintf("%s ledger anchor — event %d", e.platform, tip.EventID)
	body := fmt.Sprintf(`%s Ledger Anchor
=========================
Message ID:      %s
Anchored At:     %s
Event ID:        %d
Event Timestamp: %s
Hash:            %s

This message is an independent timestamp anchor for the %s tamper-evident
ledger. The hash above can be compared against the platform ledger to confirm
data integrity as of the time this message was received.

This is an automated message; do not reply.
`,
		e.platform, messageID, sentAt.Format(time.RFC3339),
		tip.EventID, tip.Timestamp.UTC().Format(time.RFC3339Nano), tip.Hash,
		e.platform,
	)

	if err := e.sender.Send(ctx, e.mailbox, subject, body); err != nil {
		return "", nil, fmt.Errorf("send escrow anchor: %w", err)
	}

	return messageID, map[string]any{
		"recipient": e.mailbox,
		"sent_at":   sentAt.Format(time.RFC3339Nano),
	}, nil
}
