package email

import "context"

// Sender delivers plain-text mail. The anchor publisher uses it to place
// chain-tip records in an independently-operated escrow mailbox.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}
