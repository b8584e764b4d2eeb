package ports

import "context"

// Notifier is a best-effort, fire-and-forget sink (spec §1: "Telegram
// notification delivery" is an external collaborator; the core only
// needs this mailbox contract). Failures are logged by the
// implementation and never propagate to trading logic (spec §7).
type Notifier interface {
	Notify(ctx context.Context, message string)
}
