package eventstream

import "context"

// Publisher emits memory lifecycle events. Publishing is best-effort from the
// pipeline's point of view: a failed publish is logged by the caller, never
// retried at the cost of blocking extraction.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}
