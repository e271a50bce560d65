// Package notify publishes product status transitions to interested
// parties outside the process.
package notify

import (
	"context"
	"encoding/base64"
	"time"
)

// Status is a product's state after a transition.
type Status string

const (
	StatusUpToDate Status = "up-to-date"
	StatusStale    Status = "stale"
	StatusFailed   Status = "failed"
	StatusRemoved  Status = "removed"
)

// Event describes one transition.
type Event struct {
	Product string    `json:"product"`
	Status  Status    `json:"status"`
	BuildID string    `json:"build_id,omitempty"`
	Time    time.Time `json:"time"`
}

// Notifier receives status transitions. Implementations must not block
// for long; a failure to notify never fails a build.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// Noop drops every event.
type Noop struct{}

func (Noop) Notify(context.Context, Event) {}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, e Event)

func (f Func) Notify(ctx context.Context, e Event) { f(ctx, e) }

// key encodes a product name into the character set KV keys allow.
func key(product string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(product))
}
