package notify

import (
	"context"
	"time"

	"github.com/holtzen/adaptrade/types"
)

// TradeEvent is the outward-facing record published on every lifecycle
// transition.
type TradeEvent struct {
	Reason string            `json:"reason"`
	Record types.TradeRecord `json:"record"`
}

// Notifier publishes trade events to an external sink. Publishing is
// best-effort from the engine's point of view: a failed publish never
// rolls back a trade.
type Notifier interface {
	Publish(ctx context.Context, ev TradeEvent) error
	Close() error
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, TradeEvent) error { return nil }
func (Noop) Close() error                              { return nil }

// backoffFor returns the capped exponential delay before retry attempt n
// (0-based).
func backoffFor(n int, min, max time.Duration) time.Duration {
	d := min << n
	if d > max || d < min { // overflow guard
		return max
	}
	return d
}
