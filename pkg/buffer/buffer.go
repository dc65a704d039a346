// Package buffer provides a generic, thread-safe bounded queue used by
// channel-oriented connectors to hand pushed payloads to the poll task.
//
// The queue has a fixed capacity and an overflow policy. Statistics are
// always collected; Prometheus export is optional via WithMetrics.
package buffer

import (
	"github.com/c360/semconnect/metric"
)

// Buffer is a bounded FIFO queue of items of type T.
type Buffer[T any] interface {
	// Write adds an item, applying the overflow policy when full.
	Write(item T) error

	// Read removes and returns the oldest item, false if empty.
	Read() (T, bool)

	// ReadBatch removes and returns up to max items in FIFO order.
	ReadBatch(max int) []T

	// Size returns the current number of items.
	Size() int

	// Capacity returns the maximum number of items.
	Capacity() int

	// Clear removes all items.
	Clear()

	// Stats returns a snapshot of the buffer statistics.
	Stats() Statistics

	// Close rejects further writes and unregisters metrics.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for the new one.
	DropOldest OverflowPolicy = iota

	// DropNewest discards the incoming item.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// ParseOverflowPolicy maps a configuration value to a policy, defaulting to DropOldest.
func ParseOverflowPolicy(s string) OverflowPolicy {
	if s == "drop_newest" || s == "DropNewest" {
		return DropNewest
	}
	return DropOldest
}

// Statistics is a point-in-time view of buffer activity.
type Statistics struct {
	Writes  int64
	Reads   int64
	Drops   int64
	Size    int
	MaxSize int
}

// DropCallback is called with every item discarded by the overflow policy.
type DropCallback[T any] func(item T)

// Option configures buffer behavior.
type Option[T any] func(*options[T])

type options[T any] struct {
	policy       OverflowPolicy
	dropCallback DropCallback[T]
	registry     *metric.MetricsRegistry
	owner        string
}

// WithOverflowPolicy sets the overflow behavior. Defaults to DropOldest.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(o *options[T]) {
		o.policy = policy
	}
}

// WithDropCallback registers a callback invoked outside the lock for each dropped item.
func WithDropCallback[T any](cb DropCallback[T]) Option[T] {
	return func(o *options[T]) {
		o.dropCallback = cb
	}
}

// WithMetrics exports the buffer statistics under the given owner label.
// A nil registry or empty owner disables export.
func WithMetrics[T any](registry *metric.MetricsRegistry, owner string) Option[T] {
	return func(o *options[T]) {
		if registry != nil && owner != "" {
			o.registry = registry
			o.owner = owner
		}
	}
}

// NewCircularBuffer creates a ring buffer with the given capacity (minimum 1).
// It fails only if metric registration was requested and failed.
func NewCircularBuffer[T any](capacity int, opts ...Option[T]) (Buffer[T], error) {
	o := &options[T]{policy: DropOldest}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return newCircularBuffer(capacity, o)
}
