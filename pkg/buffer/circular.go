package buffer

import (
	stderrors "errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semconnect/errors"
	"github.com/c360/semconnect/metric"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = stderrors.New("buffer closed")

type circularBuffer[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int // next write position
	tail     int // next read position
	size     int
	closed   bool
	stats    Statistics
	opts     *options[T]
	exported *bufferMetrics
}

type bufferMetrics struct {
	registry *metric.MetricsRegistry
	owner    string
	size     prometheus.Gauge
	drops    prometheus.Counter
}

func newCircularBuffer[T any](capacity int, opts *options[T]) (*circularBuffer[T], error) {
	capacity = max(capacity, 1)
	cb := &circularBuffer[T]{
		items: make([]T, capacity),
		opts:  opts,
	}

	if opts.registry != nil {
		m := &bufferMetrics{
			registry: opts.registry,
			owner:    opts.owner,
			size: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace:   "semconnect",
				Subsystem:   "buffer",
				Name:        "size",
				Help:        "Current number of queued items",
				ConstLabels: prometheus.Labels{"owner": opts.owner},
			}),
			drops: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace:   "semconnect",
				Subsystem:   "buffer",
				Name:        "drops_total",
				Help:        "Items discarded by the overflow policy",
				ConstLabels: prometheus.Labels{"owner": opts.owner},
			}),
		}
		if err := opts.registry.RegisterGauge(opts.owner, "buffer_size", m.size); err != nil {
			return nil, errors.WrapTransient(err, "buffer", "NewCircularBuffer", "metrics registration")
		}
		if err := opts.registry.RegisterCounter(opts.owner, "buffer_drops", m.drops); err != nil {
			opts.registry.Unregister(opts.owner, "buffer_size")
			return nil, errors.WrapTransient(err, "buffer", "NewCircularBuffer", "metrics registration")
		}
		cb.exported = m
	}

	return cb, nil
}

func (cb *circularBuffer[T]) Write(item T) error {
	cb.mu.Lock()

	if cb.closed {
		cb.mu.Unlock()
		return errors.WrapInvalid(ErrClosed, "Buffer", "Write", "enqueue")
	}

	var dropped T
	hasDropped := false
	if cb.size == len(cb.items) {
		cb.stats.Drops++
		if cb.exported != nil {
			cb.exported.drops.Inc()
		}
		if cb.opts.policy == DropNewest {
			cb.mu.Unlock()
			cb.notifyDrop(item)
			return nil
		}
		dropped, hasDropped = cb.pop()
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % len(cb.items)
	cb.size++
	cb.stats.Writes++
	cb.stats.MaxSize = max(cb.stats.MaxSize, cb.size)
	cb.updateSize()
	cb.mu.Unlock()

	if hasDropped {
		cb.notifyDrop(dropped)
	}
	return nil
}

func (cb *circularBuffer[T]) notifyDrop(item T) {
	if cb.opts.dropCallback != nil {
		cb.opts.dropCallback(item)
	}
}

// pop removes the oldest item, caller holds the lock.
func (cb *circularBuffer[T]) pop() (T, bool) {
	var zero T
	if cb.size == 0 {
		return zero, false
	}
	item := cb.items[cb.tail]
	cb.items[cb.tail] = zero
	cb.tail = (cb.tail + 1) % len(cb.items)
	cb.size--
	return item, true
}

func (cb *circularBuffer[T]) updateSize() {
	if cb.exported != nil {
		cb.exported.size.Set(float64(cb.size))
	}
}

func (cb *circularBuffer[T]) Read() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	item, ok := cb.pop()
	if ok {
		cb.stats.Reads++
		cb.updateSize()
	}
	return item, ok
}

func (cb *circularBuffer[T]) ReadBatch(max int) []T {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if max <= 0 || cb.size == 0 {
		return nil
	}
	n := min(max, cb.size)
	result := make([]T, 0, n)
	for range n {
		item, _ := cb.pop()
		result = append(result, item)
	}
	cb.stats.Reads += int64(n)
	cb.updateSize()
	return result
}

func (cb *circularBuffer[T]) Size() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.size
}

func (cb *circularBuffer[T]) Capacity() int {
	return len(cb.items)
}

func (cb *circularBuffer[T]) Clear() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	clear(cb.items)
	cb.head, cb.tail, cb.size = 0, 0, 0
	cb.updateSize()
}

func (cb *circularBuffer[T]) Stats() Statistics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s := cb.stats
	s.Size = cb.size
	return s
}

func (cb *circularBuffer[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.closed {
		return nil
	}
	cb.closed = true
	if cb.exported != nil {
		cb.exported.registry.Unregister(cb.exported.owner, "buffer_size")
		cb.exported.registry.Unregister(cb.exported.owner, "buffer_drops")
	}
	return nil
}
