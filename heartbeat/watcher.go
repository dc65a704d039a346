// Package heartbeat watches devices through the records they publish and
// evicts devices that fall silent.
//
// Every service metrics, resource metrics or status record refreshes the
// last-seen time of its device. DeleteOutdated evicts the devices whose
// last-seen time is older than the timeout, oldest first, and reports each
// evicted device exactly once.
package heartbeat

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/c360/semconnect/health"
	"github.com/c360/semconnect/metric"
)

// DefaultTimeout is the silence after which a device is outdated.
const DefaultTimeout = 4 * time.Second

// Watcher tracks the last-seen time per device id.
type Watcher struct {
	logger  *slog.Logger
	metrics *metric.Metrics
	health  *health.Monitor
	now     func() time.Time

	mu      sync.Mutex
	timeout time.Duration
	seen    map[string]time.Time

	installed []string
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithTimeout sets the initial timeout.
func WithTimeout(d time.Duration) Option {
	return func(w *Watcher) { w.timeout = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) { w.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger.With("component", "heartbeat")
		}
	}
}

// WithMetrics records tracked devices and evictions on registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(w *Watcher) {
		if registry != nil {
			w.metrics = registry.CoreMetrics()
		}
	}
}

// WithHealth reports devices as healthy while seen and unhealthy once
// evicted.
func WithHealth(m *health.Monitor) Option {
	return func(w *Watcher) { w.health = m }
}

// NewWatcher creates a watcher with DefaultTimeout.
func NewWatcher(opts ...Option) *Watcher {
	w := &Watcher{
		logger:  slog.Default().With("component", "heartbeat"),
		now:     time.Now,
		timeout: DefaultTimeout,
		seen:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func healthName(deviceID string) string { return "device/" + deviceID }

// NotifyRecordReceived records that deviceID was seen now. Empty ids are
// ignored.
func (w *Watcher) NotifyRecordReceived(deviceID string) {
	if deviceID == "" {
		return
	}
	w.mu.Lock()
	_, known := w.seen[deviceID]
	w.seen[deviceID] = w.now()
	count := len(w.seen)
	w.mu.Unlock()

	if !known {
		w.metrics.RecordTrackedDevices(count)
		if w.health != nil {
			w.health.UpdateHealthy(healthName(deviceID), "Heartbeat received")
		}
	}
}

// NotifyRecordDeleted stops tracking deviceID without reporting it.
func (w *Watcher) NotifyRecordDeleted(deviceID string) {
	if deviceID == "" {
		return
	}
	w.mu.Lock()
	delete(w.seen, deviceID)
	count := len(w.seen)
	w.mu.Unlock()

	w.metrics.RecordTrackedDevices(count)
	if w.health != nil {
		w.health.Remove(healthName(deviceID))
	}
}

// DeleteOutdated evicts devices silent for longer than the timeout.
func (w *Watcher) DeleteOutdated(onEvict func(deviceID string)) {
	w.DeleteOutdatedWith(w.Timeout(), onEvict)
}

// DeleteOutdatedWith evicts devices silent for longer than timeout, oldest
// first, and calls onEvict once per evicted device. onEvict may be nil.
func (w *Watcher) DeleteOutdatedWith(timeout time.Duration, onEvict func(deviceID string)) {
	type entry struct {
		id   string
		seen time.Time
	}

	w.mu.Lock()
	now := w.now()
	entries := make([]entry, 0, len(w.seen))
	for id, seen := range w.seen {
		entries = append(entries, entry{id, seen})
	}
	slices.SortFunc(entries, func(a, b entry) int {
		if c := a.seen.Compare(b.seen); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	var evicted []string
	for _, e := range entries {
		if now.Sub(e.seen) <= timeout {
			break
		}
		delete(w.seen, e.id)
		evicted = append(evicted, e.id)
	}
	count := len(w.seen)
	w.mu.Unlock()

	if len(evicted) == 0 {
		return
	}
	w.metrics.RecordTrackedDevices(count)
	for _, id := range evicted {
		w.metrics.RecordEviction()
		if w.health != nil {
			w.health.UpdateUnhealthy(healthName(id), "Heartbeat timed out")
		}
		w.logger.Info("Device heartbeat timed out", "device", id, "timeout", timeout)
		if onEvict != nil {
			onEvict(id)
		}
	}
}

// Run calls DeleteOutdated every interval until ctx is done.
func (w *Watcher) Run(ctx context.Context, interval time.Duration, onEvict func(deviceID string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.DeleteOutdated(onEvict)
		}
	}
}

// DeviceCount returns the number of tracked devices.
func (w *Watcher) DeviceCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// Devices returns the sorted ids of the tracked devices.
func (w *Watcher) Devices() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.seen))
	for id := range w.seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Timeout returns the current timeout.
func (w *Watcher) Timeout() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timeout
}

// SetTimeout changes the timeout and returns the previous one.
func (w *Watcher) SetTimeout(d time.Duration) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	prev := w.timeout
	w.timeout = d
	return prev
}

// Clear stops tracking all devices without reporting them as evicted and
// removes their health entries.
func (w *Watcher) Clear() {
	w.mu.Lock()
	cleared := w.seen
	w.seen = make(map[string]time.Time)
	w.mu.Unlock()

	w.metrics.RecordTrackedDevices(0)
	if w.health != nil {
		for id := range cleared {
			w.health.Remove(healthName(id))
		}
	}
}
