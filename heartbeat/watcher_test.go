package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semconnect/health"
	"github.com/c360/semconnect/metric"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestWatcher_DeleteOutdated(t *testing.T) {
	clk := newClock()
	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()
	w := NewWatcher(WithClock(clk.Now), WithMetrics(registry), WithHealth(monitor))
	assert.Equal(t, DefaultTimeout, w.Timeout())

	w.NotifyRecordReceived("plc-2")
	clk.Advance(time.Second)
	w.NotifyRecordReceived("plc-1")
	clk.Advance(time.Second)
	w.NotifyRecordReceived("plc-3")
	w.NotifyRecordReceived("")
	assert.Equal(t, 3, w.DeviceCount())
	assert.Equal(t, 3.0, testutil.ToFloat64(registry.CoreMetrics().TrackedDevices))

	var evicted []string
	collect := func(id string) { evicted = append(evicted, id) }

	w.DeleteOutdated(collect)
	assert.Empty(t, evicted)

	clk.Advance(3500 * time.Millisecond)
	w.DeleteOutdated(collect)
	assert.Equal(t, []string{"plc-2", "plc-1"}, evicted, "oldest first")
	assert.Equal(t, []string{"plc-3"}, w.Devices())
	assert.Equal(t, 2.0, testutil.ToFloat64(registry.CoreMetrics().DevicesEvicted))

	s, ok := monitor.Get("device/plc-2")
	require.True(t, ok)
	assert.True(t, s.IsUnhealthy())
	s, _ = monitor.Get("device/plc-3")
	assert.True(t, s.IsHealthy())

	w.DeleteOutdated(collect)
	assert.Len(t, evicted, 2, "each device evicted once")
}

func TestWatcher_RefreshKeepsDevice(t *testing.T) {
	clk := newClock()
	w := NewWatcher(WithClock(clk.Now), WithTimeout(time.Second))
	w.NotifyRecordReceived("a")
	clk.Advance(900 * time.Millisecond)
	w.NotifyRecordReceived("a")
	clk.Advance(900 * time.Millisecond)
	w.DeleteOutdated(func(string) { t.Fatal("refreshed device evicted") })
	assert.Equal(t, 1, w.DeviceCount())
}

func TestWatcher_DeleteOutdatedWith(t *testing.T) {
	clk := newClock()
	w := NewWatcher(WithClock(clk.Now))
	w.NotifyRecordReceived("a")
	clk.Advance(2 * time.Second)

	w.DeleteOutdatedWith(time.Second, nil)
	assert.Zero(t, w.DeviceCount())
}

func TestWatcher_TimeoutDeleteClear(t *testing.T) {
	w := NewWatcher()
	assert.Equal(t, DefaultTimeout, w.SetTimeout(time.Second))
	assert.Equal(t, time.Second, w.SetTimeout(2*time.Second))

	w.NotifyRecordReceived("a")
	w.NotifyRecordReceived("b")
	w.NotifyRecordDeleted("a")
	w.NotifyRecordDeleted("missing")
	assert.Equal(t, []string{"b"}, w.Devices())

	w.Clear()
	assert.Zero(t, w.DeviceCount())
}

func TestWatcher_ClearRemovesHealth(t *testing.T) {
	monitor := health.NewMonitor()
	w := NewWatcher(WithHealth(monitor))
	w.NotifyRecordReceived("a")
	w.NotifyRecordReceived("b")
	_, ok := monitor.Get("device/a")
	require.True(t, ok)

	w.Clear()
	for _, name := range []string{"device/a", "device/b"} {
		_, ok := monitor.Get(name)
		assert.False(t, ok, name)
	}
}

func TestWatcher_Run(t *testing.T) {
	w := NewWatcher(WithTimeout(10 * time.Millisecond))
	w.NotifyRecordReceived("sensor")

	ctx, cancel := context.WithCancel(context.Background())
	evicted := make(chan string, 1)
	done := make(chan struct{})
	go func() {
		w.Run(ctx, 5*time.Millisecond, func(id string) { evicted <- id })
		close(done)
	}()

	select {
	case id := <-evicted:
		assert.Equal(t, "sensor", id)
	case <-time.After(2 * time.Second):
		t.Fatal("device not evicted")
	}
	cancel()
	<-done
}

func TestWatcher_Concurrent(t *testing.T) {
	w := NewWatcher(WithTimeout(time.Hour))
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("dev-%d", i%10)
			w.NotifyRecordReceived(id)
			w.DeleteOutdated(nil)
			if i%7 == 0 {
				w.NotifyRecordDeleted(id)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, w.DeviceCount(), 10)
}
