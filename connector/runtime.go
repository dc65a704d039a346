package connector

import (
	"context"
	"sync"
	"time"
)

// minCleanupTick bounds the idle check frequency for very short periods.
const minCleanupTick = 5 * time.Millisecond

// NotificationsChanged implements model.NotificationChangedListener. With
// notifications enabled the poll task is removed, otherwise it is installed.
func (b *Base[O, I, CO, CI]) NotificationsChanged(enabled bool) {
	b.mu.Lock()
	b.notifications = enabled
	b.notificationsSet = true
	b.mu.Unlock()

	if enabled {
		b.uninstallPoll()
		return
	}
	b.installPoll()
}

// EnableNotifications switches between device notifications and polling.
// Model-based connectors forward the mode to their model access.
func (b *Base[O, I, CO, CI]) EnableNotifications(enabled bool) error {
	b.maMu.Lock()
	ma := b.ma
	b.maMu.Unlock()
	if ma != nil {
		ma.UseNotifications(enabled)
	}
	b.NotificationsChanged(enabled)
	return nil
}

// EnablePolling installs or removes the poll task without touching the
// model access notification mode.
func (b *Base[O, I, CO, CI]) EnablePolling(enabled bool) error {
	if enabled {
		b.installPoll()
	} else {
		b.uninstallPoll()
	}
	return nil
}

// IsPolling reports whether the poll task is installed.
func (b *Base[O, I, CO, CI]) IsPolling() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.poll != nil
}

func (b *Base[O, I, CO, CI]) installPoll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected || b.group == nil || b.poll != nil {
		return
	}
	interval := b.params.NotificationInterval()
	if interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(b.session)
	b.poll = cancel
	b.group.Go(func() error {
		b.pollLoop(ctx, interval)
		return nil
	})
	b.logger.Debug("Poll task installed", "interval", interval)
}

// uninstallPoll stops the poll task without waiting for it, so it may be
// called from within a delivery.
func (b *Base[O, I, CO, CI]) uninstallPoll() {
	b.mu.Lock()
	cancel := b.poll
	b.poll = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
		b.logger.Debug("Poll task uninstalled")
	}
}

// pollLoop reads immediately and then at a fixed rate.
func (b *Base[O, I, CO, CI]) pollLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		b.pollOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (b *Base[O, I, CO, CI]) pollOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	rec, ok, err := b.driver.Read(ctx)
	if err != nil {
		if ctx.Err() == nil {
			b.reportError("read", "While polling.", err)
		}
		return
	}
	if !ok {
		return
	}
	if err := b.beginActivity(); err != nil {
		b.reportError("read", "While polling.", err)
		return
	}
	defer b.endActivity()
	// deliver reports its own errors
	_ = b.deliver(rec, "poll")
}

func (b *Base[O, I, CO, CI]) beginActivity() error {
	if b.idle == nil {
		return nil
	}
	recreate := b.idle.begin()
	if !recreate {
		return nil
	}
	ma, err := b.ensureModelAccess()
	if err != nil {
		b.idle.end()
		return err
	}
	b.mu.Lock()
	mode, set := b.notifications, b.notificationsSet
	b.mu.Unlock()
	if ma != nil && set {
		ma.UseNotifications(mode)
	}
	return nil
}

func (b *Base[O, I, CO, CI]) endActivity() {
	if b.idle != nil {
		b.idle.end()
	}
}

func (b *Base[O, I, CO, CI]) cleanupLoop(ctx context.Context) {
	tick := b.idle.period / 4
	if tick < minCleanupTick {
		tick = minCleanupTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if b.idle.tryCleanup(b.releaseIdle) {
				b.rearmMonitors()
			}
		}
	}
}

// releaseIdle runs with the tracker locked, activity waits for it.
func (b *Base[O, I, CO, CI]) releaseIdle() {
	b.disposeModelAccess()
	if r, ok := b.driver.(IdleReleaser); ok {
		r.ReleaseIdle()
	}
	b.metrics.RecordIdleCleanup(b.Name())
	b.logger.Debug("Idle resources released", "period", b.idle.period)
	if b.opts.OnIdleCleanup != nil {
		b.opts.OnIdleCleanup()
	}
}

// rearmMonitors recreates a reclaimed model access in notification mode,
// where no poll task would do so, and initializes the adapters again so
// their monitors deliver device changes.
func (b *Base[O, I, CO, CI]) rearmMonitors() {
	if b.opts.ModelAccess == nil {
		return
	}
	b.mu.Lock()
	push := b.connected && b.notificationsSet && b.notifications
	b.mu.Unlock()
	if !push {
		return
	}

	if err := b.beginActivity(); err != nil {
		b.reportError("cleanup", "While recreating model access.", err)
		return
	}
	defer b.endActivity()
	for _, a := range b.adapters {
		if err := a.InitializeModelAccess(); err != nil {
			b.reportError("cleanup", "While initializing recreated model access.", err)
			return
		}
	}
	b.logger.Debug("Monitors re-armed after idle cleanup")
}

// idleTracker decides when a connector has been idle for a full period.
// Cleanup and activity share mu, so a cleanup either completes before an
// activity starts or is skipped because the activity reset the timer.
type idleTracker struct {
	mu       sync.Mutex
	period   time.Duration
	now      func() time.Time
	last     time.Time
	inflight int
	cleaned  bool
}

func newIdleTracker(period time.Duration, now func() time.Time) *idleTracker {
	return &idleTracker{period: period, now: now, last: now()}
}

func (t *idleTracker) reset() {
	t.mu.Lock()
	t.last = t.now()
	t.inflight = 0
	t.cleaned = false
	t.mu.Unlock()
}

// begin marks an activity and reports whether resources were released since
// the last one.
func (t *idleTracker) begin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight++
	t.last = t.now()
	wasCleaned := t.cleaned
	t.cleaned = false
	return wasCleaned
}

func (t *idleTracker) end() {
	t.mu.Lock()
	if t.inflight > 0 {
		t.inflight--
	}
	t.last = t.now()
	t.mu.Unlock()
}

// tryCleanup runs fn at most once per idle period and reports whether it ran.
func (t *idleTracker) tryCleanup(fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cleaned || t.inflight > 0 || t.now().Sub(t.last) < t.period {
		return false
	}
	fn()
	t.cleaned = true
	return true
}
