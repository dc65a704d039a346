package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semconnect/connector/types"
	"github.com/c360/semconnect/errors"
	"github.com/c360/semconnect/metric"
)

func deploy(t *testing.T, b *Base) {
	t.Helper()
	ctx := context.Background()
	for _, s := range []State{StateAvailable, StateDeploying, StateCreated} {
		require.NoError(t, b.SetState(ctx, s))
	}
}

func TestBase_Lifecycle(t *testing.T) {
	var calls []string
	b := NewBase(Descriptor{ID: "svc-1", Name: "svc", Kind: KindSource},
		WithMetrics(metric.NewMetricsRegistry()),
		WithHook(StateStarting, func(context.Context) (State, error) {
			calls = append(calls, "start")
			return StateRunning, nil
		}),
		WithHook(StateStopping, func(context.Context) (State, error) {
			calls = append(calls, "stop")
			return StateStopped, nil
		}))
	assert.Equal(t, StateUnknown, b.State())
	assert.True(t, b.Health().IsUnhealthy())

	deploy(t, b)
	require.NoError(t, b.SetState(context.Background(), StateStarting))
	assert.Equal(t, StateRunning, b.State())
	assert.True(t, b.Health().IsHealthy())
	assert.False(t, b.GetStatus().StartTime.IsZero())

	require.NoError(t, b.SetState(context.Background(), StateStopping))
	assert.Equal(t, StateStopped, b.State())
	assert.Equal(t, []string{"start", "stop"}, calls)
	assert.True(t, b.GetStatus().StartTime.IsZero())
}

func TestBase_InvalidTransitionLeavesState(t *testing.T) {
	b := NewBase(Descriptor{ID: "svc"})
	err := b.SetState(context.Background(), StateRunning)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
	assert.Equal(t, StateUnknown, b.State())
}

func TestBase_HookFailure(t *testing.T) {
	b := NewBase(Descriptor{ID: "svc", Name: "svc"},
		WithHook(StateStarting, func(context.Context) (State, error) {
			return 0, fmt.Errorf("device offline")
		}))
	deploy(t, b)

	err := b.SetState(context.Background(), StateStarting)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device offline")
	assert.Equal(t, StateFailed, b.State())
	assert.Equal(t, "device offline", b.GetStatus().LastError)
	assert.True(t, b.Health().IsUnhealthy())

	require.NoError(t, b.SetState(context.Background(), StateRecovering))
	require.NoError(t, b.SetState(context.Background(), StateRecovered))
	require.NoError(t, b.SetState(context.Background(), StateRunning))
	assert.Empty(t, b.GetStatus().LastError)
}

func TestBase_PassivateActivate(t *testing.T) {
	var starts, stops int
	b := NewBase(Descriptor{ID: "svc"},
		WithHook(StateStarting, func(context.Context) (State, error) { starts++; return StateRunning, nil }),
		WithHook(StateStopping, func(context.Context) (State, error) { stops++; return StateStopped, nil }))
	ctx := context.Background()

	require.NoError(t, b.Activate(ctx), "not passivated, no-op")
	require.NoError(t, b.Passivate(ctx), "not running, no-op")
	assert.Equal(t, StateUnknown, b.State())

	deploy(t, b)
	require.NoError(t, b.SetState(ctx, StateStarting))
	require.NoError(t, b.Passivate(ctx))
	assert.Equal(t, StatePassivated, b.State())
	assert.Equal(t, 1, stops)

	require.NoError(t, b.Activate(ctx))
	assert.Equal(t, StateRunning, b.State())
	assert.Equal(t, 2, starts)

	assert.NoError(t, b.Migrate("edge-2"))
	assert.NoError(t, b.Update("file:///tmp/x"))
	assert.NoError(t, b.SwitchTo("svc-2"))
}

func TestBase_Reconfigure(t *testing.T) {
	var mu sync.Mutex
	rate := 1
	b := NewBase(Descriptor{ID: "svc"},
		WithHook(StateStarting, func(context.Context) (State, error) { return StateRunning, nil }),
		WithConfigurers(NewParameterConfigurer("rate", types.Int(), func(v int) error {
			mu.Lock()
			rate = v
			mu.Unlock()
			return nil
		}).WithGetter(func() int {
			mu.Lock()
			defer mu.Unlock()
			return rate
		}).WithEnv("SEMCONNECT_TEST_SVC_RATE")))

	var notified []string
	b.OnReconfigured(func(name, value string) { notified = append(notified, name+"="+value) })

	deploy(t, b)
	require.NoError(t, b.SetState(context.Background(), StateStarting))

	require.NoError(t, b.Reconfigure(Values{{"rate", "7"}}))
	assert.Equal(t, StateRunning, b.State())
	v, err := b.ParameterValue("rate")
	require.NoError(t, err)
	assert.Equal(t, "7", v)
	assert.Equal(t, []string{"rate=7"}, notified)

	err = b.Reconfigure(Values{{"rate", "x"}})
	assert.ErrorIs(t, err, errors.ErrReconfigureFailed)
	assert.Equal(t, StateRunning, b.State())
	assert.Len(t, notified, 1)

	_, err = b.ParameterValue("missing")
	assert.ErrorIs(t, err, errors.ErrUnknownParameter)

	t.Setenv("SEMCONNECT_TEST_SVC_RATE", "9")
	require.NoError(t, b.ApplyEnvironment())
	v, _ = b.ParameterValue("rate")
	assert.Equal(t, "9", v)
}
