package model

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semconnect/errors"
)

type machineInfo struct {
	Vendor string
	Serial int
}

type otherInfo struct {
	Name string
}

type recordingSink struct {
	mu    sync.Mutex
	items []Notification
}

func (r *recordingSink) ModelChanged(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

func (r *recordingSink) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

type recordingListener struct {
	changes []bool
}

func (r *recordingListener) NotificationsChanged(enabled bool) {
	r.changes = append(r.changes, enabled)
}

func TestMemoryAccess_SetGetRoundTrip(t *testing.T) {
	ma := NewMemoryAccess(NewStore())

	values := map[string]any{
		"lotSize":     int64(5),
		"name":        "press-1",
		"temperature": 21.5,
		"running":     true,
	}
	for qName, v := range values {
		require.NoError(t, ma.Set(qName, v))
	}
	for qName, v := range values {
		got, err := ma.Get(qName)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestMemoryAccess_NotFound(t *testing.T) {
	ma := NewMemoryAccess(NewStore())

	_, err := ma.Get("missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotFound)
	assert.Contains(t, err.Error(), "missing")

	var info machineInfo
	err = ma.GetStruct("missing", &info)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	_, err = ma.Call("missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	err = ma.Monitor(0, "missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestMemoryAccess_KindExclusivity(t *testing.T) {
	ma := NewMemoryAccess(NewStore())

	require.NoError(t, ma.Set("prop", 1))
	require.NoError(t, ma.SetStruct("info", machineInfo{Vendor: "acme"}))

	err := ma.SetStruct("prop", machineInfo{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrWrongKind)
	assert.NotErrorIs(t, err, errors.ErrNotFound)
	assert.Contains(t, err.Error(), "primitive property")

	err = ma.Set("info", 2)
	assert.ErrorIs(t, err, errors.ErrWrongKind)
	assert.Contains(t, err.Error(), "a struct")

	_, err = ma.Get("info")
	assert.ErrorIs(t, err, errors.ErrWrongKind)
}

func TestMemoryAccess_Structs(t *testing.T) {
	ma := NewMemoryAccess(NewStore())

	require.NoError(t, ma.SetStruct("info", machineInfo{Vendor: "acme", Serial: 42}))

	got, err := GetStructAs[machineInfo](ma, "info")
	require.NoError(t, err)
	assert.Equal(t, machineInfo{Vendor: "acme", Serial: 42}, got)

	var other otherInfo
	err = ma.GetStruct("info", &other)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)
	assert.Contains(t, err.Error(), "cannot cast info struct")

	err = ma.GetStruct("info", other)
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)

	err = ma.SetStruct("plain", 5)
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)
}

func TestMemoryAccess_PointerStruct(t *testing.T) {
	ma := NewMemoryAccess(NewStore())
	require.NoError(t, ma.SetStruct("info", &machineInfo{Vendor: "acme"}))

	got, err := GetStructAs[machineInfo](ma, "info")
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Vendor)
}

func TestMemoryAccess_CustomTypes(t *testing.T) {
	ma := NewMemoryAccess(NewStore())

	require.Error(t, ma.RegisterCustomType(3))
	require.NoError(t, ma.RegisterCustomType(machineInfo{}))

	require.NoError(t, ma.SetStruct("info", &machineInfo{}))
	err := ma.SetStruct("other", otherInfo{})
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)
}

func TestMemoryAccess_Call(t *testing.T) {
	store := NewStore()
	store.DefineOperation("machine/start", func(args ...any) (any, error) {
		return len(args), nil
	})
	ma := NewMemoryAccess(store)

	res, err := ma.Call(ma.QName("machine", "start"), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res)
}

func TestMemoryAccess_StepIntoStepOut(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Set("machine/lotSize", int64(3)))
	require.NoError(t, store.Set("lotSize", int64(99)))
	ma := NewMemoryAccess(store)

	before, err := ma.Get("lotSize")
	require.NoError(t, err)

	inner, err := ma.StepInto("machine")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.Scope().Depth())

	v, err := inner.Get("lotSize")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	// the original access keeps its scope
	assert.True(t, ma.Scope().IsRoot())

	outer, err := inner.StepOut()
	require.NoError(t, err)
	assert.True(t, outer.Scope().Equal(ma.Scope()))

	after, err := outer.Get("lotSize")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = outer.StepOut()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnbalancedScope)

	_, err = ma.StepInto("a/b")
	assert.Error(t, err)
}

func TestMemoryAccess_QNames(t *testing.T) {
	ma := NewMemoryAccess(NewStore(), WithSeparator("."), WithTopInstances("Objects"))

	assert.Equal(t, ".", ma.QSeparator())
	assert.Equal(t, "a.b", ma.QName("a", "", "b"))
	assert.Equal(t, "", ma.QName())
	assert.Equal(t, "Objects.m.x", ma.IQName("m", "x"))
	assert.Equal(t, "", ma.IQName())
	assert.Equal(t, "Objects", ma.TopInstancesQName())
}

func TestMemoryAccess_Monitor(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Set("counter", 0))
	sink := &recordingSink{}
	ma := NewMemoryAccess(store, WithSink(sink))

	require.NoError(t, ma.Monitor(0, "counter"))

	require.NoError(t, store.Set("counter", 1))
	require.NoError(t, store.Set("unmonitored", 1))

	ma.SetDetailNotifiedItem(true)
	require.NoError(t, ma.Set("counter", 2))

	assert.Equal(t, []Notification{
		{QName: "counter"},
		{QName: "counter", Value: 2},
	}, sink.all())
}

func TestMemoryAccess_MonitorModelChanges(t *testing.T) {
	store := NewStore()
	sink := &recordingSink{}
	ma := NewMemoryAccess(store, WithSink(sink))

	require.NoError(t, ma.MonitorModelChanges(0))
	require.NoError(t, store.Set("new", 1))
	require.NoError(t, store.Set("new", 2)) // value change only

	assert.Equal(t, []Notification{{QName: "new"}}, sink.all())
}

func TestMemoryAccess_UseNotifications(t *testing.T) {
	listener := &recordingListener{}
	ma := NewMemoryAccess(NewStore(), WithListener(listener))

	ma.UseNotifications(true)
	assert.True(t, ma.NotificationsEnabled())
	ma.UseNotifications(false)

	assert.Equal(t, []bool{true, false}, listener.changes)
}

func TestMemoryAccess_Dispose(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Set("x", 1))
	sink := &recordingSink{}
	ma := NewMemoryAccess(store, WithSink(sink))
	require.NoError(t, ma.Monitor(0, "x"))

	inner, err := ma.StepInto("sub")
	require.NoError(t, err)

	ma.Dispose()
	ma.Dispose()
	assert.True(t, ma.Disposed())

	_, err = ma.Get("x")
	assert.ErrorIs(t, err, errors.ErrDisposed)
	_, err = inner.Get("x")
	assert.ErrorIs(t, err, errors.ErrDisposed)

	// store values survive and no further notifications are delivered
	require.NoError(t, store.Set("x", 2))
	assert.Empty(t, sink.all())

	fresh := NewMemoryAccess(store)
	v, err := fresh.Get("x")
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestMemoryAccess_ConcurrentSessions(t *testing.T) {
	store := NewStore()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ma := NewMemoryAccess(store)
			for j := range 50 {
				_ = ma.Set(ma.QName("dev", "v"), i*j)
				_, _ = ma.Get(ma.QName("dev", "v"))
			}
			ma.Dispose()
		}(i)
	}
	wg.Wait()

	_, err := store.Get("dev/v")
	assert.NoError(t, err)
}
