package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	inner Source
	calls atomic.Int32
	inUse atomic.Int32
	peak  atomic.Int32
}

func (c *countingSource) Reachable(ctx context.Context) bool {
	c.calls.Add(1)
	n := c.inUse.Add(1)
	defer c.inUse.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	return c.inner.Reachable(ctx)
}

func TestMonitor_DefaultsOffline(t *testing.T) {
	m := NewMonitor(NewManual(true))
	assert.False(t, m.Current().Connected)

	m = NewMonitor(NewManual(true), WithInitialState(State{Connected: true}))
	assert.True(t, m.Current().Connected)
}

func TestMonitor_CheckUpdatesCurrent(t *testing.T) {
	src := NewManual(true)
	m := NewMonitor(src)

	assert.True(t, m.Check(context.Background()).Connected)
	assert.True(t, m.Current().Connected)

	src.Set(false)
	assert.False(t, m.Current().Connected, "Current does not probe")
	assert.False(t, m.Check(context.Background()).Connected)
}

func TestMonitor_SubscribeOnTransitionsOnly(t *testing.T) {
	src := NewManual(false)
	m := NewMonitor(src)
	ch, cancel := m.Subscribe()
	defer cancel()

	m.Check(context.Background())
	select {
	case s := <-ch:
		t.Fatalf("unexpected notification %v without a transition", s)
	default:
	}

	src.Set(true)
	m.Check(context.Background())
	m.Check(context.Background())

	select {
	case s := <-ch:
		assert.True(t, s.Connected)
	default:
		t.Fatal("expected a notification")
	}
	select {
	case s := <-ch:
		t.Fatalf("repeated state produced notification %v", s)
	default:
	}
}

func TestMonitor_SlowSubscriberSeesLatest(t *testing.T) {
	src := NewManual(false)
	m := NewMonitor(src)
	ch, cancel := m.Subscribe()
	defer cancel()

	src.Set(true)
	m.Check(context.Background())
	src.Set(false)
	m.Check(context.Background())

	s := <-ch
	assert.False(t, s.Connected)
}

func TestMonitor_UnsubscribeClosesChannel(t *testing.T) {
	m := NewMonitor(NewManual(true))
	ch, cancel := m.Subscribe()
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	// No panic when state changes after unsubscribe.
	m.Check(context.Background())
}

func TestMonitor_RunPollsAndStops(t *testing.T) {
	src := &countingSource{inner: NewManual(true)}
	m := NewMonitor(src, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return src.calls.Load() >= 3 }, time.Second, time.Millisecond)
	assert.True(t, m.Current().Connected)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMonitor_ChecksNeverOverlap(t *testing.T) {
	src := &countingSource{inner: NewManual(true)}
	m := NewMonitor(src, WithInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	for i := 0; i < 20; i++ {
		go m.Check(ctx)
	}
	require.Eventually(t, func() bool { return src.calls.Load() >= 25 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(1), src.peak.Load())
}

func TestMonitor_NotifierWakesRun(t *testing.T) {
	src := NewManual(false)
	m := NewMonitor(src, WithInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	src.Set(true)
	require.Eventually(t, func() bool { return m.Current().Connected }, time.Second, time.Millisecond)
}

func TestAll(t *testing.T) {
	a, b := NewManual(true), NewManual(true)
	all := All(a, b)

	assert.True(t, all.Reachable(context.Background()))
	b.Set(false)
	assert.False(t, all.Reachable(context.Background()))
	assert.True(t, All().Reachable(context.Background()))

	// Notifiers inside All still wake the monitor.
	m := NewMonitor(all, WithInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	b.Set(true)
	require.Eventually(t, func() bool { return m.Current().Connected }, time.Second, time.Millisecond)
}

func TestHTTPProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	p := NewHTTPProbe(srv.URL)
	assert.True(t, p.Reachable(context.Background()), "any HTTP response counts as reachable")

	srv.Close()
	assert.False(t, p.Reachable(context.Background()))

	assert.False(t, NewHTTPProbe("://bad").Reachable(context.Background()))
}

func TestSwitchFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "offline")
	s := NewSwitchFile(path)

	assert.True(t, s.Reachable(context.Background()))

	require.NoError(t, s.SetOffline(true))
	assert.False(t, s.Reachable(context.Background()))

	require.NoError(t, s.SetOffline(false))
	require.NoError(t, s.SetOffline(false), "removing a missing flag is fine")
	assert.True(t, s.Reachable(context.Background()))
}

func TestSwitchFile_WatchSignalsChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offline")
	s := NewSwitchFile(path)
	require.NoError(t, s.Start())
	require.NoError(t, s.Start(), "Start is idempotent")
	defer s.Stop()

	m := NewMonitor(s, WithInterval(time.Hour), WithInitialState(State{Connected: true}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.NoError(t, s.SetOffline(true))
	require.Eventually(t, func() bool { return !m.Current().Connected }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.SetOffline(false))
	require.Eventually(t, func() bool { return m.Current().Connected }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop(), "Stop is idempotent")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "online", State{Connected: true}.String())
	assert.Equal(t, "offline", State{}.String())
}
