// Package connectivity reports network reachability and notifies on
// transitions.
//
// A Monitor polls its Source at a bounded interval so the replay engine and
// the reconciliation trigger make progress within one interval of
// connectivity returning. Sources that can push changes (see Notifier) wake
// the monitor early.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is the polling interval used when none is configured.
const DefaultInterval = time.Second

// State is the reachability of the remote service.
type State struct {
	Connected bool
}

// String returns "online" or "offline".
func (s State) String() string {
	if s.Connected {
		return "online"
	}
	return "offline"
}

// Source answers whether the remote service is reachable right now.
type Source interface {
	Reachable(ctx context.Context) bool
}

// Notifier is implemented by sources that can signal a possible change
// without waiting for the next poll. Signals may be coalesced.
type Notifier interface {
	Changes() <-chan struct{}
}

// Monitor tracks the current State of a Source.
//
// Thread-safety: all methods are safe for concurrent use. Checks never
// overlap; a Check issued while another is running waits for it.
type Monitor struct {
	source   Source
	interval time.Duration

	checkMu sync.Mutex // serializes probes

	mu     sync.Mutex
	state  State
	subs   map[int]chan State
	nextID int
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithInitialState sets the state reported before the first check.
// The default is offline.
func WithInitialState(s State) MonitorOption {
	return func(m *Monitor) {
		m.state = s
	}
}

// NewMonitor creates a monitor over source.
func NewMonitor(source Source, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		source:   source,
		interval: DefaultInterval,
		subs:     make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Current returns the last observed state without probing.
func (m *Monitor) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Check probes the source now, records the result and returns it.
// Subscribers are notified only when the state changes.
func (m *Monitor) Check(ctx context.Context) State {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	next := State{Connected: m.source.Reachable(ctx)}
	m.set(next)
	return next
}

func (m *Monitor) set(next State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if next == m.state {
		return
	}
	prev := m.state
	m.state = next
	slog.Info("connectivity changed", "from", prev.String(), "to", next.String())

	for _, ch := range m.subs {
		// Latest state wins: replace an unread value rather than block.
		select {
		case ch <- next:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- next
		}
	}
}

// Subscribe returns a channel receiving each new state after a transition,
// and a function that cancels the subscription and closes the channel.
// A slow reader only ever sees the most recent state.
func (m *Monitor) Subscribe() (<-chan State, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan State, 1)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
}

// Run checks immediately, then every interval and whenever the source
// signals a change, until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	wake := make(chan struct{}, 1)
	for _, n := range notifiers(m.source) {
		go forward(ctx, n.Changes(), wake)
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	slog.Debug("connectivity monitor started", "interval", m.interval)
	m.Check(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Debug("connectivity monitor stopped")
			return
		case <-ticker.C:
			m.Check(ctx)
		case <-wake:
			m.Check(ctx)
		}
	}
}

func forward(ctx context.Context, in <-chan struct{}, out chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}
}

// notifiers returns every Notifier reachable from src, looking inside All.
func notifiers(src Source) []Notifier {
	var out []Notifier
	if a, ok := src.(allSources); ok {
		for _, s := range a {
			out = append(out, notifiers(s)...)
		}
		return out
	}
	if n, ok := src.(Notifier); ok {
		out = append(out, n)
	}
	return out
}
