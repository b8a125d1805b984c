// Package replica is the read/write API the presentation layer consumes.
//
// A Replica holds the in-memory Record Set, mirrors it to the durable
// store, and owns the replay engine, the connectivity monitor and the
// reconciliation trigger. Writes are optimistic: they change local state
// at once and reach the remote service through the outbox.
package replica

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/offsync/internal/auth"
	"github.com/roach88/offsync/internal/connectivity"
	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/outbox"
	"github.com/roach88/offsync/internal/reconcile"
	"github.com/roach88/offsync/internal/record"
	"github.com/roach88/offsync/internal/remote"
	"github.com/roach88/offsync/internal/store"
	"github.com/roach88/offsync/internal/syncerr"
)

// ErrEmptyID is returned by Write for an empty record id.
var ErrEmptyID = errors.New("record id must not be empty")

// Remote is the remote service as seen by a Replica.
// Implemented by remote.Client.
type Remote interface {
	engine.Executor
	reconcile.Fetcher
	Endpoints() remote.Endpoints
}

// Deps are the collaborators a Replica is built on.
type Deps struct {
	Backend      store.Backend
	Remote       Remote
	Connectivity connectivity.Source

	// Credentials supplies bearer tokens to the replay engine. Optional.
	Credentials auth.Source
}

type options struct {
	policy            engine.RetryPolicy
	pollInterval      time.Duration
	reconcileInterval time.Duration
	ids               outbox.IDGenerator
	observer          func(engine.Transition)
	autoStart         bool
}

// Option configures a Replica.
type Option func(*options)

// WithRetryPolicy sets the replay retry policy. Default: engine.DefaultPolicy().
func WithRetryPolicy(p engine.RetryPolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithPollInterval sets the connectivity polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		o.pollInterval = d
	}
}

// WithReconcileInterval sets how often the reconciliation trigger ticks.
func WithReconcileInterval(d time.Duration) Option {
	return func(o *options) {
		o.reconcileInterval = d
	}
}

// WithIDGenerator sets the outbox entry id generator.
func WithIDGenerator(g outbox.IDGenerator) Option {
	return func(o *options) {
		o.ids = g
	}
}

// WithObserver receives every replay state transition.
func WithObserver(fn func(engine.Transition)) Option {
	return func(o *options) {
		o.observer = fn
	}
}

// WithAutoStart controls whether Write and Refresh start the background
// tasks when they are not running yet. Default: true.
func WithAutoStart(enabled bool) Option {
	return func(o *options) {
		o.autoStart = enabled
	}
}

// Replica is the local copy of the record set.
//
// Thread-safety: all methods are safe for concurrent use. Mutations are
// serialized by writeMu so mutate, persist and notify happen as one step.
// Subscribers run on the mutating goroutine and must not call Write,
// ReplaceAll or Load.
type Replica struct {
	records *store.RecordStore
	queue   *outbox.Queue
	remote  Remote
	monitor *connectivity.Monitor
	engine  *engine.Engine
	trigger *reconcile.Trigger
	opts    options

	writeMu sync.Mutex

	mu      sync.RWMutex
	set     record.Set
	pending map[string]int // outstanding update entries per record id

	subMu   sync.Mutex
	subs    map[int]func(record.Set)
	nextSub int

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Replica over deps. An unreadable outbox is logged and
// replaced by an empty one.
func New(ctx context.Context, deps Deps, opts ...Option) (*Replica, error) {
	if deps.Backend == nil || deps.Remote == nil || deps.Connectivity == nil {
		return nil, errors.New("replica: backend, remote and connectivity are required")
	}

	o := options{policy: engine.DefaultPolicy(), autoStart: true}
	for _, opt := range opts {
		opt(&o)
	}

	var queueOpts []outbox.Option
	if o.ids != nil {
		queueOpts = append(queueOpts, outbox.WithIDGenerator(o.ids))
	}
	queue, err := outbox.Open(ctx, deps.Backend, queueOpts...)
	if err != nil {
		slog.Warn("outbox unreadable, starting empty", "error", err)
	}

	r := &Replica{
		records: store.NewRecordStore(deps.Backend),
		queue:   queue,
		remote:  deps.Remote,
		monitor: connectivity.NewMonitor(deps.Connectivity, connectivity.WithInterval(o.pollInterval)),
		opts:    o,
		pending: make(map[string]int),
		subs:    make(map[int]func(record.Set)),
	}

	engineOpts := []engine.EngineOption{engine.WithPolicy(o.policy)}
	if deps.Credentials != nil {
		engineOpts = append(engineOpts, engine.WithCredentials(deps.Credentials))
	}
	if o.observer != nil {
		engineOpts = append(engineOpts, engine.WithObserver(o.observer))
	}
	r.engine = engine.New(queue, deps.Remote, r.monitor, r, engineOpts...)
	r.trigger = reconcile.New(queue, deps.Remote, r.ReplaceAll, reconcile.WithInterval(o.reconcileInterval))

	r.rebuildPending()
	return r, nil
}

// Start runs the connectivity monitor, the replay engine and the
// reconciliation trigger under ctx. Calling Start again while running is a
// no-op; the return value reports whether this call started them.
func (r *Replica) Start(ctx context.Context) bool {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	if r.cancel != nil {
		return false
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.monitor.Run(runCtx)
	}()
	go func() {
		defer r.wg.Done()
		r.trigger.Run(runCtx)
	}()
	r.engine.Start(runCtx)

	slog.Debug("replica started", "queued", r.queue.Len())
	return true
}

// Stop stops the background tasks and waits for them. Safe to call when
// not running.
func (r *Replica) Stop() {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	if r.cancel == nil {
		return
	}
	r.cancel()
	r.engine.Stop()
	r.wg.Wait()
	r.cancel = nil
}

// Running reports whether the background tasks are running.
func (r *Replica) Running() bool {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.cancel != nil
}

func (r *Replica) ensureStarted(ctx context.Context) {
	if !r.opts.autoStart {
		return
	}
	r.Start(context.WithoutCancel(ctx))
	r.engine.Nudge()
}

// Load rebuilds the in-memory set from the durable store and notifies
// subscribers. When the service is reachable it then fetches the live set
// and overwrites local state. Storage and fetch failures are logged; the
// result is whatever local state is left, nil meaning no data.
func (r *Replica) Load(ctx context.Context) record.Set {
	r.LoadLocal(ctx)

	if r.monitor.Check(ctx).Connected {
		if err := r.fetch(ctx); err != nil {
			slog.Warn("live fetch failed, keeping local snapshot", "error", err)
		}
	}
	return r.Records()
}

// LoadLocal is the durable-store half of Load; it never touches the network.
func (r *Replica) LoadLocal(ctx context.Context) record.Set {
	set, found, err := r.records.Load(ctx)
	switch {
	case err != nil:
		slog.Warn("local snapshot unreadable", "error", syncerr.LocalStorage("records.load", err))
	case !found:
		slog.Info("no local snapshot")
	default:
		slog.Info("loaded local snapshot", "records", len(set))
		r.writeMu.Lock()
		r.install(set)
		r.notify(set)
		r.writeMu.Unlock()
	}

	r.rebuildPending()
	return r.Records()
}

// Write sets the name of record id. Local state changes at once and the
// remote update is queued; the engine sends it as soon as the service is
// reachable. An unknown id creates the record. Storage failures are logged
// and do not fail the write. id and name are kept byte for byte; invalid
// UTF-8 is rejected.
func (r *Replica) Write(ctx context.Context, id, name string) error {
	if id == "" {
		return ErrEmptyID
	}
	if !utf8.ValidString(id) || !utf8.ValidString(name) {
		return record.ErrInvalidUTF8
	}
	if !norm.NFC.IsNormalString(id) {
		// A server that normalizes ids would treat this as another record.
		slog.Warn("record id is not in NFC form, keeping it as written", "id", id)
	}
	eff, err := r.remote.Endpoints().UpdateEffect(id, name)
	if err != nil {
		return err
	}

	r.writeMu.Lock()
	r.mu.Lock()
	next, prev, existed := r.set.WithName(id, name)
	r.set = next
	r.pending[id]++
	r.mu.Unlock()

	r.persist(ctx, next)
	r.notify(next)

	var previous record.Value = record.Null{}
	if existed {
		previous = record.String(prev.Name)
	}
	entry, err := r.queue.Enqueue(ctx, outbox.Entry{
		Effect: eff,
		Commit: outbox.Action{
			Type:    ActionConfirmUpdate,
			Payload: record.Object{"id": record.String(id), "name": record.String(name)},
		},
		Rollback: outbox.Action{
			Type:    ActionRevertUpdate,
			Payload: record.Object{"id": record.String(id), "name": record.String(name), "previous": previous},
		},
	})
	r.writeMu.Unlock()

	if err != nil {
		slog.Warn("outbox persist failed, entry kept in memory", "entry", entry.ID, "error", err)
	}
	slog.Debug("write queued", "entry", entry.ID, "id", id, "queued", r.queue.Len())

	r.trigger.Arm()
	r.ensureStarted(ctx)
	return nil
}

// Refresh re-reads the authoritative set. When reachable it fetches now and
// overwrites local state; otherwise it queues a GET whose response replaces
// local state once replayed.
func (r *Replica) Refresh(ctx context.Context) error {
	if r.monitor.Check(ctx).Connected {
		return r.fetch(ctx)
	}

	entry, err := r.queue.Enqueue(ctx, outbox.Entry{
		Effect:   r.remote.Endpoints().ListEffect(),
		Commit:   outbox.Action{Type: ActionReplaceAll},
		Rollback: outbox.Action{Type: ActionAbandonRefresh},
	})
	if err != nil {
		slog.Warn("outbox persist failed, entry kept in memory", "entry", entry.ID, "error", err)
	}
	slog.Info("offline, refresh queued", "entry", entry.ID)
	r.ensureStarted(ctx)
	return nil
}

func (r *Replica) fetch(ctx context.Context) error {
	set, err := r.remote.FetchAll(ctx)
	if err != nil {
		return err
	}
	return r.ReplaceAll(ctx, set)
}

// ReplaceAll overwrites local state with set and notifies subscribers once.
// The durable copy is only rewritten when its bytes change. A storage
// failure is returned after the in-memory state was updated.
func (r *Replica) ReplaceAll(ctx context.Context, set record.Set) error {
	if err := set.Validate(); err != nil {
		return err
	}
	set = set.Clone()

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.install(set)
	err := r.persist(ctx, set)
	r.notify(set)

	if slog.Default().Enabled(ctx, slog.LevelDebug) {
		if digest, derr := set.Digest(); derr == nil {
			slog.Debug("record set replaced", "records", len(set), "digest", digest)
		}
	}
	return err
}

// Reconcile runs one reconciliation tick and reports whether it fired.
func (r *Replica) Reconcile(ctx context.Context) bool {
	return r.trigger.Tick(ctx)
}

// Records returns a copy of the current set. nil means no data.
func (r *Replica) Records() record.Set {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set.Clone()
}

// Pending reports whether record id has updates not yet confirmed.
func (r *Replica) Pending(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pending[id] > 0
}

// QueueLen returns the number of outbox entries.
func (r *Replica) QueueLen() int {
	return r.queue.Len()
}

// Outbox returns the queued entries, front first.
func (r *Replica) Outbox() []outbox.Entry {
	return r.queue.Entries()
}

// State returns the last observed connectivity.
func (r *Replica) State() connectivity.State {
	return r.monitor.Current()
}

// Status is a point-in-time summary of a Replica.
type Status struct {
	State      connectivity.State
	Running    bool // background tasks started
	Replaying  bool // the engine loop or a Sync/Flush owns the outbox
	InFlight   int
	Queued     int
	Reconciled int // reconciliation fires since New
}

// Status reports what the replica is doing right now.
func (r *Replica) Status() Status {
	return Status{
		State:      r.State(),
		Running:    r.Running(),
		Replaying:  r.engine.Running(),
		InFlight:   r.engine.InFlight(),
		Queued:     r.queue.Len(),
		Reconciled: r.trigger.Fires(),
	}
}

// Subscribe registers fn to receive the set after every change. The
// returned function unregisters it.
func (r *Replica) Subscribe(fn func(record.Set)) (unsubscribe func()) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
		})
	}
}

// install replaces the in-memory set. Caller holds writeMu.
func (r *Replica) install(set record.Set) {
	r.mu.Lock()
	r.set = set
	r.mu.Unlock()
}

// persist saves set to the durable store. Caller holds writeMu.
func (r *Replica) persist(ctx context.Context, set record.Set) error {
	changed, err := r.records.Save(ctx, set)
	if err != nil {
		err = syncerr.LocalStorage("records.save", err)
		slog.Warn("snapshot persist failed, keeping in-memory state", "error", err)
		return err
	}
	if changed {
		slog.Debug("snapshot persisted", "records", len(set))
	}
	return nil
}

// notify delivers a copy of set to every subscriber. Caller holds writeMu.
func (r *Replica) notify(set record.Set) {
	r.subMu.Lock()
	fns := make([]func(record.Set), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.subMu.Unlock()

	for _, fn := range fns {
		fn(set.Clone())
	}
}

// rebuildPending recounts outstanding updates from the outbox.
func (r *Replica) rebuildPending() {
	pending := make(map[string]int)
	for _, e := range r.queue.Entries() {
		if e.Commit.Type != ActionConfirmUpdate {
			continue
		}
		if id, ok := e.Commit.Payload["id"].(record.String); ok {
			pending[string(id)]++
		}
	}

	r.mu.Lock()
	r.pending = pending
	r.mu.Unlock()
}
