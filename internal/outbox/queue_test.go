package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/record"
	"github.com/roach88/offsync/internal/store"
	"github.com/roach88/offsync/internal/syncerr"
)

var testTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func openTestQueue(t *testing.T, backend store.Backend) *Queue {
	t.Helper()
	q, err := Open(context.Background(), backend,
		WithIDGenerator(NewSequenceGenerator("e")),
		WithNow(func() time.Time { return testTime }),
	)
	require.NoError(t, err)
	return q
}

func updateEntry(id, name string) Entry {
	return Entry{
		Effect: Effect{
			URL:    "/items/" + id,
			Method: "PUT",
			Body:   json.RawMessage(`{"name":"` + name + `"}`),
		},
		Commit:   Action{Type: "records/confirmUpdate", Payload: record.Object{"id": record.String(id)}},
		Rollback: Action{Type: "records/revertUpdate", Payload: record.Object{"id": record.String(id)}},
	}
}

func TestQueue_EnqueueAssignsIdentity(t *testing.T) {
	q := openTestQueue(t, store.NewMemory())

	e1, err := q.Enqueue(context.Background(), updateEntry("1", "a"))
	require.NoError(t, err)
	e2, err := q.Enqueue(context.Background(), updateEntry("1", "b"))
	require.NoError(t, err)

	assert.Equal(t, "e-0001", e1.ID)
	assert.Equal(t, int64(1), e1.Seq)
	assert.Equal(t, testTime, e1.CreatedAt)
	assert.Equal(t, "e-0002", e2.ID)
	assert.Equal(t, int64(2), e2.Seq)
}

func TestQueue_KeepsCallerID(t *testing.T) {
	q := openTestQueue(t, store.NewMemory())

	e := updateEntry("1", "a")
	e.ID = "custom"
	got, err := q.Enqueue(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, "custom", got.ID)
}

func TestQueue_FIFO(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t, store.NewMemory())

	for _, w := range [][2]string{{"1", "a"}, {"1", "b"}, {"2", "c"}} {
		_, err := q.Enqueue(ctx, updateEntry(w[0], w[1]))
		require.NoError(t, err)
	}
	require.Equal(t, 3, q.Len())

	var bodies []string
	for !q.IsEmpty() {
		front, ok := q.PeekFront()
		require.True(t, ok)
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, front.ID, got.ID)
		bodies = append(bodies, got.Effect.URL+" "+string(got.Effect.Body))
	}

	assert.Equal(t, []string{
		`/items/1 {"name":"a"}`,
		`/items/1 {"name":"b"}`,
		`/items/2 {"name":"c"}`,
	}, bodies)
}

func TestQueue_DequeueEmpty(t *testing.T) {
	q := openTestQueue(t, store.NewMemory())

	_, err := q.Dequeue(context.Background())
	assert.ErrorIs(t, err, ErrEmpty)

	_, ok := q.PeekFront()
	assert.False(t, ok)
	assert.True(t, q.IsEmpty())
}

func TestQueue_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()

	q1 := openTestQueue(t, backend)
	_, err := q1.Enqueue(ctx, updateEntry("1", "a"))
	require.NoError(t, err)
	_, err = q1.Enqueue(ctx, updateEntry("2", "b"))
	require.NoError(t, err)
	_, err = q1.Dequeue(ctx)
	require.NoError(t, err)

	q2, err := Open(ctx, backend)
	require.NoError(t, err)
	require.Equal(t, 1, q2.Len())

	front, ok := q2.PeekFront()
	require.True(t, ok)
	assert.Equal(t, "e-0002", front.ID)
	assert.Equal(t, int64(2), front.Seq)
	assert.Equal(t, record.String("2"), front.Commit.Payload["id"])
	assert.JSONEq(t, `{"name":"b"}`, string(front.Effect.Body))

	// Clock resumes after the highest persisted seq.
	next, err := q2.Enqueue(ctx, updateEntry("3", "c"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), next.Seq)

	select {
	case <-q2.Wait():
	default:
		t.Fatal("reopened non-empty queue should signal availability")
	}
}

func TestQueue_SurvivesReopenOnSQLite(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/outbox.db"

	s1, err := store.Open(path)
	require.NoError(t, err)
	q1 := openTestQueue(t, s1)
	_, err = q1.Enqueue(ctx, updateEntry("5", "x"))
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := store.Open(path)
	require.NoError(t, err)
	defer s2.Close()

	q2, err := Open(ctx, s2)
	require.NoError(t, err)
	assert.Equal(t, 1, q2.Len())
}

func TestQueue_RemovesKeyAfterDrain(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()
	q := openTestQueue(t, backend)

	_, err := q.Enqueue(ctx, updateEntry("1", "a"))
	require.NoError(t, err)
	_, err = backend.Get(ctx, store.KeyOutbox)
	require.NoError(t, err)

	_, err = q.Dequeue(ctx)
	require.NoError(t, err)

	_, err = backend.Get(ctx, store.KeyOutbox)
	assert.ErrorIs(t, err, store.ErrNotFound)

	reopened, err := Open(ctx, backend)
	require.NoError(t, err)
	assert.True(t, reopened.IsEmpty())
}

type flakyBackend struct {
	*store.Memory
	mu   sync.Mutex
	fail bool
}

func (f *flakyBackend) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

func (f *flakyBackend) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.Memory.Set(ctx, key, value)
}

func TestQueue_PersistFailureStillQueues(t *testing.T) {
	ctx := context.Background()
	backend := &flakyBackend{Memory: store.NewMemory(), fail: true}
	q := openTestQueue(t, backend)

	e, err := q.Enqueue(ctx, updateEntry("1", "a"))
	require.Error(t, err)
	assert.True(t, syncerr.IsLocalStorage(err))
	assert.Equal(t, "e-0001", e.ID)
	assert.Equal(t, 1, q.Len())

	// Once the backend recovers the next write persists the full list.
	backend.setFail(false)
	_, err = q.Enqueue(ctx, updateEntry("2", "b"))
	require.NoError(t, err)

	reopened, err := Open(ctx, backend)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Len())
}

func TestQueue_OpenCorruptList(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()
	require.NoError(t, backend.Set(ctx, store.KeyOutbox, `{broken`))

	q, err := Open(ctx, backend)
	require.Error(t, err)
	assert.True(t, syncerr.IsLocalStorage(err))
	require.NotNil(t, q)
	assert.True(t, q.IsEmpty())

	_, err = q.Enqueue(ctx, updateEntry("1", "a"))
	assert.NoError(t, err)
}

func TestQueue_EntriesAreCopies(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t, store.NewMemory())
	_, err := q.Enqueue(ctx, updateEntry("1", "a"))
	require.NoError(t, err)

	entries := q.Entries()
	entries[0].Commit.Payload["id"] = record.String("mutated")
	entries[0].Effect.Body[0] = 'X'

	front, _ := q.PeekFront()
	assert.Equal(t, record.String("1"), front.Commit.Payload["id"])
	assert.Equal(t, `{"name":"a"}`, string(front.Effect.Body))
}

func TestQueue_WaitCoalesces(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t, store.NewMemory())

	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(ctx, updateEntry("1", "a"))
		require.NoError(t, err)
	}

	<-q.Wait()
	select {
	case <-q.Wait():
		t.Fatal("signals should coalesce into one")
	default:
	}
}

func TestQueue_ConcurrentEnqueue(t *testing.T) {
	ctx := context.Background()
	q, err := Open(ctx, store.NewMemory())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Enqueue(ctx, updateEntry("1", "a"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entries := q.Entries()
	require.Len(t, entries, 50)
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Seq, "persisted order follows seq")
	}
}
