package remote

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/auth"
	"github.com/roach88/offsync/internal/outbox"
	"github.com/roach88/offsync/internal/record"
	"github.com/roach88/offsync/internal/syncerr"
)

type seenRequest struct {
	Method         string
	Path           string
	Body           string
	Authorization  string
	IdempotencyKey string
	ContentType    string
}

func newTestServer(t *testing.T, status int, body string) (*httptest.Server, func() []seenRequest) {
	t.Helper()
	var mu sync.Mutex
	var seen []seenRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		seen = append(seen, seenRequest{
			Method:         r.Method,
			Path:           r.URL.Path,
			Body:           string(data),
			Authorization:  r.Header.Get("Authorization"),
			IdempotencyKey: r.Header.Get("Idempotency-Key"),
			ContentType:    r.Header.Get("Content-Type"),
		})
		mu.Unlock()
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []seenRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]seenRequest(nil), seen...)
	}
}

func TestEndpoints(t *testing.T) {
	e := Endpoints{}
	assert.Equal(t, "/items", e.ListPath())
	assert.Equal(t, "/items/a%2Fb", e.ItemPath("a/b"))

	eff, err := Endpoints{Collection: "todos"}.UpdateEffect("7", "<x>")
	require.NoError(t, err)
	assert.Equal(t, "PUT", eff.Method)
	assert.Equal(t, "/todos/7", eff.URL)
	assert.Equal(t, `{"name":"<x>"}`, string(eff.Body))
	assert.Equal(t, "application/json", eff.Headers["Content-Type"])

	list := Endpoints{}.ListEffect()
	assert.Equal(t, "GET /items", list.String())
	assert.Nil(t, list.Body)
}

func TestExecute_SendsHeaders(t *testing.T) {
	srv, seen := newTestServer(t, http.StatusOK, `{"id":"1","name":"a"}`)
	c := New(srv.URL+"/", Endpoints{})

	eff, err := c.Endpoints().UpdateEffect("1", "a")
	require.NoError(t, err)

	resp, err := c.Execute(context.Background(), eff, "entry-0001", "t0")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"1","name":"a"}`, string(resp))

	reqs := seen()
	require.Len(t, reqs, 1)
	assert.Equal(t, seenRequest{
		Method:         "PUT",
		Path:           "/items/1",
		Body:           `{"name":"a"}`,
		Authorization:  "Bearer t0",
		IdempotencyKey: "entry-0001",
		ContentType:    "application/json",
	}, reqs[0])
}

func TestExecute_NoTokenNoAuthorization(t *testing.T) {
	srv, seen := newTestServer(t, http.StatusNoContent, "")
	c := New(srv.URL, Endpoints{})

	_, err := c.Execute(context.Background(), c.Endpoints().ListEffect(), "", "")
	require.NoError(t, err)
	assert.Empty(t, seen()[0].Authorization)
	assert.Empty(t, seen()[0].IdempotencyKey)
}

func TestExecute_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"unauthorized", http.StatusUnauthorized, syncerr.IsAuthExpired},
		{"server error", http.StatusInternalServerError, syncerr.IsRemoteService},
		{"bad request", http.StatusBadRequest, syncerr.IsRemoteService},
		{"not found", http.StatusNotFound, syncerr.IsRemoteService},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tt.status, "nope")
			c := New(srv.URL, Endpoints{})

			_, err := c.Execute(context.Background(), c.Endpoints().ListEffect(), "k", "t")
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected classification: %v", err)
			assert.Equal(t, tt.status, syncerr.StatusOf(err))
		})
	}
}

func TestExecute_TransportErrorIsTransient(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, "")
	url := srv.URL
	srv.Close()

	c := New(url, Endpoints{})
	_, err := c.Execute(context.Background(), c.Endpoints().ListEffect(), "", "")
	require.Error(t, err)
	assert.True(t, syncerr.IsTransient(err))
}

func TestExecute_TimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := New(srv.URL, Endpoints{}, WithTimeout(50*time.Millisecond))
	_, err := c.Execute(context.Background(), c.Endpoints().ListEffect(), "", "")
	require.Error(t, err)
	assert.True(t, syncerr.IsTransient(err))
}

func TestWithTimeout(t *testing.T) {
	c := New("http://example.invalid", Endpoints{}, WithTimeout(3*time.Second))
	assert.Equal(t, 3*time.Second, c.http.Timeout)

	for _, d := range []time.Duration{0, -time.Second} {
		c = New("http://example.invalid", Endpoints{}, WithTimeout(d))
		assert.Equal(t, DefaultTimeout, c.http.Timeout, "timeout %s", d)
	}
}

func TestExecute_AbsoluteURL(t *testing.T) {
	srv, seen := newTestServer(t, http.StatusOK, "")
	c := New("http://unused.invalid", Endpoints{})

	_, err := c.Execute(context.Background(), outbox.Effect{Method: "GET", URL: srv.URL + "/other"}, "", "")
	require.NoError(t, err)
	assert.Equal(t, "/other", seen()[0].Path)
}

func TestFetchAll(t *testing.T) {
	srv, seen := newTestServer(t, http.StatusOK, `[{"id":"1","name":"a"},{"id":2,"name":"b"}]`)
	c := New(srv.URL, Endpoints{}, WithCredentials(auth.NewStatic("t0")))

	set, err := c.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, set, 2)
	assert.Equal(t, "2", set[1].ID)
	assert.Equal(t, "b", set[1].Name)
	data, err := set.Canonical()
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"1","name":"a"},{"id":2,"name":"b"}]`, string(data))

	reqs := seen()
	require.Len(t, reqs, 1)
	assert.Equal(t, "GET", reqs[0].Method)
	assert.Equal(t, "/items", reqs[0].Path)
	assert.Equal(t, "Bearer t0", reqs[0].Authorization)
}

func TestFetchAll_BadPayload(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, `[{"id":"1"},{"id":"1"}]`)
	c := New(srv.URL, Endpoints{})

	_, err := c.FetchAll(context.Background())
	require.Error(t, err)
	assert.True(t, syncerr.IsRemoteService(err))
	assert.ErrorIs(t, err, record.ErrDuplicateID)
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify("op", 200, nil))
	assert.NoError(t, Classify("op", 204, nil))
	assert.True(t, syncerr.IsAuthExpired(Classify("op", 401, nil)))
	assert.True(t, syncerr.IsRemoteService(Classify("op", 503, nil)))

	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	err := Classify("op", 500, long)
	assert.Less(t, len(err.Error()), 300)
}
