package testutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/roach88/offsync/internal/outbox"
	"github.com/roach88/offsync/internal/record"
	"github.com/roach88/offsync/internal/remote"
	"github.com/roach88/offsync/internal/syncerr"
)

// StatusTransient scripts a transport failure instead of an HTTP status.
const StatusTransient = -1

// Call is one request observed by FakeRemote.
type Call struct {
	Method string
	Path   string
	Body   string
	Token  string
	Key    string
	Status int
}

// FakeRemote is an in-memory remote service implementing the engine's
// Executor and the replica's Fetcher.
//
// Status resolution for each call, first match wins:
//  1. the next scripted status, if any (see Script)
//  2. 401 when a required token is set and the request carries another
//  3. 200, applying the effect
type FakeRemote struct {
	endpoints remote.Endpoints
	rec       *Recorder

	mu        sync.Mutex
	records   record.Set
	script    []int
	token     string
	calls     []Call
	fetches   int
	active    int
	maxActive int
	latency   time.Duration
	creds     interface{ Token() string }
}

// NewFakeRemote creates a fake serving the default collection. Calls are
// recorded on rec if non-nil.
func NewFakeRemote(rec *Recorder) *FakeRemote {
	return &FakeRemote{endpoints: remote.Endpoints{}, rec: rec}
}

// Endpoints returns the effect builder matching this fake.
func (f *FakeRemote) Endpoints() remote.Endpoints {
	return f.endpoints
}

// Seed replaces the server-side record set.
func (f *FakeRemote) Seed(set record.Set) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = set.Clone()
}

// Records returns the server-side record set.
func (f *FakeRemote) Records() record.Set {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records.Clone()
}

// Script queues statuses returned by the next calls, in order.
// Use StatusTransient for a transport failure.
func (f *FakeRemote) Script(statuses ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, statuses...)
}

// RequireToken makes every call carrying a different token fail with 401.
func (f *FakeRemote) RequireToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

// SetLatency delays every call, to widen race windows in tests.
func (f *FakeRemote) SetLatency(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latency = d
}

// UseCredentials sets the token source FetchAll sends.
func (f *FakeRemote) UseCredentials(src interface{ Token() string }) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds = src
}

// Calls returns every call so far.
func (f *FakeRemote) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Fetches returns how many full GETs were served successfully.
func (f *FakeRemote) Fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// MaxConcurrent returns the highest number of overlapping calls seen.
func (f *FakeRemote) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

// Execute implements engine.Executor.
func (f *FakeRemote) Execute(ctx context.Context, eff outbox.Effect, key, token string) ([]byte, error) {
	f.mu.Lock()
	f.active++
	f.maxActive = max(f.maxActive, f.active)
	latency := f.latency
	f.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.active--

	status := http.StatusOK
	switch {
	case len(f.script) > 0:
		status = f.script[0]
		f.script = f.script[1:]
	case f.token != "" && token != f.token:
		status = http.StatusUnauthorized
	}

	call := Call{Method: eff.Method, Path: eff.URL, Body: string(eff.Body), Token: token, Key: key, Status: status}
	f.calls = append(f.calls, call)
	f.rec.Record("%s", formatCall(call))

	op := eff.String()
	if status == StatusTransient {
		return nil, syncerr.Transient(op, errors.New("connection refused"))
	}
	if err := remote.Classify(op, status, nil); err != nil {
		return nil, err
	}
	return f.apply(eff)
}

// FetchAll implements the replica's Fetcher.
func (f *FakeRemote) FetchAll(ctx context.Context) (record.Set, error) {
	f.mu.Lock()
	creds := f.creds
	f.mu.Unlock()

	var token string
	if creds != nil {
		token = creds.Token()
	}

	body, err := f.Execute(ctx, f.endpoints.ListEffect(), "", token)
	if err != nil {
		return nil, err
	}
	return record.ParseSet(body)
}

// apply performs a successful effect. Caller must hold f.mu.
func (f *FakeRemote) apply(eff outbox.Effect) ([]byte, error) {
	list := f.endpoints.ListPath()

	switch {
	case eff.Method == http.MethodGet && eff.URL == list:
		f.fetches++
		return f.records.Canonical()

	case eff.Method == http.MethodPut && strings.HasPrefix(eff.URL, list+"/"):
		id, err := url.PathUnescape(strings.TrimPrefix(eff.URL, list+"/"))
		if err != nil {
			return nil, syncerr.RemoteService(eff.String(), http.StatusBadRequest, err)
		}
		v, err := record.DecodeValue(eff.Body)
		if err != nil {
			return nil, syncerr.RemoteService(eff.String(), http.StatusBadRequest, err)
		}
		obj, _ := v.(record.Object)
		name, _ := obj["name"].(record.String)

		f.records, _, _ = f.records.WithName(id, string(name))
		i := f.records.Index(id)
		return f.records[i].MarshalJSON()

	default:
		return nil, syncerr.RemoteService(eff.String(), http.StatusNotFound, nil)
	}
}

func formatCall(c Call) string {
	line := c.Method + " " + c.Path
	if c.Body != "" {
		line += " " + c.Body
	}
	if c.Token != "" {
		line += " token=" + c.Token
	}
	if c.Status == StatusTransient {
		return line + " -> transient"
	}
	return fmt.Sprintf("%s -> %d", line, c.Status)
}
