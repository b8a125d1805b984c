// Package remote talks to the authoritative REST service.
//
// The service exposes a single collection:
//
//	GET {base}/{collection}        full record set
//	PUT {base}/{collection}/{id}   body {"name": ...}
//
// 2xx is success, 401 means the credential expired, anything else is a
// generic failure. Transport errors and timeouts are transient.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/offsync/internal/auth"
	"github.com/roach88/offsync/internal/outbox"
	"github.com/roach88/offsync/internal/record"
	"github.com/roach88/offsync/internal/syncerr"
)

// DefaultTimeout bounds every request. A timeout is a transient error.
const DefaultTimeout = 10 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 16 << 20

// Endpoints builds effects relative to the service base URL.
type Endpoints struct {
	Collection string
}

// ListPath returns the collection path, e.g. "/items".
func (e Endpoints) ListPath() string {
	return "/" + url.PathEscape(e.collection())
}

// ItemPath returns the path of one record, e.g. "/items/1".
func (e Endpoints) ItemPath(id string) string {
	return e.ListPath() + "/" + url.PathEscape(id)
}

// UpdateEffect returns the PUT that sets the name of record id.
func (e Endpoints) UpdateEffect(id, name string) (outbox.Effect, error) {
	body, err := record.MarshalCanonical(record.Object{"name": record.String(name)})
	if err != nil {
		return outbox.Effect{}, fmt.Errorf("encode update body: %w", err)
	}
	return outbox.Effect{
		URL:     e.ItemPath(id),
		Method:  http.MethodPut,
		Body:    body,
		Headers: map[string]string{"Content-Type": "application/json"},
	}, nil
}

// ListEffect returns the GET of the full collection.
func (e Endpoints) ListEffect() outbox.Effect {
	return outbox.Effect{URL: e.ListPath(), Method: http.MethodGet}
}

func (e Endpoints) collection() string {
	if e.Collection == "" {
		return "items"
	}
	return e.Collection
}

// Client issues effects against the service.
type Client struct {
	baseURL   string
	endpoints Endpoints
	http      *http.Client
	creds     auth.Source
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout. Non-positive values keep
// DefaultTimeout; a request with no deadline would block the outbox
// indefinitely.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithCredentials sets the token source used by FetchAll.
func WithCredentials(src auth.Source) Option {
	return func(c *Client) {
		c.creds = src
	}
}

// New creates a client for the service at baseURL.
func New(baseURL string, endpoints Endpoints, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		endpoints: endpoints,
		http:      &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoints returns the effect builder for this client's collection.
func (c *Client) Endpoints() Endpoints {
	return c.endpoints
}

// Execute performs eff and returns the response body on 2xx.
//
// idempotencyKey is sent as Idempotency-Key so the server can recognize a
// replayed entry. token, when non-empty, is sent as a bearer credential.
func (c *Client) Execute(ctx context.Context, eff outbox.Effect, idempotencyKey, token string) ([]byte, error) {
	op := eff.String()

	var body io.Reader
	if len(eff.Body) > 0 {
		body = bytes.NewReader(eff.Body)
	}

	req, err := http.NewRequestWithContext(ctx, eff.Method, c.resolve(eff.URL), body)
	if err != nil {
		return nil, syncerr.RemoteService(op, 0, fmt.Errorf("build request: %w", err))
	}
	for k, v := range eff.Headers {
		req.Header.Set(k, v)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, syncerr.Transient(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, syncerr.Transient(op, fmt.Errorf("read response: %w", err))
	}

	if err := Classify(op, resp.StatusCode, data); err != nil {
		return nil, err
	}
	return data, nil
}

// FetchAll reads the authoritative record set.
func (c *Client) FetchAll(ctx context.Context) (record.Set, error) {
	var token string
	if c.creds != nil {
		token = c.creds.Token()
	}

	data, err := c.Execute(ctx, c.endpoints.ListEffect(), "", token)
	if err != nil {
		return nil, err
	}

	set, err := record.ParseSet(data)
	if err != nil {
		return nil, syncerr.RemoteService(c.endpoints.ListEffect().String(), http.StatusOK, err)
	}
	return set, nil
}

// resolve joins a relative effect URL with the base URL.
// Absolute URLs are used unchanged.
func (c *Client) resolve(u string) string {
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	if !strings.HasPrefix(u, "/") {
		u = "/" + u
	}
	return c.baseURL + u
}

// Classify maps an HTTP status to the sync error taxonomy.
// Returns nil for 2xx.
func Classify(op string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return syncerr.AuthExpired(op)
	default:
		var cause error
		if msg := strings.TrimSpace(string(body)); msg != "" {
			if len(msg) > 200 {
				msg = msg[:200]
			}
			cause = errors.New(msg)
		}
		return syncerr.RemoteService(op, status, cause)
	}
}
