// Package upstream implements the asynchronous upstream HTTP client: one
// overall per-call deadline covering resolve+connect+write+read, no
// retries, and content-type-directed body handling left to the caller.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nexroute/backendify/internal/domain"
)

// ErrTimedOut is returned when the overall per-call deadline fires before
// the round trip completes.
var ErrTimedOut = errors.New("upstream: timed out")

// Result is the raw upstream response handed back to the pipeline for
// content-type-directed parsing.
type Result struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Client issues GET /companies/{id} against a BackendTarget. Each call owns
// its own context-scoped deadline; no call is ever retried by this layer.
type Client struct {
	mu       sync.Mutex
	pool     map[string]*http.Client
	nextID   uint64
	sessions map[uint64]context.CancelFunc
}

// New returns a Client with an empty per-target connection pool.
func New() *Client {
	return &Client{
		pool:     make(map[string]*http.Client),
		sessions: make(map[uint64]context.CancelFunc),
	}
}

// Call performs one GET /companies/{id} against target, bounded by deadline.
// Network-level failures (connection refused/reset, DNS failure, deadline
// exceeded) are returned as errors; any HTTP status code at all — including
// 4xx/5xx — is returned as a Result, since interpreting the status is the
// pipeline's job, not this layer's.
func (c *Client) Call(ctx context.Context, target domain.BackendTarget, id string, deadline time.Duration) (*Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	callID := c.track(cancel)
	defer c.untrack(callID)
	defer cancel()

	url := fmt.Sprintf("%s/companies/%s", baseURL(target), id)
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Accept-Encoding", "gzip, deflate")

	resp, err := c.clientFor(target).Do(req)
	if err != nil {
		if callCtx.Err() != nil {
			return nil, ErrTimedOut
		}
		return nil, fmt.Errorf("upstream: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	// End-of-stream while reading the body is not itself an error; only a
	// context deadline firing mid-read is reported as a timeout.
	if err != nil && callCtx.Err() != nil {
		return nil, ErrTimedOut
	}

	return &Result{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// Shutdown cancels every in-flight call's context, causing pending
// operations to unblock with "context canceled" rather than waiting out
// their deadlines.
func (c *Client) Shutdown() {
	c.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(c.sessions))
	for _, cancel := range c.sessions {
		cancels = append(cancels, cancel)
	}
	c.sessions = make(map[uint64]context.CancelFunc)
	c.mu.Unlock()

	// Mutex is released before invoking cancel: a completing call's
	// cleanup (untrack) re-acquires the same mutex, and holding it across
	// cancel would deadlock against that re-entry.
	for _, cancel := range cancels {
		cancel()
	}
}

// track registers cancel under a fresh id and returns it. Cancel funcs are
// not comparable as map keys, so the tracking set is keyed by an
// incrementing id instead.
func (c *Client) track(cancel context.CancelFunc) uint64 {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.sessions[id] = cancel
	c.mu.Unlock()
	return id
}

func (c *Client) untrack(id uint64) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
}

// clientFor returns a pooled *http.Client per (host, port), matching the
// reference implementation's thread-local client reuse for throughput;
// pooling is not required for correctness since every call carries its own
// deadline via context.
func (c *Client) clientFor(target domain.BackendTarget) *http.Client {
	key := fmt.Sprintf("%s:%d", target.Host, target.Port)

	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.pool[key]; ok {
		return client
	}
	client := &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			DisableCompression:  false,
			MaxIdleConnsPerHost: 8,
		},
	}
	c.pool[key] = client
	return client
}

func baseURL(target domain.BackendTarget) string {
	scheme := "http"
	if target.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, target.Host, target.Port)
}
