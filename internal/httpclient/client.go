// Package httpclient wraps outbound JSON requests with a per-attempt timeout,
// linear retries for idempotent calls and a short-lived response cache.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matrixise/ethfolio/internal/metrics"
)

const (
	DefaultTimeout   = 8 * time.Second
	DefaultRetries   = 2
	DefaultRetryBase = 250 * time.Millisecond

	// TimingName is the metrics timer fed on every attempt
	TimingName = "external.http"
)

// Options controls a single FetchJSON call
type Options struct {
	Timeout   time.Duration
	Retries   int
	RetryBase time.Duration
	CacheTTL  time.Duration
	Method    string
	Header    http.Header
	Body      []byte
}

// Result is the outcome of a FetchJSON call. Status is 0 when no HTTP
// response was received.
type Result[T any] struct {
	OK     bool
	Status int
	Data   T
	Cached bool
	Err    error
}

type cacheEntry struct {
	body      []byte
	expiresAt time.Time
}

// Client is shared by every caller in the process
type Client struct {
	http     *http.Client
	metrics  metrics.Recorder
	defaults Options

	mu    sync.Mutex
	cache map[string]cacheEntry
	now   func() time.Time
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying transport client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMetrics sets the sink for per-attempt timings
func WithMetrics(r metrics.Recorder) Option {
	return func(c *Client) { c.metrics = r }
}

// WithDefaults sets the options returned by Defaults
func WithDefaults(o Options) Option {
	return func(c *Client) { c.defaults = o }
}

// New creates a client with the package defaults
func New(opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{},
		metrics: metrics.Discard{},
		defaults: Options{
			Timeout:   DefaultTimeout,
			Retries:   DefaultRetries,
			RetryBase: DefaultRetryBase,
		},
		cache: make(map[string]cacheEntry),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Defaults returns a copy of the client's default options
func (c *Client) Defaults() Options {
	o := c.defaults
	if o.Header != nil {
		o.Header = o.Header.Clone()
	}
	return o
}

// CacheLen reports the number of cached responses
func (c *Client) CacheLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// lookup prunes expired entries and returns a live one for key
func (c *Client) lookup(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.cache {
		if !now.Before(e.expiresAt) {
			delete(c.cache, k)
		}
	}
	e, ok := c.cache[key]
	if !ok {
		return nil, false
	}
	return e.body, true
}

func (c *Client) store(key string, body []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = cacheEntry{body: body, expiresAt: c.now().Add(ttl)}
}

// linearBackOff waits base, 2*base, 3*base... for at most max retries
type linearBackOff struct {
	base    time.Duration
	max     int
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	if b.attempt >= b.max {
		return backoff.Stop
	}
	b.attempt++
	return b.base * time.Duration(b.attempt)
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

type response struct {
	status int
	body   []byte
}

// do performs the request with retries and returns the last response seen
func (c *Client) do(ctx context.Context, url string, opts Options) (response, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	idempotent := method == http.MethodGet
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var last response
	attempt := func() error {
		actx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var body io.Reader
		if opts.Body != nil {
			body = bytes.NewReader(opts.Body)
		}
		req, err := http.NewRequestWithContext(actx, method, url, body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		for k, vs := range opts.Header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		if req.Header.Get("Accept") == "" {
			req.Header.Set("Accept", "application/json")
		}

		start := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			c.metrics.Timing(TimingName, time.Since(start))
			last = response{}
			if !idempotent {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		c.metrics.Timing(TimingName, time.Since(start))
		if err != nil {
			last = response{}
			if !idempotent {
				return backoff.Permanent(err)
			}
			return fmt.Errorf("failed to read body: %w", err)
		}

		last = response{status: resp.StatusCode, body: data}
		if resp.StatusCode >= 500 {
			err := fmt.Errorf("upstream returned %d", resp.StatusCode)
			if !idempotent {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	var b backoff.BackOff = &linearBackOff{base: opts.RetryBase, max: max(0, opts.Retries)}
	err := backoff.Retry(attempt, backoff.WithContext(b, ctx))
	return last, err
}

// FetchJSON issues the request and decodes a JSON body into T. It never
// returns an error directly: failures are reported through Result.
func FetchJSON[T any](ctx context.Context, c *Client, url string, opts Options) Result[T] {
	var res Result[T]

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	key := method + ":" + url
	useCache := opts.CacheTTL > 0 && method == http.MethodGet

	if useCache {
		if body, ok := c.lookup(key); ok {
			if err := json.Unmarshal(body, &res.Data); err == nil {
				res.OK = true
				res.Status = http.StatusOK
				res.Cached = true
				return res
			}
		}
	}

	resp, err := c.do(ctx, url, opts)
	res.Status = resp.status
	if err != nil {
		res.Err = err
		return res
	}
	if resp.status < 200 || resp.status >= 300 {
		res.Err = fmt.Errorf("unexpected status %d", resp.status)
		return res
	}

	res.OK = true
	if len(resp.body) > 0 {
		if err := json.Unmarshal(resp.body, &res.Data); err != nil {
			var zero T
			res.Data = zero
			res.Err = fmt.Errorf("failed to decode body: %w", err)
		}
	}
	if useCache && res.Err == nil {
		c.store(key, resp.body, opts.CacheTTL)
	}
	return res
}

// IsTimeout reports whether a Result error came from a deadline
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
