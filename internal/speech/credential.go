package speech

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/sous/internal/observe"
	"golang.org/x/sync/singleflight"
)

const defaultCredentialTimeout = 10 * time.Second

// FetchFunc retrieves the remote synthesis credential.
type FetchFunc func(ctx context.Context) (string, error)

// CredentialOption configures a CredentialCache.
type CredentialOption func(*CredentialCache)

// WithFetchTimeout bounds a single credential fetch. Non-positive values
// keep the default.
func WithFetchTimeout(d time.Duration) CredentialOption {
	return func(c *CredentialCache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCredentialMetrics sets the metrics sink.
func WithCredentialMetrics(m *observe.Metrics) CredentialOption {
	return func(c *CredentialCache) { c.metrics = m }
}

// CredentialCache fetches the remote synthesis credential on first use and
// memoizes it for the life of the process. Concurrent callers share a single
// in-flight fetch. A failed fetch is not cached and not retried; the next
// Get tries again.
type CredentialCache struct {
	fetch   FetchFunc
	timeout time.Duration
	metrics *observe.Metrics

	group   singleflight.Group
	mu      sync.RWMutex
	value   string
	fetches atomic.Int64
}

// NewCredentialCache returns a cache backed by fetch.
func NewCredentialCache(fetch FetchFunc, opts ...CredentialOption) *CredentialCache {
	c := &CredentialCache{fetch: fetch, timeout: defaultCredentialTimeout}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Preload seeds the cache, e.g. from an environment variable, so that no
// fetch is needed. Empty values are ignored.
func (c *CredentialCache) Preload(v string) {
	if v = strings.TrimSpace(v); v == "" {
		return
	}
	c.mu.Lock()
	c.value = v
	c.mu.Unlock()
}

func (c *CredentialCache) cached() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Get returns the credential, fetching it if necessary. It returns "" when
// the fetch fails or ctx ends first; callers treat that as unavailable.
func (c *CredentialCache) Get(ctx context.Context) string {
	if v := c.cached(); v != "" {
		return v
	}
	if c.fetch == nil {
		return ""
	}

	ch := c.group.DoChan("credential", func() (any, error) {
		if v := c.cached(); v != "" {
			return v, nil
		}
		// The fetch is shared, so one caller giving up must not cancel it
		// for the others.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		fctx, span := observe.StartSpan(fctx, observe.SpanCredentialFetch)

		c.fetches.Add(1)
		v, err := c.fetch(fctx)
		v = strings.TrimSpace(v)
		if err == nil && v == "" {
			err = errors.New("speech: credential endpoint returned an empty value")
		}
		c.metrics.RecordCredentialFetch(fctx, err == nil)
		observe.EndSpan(span, err)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.value = v
		c.mu.Unlock()
		return v, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			observe.Logger(ctx).Warn("speech: credential fetch failed", "err", r.Err)
			return ""
		}
		return r.Val.(string)
	case <-ctx.Done():
		slog.Debug("speech: gave up waiting for credential", "err", ctx.Err())
		return ""
	}
}

// Fetches reports how many network fetches have been attempted.
func (c *CredentialCache) Fetches() int64 { return c.fetches.Load() }
