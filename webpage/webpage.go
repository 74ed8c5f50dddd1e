// Package webpage fetches HTML pages through a memo.Cache: every request is
// counted per URL and page bodies are memoized for a short TTL.
package webpage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/goforj/memo"
)

const (
	// DefaultTTL is how long a fetched page stays cached.
	DefaultTTL = 10 * time.Second
	// DefaultMaxBody caps how much of a response body is read.
	DefaultMaxBody int64 = 8 << 20

	countPrefix = "count:"
	htmlPrefix  = "html:"
)

// ErrStatus is wrapped by errors for non-200 responses.
var ErrStatus = errors.New("webpage: unexpected status")

// Doer is the subset of *http.Client used by Fetcher.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher retrieves pages, counting accesses at "count:<url>" and caching
// bodies at "html:<url>".
type Fetcher struct {
	cache   *memo.Cache
	client  Doer
	ttl     time.Duration
	maxBody int64
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithClient replaces the HTTP client.
func WithClient(client Doer) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithTTL sets how long pages stay cached.
func WithTTL(ttl time.Duration) Option {
	return func(f *Fetcher) {
		if ttl > 0 {
			f.ttl = ttl
		}
	}
}

// WithMaxBody caps the number of body bytes read per page.
func WithMaxBody(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBody = n
		}
	}
}

// New builds a Fetcher over c.
func New(c *memo.Cache, opts ...Option) *Fetcher {
	f := &Fetcher{
		cache:   c,
		client:  http.DefaultClient,
		ttl:     DefaultTTL,
		maxBody: DefaultMaxBody,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get returns the page at url. The access is counted before the cache is
// consulted, so cached hits are counted too.
func (f *Fetcher) Get(ctx context.Context, url string) (string, error) {
	if _, err := f.cache.Count(ctx, CountKey(url)); err != nil {
		return "", err
	}
	return f.cache.GetOrFetchString(ctx, HTMLKey(url), f.ttl, func(ctx context.Context) (string, error) {
		return f.download(ctx, url)
	})
}

// Count reports how many times url was requested through Get.
func (f *Fetcher) Count(ctx context.Context, url string) (int64, error) {
	return f.cache.AccessCount(ctx, CountKey(url))
}

// CountKey is the counter key for url.
func CountKey(url string) string { return countPrefix + url }

// HTMLKey is the cache key for the body of url.
func HTMLKey(url string) string { return htmlPrefix + url }

func (f *Fetcher) download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("%w: %s returned %d", ErrStatus, url, resp.StatusCode)
	}

	body, err := charset.NewReader(io.LimitReader(resp.Body, f.maxBody), resp.Header.Get("Content-Type"))
	if err != nil {
		return "", fmt.Errorf("webpage: decode %s: %w", url, err)
	}
	text, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	return string(text), nil
}
