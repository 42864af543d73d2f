// Package fetch downloads individual sky tiles over HTTP. One request per
// tile, bounded by a timeout, no retries; transient-failure policy belongs
// to the caller.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single tile download.
const DefaultTimeout = 15 * time.Second

const userAgent = "skymosaic/1.0 (sky mosaic assembler)"

// ErrorKind classifies a failed tile download.
type ErrorKind string

const (
	KindTimeout    ErrorKind = "timeout"
	KindNetwork    ErrorKind = "network"
	KindHTTPStatus ErrorKind = "http_status"
	KindEmptyBody  ErrorKind = "empty_body"
)

// Error is a failed tile download with enough context to log and classify.
type Error struct {
	Kind   ErrorKind
	URL    string
	Status int
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("fetch: %s: HTTP %d", e.URL, e.Status)
	case KindEmptyBody:
		return fmt.Sprintf("fetch: %s: empty body", e.URL)
	default:
		return fmt.Sprintf("fetch: %s: %s: %v", e.URL, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Fetcher downloads tiles with a shared client and timeout.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
}

// New returns a fetcher with the given per-request timeout; zero means
// DefaultTimeout.
func New(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Timeout returns the per-request bound.
func (f *Fetcher) Timeout() time.Duration { return f.timeout }

// Tile downloads the tile for a pixel from a survey. The returned bytes are
// the raw image body; validation beyond non-emptiness is the cache's job.
func (f *Fetcher) Tile(ctx context.Context, survey Survey, pix int64, order int) ([]byte, error) {
	return f.Get(ctx, survey.TileURL(pix, order))
}

// Get downloads one URL with the fetcher's timeout and classifies failures.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, URL: url, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		kind := KindNetwork
		if isTimeout(err) {
			kind = KindTimeout
		}
		return nil, &Error{Kind: kind, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &Error{Kind: KindHTTPStatus, URL: url, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		kind := KindNetwork
		if isTimeout(err) {
			kind = KindTimeout
		}
		return nil, &Error{Kind: kind, URL: url, Err: err}
	}
	if len(data) == 0 {
		return nil, &Error{Kind: KindEmptyBody, URL: url}
	}
	return data, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	if errors.As(err, &t) {
		return t.Timeout()
	}
	return false
}
