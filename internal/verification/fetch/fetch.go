// Package fetch performs HTTP GETs with exponential-backoff retry for the
// verification pipeline's upstream lookups (qr1.be profiles, the membership
// directory and chat attachments).
package fetch

//go:generate mockgen -source=fetch.go -destination=mocks/mocks.go -package=mocks HTTPDoer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	DefaultMaxRetries   = 5
	DefaultInitialDelay = time.Second
	DefaultTimeout      = 15 * time.Second
)

// ErrExhausted matches every *ExhaustedError via errors.Is.
var ErrExhausted = errors.New("fetch retries exhausted")

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// StatusError reports a non-2xx upstream response. It is retried like a
// transport error.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// ExhaustedError is returned once every attempt has failed.
type ExhaustedError struct {
	URL      string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("fetch %s: %d attempts failed: %v", e.URL, e.Attempts, e.Last)
}

// Unwrap exposes the last underlying failure.
func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Is lets errors.Is(err, ErrExhausted) match.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Fetcher issues GET requests and retries failures with pure exponential
// backoff: InitialDelay × 2^(attempt-1) between attempts, no jitter.
type Fetcher struct {
	client       HTTPDoer
	maxRetries   int
	initialDelay time.Duration
	sleep        SleepFunc
	logger       *slog.Logger
}

// Option configures the Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client HTTPDoer) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithMaxRetries sets the total number of attempts. Values below 1 mean 1.
func WithMaxRetries(n int) Option {
	return func(f *Fetcher) {
		f.maxRetries = max(n, 1)
	}
}

// WithInitialDelay sets the wait after the first failed attempt.
func WithInitialDelay(d time.Duration) Option {
	return func(f *Fetcher) {
		if d >= 0 {
			f.initialDelay = d
		}
	}
}

// WithSleep replaces the backoff wait, e.g. with a recording fake in tests.
func WithSleep(sleep SleepFunc) Option {
	return func(f *Fetcher) {
		if sleep != nil {
			f.sleep = sleep
		}
	}
}

// WithLogger sets the logger used for per-attempt diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// New creates a Fetcher with 5 attempts and a 1s initial delay.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:       &http.Client{Timeout: DefaultTimeout},
		maxRetries:   DefaultMaxRetries,
		initialDelay: DefaultInitialDelay,
		sleep:        sleepContext,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get fetches url, retrying transport errors and non-2xx statuses.
// After the final failed attempt it returns an *ExhaustedError carrying the
// last failure. A done context stops the backoff wait early.
func (f *Fetcher) Get(ctx context.Context, url string, header http.Header) (*Response, error) {
	var lastErr error
	delay := f.initialDelay

	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		resp, err := f.do(ctx, url, header)
		if err == nil {
			resp.Attempts = attempt
			return resp, nil
		}
		lastErr = err

		if attempt == f.maxRetries {
			f.logger.WarnContext(ctx, "fetch attempt failed, max retries reached",
				"url", url,
				"attempt", attempt,
				"error", err,
			)
			break
		}

		f.logger.WarnContext(ctx, "fetch attempt failed, retrying",
			"url", url,
			"attempt", attempt,
			"retry_in_ms", delay.Milliseconds(),
			"error", err,
		)

		if err := f.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", url, err)
		}
		delay *= 2
	}

	return nil, &ExhaustedError{URL: url, Attempts: f.maxRetries, Last: lastErr}
}

func (f *Fetcher) do(ctx context.Context, url string, header http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
