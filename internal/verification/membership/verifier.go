// Package membership confirms whether an email belongs to a SmallStreet
// member and which tier they hold.
package membership

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"qrverify/internal/verification/fetch"
	"qrverify/pkg/platform/circuit"
)

// DefaultDirectoryURL is the public SmallStreet membership directory.
const DefaultDirectoryURL = "https://www.smallstreet.app/wp-json/myapi/v1/api"

// Status is the outcome of a membership lookup.
type Status struct {
	IsMember bool
	Tier     string
}

// Entry is one row of the directory.
type Entry struct {
	Email          string          `json:"user_email"`
	MembershipID   json.RawMessage `json:"membership_id"`
	MembershipName *string         `json:"membership_name"`
}

// HasMembership reports whether the membership id is present. JSON null,
// false, 0 and "" count as absent.
func (e Entry) HasMembership() bool {
	raw := bytes.TrimSpace(e.MembershipID)
	if len(raw) == 0 {
		return false
	}
	switch string(raw) {
	case "null", "false", "0", `""`:
		return false
	}
	if c := raw[0]; c == '-' || (c >= '0' && c <= '9') {
		if f, err := strconv.ParseFloat(string(raw), 64); err == nil && f == 0 {
			return false
		}
	}
	return true
}

// Tier returns the membership name or "" when absent.
func (e Entry) Tier() string {
	if e.MembershipName == nil {
		return ""
	}
	return *e.MembershipName
}

// Match scans entries for the first case-insensitive email match that also
// carries a membership id.
func Match(entries []Entry, email string) Status {
	target := strings.ToLower(strings.TrimSpace(email))
	for _, e := range entries {
		if strings.ToLower(e.Email) == target && e.HasMembership() {
			return Status{IsMember: true, Tier: e.Tier()}
		}
	}
	return Status{}
}

// Fetcher is the subset of fetch.Fetcher the verifier needs.
type Fetcher interface {
	Get(ctx context.Context, url string, header http.Header) (*fetch.Response, error)
}

// Verifier looks emails up in the directory. When a snapshot cache is
// configured, the last good directory is served while the upstream is failing.
type Verifier struct {
	fetcher      Fetcher
	directoryURL string
	cache        SnapshotCache
	breaker      *circuit.Breaker
	onFallback   func()
	logger       *slog.Logger
}

// Option configures the Verifier.
type Option func(*Verifier)

// WithDirectoryURL overrides the directory endpoint.
func WithDirectoryURL(url string) Option {
	return func(v *Verifier) {
		if url != "" {
			v.directoryURL = url
		}
	}
}

// WithSnapshotCache enables the outage fallback.
func WithSnapshotCache(cache SnapshotCache) Option {
	return func(v *Verifier) {
		v.cache = cache
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(v *Verifier) {
		if b != nil {
			v.breaker = b
		}
	}
}

// WithFallbackHook registers fn to run whenever a snapshot answers instead of
// the live directory.
func WithFallbackHook(fn func()) Option {
	return func(v *Verifier) {
		v.onFallback = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewVerifier creates a Verifier reading from the default directory.
func NewVerifier(fetcher Fetcher, opts ...Option) *Verifier {
	v := &Verifier{
		fetcher:      fetcher,
		directoryURL: DefaultDirectoryURL,
		breaker:      circuit.New("membership_directory"),
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify reports the membership status of email. A directory that cannot be
// fetched (and has no usable snapshot) yields the fetch error, so
// fetch.ErrExhausted stays matchable.
func (v *Verifier) Verify(ctx context.Context, email string) (Status, error) {
	entries, err := v.directory(ctx)
	if err != nil {
		return Status{}, err
	}
	return Match(entries, email), nil
}

func (v *Verifier) directory(ctx context.Context) ([]Entry, error) {
	if !v.breaker.Allow() {
		if entries, ok := v.snapshot(ctx); ok {
			v.logger.WarnContext(ctx, "circuit open, using cached directory",
				"circuit", v.breaker.Name(),
			)
			return entries, nil
		}
	}

	entries, err := v.fetchDirectory(ctx)
	if err != nil {
		useFallback, change := v.breaker.RecordFailure()
		if change.Opened {
			v.logger.ErrorContext(ctx, "circuit breaker opened",
				"circuit", v.breaker.Name(),
				"error", err,
			)
		}
		// The snapshot also serves failures below the breaker threshold.
		if entries, ok := v.snapshot(ctx); ok {
			v.logger.WarnContext(ctx, "using cached directory after failure",
				"circuit", v.breaker.Name(),
				"circuit_open", useFallback,
				"circuit_state", v.breaker.State().String(),
				"error", err,
			)
			return entries, nil
		}
		return nil, err
	}

	_, change := v.breaker.RecordSuccess()
	if change.Closed {
		v.logger.InfoContext(ctx, "circuit breaker closed", "circuit", v.breaker.Name())
	}

	if v.cache != nil {
		if err := v.cache.Save(ctx, entries); err != nil {
			v.logger.WarnContext(ctx, "failed to store directory snapshot", "error", err)
		}
	}
	return entries, nil
}

func (v *Verifier) fetchDirectory(ctx context.Context) ([]Entry, error) {
	resp, err := v.fetcher.Get(ctx, v.directoryURL, http.Header{"Accept": []string{"application/json"}})
	if err != nil {
		return nil, fmt.Errorf("fetch membership directory: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(resp.Body, &entries); err != nil {
		return nil, fmt.Errorf("decode membership directory: %w", err)
	}
	return entries, nil
}

func (v *Verifier) snapshot(ctx context.Context) ([]Entry, bool) {
	if v.cache == nil {
		return nil, false
	}
	entries, err := v.cache.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrSnapshotMissing) {
			v.logger.WarnContext(ctx, "failed to load directory snapshot", "error", err)
		}
		return nil, false
	}
	if v.onFallback != nil {
		v.onFallback()
	}
	return entries, true
}
