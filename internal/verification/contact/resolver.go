// Package contact turns a qr1.be profile URL into a contact record by
// scraping the public profile page.
package contact

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"qrverify/internal/platform/privacy"
	"qrverify/internal/verification/fetch"
	dErrors "qrverify/pkg/domain-errors"
)

// DefaultUserAgent is a desktop browser string; qr1.be serves a reduced page to
// unknown clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ErrContactNotFound is returned when the profile page carries no email.
var ErrContactNotFound = dErrors.New(dErrors.CodeNotFound, "contact information not found")

// Record is the contact data extracted from a profile. Email is always set.
type Record struct {
	Name  string
	Phone string
	Email string
}

// Resolver maps a profile URL to a contact record.
type Resolver interface {
	Resolve(ctx context.Context, profileURL string) (*Record, error)
}

// Fetcher is the subset of fetch.Fetcher the resolver needs.
type Fetcher interface {
	Get(ctx context.Context, url string, header http.Header) (*fetch.Response, error)
}

var (
	namePattern  = regexp.MustCompile(`<(?:strong|h1|h2|div)[^>]*>([^<]+)</(?:strong|h1|h2|div)>`)
	phonePattern = regexp.MustCompile(`(?:tel:|Phone:|phone:)[^\d]*(\d[\d\s-]{8,})`)
	emailPattern = regexp.MustCompile(`([a-zA-Z0-9._+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`)
	nonDigit     = regexp.MustCompile(`\D`)
)

const minPhoneDigits = 9

// QR1Resolver scrapes qr1.be profile pages.
type QR1Resolver struct {
	fetcher   Fetcher
	userAgent string
	logger    *slog.Logger
}

// Option configures the QR1Resolver.
type Option func(*QR1Resolver)

// WithUserAgent overrides the browser User-Agent sent to qr1.be.
func WithUserAgent(ua string) Option {
	return func(r *QR1Resolver) {
		if ua != "" {
			r.userAgent = ua
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *QR1Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewQR1Resolver creates a resolver that fetches through fetcher.
func NewQR1Resolver(fetcher Fetcher, opts ...Option) *QR1Resolver {
	r := &QR1Resolver{
		fetcher:   fetcher,
		userAgent: DefaultUserAgent,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve fetches the profile page and extracts the contact. Fetch failures
// are returned wrapped, so fetch.ErrExhausted stays matchable.
func (r *QR1Resolver) Resolve(ctx context.Context, profileURL string) (*Record, error) {
	header := http.Header{}
	header.Set("User-Agent", r.userAgent)

	resp, err := r.fetcher.Get(ctx, profileURL, header)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}

	record := Extract(string(resp.Body))
	if record.Email == "" {
		r.logger.InfoContext(ctx, "profile page has no email", "url", profileURL)
		return nil, ErrContactNotFound
	}
	r.logger.DebugContext(ctx, "contact resolved",
		"email", privacy.MaskEmail(record.Email),
		"phone", privacy.MaskPhone(record.Phone),
		"has_name", record.Name != "",
	)
	return &record, nil
}

// Extract runs the name, phone and email extractions independently. Any of
// the fields may be empty.
func Extract(html string) Record {
	var rec Record

	if m := namePattern.FindStringSubmatch(html); m != nil {
		rec.Name = strings.TrimSpace(m[1])
	}
	if m := phonePattern.FindStringSubmatch(html); m != nil {
		digits := nonDigit.ReplaceAllString(m[1], "")
		if len(digits) >= minPhoneDigits {
			rec.Phone = digits
		}
	}
	if m := emailPattern.FindStringSubmatch(html); m != nil {
		rec.Email = m[1]
	}

	return rec
}
