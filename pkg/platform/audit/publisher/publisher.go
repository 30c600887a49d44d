package publisher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	dErrors "qrverify/pkg/domain-errors"
	audit "qrverify/pkg/platform/audit"
)

// ErrClosed is returned by Emit once Close has been called.
var ErrClosed = dErrors.New(dErrors.CodeUnavailable, "audit publisher closed")

// Publisher captures structured audit events. It is append-only and delegates
// persistence to a store so tests can swap sinks easily.
type Publisher struct {
	store  audit.Store
	events chan audit.Event
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	logger *slog.Logger
	async  bool
	now    func() time.Time
}

// PublisherOption configures the Publisher.
type PublisherOption func(*Publisher)

// WithAsyncBuffer enables async processing with the specified buffer size.
// Events are queued and persisted in a background goroutine so a slow sink
// never delays the reply to the member.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.events = make(chan audit.Event, size)
			p.async = true
		}
	}
}

// WithPublisherLogger sets a logger for async error reporting.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store audit.Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	if p.async {
		p.wg.Add(1)
		go p.processEvents()
	}
	return p
}

func (p *Publisher) processEvents() {
	defer p.wg.Done()
	for event := range p.events {
		if err := p.store.Append(context.Background(), event); err != nil {
			if p.logger != nil {
				p.logger.Error("failed to persist audit event",
					"error", err,
					"action", event.Action,
					"verification_id", event.VerificationID,
				)
			}
		}
	}
}

// Close shuts down the async publisher and waits for pending events to drain.
// Later calls are no-ops.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.async {
		close(p.events)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Emit records base. After Close it returns ErrClosed and drops the event.
func (p *Publisher) Emit(ctx context.Context, base audit.Event) error {
	if base.Timestamp.IsZero() {
		base.Timestamp = p.now()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if p.async {
		select {
		case p.events <- base:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
			if p.logger != nil {
				p.logger.Warn("audit buffer full, event dropped",
					"action", base.Action,
					"verification_id", base.VerificationID,
				)
			}
			return dErrors.New(dErrors.CodeUnavailable, "audit buffer full")
		}
	}
	return p.store.Append(ctx, base)
}
