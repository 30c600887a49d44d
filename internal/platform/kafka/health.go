package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

const DefaultDialTimeout = 2 * time.Second

// ErrNoBrokers is returned when the broker list is empty.
var ErrNoBrokers = errors.New("no kafka brokers configured")

// Pinger is the producer side of the check. *producer.Producer satisfies it.
type Pinger interface {
	Healthy(ctx context.Context) error
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// HealthChecker reports whether the audit sink can reach Kafka. A broker
// must accept a TCP connection and, when a producer is attached, the
// producer must answer a ping.
type HealthChecker struct {
	brokers  []string
	timeout  time.Duration
	producer Pinger
	dial     dialFunc
}

// HealthOption configures the HealthChecker.
type HealthOption func(*HealthChecker)

// WithDialTimeout bounds each broker dial.
func WithDialTimeout(d time.Duration) HealthOption {
	return func(h *HealthChecker) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithProducer adds a producer ping after the broker dial succeeds.
func WithProducer(p Pinger) HealthOption {
	return func(h *HealthChecker) {
		h.producer = p
	}
}

// NewHealthChecker parses a comma-separated broker list.
func NewHealthChecker(brokers string, opts ...HealthOption) *HealthChecker {
	h := &HealthChecker{timeout: DefaultDialTimeout}
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			h.brokers = append(h.brokers, b)
		}
	}
	var d net.Dialer
	h.dial = d.DialContext
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Check returns nil once one broker is reachable and the producer, if any,
// is healthy.
func (h *HealthChecker) Check(ctx context.Context) error {
	if len(h.brokers) == 0 {
		return ErrNoBrokers
	}
	if err := h.reachAny(ctx); err != nil {
		return err
	}
	if h.producer != nil {
		if err := h.producer.Healthy(ctx); err != nil {
			return fmt.Errorf("kafka producer unhealthy: %w", err)
		}
	}
	return nil
}

func (h *HealthChecker) reachAny(ctx context.Context) error {
	failures := make([]error, 0, len(h.brokers))
	for _, broker := range h.brokers {
		dialCtx, cancel := context.WithTimeout(ctx, h.timeout)
		conn, err := h.dial(dialCtx, "tcp", broker)
		cancel()
		if err == nil {
			_ = conn.Close()
			return nil
		}
		failures = append(failures, fmt.Errorf("%s: %w", broker, err))
	}
	return fmt.Errorf("no kafka broker reachable: %w", errors.Join(failures...))
}

// Name returns the check name for health reporting.
func (h *HealthChecker) Name() string {
	return "kafka"
}
