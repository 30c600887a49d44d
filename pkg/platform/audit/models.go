package audit

import (
	"context"
	"errors"
	"time"
)

// Event is emitted when a verification reaches a terminal result. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp      time.Time `json:"timestamp"`
	VerificationID string    `json:"verification_id"`
	UserID         string    `json:"user_id"`
	ChannelID      string    `json:"channel_id,omitempty"`
	Action         string    `json:"action"`
	Outcome        string    `json:"outcome"`
	Tier           string    `json:"tier,omitempty"`
	Role           string    `json:"role,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	// EmailHash is a truncated digest, never the raw address.
	EmailHash  string `json:"email_hash,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

type AuditEvent string

const (
	EventVerificationCompleted AuditEvent = "verification_completed"
	EventVerificationRejected  AuditEvent = "verification_rejected"
	EventRoleGranted           AuditEvent = "role_granted"
	EventRoleGrantFailed       AuditEvent = "role_grant_failed"
	EventVerificationFailed    AuditEvent = "verification_failed"
)

// Category groups events by how long and where they must be kept.
type Category string

const (
	CategoryCompliance Category = "compliance"
	CategorySecurity   Category = "security"
	CategoryOperations Category = "operations"
)

// Category maps an event to its category. Unknown events are operations.
func (e AuditEvent) Category() Category {
	switch e {
	case EventRoleGranted, EventVerificationCompleted:
		return CategoryCompliance
	case EventRoleGrantFailed, EventVerificationRejected:
		return CategorySecurity
	default:
		return CategoryOperations
	}
}

// Store persists or forwards audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Fanout appends each event to every store and joins their errors.
type Fanout []Store

func (f Fanout) Append(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Append(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
