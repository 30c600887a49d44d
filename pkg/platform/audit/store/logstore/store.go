// Package logstore writes audit events as structured log lines.
package logstore

import (
	"context"
	"log/slog"

	audit "qrverify/pkg/platform/audit"
)

// Store emits one log line per event, tagged with log_type=audit so log
// pipelines can route it separately.
type Store struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Store {
	return &Store{logger: logger}
}

func (s *Store) Append(ctx context.Context, e audit.Event) error {
	s.logger.InfoContext(ctx, e.Action,
		"log_type", "audit",
		"category", string(audit.AuditEvent(e.Action).Category()),
		"verification_id", e.VerificationID,
		"user_id", e.UserID,
		"outcome", e.Outcome,
		"tier", e.Tier,
		"role", e.Role,
		"reason", e.Reason,
		"duration_ms", e.DurationMs,
	)
	return nil
}
