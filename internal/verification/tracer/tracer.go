// Package tracer provides a lightweight tracing abstraction for the
// verification pipeline.
//
// The pipeline depends on the Tracer interface only, so stages can emit spans
// without importing OpenTelemetry directly.
//
// Implementations:
//   - NoopTracer: for tests
//   - OTelTracer: OpenTelemetry adapter for production
package tracer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Span represents an active trace span.
type Span interface {
	// End completes the span, recording err when non-nil.
	// End must be called exactly once, typically via defer.
	End(err error)

	SetAttributes(attrs ...Attribute)

	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	// Start creates a new span with the given name and attributes.
	//
	// Example:
	//   ctx, span := t.Start(ctx, tracer.SpanDecode,
	//       tracer.String(tracer.AttrUserHash, tracer.HashIdentifier(userID)),
	//   )
	//   defer span.End(err)
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute represents a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

// String creates a string attribute.
func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

// Bool creates a boolean attribute.
func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

// Int64 creates an int64 attribute.
func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Float64 creates a float64 attribute.
func Float64(key string, value float64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration creates a duration attribute in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// HashIdentifier returns a short SHA-256 digest of a user id or email so
// traces can be correlated without carrying PII. Emails are lowercased first.
func HashIdentifier(id string) string {
	if id == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(strings.ToLower(id)))
	return hex.EncodeToString(hash[:8])
}

// Span names used by the verification pipeline.
const (
	SpanVerify         = "verification.run"
	SpanDecode         = "verification.decode"
	SpanResolveContact = "verification.contact"
	SpanMembership     = "verification.membership"
	SpanAssignRole     = "verification.role"
)

// Attribute keys used by the verification pipeline.
const (
	AttrVerificationID = "verification_id"
	AttrUserHash       = "user_hash"
	AttrEmailHash      = "email_hash"
	AttrOutcome        = "outcome"
	AttrTier           = "tier"
	AttrRole           = "role"
	AttrRoleHeld       = "role.already_held"
	AttrDecodeReason   = "decode.reason"
)
