// Package coordinator runs one verification per submission: decode the QR
// image, resolve the profile to a contact, confirm membership and grant the
// matching role. Every failure becomes a Result; nothing escapes as a panic
// or an error.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"qrverify/internal/platform/metrics"
	"qrverify/internal/platform/privacy"
	"qrverify/internal/verification/contact"
	"qrverify/internal/verification/cooldown"
	"qrverify/internal/verification/fetch"
	"qrverify/internal/verification/lock"
	"qrverify/internal/verification/membership"
	"qrverify/internal/verification/qrcode"
	"qrverify/internal/verification/roles"
	"qrverify/internal/verification/tracer"
	dErrors "qrverify/pkg/domain-errors"
	audit "qrverify/pkg/platform/audit"
)

var (
	ErrInvalidPayload = dErrors.New(dErrors.CodeInvalidPayload, "qr payload is not a profile url")
	ErrNotMember      = dErrors.New(dErrors.CodeNotMember, "email has no membership")
)

// Outcome is the closed set of terminal results.
type Outcome string

const (
	OutcomeVerified           Outcome = "verified"
	OutcomeRejectedInProgress Outcome = "rejected_in_progress"
	OutcomeRejectedCooldown   Outcome = "rejected_cooldown"
	OutcomeDecodeFailed       Outcome = "decode_failed"
	OutcomeInvalidPayload     Outcome = "invalid_payload"
	OutcomeContactNotFound    Outcome = "contact_not_found"
	OutcomeNotMember          Outcome = "not_a_member"
	OutcomeServiceUnavailable Outcome = "service_unavailable"
	OutcomeError              Outcome = "error"
)

// Rejected reports whether the submission was turned away before any work.
func (o Outcome) Rejected() bool {
	return o == OutcomeRejectedInProgress || o == OutcomeRejectedCooldown
}

// ImageAsset is the submitted image. When Data is empty the bytes are
// downloaded from URL during the decoding stage.
type ImageAsset struct {
	Name string
	URL  string
	Data []byte
}

// Submission is one verification request.
type Submission struct {
	UserID    string
	ChannelID string
	// Mention is how the member is addressed in messages, e.g. "<@123>".
	Mention string
	Member  roles.Member
	Image   ImageAsset
}

// Result is the terminal state of a submission.
type Result struct {
	VerificationID string
	Outcome        Outcome
	Message        string
	Tier           string
	RoleName       string
	Contact        *contact.Record
	// Err is the failure cause, nil when verified. Its domain error code is
	// recorded as the audit reason.
	Err error
}

// Reporter receives status text at each checkpoint, ending with the final
// message.
type Reporter interface {
	Report(ctx context.Context, status string) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, status string) error

func (f ReporterFunc) Report(ctx context.Context, status string) error {
	return f(ctx, status)
}

// Decoder extracts the QR payload from image bytes.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (string, error)
}

// MembershipVerifier looks up an email in the membership directory.
type MembershipVerifier interface {
	Verify(ctx context.Context, email string) (membership.Status, error)
}

// ImageLoader downloads attachment bytes.
type ImageLoader interface {
	Get(ctx context.Context, url string, header http.Header) (*fetch.Response, error)
}

// AuditEmitter records terminal results.
type AuditEmitter interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Coordinator sequences the pipeline and enforces one in-flight verification
// per user.
type Coordinator struct {
	decoder  Decoder
	resolver contact.Resolver
	verifier MembershipVerifier
	granter  roles.Granter
	images   ImageLoader

	locks           *lock.Registry
	cooldowns       cooldown.Store
	cooldownWindow  time.Duration
	emitter         AuditEmitter
	metrics         *metrics.Metrics
	tracer          tracer.Tracer
	logger          *slog.Logger
	registrationURL string
	now             func() time.Time
}

// Option configures the Coordinator.
type Option func(*Coordinator)

// WithLockRegistry shares a registry between coordinators.
func WithLockRegistry(r *lock.Registry) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.locks = r
		}
	}
}

// WithImageLoader sets how attachment URLs are downloaded.
func WithImageLoader(l ImageLoader) Option {
	return func(c *Coordinator) {
		c.images = l
	}
}

// WithCooldown rejects submissions arriving within window of the user's
// previous terminal result. A zero window disables the check.
func WithCooldown(store cooldown.Store, window time.Duration) Option {
	return func(c *Coordinator) {
		c.cooldowns = store
		c.cooldownWindow = window
	}
}

// WithAuditEmitter records an audit event per terminal result.
func WithAuditEmitter(e AuditEmitter) Option {
	return func(c *Coordinator) {
		c.emitter = e
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t tracer.Tracer) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRegistrationURL overrides the sign-up link shown to non-members.
func WithRegistrationURL(u string) Option {
	return func(c *Coordinator) {
		if u != "" {
			c.registrationURL = u
		}
	}
}

// New creates a Coordinator over its four collaborators.
func New(decoder Decoder, resolver contact.Resolver, verifier MembershipVerifier, granter roles.Granter, opts ...Option) *Coordinator {
	c := &Coordinator{
		decoder:         decoder,
		resolver:        resolver,
		verifier:        verifier,
		granter:         granter,
		locks:           lock.NewRegistry(),
		tracer:          tracer.NewNoop(),
		logger:          slog.New(slog.DiscardHandler),
		registrationURL: DefaultRegistrationURL,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verify runs the pipeline for sub. The user's lock is held from acceptance
// until return on every path, panics included.
func (c *Coordinator) Verify(ctx context.Context, sub Submission, rep Reporter) (res Result) {
	start := c.now()
	verificationID := uuid.NewString()
	if rep == nil {
		rep = ReporterFunc(func(context.Context, string) error { return nil })
	}
	logger := c.logger.With("verification_id", verificationID, "user_id", sub.UserID)

	if c.coolingDown(ctx, logger, sub.UserID) {
		res = Result{VerificationID: verificationID, Outcome: OutcomeRejectedCooldown, Message: msgCooldown(sub.Mention), Err: cooldown.ErrCoolingDown}
		c.report(ctx, logger, rep, res.Message)
		c.record(ctx, logger, sub, res, start)
		return res
	}

	lease, err := c.locks.Acquire(sub.UserID)
	if err != nil {
		res = Result{VerificationID: verificationID, Outcome: OutcomeRejectedInProgress, Message: msgInProgress(sub.Mention), Err: err}
		c.report(ctx, logger, rep, res.Message)
		c.record(ctx, logger, sub, res, start)
		return res
	}
	defer lease.Release()

	if c.metrics != nil {
		c.metrics.VerificationsActive.Inc()
		defer c.metrics.VerificationsActive.Dec()
	}

	ctx, span := c.tracer.Start(ctx, tracer.SpanVerify,
		tracer.String(tracer.AttrVerificationID, verificationID),
		tracer.String(tracer.AttrUserHash, tracer.HashIdentifier(sub.UserID)),
	)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "verification panicked",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			res = Result{
				VerificationID: verificationID,
				Outcome:        OutcomeError,
				Message:        msgError(sub.Mention),
				Err:            dErrors.New(dErrors.CodeInternal, fmt.Sprintf("verification panicked: %v", r)),
			}
			c.report(ctx, logger, rep, res.Message)
		}

		span.SetAttributes(tracer.String(tracer.AttrOutcome, string(res.Outcome)))
		var spanErr error
		if res.Outcome != OutcomeVerified {
			spanErr = errors.New(string(res.Outcome))
		}
		span.End(spanErr)

		c.touchCooldown(ctx, logger, sub.UserID)
		c.record(ctx, logger, sub, res, start)
	}()

	res = c.run(ctx, logger, verificationID, sub, rep)
	res.VerificationID = verificationID
	c.report(ctx, logger, rep, res.Message)
	return res
}

// run walks Decoding → ResolvingContact → VerifyingMembership → AssigningRole,
// stopping at the first failure.
func (c *Coordinator) run(ctx context.Context, logger *slog.Logger, verificationID string, sub Submission, rep Reporter) Result {
	c.report(ctx, logger, rep, msgProcessing(sub.Mention))

	data, err := c.loadImage(ctx, sub.Image)
	if err != nil {
		if errors.Is(err, fetch.ErrExhausted) {
			return c.upstreamFailure(ctx, logger, "download", sub, err)
		}
		logger.WarnContext(ctx, "image unavailable", "error", err)
		c.stageFailed("download", "error")
		return Result{
			Outcome: OutcomeDecodeFailed,
			Message: msgDecodeFailed(qrcode.ReasonProcessing, sub.Mention),
			Err:     dErrors.Wrap(err, dErrors.CodeInvalidInput, "image unavailable"),
		}
	}

	payload, err := c.decode(ctx, data)
	if err != nil {
		reason := qrcode.ReasonProcessing
		var decodeErr *qrcode.DecodeError
		if errors.As(err, &decodeErr) {
			reason = decodeErr.Reason
		}
		logger.InfoContext(ctx, "qr decode failed", "reason", reason, "error", err)
		c.stageFailed("decode", string(reason))
		return Result{
			Outcome: OutcomeDecodeFailed,
			Message: msgDecodeFailed(reason, sub.Mention),
			Err:     dErrors.Wrap(err, dErrors.CodeInvalidInput, string(reason)),
		}
	}

	if !IsProfileURL(payload) {
		logger.InfoContext(ctx, "qr payload is not a profile url")
		c.stageFailed("decode", "invalid_payload")
		return Result{Outcome: OutcomeInvalidPayload, Message: msgInvalidPayload(sub.Mention), Err: ErrInvalidPayload}
	}

	c.report(ctx, logger, rep, msgReadingContact)
	rec, err := c.resolve(ctx, payload)
	switch {
	case err == nil:
	case errors.Is(err, contact.ErrContactNotFound):
		c.stageFailed("contact", "not_found")
		return Result{Outcome: OutcomeContactNotFound, Message: msgContactNotFound(sub.Mention), Err: err}
	default:
		return c.upstreamFailure(ctx, logger, "contact", sub, err)
	}

	c.report(ctx, logger, rep, msgVerifyingMembership)
	status, err := c.verify(ctx, rec.Email)
	if err != nil {
		return c.upstreamFailure(ctx, logger, "membership", sub, err)
	}
	if !status.IsMember {
		logger.InfoContext(ctx, "email is not a member", "email", privacy.MaskEmail(rec.Email))
		c.stageFailed("membership", "not_member")
		return Result{Outcome: OutcomeNotMember, Message: msgNotMember(sub.Mention, c.registrationURL), Contact: rec, Err: ErrNotMember}
	}

	roleName := c.assignRole(ctx, logger, verificationID, sub, status.Tier)

	return Result{
		Outcome:  OutcomeVerified,
		Message:  msgVerified(status.Tier, roleName, rec),
		Tier:     status.Tier,
		RoleName: roleName,
		Contact:  rec,
	}
}

func (c *Coordinator) loadImage(ctx context.Context, img ImageAsset) ([]byte, error) {
	if len(img.Data) > 0 || img.URL == "" {
		return img.Data, nil
	}
	if c.images == nil {
		return nil, errors.New("no image loader configured")
	}
	resp, err := c.images.Get(ctx, img.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", img.Name, err)
	}
	return resp.Body, nil
}

func (c *Coordinator) decode(ctx context.Context, data []byte) (payload string, err error) {
	ctx, span := c.tracer.Start(ctx, tracer.SpanDecode, tracer.Int64("image_bytes", int64(len(data))))
	defer func() { span.End(err) }()
	return c.decoder.Decode(ctx, data)
}

func (c *Coordinator) resolve(ctx context.Context, profileURL string) (rec *contact.Record, err error) {
	ctx, span := c.tracer.Start(ctx, tracer.SpanResolveContact)
	defer func() { span.End(err) }()
	rec, err = c.resolver.Resolve(ctx, profileURL)
	if err == nil && (rec == nil || rec.Email == "") {
		return nil, contact.ErrContactNotFound
	}
	return rec, err
}

func (c *Coordinator) verify(ctx context.Context, email string) (status membership.Status, err error) {
	ctx, span := c.tracer.Start(ctx, tracer.SpanMembership,
		tracer.String(tracer.AttrEmailHash, tracer.HashIdentifier(email)),
	)
	defer func() { span.End(err) }()
	status, err = c.verifier.Verify(ctx, email)
	if err == nil {
		span.SetAttributes(tracer.Bool("member", status.IsMember), tracer.String(tracer.AttrTier, status.Tier))
	}
	return status, err
}

// assignRole grants the tier's role. Failures are logged and leave the
// verified result intact; the returned name is empty when nothing was granted.
func (c *Coordinator) assignRole(ctx context.Context, logger *slog.Logger, verificationID string, sub Submission, tier string) string {
	if _, ok := roles.RoleForTier(tier); !ok {
		logger.InfoContext(ctx, "tier has no role", "tier", tier)
		return ""
	}

	ctx, span := c.tracer.Start(ctx, tracer.SpanAssignRole, tracer.String(tracer.AttrTier, tier))
	grant, err := c.granter.Grant(ctx, sub.Member, tier)
	span.End(err)
	if err != nil {
		logger.ErrorContext(ctx, "role grant failed", "tier", tier, "error", err)
		c.stageFailed("role", "grant_failed")
		c.emit(ctx, logger, audit.Event{
			VerificationID: verificationID,
			UserID:         sub.UserID,
			ChannelID:      sub.ChannelID,
			Action:         string(audit.EventRoleGrantFailed),
			Outcome:        string(OutcomeVerified),
			Tier:           tier,
			Reason:         err.Error(),
		})
		return ""
	}

	span.SetAttributes(tracer.String(tracer.AttrRole, grant.RoleName), tracer.Bool(tracer.AttrRoleHeld, grant.AlreadyHeld))
	if !grant.AlreadyHeld {
		if c.metrics != nil {
			c.metrics.IncrementRoleGranted(grant.RoleName)
		}
		c.emit(ctx, logger, audit.Event{
			VerificationID: verificationID,
			UserID:         sub.UserID,
			ChannelID:      sub.ChannelID,
			Action:         string(audit.EventRoleGranted),
			Outcome:        string(OutcomeVerified),
			Tier:           tier,
			Role:           grant.RoleName,
		})
	}
	return grant.RoleName
}

func (c *Coordinator) upstreamFailure(ctx context.Context, logger *slog.Logger, stage string, sub Submission, err error) Result {
	if errors.Is(err, fetch.ErrExhausted) {
		logger.WarnContext(ctx, "upstream unavailable", "stage", stage, "error", err)
		c.stageFailed(stage, "unavailable")
		return Result{
			Outcome: OutcomeServiceUnavailable,
			Message: msgUnavailable(sub.Mention),
			Err:     dErrors.Wrap(err, dErrors.CodeUnavailable, stage+" unavailable"),
		}
	}
	logger.ErrorContext(ctx, "verification stage failed", "stage", stage, "error", err)
	c.stageFailed(stage, "error")
	code := dErrors.CodeInternal
	if errors.Is(err, context.DeadlineExceeded) {
		code = dErrors.CodeTimeout
	}
	return Result{
		Outcome: OutcomeError,
		Message: msgError(sub.Mention),
		Err:     dErrors.Wrap(err, code, stage+" failed"),
	}
}

func (c *Coordinator) coolingDown(ctx context.Context, logger *slog.Logger, userID string) bool {
	if c.cooldowns == nil || c.cooldownWindow <= 0 {
		return false
	}
	err := cooldown.Check(ctx, c.cooldowns, userID)
	if err == nil {
		return false
	}
	if errors.Is(err, cooldown.ErrCoolingDown) {
		return true
	}
	logger.WarnContext(ctx, "cooldown check failed, allowing submission", "error", err)
	return false
}

func (c *Coordinator) touchCooldown(ctx context.Context, logger *slog.Logger, userID string) {
	if c.cooldowns == nil || c.cooldownWindow <= 0 {
		return
	}
	if err := c.cooldowns.Touch(ctx, userID, c.cooldownWindow); err != nil {
		logger.WarnContext(ctx, "failed to record cooldown", "error", err)
	}
}

func (c *Coordinator) report(ctx context.Context, logger *slog.Logger, rep Reporter, status string) {
	if err := rep.Report(ctx, status); err != nil {
		logger.WarnContext(ctx, "failed to report status", "error", err)
	}
}

func (c *Coordinator) stageFailed(stage, reason string) {
	if c.metrics != nil {
		c.metrics.IncrementStageFailure(stage, reason)
	}
}

// record emits the terminal audit event, metrics and log line.
func (c *Coordinator) record(ctx context.Context, logger *slog.Logger, sub Submission, res Result, start time.Time) {
	elapsed := c.now().Sub(start)

	action := audit.EventVerificationFailed
	switch {
	case res.Outcome == OutcomeVerified:
		action = audit.EventVerificationCompleted
	case res.Outcome.Rejected():
		action = audit.EventVerificationRejected
	}

	var emailHash, reason string
	if res.Contact != nil {
		emailHash = tracer.HashIdentifier(res.Contact.Email)
	}
	if res.Err != nil {
		reason = string(dErrors.CodeOf(res.Err))
	}
	c.emit(ctx, logger, audit.Event{
		VerificationID: res.VerificationID,
		UserID:         sub.UserID,
		ChannelID:      sub.ChannelID,
		Action:         string(action),
		Outcome:        string(res.Outcome),
		Tier:           res.Tier,
		Role:           res.RoleName,
		EmailHash:      emailHash,
		Reason:         reason,
		DurationMs:     elapsed.Milliseconds(),
	})

	if c.metrics != nil {
		c.metrics.ObserveVerification(string(res.Outcome), elapsed.Seconds())
	}

	logger.InfoContext(ctx, "verification finished",
		"outcome", res.Outcome,
		"tier", res.Tier,
		"role", res.RoleName,
		"reason", reason,
		"duration_ms", elapsed.Milliseconds(),
	)
}

func (c *Coordinator) emit(ctx context.Context, logger *slog.Logger, event audit.Event) {
	if c.emitter == nil {
		return
	}
	if err := c.emitter.Emit(ctx, event); err != nil {
		logger.WarnContext(ctx, "failed to emit audit event", "action", event.Action, "error", err)
	}
}
