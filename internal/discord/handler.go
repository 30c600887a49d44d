package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"qrverify/internal/platform/metrics"
	"qrverify/internal/verification/coordinator"
	"qrverify/internal/verification/roles"
)

// Disposition describes what the handler did with a message.
type Disposition string

const (
	DispositionIgnored           Disposition = "ignored"
	DispositionInvalidAttachment Disposition = "invalid_attachment"
	DispositionVerified          Disposition = "verified"
	DispositionRejected          Disposition = "rejected"
	DispositionFailed            Disposition = "failed"
)

// Verifier runs one verification. *coordinator.Coordinator satisfies it.
type Verifier interface {
	Verify(ctx context.Context, sub coordinator.Submission, rep coordinator.Reporter) coordinator.Result
}

// Handler turns verification-channel messages into submissions.
type Handler struct {
	messenger Messenger
	verifier  Verifier
	channelID string
	guildID   string
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// HandlerOption configures the Handler.
type HandlerOption func(*Handler)

// WithGuildID is used when the event carries no guild, e.g. in tests.
func WithGuildID(id string) HandlerOption {
	return func(h *Handler) {
		h.guildID = id
	}
}

// WithHandlerMetrics counts handled messages by disposition.
func WithHandlerMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithHandlerLogger sets the logger.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler creates a handler that only reacts in channelID.
func NewHandler(messenger Messenger, verifier Verifier, channelID string, opts ...HandlerOption) *Handler {
	h := &Handler{
		messenger: messenger,
		verifier:  verifier,
		channelID: channelID,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle processes one message. Messages from bots, from other channels or
// without attachments are ignored. The first attachment must be a PNG or
// JPEG image.
func (h *Handler) Handle(ctx context.Context, m *discordgo.Message) Disposition {
	d := h.handle(ctx, m)
	if h.metrics != nil {
		h.metrics.MessagesHandled.WithLabelValues(string(d)).Inc()
	}
	return d
}

func (h *Handler) handle(ctx context.Context, m *discordgo.Message) Disposition {
	if m == nil || m.Author == nil || m.Author.Bot {
		return DispositionIgnored
	}
	if m.ChannelID != h.channelID || len(m.Attachments) == 0 {
		return DispositionIgnored
	}

	mention := m.Author.Mention()
	attachment := m.Attachments[0]
	if attachment == nil || len(m.Attachments) != 1 || !coordinator.IsSupportedImage(attachment.Filename) {
		msg := fmt.Sprintf("❌ Please send a valid image file (PNG, JPG, or JPEG), %s.", mention)
		if _, err := h.messenger.ChannelMessageSend(m.ChannelID, msg); err != nil {
			h.logger.WarnContext(ctx, "failed to reply to invalid attachment", "error", err)
		}
		return DispositionInvalidAttachment
	}

	guildID := m.GuildID
	if guildID == "" {
		guildID = h.guildID
	}

	sub := coordinator.Submission{
		UserID:    m.Author.ID,
		ChannelID: m.ChannelID,
		Mention:   mention,
		Member:    roles.Member{GuildID: guildID, UserID: m.Author.ID},
		Image:     coordinator.ImageAsset{Name: attachment.Filename, URL: attachment.URL},
	}

	h.logger.InfoContext(ctx, "verification submitted",
		"user_id", m.Author.ID,
		"message_id", m.ID,
		"attachment", attachment.Filename,
	)

	res := h.verifier.Verify(ctx, sub, NewMessageReporter(h.messenger, m.ChannelID))
	switch {
	case res.Outcome == coordinator.OutcomeVerified:
		return DispositionVerified
	case res.Outcome.Rejected():
		return DispositionRejected
	default:
		return DispositionFailed
	}
}
