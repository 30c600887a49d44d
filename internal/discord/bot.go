// Package discord connects the verification pipeline to a Discord guild:
// it listens for images in the verification channel, streams progress back
// as message edits and assigns roles through the guild member API.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"qrverify/internal/platform/metrics"
)

// Intents are the gateway intents the bot needs to read attachments and
// manage member roles.
const Intents = discordgo.IntentGuilds |
	discordgo.IntentGuildMessages |
	discordgo.IntentMessageContent |
	discordgo.IntentGuildMembers

const msgOnline = "🤖 Bot is online and ready to process QR codes!"

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

var ErrDisconnected = errors.New("discord gateway disconnected")

// Messenger is the subset of the Discord REST API used to talk in a channel.
type Messenger interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Gateway is the session lifecycle. *discordgo.Session satisfies it.
type Gateway interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
}

// NewSession creates a bot session with the required intents. It does not
// connect.
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = Intents
	return s, nil
}

// Bot owns the gateway connection and routes events to the Handler.
type Bot struct {
	gateway   Gateway
	messenger Messenger
	handler   *Handler
	channelID string
	connected atomic.Bool
	announce  sync.Once
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// mu guards stopping and inflight.Add so no handler starts after Run
	// begins waiting.
	mu       sync.Mutex
	stopping bool
	inflight sync.WaitGroup
}

// BotOption configures the Bot.
type BotOption func(*Bot)

// WithBotMetrics tracks gateway connectivity.
func WithBotMetrics(m *metrics.Metrics) BotOption {
	return func(b *Bot) {
		b.metrics = m
	}
}

// WithBotLogger sets the logger.
func WithBotLogger(logger *slog.Logger) BotOption {
	return func(b *Bot) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBot wires a gateway to the handler. messenger is usually the same
// session as gateway.
func NewBot(gateway Gateway, messenger Messenger, handler *Handler, channelID string, opts ...BotOption) *Bot {
	b := &Bot{
		gateway:   gateway,
		messenger: messenger,
		handler:   handler,
		channelID: channelID,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run opens the gateway and blocks until ctx is cancelled. It returns after
// the gateway is closed and every message handler has finished.
func (b *Bot) Run(ctx context.Context) error {
	b.gateway.AddHandler(b.onReady)
	b.gateway.AddHandler(b.onConnect)
	b.gateway.AddHandler(b.onDisconnect)
	b.gateway.AddHandler(b.onResumed)
	b.gateway.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if !b.begin() {
			return
		}
		defer b.inflight.Done()
		b.handler.Handle(ctx, m.Message)
	})

	if err := b.gateway.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	b.logger.InfoContext(ctx, "discord gateway opened")

	<-ctx.Done()

	b.setConnected(false)
	closeErr := b.gateway.Close()

	b.mu.Lock()
	b.stopping = true
	b.mu.Unlock()
	b.inflight.Wait()

	if closeErr != nil {
		return fmt.Errorf("close discord gateway: %w", closeErr)
	}
	b.logger.Info("discord gateway closed")
	return nil
}

func (b *Bot) begin() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopping {
		return false
	}
	b.inflight.Add(1)
	return true
}

// Status reports online while the gateway session is connected.
func (b *Bot) Status() string {
	if b.connected.Load() {
		return StatusOnline
	}
	return StatusOffline
}

// Check is the readiness probe for the gateway.
func (b *Bot) Check(context.Context) error {
	if !b.connected.Load() {
		return ErrDisconnected
	}
	return nil
}

// Name returns the check name for health reporting.
func (b *Bot) Name() string {
	return "discord"
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.setConnected(true)
	user := ""
	if r != nil && r.User != nil {
		user = r.User.Username
	}
	b.logger.Info("discord bot ready", "user", user, "channel_id", b.channelID)

	// Ready also fires after a reconnect that needs a fresh session.
	b.announce.Do(func() {
		if _, err := b.messenger.ChannelMessageSend(b.channelID, msgOnline); err != nil {
			b.logger.Warn("failed to announce readiness", "error", err)
		}
	})
}

func (b *Bot) onConnect(*discordgo.Session, *discordgo.Connect) {
	b.setConnected(true)
}

func (b *Bot) onResumed(*discordgo.Session, *discordgo.Resumed) {
	b.setConnected(true)
	b.logger.Info("discord session resumed")
}

func (b *Bot) onDisconnect(*discordgo.Session, *discordgo.Disconnect) {
	b.setConnected(false)
	b.logger.Warn("discord gateway disconnected")
}

func (b *Bot) setConnected(up bool) {
	b.connected.Store(up)
	if b.metrics == nil {
		return
	}
	if up {
		b.metrics.GatewayConnected.Set(1)
	} else {
		b.metrics.GatewayConnected.Set(0)
	}
}
