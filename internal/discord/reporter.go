package discord

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// MessageReporter shows verification progress as a single channel message:
// the first report posts it and every later one edits it in place.
type MessageReporter struct {
	messenger Messenger
	channelID string

	mu        sync.Mutex
	messageID string
}

// NewMessageReporter creates a reporter for channelID.
func NewMessageReporter(messenger Messenger, channelID string) *MessageReporter {
	return &MessageReporter{messenger: messenger, channelID: channelID}
}

// Report posts or edits the status message.
func (r *MessageReporter) Report(ctx context.Context, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.messageID == "" {
		msg, err := r.messenger.ChannelMessageSend(r.channelID, status, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("send status message: %w", err)
		}
		r.messageID = msg.ID
		return nil
	}

	if _, err := r.messenger.ChannelMessageEdit(r.channelID, r.messageID, status, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("edit status message %s: %w", r.messageID, err)
	}
	return nil
}

// MessageID is the posted status message, empty before the first report.
func (r *MessageReporter) MessageID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messageID
}
