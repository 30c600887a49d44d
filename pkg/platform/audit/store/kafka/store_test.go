package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrverify/internal/platform/kafka/producer"
	audit "qrverify/pkg/platform/audit"
)

type capturingProducer struct {
	messages []*producer.Message
	err      error
}

func (c *capturingProducer) Produce(_ context.Context, msg *producer.Message) error {
	if c.err != nil {
		return c.err
	}
	c.messages = append(c.messages, msg)
	return nil
}

func TestStore_AppendPublishesJSON(t *testing.T) {
	p := &capturingProducer{}
	store := New(p, "")

	err := store.Append(context.Background(), audit.Event{
		VerificationID: "v-1",
		UserID:         "42",
		Action:         string(audit.EventRoleGranted),
		Outcome:        "verified",
		Role:           "Patron",
	})
	require.NoError(t, err)
	require.Len(t, p.messages, 1)

	msg := p.messages[0]
	assert.Equal(t, DefaultTopic, msg.Topic)
	assert.Equal(t, []byte("42"), msg.Key)
	assert.Equal(t, "role_granted", msg.Headers["event_type"])
	assert.Equal(t, "compliance", msg.Headers["category"])

	var decoded audit.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "Patron", decoded.Role)
	assert.Equal(t, "v-1", decoded.VerificationID)
}

func TestStore_AppendWrapsProducerError(t *testing.T) {
	p := &capturingProducer{err: errors.New("not leader for partition")}

	err := New(p, "custom.topic").Append(context.Background(), audit.Event{UserID: "1"})

	assert.ErrorIs(t, err, p.err)
}
