package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recordingChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	err      error
	closed   bool
}

func (c *recordingChannel) PublishWithContext(ctx context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("publish without deadline")
	}
	c.exchange, c.key, c.msg = exchange, key, msg
	return c.err
}

func (c *recordingChannel) Close() error {
	c.closed = true
	return nil
}

func TestRabbitMQPublisherRoutesByType(t *testing.T) {
	channel := &recordingChannel{}
	publisher := newRabbitMQPublisher(channel, "gema.assessment", zerolog.Nop())

	score := 4.5
	event := New(TypeAttemptReleased, 3)
	event.AttemptID = 11
	event.Score = &score

	require.NoError(t, publisher.Publish(context.Background(), event))
	require.Equal(t, "gema.assessment", channel.exchange)
	require.Equal(t, TypeAttemptReleased, channel.key)
	require.Equal(t, amqp.Persistent, channel.msg.DeliveryMode)
	require.Equal(t, "application/json", channel.msg.ContentType)
	require.Equal(t, event.ID, channel.msg.MessageId)

	var decoded Event
	require.NoError(t, json.Unmarshal(channel.msg.Body, &decoded))
	require.Equal(t, uint(11), decoded.AttemptID)
	require.Equal(t, 4.5, *decoded.Score)

	require.NoError(t, publisher.Close())
	require.True(t, channel.closed)
}

func TestRabbitMQPublisherSurfacesErrors(t *testing.T) {
	channel := &recordingChannel{err: errors.New("channel closed")}
	publisher := newRabbitMQPublisher(channel, "x", zerolog.Nop())
	require.Error(t, publisher.Publish(context.Background(), New(TypeAttemptSubmitted, 1)))
	require.NoError(t, NopPublisher().Publish(context.Background(), New(TypeAttemptSubmitted, 1)))
}
