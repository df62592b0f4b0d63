package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/observability"
)

const fanoutVersion = 1

// fanoutEnvelope is the cross-node form of a stored notification. Origin lets
// a node skip its own echoes.
type fanoutEnvelope struct {
	Version      int                      `json:"v"`
	Origin       string                   `json:"origin"`
	Notification dto.NotificationResponse `json:"notification"`
	SentAt       time.Time                `json:"sent_at"`
}

// fanoutTransport carries envelopes between API nodes. Listen blocks until
// ctx is done or the subscription fails.
type fanoutTransport interface {
	Name() string
	Send(ctx context.Context, payload []byte) error
	Listen(ctx context.Context, deliver func([]byte)) error
}

type redisFanout struct {
	client  *redis.Client
	channel string
}

func (r redisFanout) Name() string { return "redis" }

func (r redisFanout) Send(ctx context.Context, payload []byte) error {
	return r.client.Publish(ctx, r.channel, payload).Err()
}

func (r redisFanout) Listen(ctx context.Context, deliver func([]byte)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return errors.New("redis subscription closed")
			}
			deliver([]byte(msg.Payload))
		}
	}
}

// natsFanout subscribes without a queue group: every node must see every
// notification to reach the streams it holds.
type natsFanout struct {
	conn    *nats.Conn
	subject string
}

func (n natsFanout) Name() string { return "nats" }

func (n natsFanout) Send(_ context.Context, payload []byte) error {
	return n.conn.Publish(n.subject, payload)
}

func (n natsFanout) Listen(ctx context.Context, deliver func([]byte)) error {
	sub, err := n.conn.Subscribe(n.subject, func(msg *nats.Msg) {
		deliver(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", n.subject, err)
	}
	<-ctx.Done()
	return sub.Drain()
}

// notificationStream is one open SSE connection. A full buffer drops the
// notification for that stream only; the inbox still has it.
type notificationStream struct {
	ch      chan dto.NotificationResponse
	dropped atomic.Int64
}

// notificationHub tracks the streams open on this node, per user.
type notificationHub struct {
	mu      sync.RWMutex
	streams map[uint]map[*notificationStream]struct{}
	logger  zerolog.Logger
}

func newNotificationHub(logger zerolog.Logger) *notificationHub {
	return &notificationHub{
		streams: make(map[uint]map[*notificationStream]struct{}),
		logger:  logger,
	}
}

func (h *notificationHub) attach(userID uint) *notificationStream {
	stream := &notificationStream{ch: make(chan dto.NotificationResponse, notificationBufferSize)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.streams[userID] == nil {
		h.streams[userID] = make(map[*notificationStream]struct{})
	}
	h.streams[userID][stream] = struct{}{}
	observability.SSEClientsActive().Inc()
	return stream
}

func (h *notificationHub) detach(userID uint, stream *notificationStream) {
	h.mu.Lock()
	defer h.mu.Unlock()

	streams, ok := h.streams[userID]
	if !ok {
		return
	}
	if _, ok := streams[stream]; !ok {
		return
	}
	delete(streams, stream)
	close(stream.ch)
	if len(streams) == 0 {
		delete(h.streams, userID)
	}
	observability.SSEClientsActive().Dec()

	if dropped := stream.dropped.Load(); dropped > 0 {
		h.logger.Debug().Uint("user_id", userID).Int64("dropped", dropped).Msg("notification stream closed with drops")
	}
}

// deliver hands the notification to every stream of its user and reports how
// many accepted it.
func (h *notificationHub) deliver(notification dto.NotificationResponse) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for stream := range h.streams[notification.UserID] {
		select {
		case stream.ch <- notification:
			delivered++
		default:
			stream.dropped.Add(1)
		}
	}
	return delivered
}

func encodeEnvelope(origin string, notification dto.NotificationResponse) ([]byte, error) {
	return json.Marshal(fanoutEnvelope{
		Version:      fanoutVersion,
		Origin:       origin,
		Notification: notification,
		SentAt:       time.Now().UTC(),
	})
}

// decodeEnvelope rejects envelopes from other wire versions and ones without
// a recipient or a kind.
func decodeEnvelope(payload []byte) (fanoutEnvelope, error) {
	var envelope fanoutEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fanoutEnvelope{}, err
	}
	if envelope.Version != fanoutVersion {
		return fanoutEnvelope{}, fmt.Errorf("unsupported envelope version %d", envelope.Version)
	}
	if envelope.Notification.UserID == 0 || envelope.Notification.Type == "" {
		return fanoutEnvelope{}, errors.New("envelope missing recipient or type")
	}
	return envelope, nil
}
