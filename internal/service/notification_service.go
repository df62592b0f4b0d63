package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/observability"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
)

const notificationBufferSize = 16

// ErrEmptyNotification indicates a message that sanitizes to nothing.
var ErrEmptyNotification = errors.New("notification message empty after sanitization")

// Notifier delivers a message to a user without blocking the caller.
// Delivery failures are logged, never returned.
type Notifier interface {
	Notify(ctx context.Context, userID, courseID uint, kind, message string)
}

// NotificationService publishes and streams notifications to end users via SSE.
type NotificationService interface {
	Notifier
	Publish(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error)
	List(ctx context.Context, userID uint, req dto.NotificationListRequest) (dto.NotificationListResponse, error)
	MarkRead(ctx context.Context, id uint, userID uint) (dto.NotificationResponse, error)
	MarkAllRead(ctx context.Context, userID uint, req dto.NotificationReadAllRequest) (dto.NotificationReadAllResponse, error)
	Subscribe(userID uint) (<-chan dto.NotificationResponse, func())
	Start(ctx context.Context)
	Wait()
}

type notificationService struct {
	repo       repository.NotificationRepository
	transports []fanoutTransport
	validator  *validator.Validate
	logger     zerolog.Logger
	tracer     trace.Tracer
	sanitizer  *bluemonday.Policy
	hub        *notificationHub
	nodeID     string
	pending    sync.WaitGroup
}

// NewNotificationService constructs a notification service. Redis and NATS
// are optional; each one configured relays notifications to the streams held
// by the other API nodes.
func NewNotificationService(repo repository.NotificationRepository, redisClient *redis.Client, channelBase string, natsConn *nats.Conn, validate *validator.Validate, logger zerolog.Logger) NotificationService {
	logger = logger.With().Str("component", "notification_service").Logger()

	var transports []fanoutTransport
	if channelBase != "" {
		if redisClient != nil {
			transports = append(transports, redisFanout{client: redisClient, channel: channelBase + ":notifications"})
		}
		if natsConn != nil {
			transports = append(transports, natsFanout{conn: natsConn, subject: strings.ReplaceAll(channelBase, ":", ".") + ".notifications"})
		}
	}

	return &notificationService{
		repo:       repo,
		transports: transports,
		validator:  validate,
		logger:     logger,
		tracer:     otel.Tracer("github.com/noah-isme/gema-assessment-api/internal/service/notification"),
		sanitizer:  bluemonday.StrictPolicy(),
		hub:        newNotificationHub(logger),
		nodeID:     uuid.NewString(),
	}
}

// Start listens on every transport until ctx is cancelled.
func (s *notificationService) Start(ctx context.Context) {
	for _, transport := range s.transports {
		go func(t fanoutTransport) {
			if err := t.Listen(ctx, s.receive); err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Str("transport", t.Name()).Msg("notification fan-out stopped")
			}
		}(transport)
	}
}

// Notify publishes in the background, detached from the caller's cancellation.
func (s *notificationService) Notify(ctx context.Context, userID, courseID uint, kind, message string) {
	if userID == 0 {
		return
	}
	detached := context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		_, err := s.Publish(detached, dto.NotificationCreateRequest{
			UserID:   userID,
			CourseID: courseID,
			Type:     kind,
			Message:  message,
		})
		if err != nil {
			s.logger.Warn().Err(err).Uint("user_id", userID).Str("type", kind).Msg("notification delivery failed")
		}
	}()
}

// Wait blocks until background deliveries started by Notify have finished.
func (s *notificationService) Wait() {
	s.pending.Wait()
}

func (s *notificationService) Publish(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.NotificationResponse{}, err
	}

	cleanMessage := strings.TrimSpace(s.sanitizer.Sanitize(payload.Message))
	if cleanMessage == "" {
		return dto.NotificationResponse{}, ErrEmptyNotification
	}

	attrs := []attribute.KeyValue{
		attribute.Int64("notification.user_id", int64(payload.UserID)),
		attribute.String("notification.type", payload.Type),
	}

	spanCtx, span := s.tracer.Start(ctx, "notifications.publish", trace.WithAttributes(attrs...))
	defer span.End()

	model := models.Notification{
		UserID:   payload.UserID,
		CourseID: payload.CourseID,
		Type:     payload.Type,
		Message:  cleanMessage,
	}

	if err := s.repo.Create(spanCtx, &model); err != nil {
		span.RecordError(err)
		return dto.NotificationResponse{}, err
	}

	response := dto.NewNotificationResponse(model)
	local := s.hub.deliver(response)
	span.SetAttributes(attribute.Int("notification.local_streams", local))
	if err := s.fanout(spanCtx, response); err != nil {
		s.logger.Warn().Err(err).Uint("notification_id", response.ID).Msg("notification fan-out incomplete")
	}

	observability.NotificationsPublishedTotal().WithLabelValues(response.Type).Inc()

	return response, nil
}

func (s *notificationService) List(ctx context.Context, userID uint, req dto.NotificationListRequest) (dto.NotificationListResponse, error) {
	if userID == 0 {
		return dto.NotificationListResponse{}, errors.New("user id is required")
	}
	if err := s.validator.Struct(req); err != nil {
		return dto.NotificationListResponse{}, err
	}

	notifications, err := s.repo.List(ctx, repository.NotificationFilter{
		UserID:     userID,
		CourseID:   req.CourseID,
		Kind:       req.Type,
		UnreadOnly: req.UnreadOnly,
		Limit:      req.Limit,
		Offset:     req.Offset,
	})
	if err != nil {
		return dto.NotificationListResponse{}, err
	}
	unread, err := s.repo.CountUnread(ctx, userID, req.CourseID)
	if err != nil {
		return dto.NotificationListResponse{}, fmt.Errorf("count unread notifications: %w", err)
	}

	return dto.NotificationListResponse{
		Items:  dto.NewNotificationResponseSlice(notifications),
		Unread: unread,
	}, nil
}

func (s *notificationService) MarkRead(ctx context.Context, id uint, userID uint) (dto.NotificationResponse, error) {
	attrs := []attribute.KeyValue{
		attribute.Int64("notification.user_id", int64(userID)),
	}
	spanCtx, span := s.tracer.Start(ctx, "notifications.mark_read", trace.WithAttributes(attrs...))
	defer span.End()

	notification, err := s.repo.MarkRead(spanCtx, id, userID)
	if err != nil {
		span.RecordError(err)
		return dto.NotificationResponse{}, err
	}

	return dto.NewNotificationResponse(notification), nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID uint, req dto.NotificationReadAllRequest) (dto.NotificationReadAllResponse, error) {
	spanCtx, span := s.tracer.Start(ctx, "notifications.mark_all_read", trace.WithAttributes(
		attribute.Int64("notification.user_id", int64(userID)),
		attribute.Int64("notification.course_id", int64(req.CourseID)),
	))
	defer span.End()

	updated, err := s.repo.MarkAllRead(spanCtx, userID, req.CourseID)
	if err != nil {
		span.RecordError(err)
		return dto.NotificationReadAllResponse{}, fmt.Errorf("mark notifications read: %w", err)
	}
	return dto.NotificationReadAllResponse{Updated: updated}, nil
}

func (s *notificationService) Subscribe(userID uint) (<-chan dto.NotificationResponse, func()) {
	stream := s.hub.attach(userID)
	var once sync.Once
	return stream.ch, func() {
		once.Do(func() { s.hub.detach(userID, stream) })
	}
}

// fanout relays a stored notification to the other nodes. Every transport is
// tried even when an earlier one fails.
func (s *notificationService) fanout(ctx context.Context, notification dto.NotificationResponse) error {
	if len(s.transports) == 0 {
		return nil
	}
	payload, err := encodeEnvelope(s.nodeID, notification)
	if err != nil {
		return err
	}

	var errs []error
	for _, transport := range s.transports {
		if err := transport.Send(ctx, payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", transport.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *notificationService) receive(payload []byte) {
	envelope, err := decodeEnvelope(payload)
	if err != nil {
		s.logger.Warn().Err(err).Msg("discarding notification envelope")
		return
	}
	if envelope.Origin == s.nodeID {
		return
	}
	s.hub.deliver(envelope.Notification)
}
