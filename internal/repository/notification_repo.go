package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 100
)

// NotificationFilter narrows a user's inbox. CourseID and Kind are optional.
type NotificationFilter struct {
	UserID     uint
	CourseID   uint
	Kind       string
	UnreadOnly bool
	Limit      int
	Offset     int
}

// NotificationRepository stores the per-user inbox behind the notification feed.
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	List(ctx context.Context, filter NotificationFilter) ([]models.Notification, error)
	CountUnread(ctx context.Context, userID, courseID uint) (int64, error)
	MarkRead(ctx context.Context, id, userID uint) (models.Notification, error)
	MarkAllRead(ctx context.Context, userID, courseID uint) (int64, error)
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository constructs a repository backed by GORM.
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *notificationRepository) List(ctx context.Context, filter NotificationFilter) ([]models.Notification, error) {
	limit := filter.Limit
	if limit <= 0 || limit > maxNotificationLimit {
		limit = defaultNotificationLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := r.inbox(ctx, filter.UserID, filter.CourseID)
	if filter.Kind != "" {
		query = query.Where("type = ?", filter.Kind)
	}
	if filter.UnreadOnly {
		query = query.Where("read = ?", false)
	}

	var notifications []models.Notification
	if err := query.
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&notifications).Error; err != nil {
		return nil, err
	}
	return notifications, nil
}

func (r *notificationRepository) CountUnread(ctx context.Context, userID, courseID uint) (int64, error) {
	var count int64
	err := r.inbox(ctx, userID, courseID).
		Where("read = ?", false).
		Count(&count).Error
	return count, err
}

// MarkRead flags one notification. Notifications of other users are
// reported as not found.
func (r *notificationRepository) MarkRead(ctx context.Context, id, userID uint) (models.Notification, error) {
	var notification models.Notification
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&notification).Error; err != nil {
		return models.Notification{}, err
	}
	if notification.Read {
		return notification, nil
	}

	if err := r.db.WithContext(ctx).Model(&notification).Update("read", true).Error; err != nil {
		return models.Notification{}, err
	}
	notification.Read = true
	return notification, nil
}

// MarkAllRead clears the user's unread notifications, optionally for one
// course only, and returns how many changed.
func (r *notificationRepository) MarkAllRead(ctx context.Context, userID, courseID uint) (int64, error) {
	result := r.inbox(ctx, userID, courseID).
		Where("read = ?", false).
		Update("read", true)
	return result.RowsAffected, result.Error
}

func (r *notificationRepository) inbox(ctx context.Context, userID, courseID uint) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", userID)
	if courseID != 0 {
		query = query.Where("course_id = ?", courseID)
	}
	return query
}
