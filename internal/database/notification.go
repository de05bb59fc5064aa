package database

import (
	"context"

	"subscription-api/internal/apperr"
	"subscription-api/internal/models"

	"gorm.io/gorm"
)

// NotificationLog stores an audit row per App Store notification
type NotificationLog struct {
	db *gorm.DB
}

func NewNotificationLog(db *gorm.DB) *NotificationLog {
	return &NotificationLog{db: db}
}

func (l *NotificationLog) Record(ctx context.Context, event *models.NotificationEvent) error {
	if err := l.db.WithContext(ctx).Create(event).Error; err != nil {
		return apperr.Wrap(apperr.Database, err, "record notification %s", event.NotificationUUID)
	}
	return nil
}

// Recent returns the latest events, newest first
func (l *NotificationLog) Recent(ctx context.Context, limit int) ([]models.NotificationEvent, error) {
	var events []models.NotificationEvent
	err := l.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&events).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.Database, err, "list notifications")
	}
	return events, nil
}

// ForUser returns the events applied to the user's subscription, newest first
func (l *NotificationLog) ForUser(ctx context.Context, userID uint, limit int) ([]models.NotificationEvent, error) {
	var events []models.NotificationEvent
	err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.Database, err, "list notifications of user %d", userID)
	}
	return events, nil
}
