package services

import (
	"context"

	"subscription-api/internal/apperr"
	"subscription-api/internal/models"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// NotificationHistory reads the audit trail of one user
type NotificationHistory interface {
	ForUser(ctx context.Context, userID uint, limit int) ([]models.NotificationEvent, error)
}

// SubscriptionHistoryService lists the notifications applied to a user's subscription
type SubscriptionHistoryService struct {
	users   UserDirectory
	history NotificationHistory
}

func NewSubscriptionHistoryService(users UserDirectory, history NotificationHistory) *SubscriptionHistoryService {
	return &SubscriptionHistoryService{users: users, history: history}
}

// History returns up to limit events, newest first. A zero limit means the default.
func (s *SubscriptionHistoryService) History(ctx context.Context, email string, limit int) ([]models.NotificationEvent, error) {
	switch {
	case limit == 0:
		limit = DefaultHistoryLimit
	case limit < 0:
		return nil, apperr.New(apperr.InvalidValue, "limit must be positive, got %d", limit)
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	userID, err := s.users.FindIDByEmail(ctx, email)
	if err != nil {
		return nil, storeErr(err, "find user %s", email)
	}
	events, err := s.history.ForUser(ctx, userID, limit)
	if err != nil {
		return nil, storeErr(err, "history of user %d", userID)
	}
	return events, nil
}
