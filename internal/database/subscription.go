package database

import (
	"context"
	"errors"

	"subscription-api/internal/apperr"
	"subscription-api/internal/models"
	"subscription-api/pkg/logging"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubscriptionStore persists one subscription record per user
type SubscriptionStore struct {
	db *gorm.DB
}

func NewSubscriptionStore(db *gorm.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

// Get returns the user's record
func (s *SubscriptionStore) Get(ctx context.Context, userID uint) (*models.SubscriptionRecord, error) {
	var record models.SubscriptionRecord
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&record).Error
	if err != nil {
		return nil, storeError(err, "subscription of user %d", userID)
	}
	return &record, nil
}

// GetTransactionID returns the last known transaction id of the user
func (s *SubscriptionStore) GetTransactionID(ctx context.Context, userID uint) (string, error) {
	record, err := s.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if record.TransactionID != "" {
		return record.TransactionID, nil
	}
	if record.OriginalTransactionID != "" {
		return record.OriginalTransactionID, nil
	}
	return "", apperr.New(apperr.NotFound, "user %d has no stored transaction id", userID)
}

// GetStatus returns whether the user's subscription is active
func (s *SubscriptionStore) GetStatus(ctx context.Context, userID uint) (bool, error) {
	record, err := s.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return record.Status, nil
}

// Upsert creates the user's record or overwrites every reconciled field of
// the existing one
func (s *SubscriptionStore) Upsert(ctx context.Context, userID uint, record *models.SubscriptionRecord) error {
	record.UserID = userID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.SubscriptionRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&existing).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return tx.Create(record).Error
			}
			return err
		}

		if existing.OriginalTransactionID != "" && existing.OriginalTransactionID != record.OriginalTransactionID {
			logging.Infof("Replacing subscription of user %d - original_transaction_id: %s -> %s",
				userID, existing.OriginalTransactionID, record.OriginalTransactionID)
		}

		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
		return tx.Save(record).Error
	})
	if err != nil {
		return apperr.Wrap(apperr.Database, err, "upsert subscription of user %d", userID)
	}
	return nil
}

// MarkExpired sets status and auto renew to false
func (s *SubscriptionStore) MarkExpired(ctx context.Context, userID uint) error {
	return s.update(ctx, userID, map[string]interface{}{
		"status":     false,
		"auto_renew": false,
	})
}

// UpdateRenewal stores the dates of the latest billing period
func (s *SubscriptionStore) UpdateRenewal(ctx context.Context, userID uint, update models.RenewalUpdate) error {
	fields := map[string]interface{}{
		"renew_date": update.RenewDate,
		"end_date":   update.EndDate,
		"auto_renew": update.AutoRenew,
	}
	if update.TransactionID != "" {
		fields["transaction_id"] = update.TransactionID
	}
	if update.Reactivate {
		fields["status"] = true
	}
	return s.update(ctx, userID, fields)
}

// SetAutoRenew stores the auto renew flag
func (s *SubscriptionStore) SetAutoRenew(ctx context.Context, userID uint, autoRenew bool) error {
	return s.update(ctx, userID, map[string]interface{}{"auto_renew": autoRenew})
}

// FindUserIDByTransaction returns the owner of a record whose transaction id
// or original transaction id matches one of ids
func (s *SubscriptionStore) FindUserIDByTransaction(ctx context.Context, ids ...string) (uint, error) {
	var lookup []string
	for _, id := range ids {
		if id != "" {
			lookup = append(lookup, id)
		}
	}
	if len(lookup) == 0 {
		return 0, apperr.New(apperr.InvalidValue, "no transaction id given")
	}

	var record models.SubscriptionRecord
	err := s.db.WithContext(ctx).
		Where("transaction_id IN ? OR original_transaction_id IN ?", lookup, lookup).
		Order("updated_at DESC").
		First(&record).Error
	if err != nil {
		return 0, storeError(err, "subscription with transaction %v", lookup)
	}
	return record.UserID, nil
}

func (s *SubscriptionStore) update(ctx context.Context, userID uint, fields map[string]interface{}) error {
	result := s.db.WithContext(ctx).
		Model(&models.SubscriptionRecord{}).
		Where("user_id = ?", userID).
		Updates(fields)
	if result.Error != nil {
		return apperr.Wrap(apperr.Database, result.Error, "update subscription of user %d", userID)
	}
	if result.RowsAffected == 0 {
		return apperr.New(apperr.NotFound, "subscription of user %d not found", userID)
	}
	return nil
}

func storeError(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Wrap(apperr.NotFound, err, format, args...)
	}
	return apperr.Wrap(apperr.Database, err, format, args...)
}
