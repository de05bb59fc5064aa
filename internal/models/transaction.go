package models

import (
	"time"
)

// NotificationEvent is an audit row for every decoded App Store server notification
type NotificationEvent struct {
	BaseModel

	NotificationUUID string `json:"notification_uuid" gorm:"size:64;index"`
	NotificationType string `json:"notification_type" gorm:"size:50;index"`
	Subtype          string `json:"subtype" gorm:"size:50"`
	Environment      string `json:"environment" gorm:"size:20"`
	BundleID         string `json:"bundle_id" gorm:"size:255"`

	TransactionID         string `json:"transaction_id" gorm:"size:100;index"`
	OriginalTransactionID string `json:"original_transaction_id" gorm:"size:100;index"`
	UserID                uint   `json:"user_id" gorm:"index"`

	// Outcome records how the notification was handled, e.g. processed or duplicate
	Outcome  string    `json:"outcome" gorm:"size:20"`
	Detail   string    `json:"detail" gorm:"type:text"`
	SignedAt time.Time `json:"signed_at"`
}

// TableName sets the table name
func (NotificationEvent) TableName() string {
	return "notification_events"
}
