package models

import (
	"time"
)

const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
)

// SubscriptionRecord is the reconciled subscription state of one user.
// Dates are stored in KST.
type SubscriptionRecord struct {
	BaseModel

	UserID   uint   `json:"user_id" gorm:"not null;uniqueIndex"`
	Platform string `json:"platform" gorm:"size:20;default:'ios'"`

	TransactionID         string `json:"transaction_id" gorm:"size:100;index"`
	OriginalTransactionID string `json:"original_transaction_id" gorm:"size:100;index"`
	ProductID             string `json:"product_id" gorm:"size:100"`

	Status    bool `json:"status"`
	AutoRenew bool `json:"auto_renew"`
	Sandbox   bool `json:"sandbox"`

	StartDate time.Time `json:"start_date"`
	RenewDate time.Time `json:"renew_date"`
	EndDate   time.Time `json:"end_date" gorm:"index"`
}

// TableName keeps the table name stable regardless of naming strategy
func (SubscriptionRecord) TableName() string {
	return "subscription"
}

// RenewalUpdate carries the fields a verification or renewal pass refreshes.
type RenewalUpdate struct {
	RenewDate time.Time
	EndDate   time.Time
	AutoRenew bool

	// TransactionID replaces the stored transaction id when set.
	TransactionID string
	// Reactivate sets status back to true.
	Reactivate bool
}
