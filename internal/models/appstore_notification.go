package models

import (
	"errors"
)

// AutoRenewableType is the transaction type Apple reports for renewable subscriptions
const AutoRenewableType = "Auto-Renewable Subscription"

// AppStoreNotificationWrapper is the body Apple posts for Server Notifications V2
type AppStoreNotificationWrapper struct {
	SignedPayload string `json:"signedPayload" binding:"required"`
}

// NotificationPayload is the decoded content of signedPayload
type NotificationPayload struct {
	NotificationType string           `json:"notificationType"`
	Subtype          string           `json:"subtype,omitempty"`
	NotificationUUID string           `json:"notificationUUID"`
	Version          string           `json:"version,omitempty"`
	SignedDate       int64            `json:"signedDate"`
	Data             NotificationData `json:"data"`
}

// NotificationData contains notification data
type NotificationData struct {
	AppAppleID            int64  `json:"appAppleId,omitempty"`
	BundleID              string `json:"bundleId"`
	BundleVersion         string `json:"bundleVersion,omitempty"`
	Environment           string `json:"environment"`
	SignedTransactionInfo string `json:"signedTransactionInfo,omitempty"`
	SignedRenewalInfo     string `json:"signedRenewalInfo,omitempty"`
	Status                int    `json:"status,omitempty"`
}

func (n *NotificationPayload) Validate() error {
	if n.NotificationType == "" {
		return errors.New("notificationType is missing")
	}
	if n.NotificationUUID == "" {
		return errors.New("notificationUUID is missing")
	}
	return nil
}

// TransactionInfo is the decoded JWSTransactionDecodedPayload. Dates are
// millisecond epochs.
type TransactionInfo struct {
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	BundleID              string `json:"bundleId"`
	ProductID             string `json:"productId"`
	PurchaseDate          int64  `json:"purchaseDate"`
	OriginalPurchaseDate  int64  `json:"originalPurchaseDate"`
	ExpiresDate           int64  `json:"expiresDate"`
	Type                  string `json:"type,omitempty"`
	Environment           string `json:"environment,omitempty"`
	AppAccountToken       string `json:"appAccountToken,omitempty"`
	RevocationDate        int64  `json:"revocationDate,omitempty"`
	SignedDate            int64  `json:"signedDate,omitempty"`
}

func (t *TransactionInfo) Validate() error {
	if t.TransactionID == "" && t.OriginalTransactionID == "" {
		return errors.New("transactionId is missing")
	}
	if t.ProductID == "" {
		return errors.New("productId is missing")
	}
	return nil
}

// IsAutoRenewable reports whether the transaction is a renewable subscription
func (t *TransactionInfo) IsAutoRenewable() bool {
	return t.Type == AutoRenewableType
}

// RenewalInfo is the decoded JWSRenewalInfoDecodedPayload
type RenewalInfo struct {
	OriginalTransactionID  string `json:"originalTransactionId"`
	ProductID              string `json:"productId,omitempty"`
	AutoRenewProductID     string `json:"autoRenewProductId,omitempty"`
	AutoRenewStatus        int    `json:"autoRenewStatus"`
	ExpirationIntent       int    `json:"expirationIntent,omitempty"`
	IsInBillingRetryPeriod bool   `json:"isInBillingRetryPeriod,omitempty"`
	SignedDate             int64  `json:"signedDate,omitempty"`
}

func (r *RenewalInfo) Validate() error {
	if r.OriginalTransactionID == "" {
		return errors.New("originalTransactionId is missing")
	}
	return nil
}

// Receipt is the signed transaction a client submits after a StoreKit purchase
type Receipt struct {
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	ProductID             string `json:"productId"`
	SignedDate            int64  `json:"signedDate"`
	ExpiresDate           int64  `json:"expiresDate"`
	Type                  string `json:"type"`
}

func (r *Receipt) Validate() error {
	if r.TransactionID == "" && r.OriginalTransactionID == "" {
		return errors.New("transactionId is missing")
	}
	return nil
}

// ID returns the transaction id, falling back to the original transaction id
func (r *Receipt) ID() string {
	if r.TransactionID != "" {
		return r.TransactionID
	}
	return r.OriginalTransactionID
}

// StatusResponse is the body of Get All Subscription Statuses
type StatusResponse struct {
	Environment string              `json:"environment"`
	BundleID    string              `json:"bundleId"`
	AppAppleID  int64               `json:"appAppleId,omitempty"`
	Data        []SubscriptionGroup `json:"data"`
}

// SubscriptionGroup is one subscription group of a StatusResponse
type SubscriptionGroup struct {
	SubscriptionGroupIdentifier string            `json:"subscriptionGroupIdentifier"`
	LastTransactions            []LastTransaction `json:"lastTransactions"`
}

// LastTransaction carries the latest signed transaction and renewal info of a group
type LastTransaction struct {
	OriginalTransactionID string `json:"originalTransactionId"`
	Status                int    `json:"status"`
	SignedTransactionInfo string `json:"signedTransactionInfo"`
	SignedRenewalInfo     string `json:"signedRenewalInfo"`
}

// Latest returns the first group's first entry, or an empty entry when there is none
func (s *StatusResponse) Latest() LastTransaction {
	if len(s.Data) == 0 || len(s.Data[0].LastTransactions) == 0 {
		return LastTransaction{}
	}
	return s.Data[0].LastTransactions[0]
}

// TransactionInfoResponse is the body of Get Transaction Info
type TransactionInfoResponse struct {
	SignedTransactionInfo string `json:"signedTransactionInfo"`
}
