package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"subscription-api/internal/apperr"
	"subscription-api/internal/appstore"
	"subscription-api/internal/models"
	"subscription-api/pkg/logging"
)

// SubscriptionStore is the persistence the reconciler writes through
type SubscriptionStore interface {
	Get(ctx context.Context, userID uint) (*models.SubscriptionRecord, error)
	GetTransactionID(ctx context.Context, userID uint) (string, error)
	GetStatus(ctx context.Context, userID uint) (bool, error)
	Upsert(ctx context.Context, userID uint, record *models.SubscriptionRecord) error
	MarkExpired(ctx context.Context, userID uint) error
	UpdateRenewal(ctx context.Context, userID uint, update models.RenewalUpdate) error
	SetAutoRenew(ctx context.Context, userID uint, autoRenew bool) error
	FindUserIDByTransaction(ctx context.Context, ids ...string) (uint, error)
}

// UserDirectory resolves account identities
type UserDirectory interface {
	FindIDByEmail(ctx context.Context, email string) (uint, error)
	FindEmailByID(ctx context.Context, id uint) (string, error)
}

// EnvironmentResolver decides where a transaction lives
type EnvironmentResolver interface {
	Resolve(ctx context.Context, transactionID string) (appstore.Environment, error)
}

// StatusFetcher fetches Get All Subscription Statuses
type StatusFetcher interface {
	GetSubscriptionStatuses(ctx context.Context, env appstore.Environment, transactionID string) (json.RawMessage, error)
}

// SubscriptionStatus is the answer of a successful verification
type SubscriptionStatus struct {
	IsActive    bool   `json:"is_active"`
	ProductID   string `json:"product_id"`
	ExpiresDate string `json:"expires_date"`
}

// RegisterRequest is what a client submits after a purchase
type RegisterRequest struct {
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	ReceiptData           string `json:"receipt_data"`
	Platform              string `json:"platform"`
	IsTest                *bool  `json:"is_test"`
}

// SubscriptionVerificationService reconciles local subscription records
// with the App Store
type SubscriptionVerificationService struct {
	store    SubscriptionStore
	users    UserDirectory
	resolver EnvironmentResolver
	fetcher  StatusFetcher
	decoder  *appstore.Decoder
	receipts *appstore.Decoder
	events   EventSink
	now      func() time.Time
}

// NewSubscriptionVerificationService wires the reconciler. decoder reads
// payloads fetched from Apple, receipts reads payloads submitted by clients.
func NewSubscriptionVerificationService(
	store SubscriptionStore,
	users UserDirectory,
	resolver EnvironmentResolver,
	fetcher StatusFetcher,
	decoder *appstore.Decoder,
	receipts *appstore.Decoder,
	events EventSink,
) *SubscriptionVerificationService {
	if events == nil {
		events = NopSink{}
	}
	if receipts == nil {
		receipts = decoder
	}
	return &SubscriptionVerificationService{
		store:    store,
		users:    users,
		resolver: resolver,
		fetcher:  fetcher,
		decoder:  decoder,
		receipts: receipts,
		events:   events,
		now:      time.Now,
	}
}

// latestState is the decoded last transaction of a subscription
type latestState struct {
	transaction *models.TransactionInfo
	renewal     *models.RenewalInfo
}

func (l *latestState) expiresAt() time.Time {
	return appstore.ToKST(l.transaction.ExpiresDate)
}

// expired reports whether the period ended strictly before now or Apple revoked it
func (l *latestState) expired(now time.Time) bool {
	return l.transaction.RevocationDate != 0 || l.expiresAt().Before(now)
}

// Verify refreshes the stored subscription of the user from the App Store
func (s *SubscriptionVerificationService) Verify(ctx context.Context, email string) (*SubscriptionStatus, error) {
	userID, err := s.users.FindIDByEmail(ctx, email)
	if err != nil {
		return nil, storeErr(err, "find user %s", email)
	}

	txnID, err := s.store.GetTransactionID(ctx, userID)
	if err != nil {
		return nil, storeErr(err, "transaction id of user %d", userID)
	}
	active, err := s.store.GetStatus(ctx, userID)
	if err != nil {
		return nil, storeErr(err, "status of user %d", userID)
	}

	env, err := s.resolver.Resolve(ctx, txnID)
	if err != nil {
		return nil, err
	}

	latest, err := s.fetchLatest(ctx, env, txnID)
	if err != nil {
		return nil, err
	}

	now := s.now().In(appstore.KST)
	if latest.expired(now) {
		logging.Infof("Subscription expired - user_id: %d, transaction_id: %s, expires_date: %s",
			userID, txnID, latest.expiresAt().Format(time.RFC3339))
		if err := s.store.MarkExpired(ctx, userID); err != nil {
			logging.Errorf("Failed to mark subscription expired - user_id: %d, error: %v", userID, err)
			return nil, storeErr(err, "mark subscription of user %d expired", userID)
		}
		if active {
			s.events.Publish(ctx, s.event(EventExpired, userID, email, env, latest, false, false))
		}
		return nil, apperr.New(apperr.Expired, "subscription of user %d expired at %s",
			userID, latest.expiresAt().Format(time.RFC3339))
	}

	update := models.RenewalUpdate{
		RenewDate: appstore.ToKST(latest.transaction.PurchaseDate),
		EndDate:   latest.expiresAt(),
		AutoRenew: latest.renewal.AutoRenewStatus != 0,
	}
	if err := s.store.UpdateRenewal(ctx, userID, update); err != nil {
		logging.Errorf("Failed to update subscription - user_id: %d, error: %v", userID, err)
		return nil, storeErr(err, "update subscription of user %d", userID)
	}

	if !active {
		// An expired record stays inactive until the client registers again
		return nil, apperr.New(apperr.Expired, "subscription of user %d is inactive", userID)
	}

	return &SubscriptionStatus{
		IsActive:    true,
		ProductID:   latest.transaction.ProductID,
		ExpiresDate: latest.expiresAt().Format(time.RFC3339),
	}, nil
}

// Register stores the subscription a client reports after purchase
func (s *SubscriptionVerificationService) Register(ctx context.Context, email string, req RegisterRequest) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(req.Platform)) {
	case "", models.PlatformIOS:
	case models.PlatformAndroid:
		return false, apperr.New(apperr.InvalidValue, "google play billing is not supported")
	default:
		return false, apperr.New(apperr.InvalidValue, "unknown platform %q", req.Platform)
	}

	txnID, err := s.transactionIDFrom(req)
	if err != nil {
		return false, err
	}

	userID, err := s.users.FindIDByEmail(ctx, email)
	if err != nil {
		return false, storeErr(err, "find user %s", email)
	}

	env, err := s.resolver.Resolve(ctx, txnID)
	if err != nil {
		return false, err
	}
	if req.IsTest != nil && *req.IsTest != env.IsSandbox() {
		logging.Warnf("Client is_test=%t disagrees with resolved environment %s - transaction_id: %s",
			*req.IsTest, env, txnID)
	}

	latest, err := s.fetchLatest(ctx, env, txnID)
	if err != nil {
		return false, err
	}
	if latest.expired(s.now().In(appstore.KST)) {
		return false, apperr.New(apperr.Expired, "transaction %s expired at %s",
			txnID, latest.expiresAt().Format(time.RFC3339))
	}

	tx := latest.transaction
	record := &models.SubscriptionRecord{
		Platform:              models.PlatformIOS,
		TransactionID:         firstNonEmpty(tx.TransactionID, txnID),
		OriginalTransactionID: firstNonEmpty(tx.OriginalTransactionID, txnID),
		ProductID:             tx.ProductID,
		Status:                true,
		AutoRenew:             tx.IsAutoRenewable(),
		Sandbox:               env.IsSandbox(),
		StartDate:             appstore.ToKST(tx.OriginalPurchaseDate),
		RenewDate:             appstore.ToKST(tx.PurchaseDate),
		EndDate:               latest.expiresAt(),
	}
	if err := s.store.Upsert(ctx, userID, record); err != nil {
		logging.Errorf("Failed to store subscription - user_id: %d, transaction_id: %s, error: %v", userID, txnID, err)
		return false, storeErr(err, "store subscription of user %d", userID)
	}

	logging.Infof("Subscription registered - user_id: %d, product_id: %s, environment: %s, expires_date: %s",
		userID, tx.ProductID, env, record.EndDate.Format(time.RFC3339))
	s.events.Publish(ctx, s.event(EventRegistered, userID, email, env, latest, true, record.AutoRenew))
	return true, nil
}

// Status returns the stored status; a user without a record is not subscribed
func (s *SubscriptionVerificationService) Status(ctx context.Context, email string) (bool, error) {
	userID, err := s.users.FindIDByEmail(ctx, email)
	if err != nil {
		return false, storeErr(err, "find user %s", email)
	}
	status, err := s.store.GetStatus(ctx, userID)
	if apperr.Is(err, apperr.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, storeErr(err, "status of user %d", userID)
	}
	return status, nil
}

// Record returns the stored subscription of the user
func (s *SubscriptionVerificationService) Record(ctx context.Context, email string) (*models.SubscriptionRecord, error) {
	userID, err := s.users.FindIDByEmail(ctx, email)
	if err != nil {
		return nil, storeErr(err, "find user %s", email)
	}
	record, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, storeErr(err, "subscription of user %d", userID)
	}
	return record, nil
}

func (s *SubscriptionVerificationService) transactionIDFrom(req RegisterRequest) (string, error) {
	var id string
	if receiptData := strings.TrimSpace(req.ReceiptData); receiptData != "" {
		receipt, err := s.receipts.Receipt(receiptData)
		if err != nil {
			return "", apperr.Wrap(apperr.InvalidValue, err, "receipt_data is not a signed transaction")
		}
		id = receipt.ID()
	} else {
		id = firstNonEmpty(strings.TrimSpace(req.TransactionID), strings.TrimSpace(req.OriginalTransactionID))
	}

	if !isTransactionID(id) {
		return "", apperr.New(apperr.InvalidValue, "invalid transaction id %q", id)
	}
	return id, nil
}

// fetchLatest fetches and decodes the first group's first last transaction.
// A missing entry decodes as empty strings and fails there.
func (s *SubscriptionVerificationService) fetchLatest(ctx context.Context, env appstore.Environment, txnID string) (*latestState, error) {
	raw, err := s.fetcher.GetSubscriptionStatuses(ctx, env, txnID)
	if err != nil {
		return nil, err
	}

	var statuses models.StatusResponse
	if err := json.Unmarshal(raw, &statuses); err != nil {
		return nil, apperr.Wrap(apperr.ResponseParse, err, "unexpected subscription statuses body")
	}
	entry := statuses.Latest()

	tx, err := s.decoder.Transaction(entry.SignedTransactionInfo)
	if err != nil {
		return nil, err
	}
	renewal, err := s.decoder.Renewal(entry.SignedRenewalInfo)
	if err != nil {
		return nil, err
	}
	return &latestState{transaction: tx, renewal: renewal}, nil
}

func (s *SubscriptionVerificationService) event(typ string, userID uint, email string, env appstore.Environment, latest *latestState, active, autoRenew bool) SubscriptionEvent {
	tx := latest.transaction
	return SubscriptionEvent{
		Type:                  typ,
		UserID:                userID,
		Email:                 email,
		TransactionID:         tx.TransactionID,
		OriginalTransactionID: tx.OriginalTransactionID,
		ProductID:             tx.ProductID,
		Active:                active,
		AutoRenew:             autoRenew,
		Environment:           env,
		ExpiresDate:           latest.expiresAt(),
		OccurredAt:            s.now().In(appstore.KST),
	}
}

// storeErr classifies store failures that are not classified yet as Database
func storeErr(err error, format string, args ...interface{}) error {
	if apperr.KindOf(err) != apperr.Unknown {
		return err
	}
	return apperr.Wrap(apperr.Database, err, format, args...)
}

func isTransactionID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
