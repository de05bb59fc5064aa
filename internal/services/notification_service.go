package services

import (
	"context"
	"errors"
	"time"

	"subscription-api/internal/apperr"
	"subscription-api/internal/appstore"
	"subscription-api/internal/models"
	"subscription-api/pkg/logging"
)

// Notification types acted on, see App Store Server Notifications V2
const (
	TypeTest                   = "TEST"
	TypeSubscribed             = "SUBSCRIBED"
	TypeDidRenew               = "DID_RENEW"
	TypeDidFailToRenew         = "DID_FAIL_TO_RENEW"
	TypeDidChangeRenewalStatus = "DID_CHANGE_RENEWAL_STATUS"
	TypeExpired                = "EXPIRED"
	TypeGracePeriodExpired     = "GRACE_PERIOD_EXPIRED"
	TypeRefund                 = "REFUND"
	TypeRevoke                 = "REVOKE"
)

// Notification outcomes
const (
	OutcomeProcessed = "processed"
	OutcomeHeartbeat = "heartbeat"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
)

// NotificationLog keeps an audit trail of notifications
type NotificationLog interface {
	Record(ctx context.Context, event *models.NotificationEvent) error
}

// NotificationResult summarizes how a notification was handled
type NotificationResult struct {
	NotificationType string `json:"notification_type"`
	Subtype          string `json:"subtype,omitempty"`
	NotificationUUID string `json:"notification_uuid"`
	Outcome          string `json:"outcome"`
	Detail           string `json:"detail,omitempty"`
}

// errIgnored marks notifications that need no state change
var errIgnored = errors.New("ignored")

// NotificationService applies App Store server notifications to stored subscriptions
type NotificationService struct {
	decoder  *appstore.Decoder
	store    SubscriptionStore
	replay   ReplayGuard
	log      NotificationLog
	events   EventSink
	bundleID string
	now      func() time.Time
}

// NewNotificationService wires the intake; log and events may be nil
func NewNotificationService(
	decoder *appstore.Decoder,
	store SubscriptionStore,
	replay ReplayGuard,
	log NotificationLog,
	events EventSink,
	bundleID string,
) *NotificationService {
	if events == nil {
		events = NopSink{}
	}
	return &NotificationService{
		decoder:  decoder,
		store:    store,
		replay:   replay,
		log:      log,
		events:   events,
		bundleID: bundleID,
		now:      time.Now,
	}
}

// Handle decodes and applies a notification. An error means the payload
// could not be decoded; everything past decoding is reported in the result.
func (s *NotificationService) Handle(ctx context.Context, signedPayload string) (*NotificationResult, error) {
	payload, err := s.decoder.Notification(signedPayload)
	if err != nil {
		logging.Errorf("Failed to decode notification: %v", err)
		return nil, err
	}

	logging.Infof("Parsed notification - type: %s, subtype: %s, bundle_id: %s, environment: %s, uuid: %s",
		payload.NotificationType, payload.Subtype, payload.Data.BundleID, payload.Data.Environment, payload.NotificationUUID)

	result := &NotificationResult{
		NotificationType: payload.NotificationType,
		Subtype:          payload.Subtype,
		NotificationUUID: payload.NotificationUUID,
	}
	audit := &models.NotificationEvent{
		NotificationUUID: payload.NotificationUUID,
		NotificationType: payload.NotificationType,
		Subtype:          payload.Subtype,
		Environment:      payload.Data.Environment,
		BundleID:         payload.Data.BundleID,
		SignedAt:         appstore.ToKST(payload.SignedDate),
	}

	s.process(ctx, payload, result, audit)

	audit.Outcome = result.Outcome
	audit.Detail = result.Detail
	if s.log != nil {
		if err := s.log.Record(ctx, audit); err != nil {
			logging.Errorf("Failed to record notification %s: %v", payload.NotificationUUID, err)
		}
	}
	return result, nil
}

func (s *NotificationService) process(ctx context.Context, payload *models.NotificationPayload, result *NotificationResult, audit *models.NotificationEvent) {
	if payload.NotificationType == TypeTest {
		logging.Infof("AppStore heartbeat - environment: %s", payload.Data.Environment)
		result.Outcome = OutcomeHeartbeat
		return
	}

	if s.bundleID != "" && payload.Data.BundleID != s.bundleID {
		logging.Warnf("Notification for unknown bundle_id: %s", payload.Data.BundleID)
		result.Outcome = OutcomeIgnored
		result.Detail = "bundle id mismatch"
		return
	}

	if s.replay != nil {
		replay, err := s.replay.IsReplay(ctx, payload.NotificationUUID, payload.SignedDate)
		if err != nil {
			logging.Warnf("Replay check failed, processing anyway - uuid: %s, error: %v", payload.NotificationUUID, err)
		} else if replay {
			result.Outcome = OutcomeDuplicate
			return
		}
	}

	var err error
	switch payload.NotificationType {
	case TypeSubscribed, TypeDidRenew:
		err = s.applyRenewal(ctx, payload, audit)
	case TypeExpired, TypeGracePeriodExpired, TypeRefund, TypeRevoke:
		err = s.applyExpiry(ctx, payload, audit)
	case TypeDidChangeRenewalStatus:
		err = s.applyAutoRenew(ctx, payload, audit)
	case TypeDidFailToRenew:
		logging.Infof("Renewal failed, subscription in billing retry - subtype: %s, uuid: %s", payload.Subtype, payload.NotificationUUID)
		err = errIgnored
	default:
		logging.Infof("Unhandled notification type: %s", payload.NotificationType)
		err = errIgnored
	}

	switch {
	case err == nil:
		result.Outcome = OutcomeProcessed
	case errors.Is(err, errIgnored):
		result.Outcome = OutcomeIgnored
		if err != errIgnored {
			result.Detail = err.Error()
		}
	default:
		logging.Errorf("Failed to apply notification - type: %s, uuid: %s, error: %v", payload.NotificationType, payload.NotificationUUID, err)
		result.Outcome = OutcomeFailed
		result.Detail = err.Error()
	}
}

// ownerOf finds the user holding a transaction; unknown transactions are ignored
func (s *NotificationService) ownerOf(ctx context.Context, audit *models.NotificationEvent, ids ...string) (uint, error) {
	userID, err := s.store.FindUserIDByTransaction(ctx, ids...)
	if apperr.Is(err, apperr.NotFound) {
		return 0, errors.Join(errIgnored, errors.New("no subscription for transaction"))
	}
	if err != nil {
		return 0, err
	}
	audit.UserID = userID
	return userID, nil
}

func (s *NotificationService) decodeTransaction(payload *models.NotificationPayload, audit *models.NotificationEvent) (*models.TransactionInfo, error) {
	tx, err := s.decoder.Transaction(payload.Data.SignedTransactionInfo)
	if err != nil {
		return nil, err
	}
	audit.TransactionID = tx.TransactionID
	audit.OriginalTransactionID = tx.OriginalTransactionID
	return tx, nil
}

func (s *NotificationService) applyRenewal(ctx context.Context, payload *models.NotificationPayload, audit *models.NotificationEvent) error {
	tx, err := s.decodeTransaction(payload, audit)
	if err != nil {
		return err
	}

	autoRenew := tx.IsAutoRenewable()
	if payload.Data.SignedRenewalInfo != "" {
		renewal, err := s.decoder.Renewal(payload.Data.SignedRenewalInfo)
		if err != nil {
			return err
		}
		autoRenew = renewal.AutoRenewStatus != 0
	}

	userID, err := s.ownerOf(ctx, audit, tx.OriginalTransactionID, tx.TransactionID)
	if err != nil {
		return err
	}

	expiresAt := appstore.ToKST(tx.ExpiresDate)
	if expiresAt.Before(s.now()) {
		// Late delivery of a renewal whose period is already over
		return errors.Join(errIgnored, errors.New("renewal period already ended"))
	}

	err = s.store.UpdateRenewal(ctx, userID, models.RenewalUpdate{
		RenewDate:     appstore.ToKST(tx.PurchaseDate),
		EndDate:       expiresAt,
		AutoRenew:     autoRenew,
		TransactionID: tx.TransactionID,
		Reactivate:    true,
	})
	if err != nil {
		return err
	}

	logging.Infof("Subscription renewed - user_id: %d, transaction_id: %s, expires_date: %s",
		userID, tx.TransactionID, expiresAt.Format(time.RFC3339))
	s.events.Publish(ctx, s.event(EventRenewed, userID, payload, tx, true, autoRenew))
	return nil
}

func (s *NotificationService) applyExpiry(ctx context.Context, payload *models.NotificationPayload, audit *models.NotificationEvent) error {
	tx, err := s.decodeTransaction(payload, audit)
	if err != nil {
		return err
	}
	userID, err := s.ownerOf(ctx, audit, tx.OriginalTransactionID, tx.TransactionID)
	if err != nil {
		return err
	}
	if err := s.store.MarkExpired(ctx, userID); err != nil {
		return err
	}

	logging.Infof("Subscription ended by %s - user_id: %d, transaction_id: %s", payload.NotificationType, userID, tx.TransactionID)
	s.events.Publish(ctx, s.event(EventExpired, userID, payload, tx, false, false))
	return nil
}

func (s *NotificationService) applyAutoRenew(ctx context.Context, payload *models.NotificationPayload, audit *models.NotificationEvent) error {
	renewal, err := s.decoder.Renewal(payload.Data.SignedRenewalInfo)
	if err != nil {
		return err
	}

	ids := []string{renewal.OriginalTransactionID}
	var tx *models.TransactionInfo
	if payload.Data.SignedTransactionInfo != "" {
		if tx, err = s.decodeTransaction(payload, audit); err != nil {
			return err
		}
		ids = append(ids, tx.TransactionID)
	} else {
		audit.OriginalTransactionID = renewal.OriginalTransactionID
		tx = &models.TransactionInfo{OriginalTransactionID: renewal.OriginalTransactionID, ProductID: renewal.ProductID}
	}

	userID, err := s.ownerOf(ctx, audit, ids...)
	if err != nil {
		return err
	}

	autoRenew := renewal.AutoRenewStatus != 0
	if err := s.store.SetAutoRenew(ctx, userID, autoRenew); err != nil {
		return err
	}

	logging.Infof("Auto renew changed - user_id: %d, auto_renew: %t", userID, autoRenew)
	s.events.Publish(ctx, s.event(EventAutoRenewChanged, userID, payload, tx, true, autoRenew))
	return nil
}

func (s *NotificationService) event(typ string, userID uint, payload *models.NotificationPayload, tx *models.TransactionInfo, active, autoRenew bool) SubscriptionEvent {
	return SubscriptionEvent{
		Type:                  typ,
		UserID:                userID,
		TransactionID:         tx.TransactionID,
		OriginalTransactionID: tx.OriginalTransactionID,
		ProductID:             tx.ProductID,
		Active:                active,
		AutoRenew:             autoRenew,
		Environment:           appstore.Environment(payload.Data.Environment),
		ExpiresDate:           appstore.ToKST(tx.ExpiresDate),
		OccurredAt:            s.now().In(appstore.KST),
	}
}
