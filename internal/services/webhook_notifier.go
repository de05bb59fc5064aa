package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"subscription-api/internal/appstore"
	"subscription-api/internal/models"

	"github.com/google/uuid"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body
const SignatureHeader = "X-Subscription-Signature"

// WebhookNotifier posts subscription changes to the app backend
type WebhookNotifier struct {
	callbackURL string
	secret      string
	httpClient  *http.Client
}

// NewWebhookNotifier returns nil when no callback URL is configured
func NewWebhookNotifier(callbackURL, secret string) *WebhookNotifier {
	if callbackURL == "" {
		return nil
	}
	return &WebhookNotifier{
		callbackURL: callbackURL,
		secret:      secret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WebhookPayload represents the payload sent to the app backend
type WebhookPayload struct {
	EventID               string `json:"event_id"`
	Event                 string `json:"event"`
	UserID                uint   `json:"user_id"`
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	ProductID             string `json:"product_id"`
	Status                string `json:"status"`       // active or expired
	AutoRenew             bool   `json:"auto_renew"`
	ExpiresDate           string `json:"expires_date"` // RFC 3339, KST
	Platform              string `json:"platform"`
	Environment           string `json:"environment"`
	Timestamp             string `json:"timestamp"`
}

func newWebhookPayload(event SubscriptionEvent) WebhookPayload {
	status := "expired"
	if event.Active {
		status = "active"
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	return WebhookPayload{
		EventID:               uuid.NewString(),
		Event:                 event.Type,
		UserID:                event.UserID,
		TransactionID:         event.TransactionID,
		OriginalTransactionID: event.OriginalTransactionID,
		ProductID:             event.ProductID,
		Status:                status,
		AutoRenew:             event.AutoRenew,
		ExpiresDate:           event.ExpiresDate.In(appstore.KST).Format(time.RFC3339),
		Platform:              models.PlatformIOS,
		Environment:           string(event.Environment),
		Timestamp:             occurred.In(appstore.KST).Format(time.RFC3339),
	}
}

// Notify sends a single webhook request. Failures are not retried.
func (wn *WebhookNotifier) Notify(ctx context.Context, event SubscriptionEvent) error {
	jsonData, err := json.Marshal(newWebhookPayload(event))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wn.callbackURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "OmniNews-Subscription-Webhook/1.0")
	if wn.secret != "" {
		req.Header.Set(SignatureHeader, signPayload(jsonData, wn.secret))
	}

	resp, err := wn.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

// signPayload generates HMAC-SHA256 signature for webhook payload
func signPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
