package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"

	"subscription-api/internal/apperr"
	"subscription-api/internal/appstore"
	"subscription-api/internal/models"

	"github.com/stretchr/testify/require"
)

// jws wraps v in a compact token the CompactReader accepts
func jws(t *testing.T, v interface{}) string {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"ES256"}`))
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".c2ln"
}

type fakeStore struct {
	mu       sync.Mutex
	records  map[uint]*models.SubscriptionRecord
	err      error
	upserts  int
	expired  []uint
	renewals []models.RenewalUpdate
	autoRen  []bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[uint]*models.SubscriptionRecord)}
}

func (f *fakeStore) record(userID uint) (*models.SubscriptionRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.records[userID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "no subscription for user %d", userID)
	}
	return r, nil
}

func (f *fakeStore) Get(ctx context.Context, userID uint) (*models.SubscriptionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(userID)
}

func (f *fakeStore) GetTransactionID(ctx context.Context, userID uint) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.record(userID)
	if err != nil {
		return "", err
	}
	return firstNonEmpty(r.TransactionID, r.OriginalTransactionID), nil
}

func (f *fakeStore) GetStatus(ctx context.Context, userID uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.record(userID)
	if err != nil {
		return false, err
	}
	return r.Status, nil
}

func (f *fakeStore) Upsert(ctx context.Context, userID uint, record *models.SubscriptionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.upserts++
	copied := *record
	copied.UserID = userID
	f.records[userID] = &copied
	return nil
}

func (f *fakeStore) MarkExpired(ctx context.Context, userID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.record(userID)
	if err != nil {
		return err
	}
	r.Status = false
	f.expired = append(f.expired, userID)
	return nil
}

func (f *fakeStore) UpdateRenewal(ctx context.Context, userID uint, update models.RenewalUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.record(userID)
	if err != nil {
		return err
	}
	r.RenewDate = update.RenewDate
	r.EndDate = update.EndDate
	r.AutoRenew = update.AutoRenew
	if update.TransactionID != "" {
		r.TransactionID = update.TransactionID
	}
	if update.Reactivate {
		r.Status = true
	}
	f.renewals = append(f.renewals, update)
	return nil
}

func (f *fakeStore) SetAutoRenew(ctx context.Context, userID uint, autoRenew bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.record(userID)
	if err != nil {
		return err
	}
	r.AutoRenew = autoRenew
	f.autoRen = append(f.autoRen, autoRenew)
	return nil
}

func (f *fakeStore) FindUserIDByTransaction(ctx context.Context, ids ...string) (uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	for userID, r := range f.records {
		for _, id := range ids {
			if id != "" && (r.TransactionID == id || r.OriginalTransactionID == id) {
				return userID, nil
			}
		}
	}
	return 0, apperr.New(apperr.NotFound, "no subscription for transactions %v", ids)
}

type fakeUsers map[string]uint

func (f fakeUsers) FindIDByEmail(ctx context.Context, email string) (uint, error) {
	id, ok := f[email]
	if !ok {
		return 0, apperr.New(apperr.NotFound, "user %s not found", email)
	}
	return id, nil
}

func (f fakeUsers) FindEmailByID(ctx context.Context, id uint) (string, error) {
	for email, userID := range f {
		if userID == id {
			return email, nil
		}
	}
	return "", apperr.New(apperr.NotFound, "user %d not found", id)
}

type fakeResolver struct {
	env   appstore.Environment
	err   error
	calls int
}

func (f *fakeResolver) Resolve(ctx context.Context, transactionID string) (appstore.Environment, error) {
	f.calls++
	return f.env, f.err
}

type fakeFetcher struct {
	body  json.RawMessage
	err   error
	env   appstore.Environment
	id    string
	calls int
}

func (f *fakeFetcher) GetSubscriptionStatuses(ctx context.Context, env appstore.Environment, transactionID string) (json.RawMessage, error) {
	f.calls++
	f.env = env
	f.id = transactionID
	return f.body, f.err
}

// statusBody builds a Get All Subscription Statuses body with a single entry
func statusBody(t *testing.T, tx models.TransactionInfo, renewal models.RenewalInfo) json.RawMessage {
	t.Helper()
	body, err := json.Marshal(models.StatusResponse{
		Data: []models.SubscriptionGroup{{
			SubscriptionGroupIdentifier: "21000000",
			LastTransactions: []models.LastTransaction{{
				OriginalTransactionID: tx.OriginalTransactionID,
				Status:                1,
				SignedTransactionInfo: jws(t, tx),
				SignedRenewalInfo:     jws(t, renewal),
			}},
		}},
	})
	require.NoError(t, err)
	return body
}

type recordingSink struct {
	mu     sync.Mutex
	events []SubscriptionEvent
}

func (r *recordingSink) Publish(ctx context.Context, event SubscriptionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeMailer struct {
	mu   sync.Mutex
	sent map[string]Notice
	err  error
}

func (f *fakeMailer) Send(ctx context.Context, to string, notice Notice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = make(map[string]Notice)
	}
	f.sent[to] = notice
	return f.err
}

type fakeLog struct {
	events []*models.NotificationEvent
}

func (f *fakeLog) Record(ctx context.Context, event *models.NotificationEvent) error {
	f.events = append(f.events, event)
	return nil
}
