package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"subscription-api/internal/appstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type webhookRecorder struct {
	mu         sync.Mutex
	bodies     [][]byte
	signatures []string
	agents     []string
	status     int
}

func (w *webhookRecorder) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.mu.Lock()
	w.bodies = append(w.bodies, body)
	w.signatures = append(w.signatures, r.Header.Get(SignatureHeader))
	w.agents = append(w.agents, r.Header.Get("User-Agent"))
	status := w.status
	w.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	rw.WriteHeader(status)
}

func sampleEvent(typ string) SubscriptionEvent {
	return SubscriptionEvent{
		Type:                  typ,
		UserID:                testUserID,
		TransactionID:         testTxnID,
		OriginalTransactionID: testOrigID,
		ProductID:             testProduct,
		Active:                typ != EventExpired,
		AutoRenew:             true,
		Environment:           appstore.Sandbox,
		ExpiresDate:           appstore.ToKST(futureExpiry),
		OccurredAt:            time.UnixMilli(frozenNowMs),
	}
}

func TestWebhookNotifier_SignsPayload(t *testing.T) {
	rec := &webhookRecorder{}
	server := httptest.NewServer(rec)
	defer server.Close()

	wn := NewWebhookNotifier(server.URL, "s3cret")
	require.NoError(t, wn.Notify(context.Background(), sampleEvent(EventRegistered)))

	require.Len(t, rec.bodies, 1)
	assert.Equal(t, signPayload(rec.bodies[0], "s3cret"), rec.signatures[0])
	assert.Equal(t, "OmniNews-Subscription-Webhook/1.0", rec.agents[0])

	var payload WebhookPayload
	require.NoError(t, json.Unmarshal(rec.bodies[0], &payload))
	assert.NotEmpty(t, payload.EventID)
	assert.Equal(t, EventRegistered, payload.Event)
	assert.Equal(t, "active", payload.Status)
	assert.Equal(t, "ios", payload.Platform)
	assert.Equal(t, "Sandbox", payload.Environment)
	assert.Equal(t, appstore.ToKST(futureExpiry).Format(time.RFC3339), payload.ExpiresDate)
}

func TestWebhookNotifier_WithoutSecretSendsNoSignature(t *testing.T) {
	rec := &webhookRecorder{}
	server := httptest.NewServer(rec)
	defer server.Close()

	require.NoError(t, NewWebhookNotifier(server.URL, "").Notify(context.Background(), sampleEvent(EventExpired)))
	assert.Empty(t, rec.signatures[0])

	var payload WebhookPayload
	require.NoError(t, json.Unmarshal(rec.bodies[0], &payload))
	assert.Equal(t, "expired", payload.Status)
}

func TestWebhookNotifier_NonSuccessStatus(t *testing.T) {
	rec := &webhookRecorder{status: http.StatusBadGateway}
	server := httptest.NewServer(rec)
	defer server.Close()

	err := NewWebhookNotifier(server.URL, "s3cret").Notify(context.Background(), sampleEvent(EventRenewed))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	// Not retried
	assert.Len(t, rec.bodies, 1)
}

func TestNewWebhookNotifier_Disabled(t *testing.T) {
	assert.Nil(t, NewWebhookNotifier("", "s3cret"))
}

func TestSignPayload(t *testing.T) {
	// HMAC-SHA256("key", "The quick brown fox jumps over the lazy dog")
	assert.Equal(t,
		"f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8",
		signPayload([]byte("The quick brown fox jumps over the lazy dog"), "key"))
}

func TestComposeNotice(t *testing.T) {
	notice, ok := composeNotice("OmniNews", sampleEvent(EventRegistered))
	require.True(t, ok)
	assert.Equal(t, "OmniNews subscription activated", notice.Subject)
	assert.Contains(t, notice.Text, testProduct)
	assert.Contains(t, notice.HTML, "<h1")

	notice, ok = composeNotice("OmniNews", sampleEvent(EventExpired))
	require.True(t, ok)
	assert.Equal(t, "OmniNews subscription ended", notice.Subject)

	_, ok = composeNotice("OmniNews", sampleEvent(EventRenewed))
	assert.False(t, ok)
	_, ok = composeNotice("OmniNews", sampleEvent(EventAutoRenewChanged))
	assert.False(t, ok)
}

func TestComposeNotice_EscapesHTML(t *testing.T) {
	event := sampleEvent(EventRegistered)
	event.ProductID = "<script>"
	notice, ok := composeNotice("OmniNews", event)
	require.True(t, ok)
	assert.NotContains(t, notice.HTML, "<script>")
	assert.Contains(t, notice.HTML, "&lt;script&gt;")
}

func TestNewBrevoService_Disabled(t *testing.T) {
	assert.Nil(t, NewBrevoService("", "noreply@omninews.kr", "OmniNews"))
	assert.Nil(t, NewBrevoService("xkeysib-test", "", "OmniNews"))
	assert.NotNil(t, NewBrevoService("xkeysib-test", "noreply@omninews.kr", "OmniNews"))
}

func TestDispatcher_DeliversWebhookAndMail(t *testing.T) {
	rec := &webhookRecorder{}
	server := httptest.NewServer(rec)
	defer server.Close()
	mailer := &fakeMailer{}

	d := NewDispatcher(NewWebhookNotifier(server.URL, "s3cret"), mailer, fakeUsers{testEmail: testUserID}, "OmniNews")
	ctx, cancel := context.WithCancel(context.Background())

	d.Publish(ctx, sampleEvent(EventRegistered))
	// Delivery survives the request context
	cancel()
	d.Wait()

	assert.Len(t, rec.bodies, 1)
	require.Contains(t, mailer.sent, testEmail)
	assert.Equal(t, "OmniNews subscription activated", mailer.sent[testEmail].Subject)
}

func TestDispatcher_EventEmailWinsOverDirectory(t *testing.T) {
	mailer := &fakeMailer{}
	d := NewDispatcher(nil, mailer, fakeUsers{testEmail: testUserID}, "OmniNews")

	event := sampleEvent(EventExpired)
	event.Email = "direct@omninews.kr"
	d.Publish(context.Background(), event)
	d.Wait()

	assert.Contains(t, mailer.sent, "direct@omninews.kr")
	assert.NotContains(t, mailer.sent, testEmail)
}

func TestDispatcher_SkipsMailForSilentEvents(t *testing.T) {
	mailer := &fakeMailer{}
	d := NewDispatcher(nil, mailer, fakeUsers{testEmail: testUserID}, "OmniNews")

	d.Publish(context.Background(), sampleEvent(EventRenewed))
	d.Publish(context.Background(), sampleEvent(EventAutoRenewChanged))
	d.Wait()

	assert.Empty(t, mailer.sent)
}

func TestDispatcher_UnknownUserGetsNoMail(t *testing.T) {
	mailer := &fakeMailer{}
	d := NewDispatcher(nil, mailer, fakeUsers{}, "OmniNews")

	d.Publish(context.Background(), sampleEvent(EventExpired))
	d.Wait()

	assert.Empty(t, mailer.sent)
}
