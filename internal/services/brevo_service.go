package services

import (
	"context"
	"fmt"
	"html"
	"time"

	"subscription-api/internal/appstore"

	brevo "github.com/getbrevo/brevo-go/lib"
)

// Notice is a rendered email
type Notice struct {
	Subject string
	HTML    string
	Text    string
}

// Mailer sends subscription notices to subscribers
type Mailer interface {
	Send(ctx context.Context, to string, notice Notice) error
}

// BrevoService sends transactional email through Brevo
type BrevoService struct {
	client    *brevo.APIClient
	fromEmail string
	fromName  string
}

// NewBrevoService returns nil when no API key is configured
func NewBrevoService(apiKey, fromEmail, fromName string) *BrevoService {
	if apiKey == "" || fromEmail == "" {
		return nil
	}
	cfg := brevo.NewConfiguration()
	cfg.AddDefaultHeader("api-key", apiKey)
	return &BrevoService{
		client:    brevo.NewAPIClient(cfg),
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

func (s *BrevoService) Send(ctx context.Context, to string, notice Notice) error {
	_, _, err := s.client.TransactionalEmailsApi.SendTransacEmail(ctx, brevo.SendSmtpEmail{
		Sender:      &brevo.SendSmtpEmailSender{Name: s.fromName, Email: s.fromEmail},
		To:          []brevo.SendSmtpEmailTo{{Email: to}},
		Subject:     notice.Subject,
		HtmlContent: notice.HTML,
		TextContent: notice.Text,
	})
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// composeNotice renders the email for events subscribers are told about
func composeNotice(serviceName string, event SubscriptionEvent) (Notice, bool) {
	expires := event.ExpiresDate.In(appstore.KST).Format("2006-01-02 15:04 MST")

	var subject, line string
	switch event.Type {
	case EventRegistered:
		subject = fmt.Sprintf("%s subscription activated", serviceName)
		line = fmt.Sprintf("Your subscription to %s is active until %s.", event.ProductID, expires)
	case EventExpired:
		subject = fmt.Sprintf("%s subscription ended", serviceName)
		line = fmt.Sprintf("Your subscription to %s ended on %s. You can subscribe again in the app at any time.", event.ProductID, expires)
	default:
		return Notice{}, false
	}

	htmlContent := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>%s</title></head>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
	<h1 style="color: #333;">%s</h1>
	<p style="color: #666; font-size: 16px;">%s</p>
	<p style="color: #999; font-size: 12px;">Sent %s</p>
</body>
</html>`, html.EscapeString(subject), html.EscapeString(serviceName), html.EscapeString(line),
		time.Now().In(appstore.KST).Format("2006-01-02"))

	return Notice{
		Subject: subject,
		HTML:    htmlContent,
		Text:    fmt.Sprintf("%s\n\n%s\n", serviceName, line),
	}, true
}
