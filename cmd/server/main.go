package main

import (
	"context"
	"crypto/x509"
	"log"
	"time"

	"subscription-api/internal/api"
	"subscription-api/internal/appstore"
	"subscription-api/internal/config"
	"subscription-api/internal/database"
	"subscription-api/internal/middleware"
	"subscription-api/internal/services"
	"subscription-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// tokenRefreshMargin is how long before expiry a cached service token is replaced
const tokenRefreshMargin = time.Minute

func main() {
	// Initialize configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to initialize config:", err)
	}

	// Initialize logging
	logging.InitLogging()

	if err := run(cfg); err != nil {
		log.Fatal("Server stopped:", err)
	}
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	// Initialize database
	db, err := database.Open(cfg)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}
	rdb, err := database.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer database.Close(db, rdb)

	// App Store Server API
	signer, err := appstore.NewSigner(appstore.Credential{
		PrivateKeyPEM: cfg.Apple.PrivateKey,
		KeyID:         cfg.Apple.KeyID,
		IssuerID:      cfg.Apple.IssuerID,
		BundleID:      cfg.Apple.BundleID,
	})
	if err != nil {
		return err
	}
	var tokens appstore.TokenProvider = appstore.SigningProvider{Signer: signer}
	if cfg.Apple.CacheTokens {
		tokens = appstore.NewCachedProvider(signer, tokenRefreshMargin)
	}
	client := appstore.NewClient(tokens, cfg.Apple.HTTPTimeout)

	apiDecoder, notificationDecoder, err := newDecoders(cfg.Apple)
	if err != nil {
		return err
	}

	// Stores
	store := database.NewSubscriptionStore(db)
	users := database.NewUserDirectory(db)
	notificationLog := database.NewNotificationLog(db)

	// Event delivery
	var mailer services.Mailer
	if brevo := services.NewBrevoService(cfg.BrevoAPIKey, cfg.BrevoFromEmail, cfg.BrevoFromName); brevo != nil {
		mailer = brevo
	} else {
		logging.Infof("Brevo not configured, subscription emails disabled")
	}
	webhook := services.NewWebhookNotifier(cfg.WebhookCallbackURL, cfg.WebhookSecret)
	if webhook == nil {
		logging.Infof("WEBHOOK_CALLBACK_URL not set, webhook disabled")
	}
	dispatcher := services.NewDispatcher(webhook, mailer, users, cfg.ServiceName)
	defer dispatcher.Wait()

	var replay services.ReplayGuard
	if rdb != nil {
		replay = services.NewRedisReplayGuard(rdb)
	} else {
		memory := services.NewMemoryReplayGuard()
		defer memory.Stop()
		replay = memory
	}

	subscriptions := services.NewSubscriptionVerificationService(
		store, users, appstore.NewResolver(client), client, apiDecoder, notificationDecoder, dispatcher)
	notifications := services.NewNotificationService(
		notificationDecoder, store, replay, notificationLog, dispatcher, cfg.Apple.BundleID)

	// Set Gin mode
	gin.SetMode(cfg.Mode)

	// Create Gin engine
	r := gin.Default()

	// Setup routes
	history := services.NewSubscriptionHistoryService(users, notificationLog)
	handler := api.NewHandler(subscriptions, notifications, history, cfg.ServiceName)
	api.SetupRoutes(r, handler, middleware.Auth(cfg.JWTSecret))

	// Start server
	logging.Infof("Starting server on port %s", cfg.Port)
	return r.Run(":" + cfg.Port)
}

// newDecoders returns the decoder for payloads fetched from Apple and the one
// for payloads Apple or clients hand to us
func newDecoders(apple config.AppleConfig) (*appstore.Decoder, *appstore.Decoder, error) {
	var roots *x509.CertPool
	if apple.VerifyNotifications || apple.VerifyAPIPayloads {
		pool, err := appstore.AppleRootPool(apple.RootCertFile)
		if err != nil {
			return nil, nil, err
		}
		roots = pool
	}

	apiDecoder := appstore.NewDecoder(nil)
	if apple.VerifyAPIPayloads {
		apiDecoder = appstore.NewDecoder(appstore.NewCertChainReader(roots))
	}
	inbound := appstore.NewDecoder(nil)
	if apple.VerifyNotifications {
		inbound = appstore.NewDecoder(appstore.NewCertChainReader(roots))
	} else {
		logging.Warnf("Notification signature verification disabled")
	}
	return apiDecoder, inbound, nil
}
