package api

import (
	"context"
	"net/http"

	"subscription-api/internal/models"
	"subscription-api/internal/services"

	"github.com/gin-gonic/gin"
)

// SubscriptionAPI is the reconciler behind the client routes
type SubscriptionAPI interface {
	Verify(ctx context.Context, email string) (*services.SubscriptionStatus, error)
	Register(ctx context.Context, email string, req services.RegisterRequest) (bool, error)
	Status(ctx context.Context, email string) (bool, error)
	Record(ctx context.Context, email string) (*models.SubscriptionRecord, error)
}

// NotificationAPI applies App Store server notifications
type NotificationAPI interface {
	Handle(ctx context.Context, signedPayload string) (*services.NotificationResult, error)
}

// HistoryAPI reads the notification audit trail of a user
type HistoryAPI interface {
	History(ctx context.Context, email string, limit int) ([]models.NotificationEvent, error)
}

// Handler serves the HTTP surface
type Handler struct {
	subscriptions SubscriptionAPI
	notifications NotificationAPI
	history       HistoryAPI
	service       string
}

func NewHandler(subscriptions SubscriptionAPI, notifications NotificationAPI, history HistoryAPI, serviceName string) *Handler {
	return &Handler{
		subscriptions: subscriptions,
		notifications: notifications,
		history:       history,
		service:       serviceName,
	}
}

// SetupRoutes sets up all routes. auth guards the client routes.
func SetupRoutes(r *gin.Engine, h *Handler, auth gin.HandlerFunc) {
	// Subscription routes (client API, bearer token required)
	subscription := r.Group("/subscription")
	subscription.Use(auth)
	{
		subscription.GET("", h.GetSubscription)
		subscription.GET("/verify", h.VerifySubscription)
		subscription.POST("/register", h.RegisterSubscription)
		subscription.GET("/status", h.GetSubscriptionStatus)
		subscription.GET("/history", h.GetSubscriptionHistory)
	}

	// App Store notification routes (no authentication, Apple calls these)
	apple := r.Group("/apple")
	{
		apple.POST("/notification/v2", h.AppStoreNotification)
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": h.service,
		})
	})
}
