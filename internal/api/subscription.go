package api

import (
	"net/http"

	"subscription-api/internal/middleware"
	"subscription-api/internal/response"
	"subscription-api/internal/services"
	"subscription-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// SubscriptionStatusResponse is the body of GET /subscription/status
type SubscriptionStatusResponse struct {
	Status bool `json:"status"`
}

// VerifySubscription refreshes the caller's subscription from the App Store
// GET /subscription/verify
func (h *Handler) VerifySubscription(c *gin.Context) {
	email := middleware.UserEmail(c)
	status, err := h.subscriptions.Verify(c.Request.Context(), email)
	if err != nil {
		logging.Infof("Verify failed - email: %s, error: %v", email, err)
		response.AppError(c, err)
		return
	}
	response.SuccessJSON(c, status)
}

// RegisterSubscription stores the subscription the client purchased
// POST /subscription/register
func (h *Handler) RegisterSubscription(c *gin.Context) {
	var req services.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}

	email := middleware.UserEmail(c)
	ok, err := h.subscriptions.Register(c.Request.Context(), email, req)
	if err != nil {
		logging.Infof("Register failed - email: %s, error: %v", email, err)
		response.AppError(c, err)
		return
	}
	response.SuccessJSON(c, ok)
}

// GetSubscriptionStatus returns the stored status without calling Apple
// GET /subscription/status
func (h *Handler) GetSubscriptionStatus(c *gin.Context) {
	status, err := h.subscriptions.Status(c.Request.Context(), middleware.UserEmail(c))
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.SuccessJSON(c, SubscriptionStatusResponse{Status: status})
}

// GetSubscription returns the stored subscription record
// GET /subscription
func (h *Handler) GetSubscription(c *gin.Context) {
	record, err := h.subscriptions.Record(c.Request.Context(), middleware.UserEmail(c))
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.SuccessJSON(c, record)
}
