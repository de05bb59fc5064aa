package api

import (
	"net/http"
	"time"

	"subscription-api/internal/models"
	"subscription-api/internal/response"
	"subscription-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// AppStoreNotification receives App Store Server Notifications V2.
// Anything decodable is acknowledged with 200 so Apple stops retrying.
// POST /apple/notification/v2
func (h *Handler) AppStoreNotification(c *gin.Context) {
	startTime := time.Now()

	var wrapper models.AppStoreNotificationWrapper
	if err := c.ShouldBindJSON(&wrapper); err != nil {
		logging.Errorf("Failed to parse notification wrapper: %v", err)
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid notification format")
		return
	}

	result, err := h.notifications.Handle(c.Request.Context(), wrapper.SignedPayload)
	if err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Failed to decode signedPayload")
		return
	}

	logging.Infof("Notification handled - type: %s, uuid: %s, outcome: %s, duration: %v",
		result.NotificationType, result.NotificationUUID, result.Outcome, time.Since(startTime))
	response.SuccessJSON(c, result)
}
