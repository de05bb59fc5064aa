package api

import (
	"net/http"
	"strconv"

	"subscription-api/internal/middleware"
	"subscription-api/internal/response"

	"github.com/gin-gonic/gin"
)

// GetSubscriptionHistory lists the App Store notifications applied to the
// caller's subscription
// GET /subscription/history?limit=20
func (h *Handler) GetSubscriptionHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.ErrorJSON(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := h.history.History(c.Request.Context(), middleware.UserEmail(c), limit)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.SuccessJSON(c, events)
}
