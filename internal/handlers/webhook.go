package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"momo-gateway/internal/models"
	"momo-gateway/internal/services"
	"momo-gateway/internal/utils"
)

// WebhookHandler is a thin adapter: all verification and state logic
// lives in the webhook service so tests can drive it without gin.
type WebhookHandler struct {
	webhookService *services.WebhookService
}

func NewWebhookHandler(webhookService *services.WebhookService) *WebhookHandler {
	return &WebhookHandler{
		webhookService: webhookService,
	}
}

func (h *WebhookHandler) HandleMTNCallback(c *gin.Context) {
	h.handle(c, models.ProviderMTN)
}

func (h *WebhookHandler) HandleAirtelCallback(c *gin.Context) {
	h.handle(c, models.ProviderAirtel)
}

func (h *WebhookHandler) handle(c *gin.Context, provider string) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Unreadable request body", err.Error()))
		return
	}

	status, resp := h.webhookService.Process(c.Request.Context(), provider, body, c.Request.Header, c.ClientIP())
	c.JSON(status, resp)
}
