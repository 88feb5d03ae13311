package controllers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"hotel-channel-sync/services"
	"hotel-channel-sync/utils"
)

const maxWebhookBody = 1 << 20

type ChannelController struct {
	Gateway      *services.WebhookGateway
	Integrations *services.IntegrationService
}

func NewChannelController(gateway *services.WebhookGateway, integrations *services.IntegrationService) *ChannelController {
	return &ChannelController{Gateway: gateway, Integrations: integrations}
}

// Webhook POST /api/channels/:key/webhook
//
// The raw body is kept for signature verification and restored so later
// middleware can read it again.
func (cc *ChannelController) Webhook(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		respondInvalidPayload(c, err)
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(raw))

	payload := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&payload); err != nil {
			respondInvalidPayload(c, err)
			return
		}
	}

	res, err := cc.Gateway.Ingest(c.Request.Context(), services.IngestRequest{
		ChannelKey: c.Param("key"),
		Payload:    payload,
		Headers:    c.Request.Header,
		RawBody:    raw,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.JSONSuccess(c, http.StatusOK, res)
}

// ListChannels GET /api/channels
func (cc *ChannelController) ListChannels(c *gin.Context) {
	list, err := cc.Integrations.ListIntegrations(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.JSONSuccess(c, http.StatusOK, list)
}

// TestConnection POST /api/channels/:key/test
func (cc *ChannelController) TestConnection(c *gin.Context) {
	status, err := cc.Gateway.TestConnection(c.Request.Context(), c.Param("key"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.JSONSuccess(c, http.StatusOK, status)
}
