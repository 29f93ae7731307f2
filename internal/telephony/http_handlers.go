package telephony

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"softphone/pkg/logger"
)

// VoiceWebhookHandler answers the vendor's voice webhook with TwiML.
type VoiceWebhookHandler struct {
	Router Router
}

func (h VoiceWebhookHandler) HandleVoice(c *gin.Context) {
	log := logger.FromGin(c)

	req, _, err := ParseVoiceRequest(c.Request)
	if err != nil {
		log.Warn("voice webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	if req.CallSid == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing CallSid"})
		return
	}

	d := h.Router.Decide(c.Request.Context(), req)
	log.Info("voice webhook",
		"call_sid", req.CallSid,
		"direction", req.Direction,
		"action", string(d.Action),
		"reason", d.Reason,
	)

	twiml, err := RenderTwiML(d)
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	c.Data(http.StatusOK, "text/xml; charset=utf-8", []byte(twiml))
}
