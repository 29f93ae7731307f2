package telephony

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/twilio/twilio-go/client"

	"softphone/pkg/logger"
)

const signatureHeader = "X-Twilio-Signature"

// RequireSignature rejects webhooks whose X-Twilio-Signature does not match
// authToken. publicURL, when set, replaces the URL seen by this process, which
// differs behind proxies. An empty authToken disables the check.
func RequireSignature(authToken, publicURL string) gin.HandlerFunc {
	if authToken == "" {
		return func(c *gin.Context) { c.Next() }
	}
	validator := client.NewRequestValidator(authToken)

	return func(c *gin.Context) {
		log := logger.FromGin(c)

		_, params, err := ParseVoiceRequest(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
			return
		}
		url := publicURL
		if url == "" {
			url = requestURL(c.Request)
		}
		if !validator.Validate(url, params, c.GetHeader(signatureHeader)) {
			log.Warn("voice webhook signature rejected", "url", url)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}

func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
