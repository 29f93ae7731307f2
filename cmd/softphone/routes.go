package main

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"

	"softphone/internal/auth"
	"softphone/internal/config"
	"softphone/internal/httpapi"
	"softphone/internal/presence"
	"softphone/internal/reporting"
	"softphone/internal/telephony"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, cfg config.Config, d deps, authManager *auth.Manager) {
	httpapi.LoadTemplates(r)

	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public, signed).
	{
		router := telephony.Router{
			CallerID: cfg.Twilio.CallerID,
			Agents:   telephony.StaticAgents(cfg.Twilio.InboundRoutes),
		}
		if d.presence != nil {
			store := d.presence
			router.Presence = func(ctx context.Context, identity string) (presence.Record, error) {
				return presence.Lookup(ctx, store, identity)
			}
		}
		if cfg.Twilio.AuthToken == "" {
			slog.Warn("voice webhook signature checks disabled")
		}
		h := telephony.VoiceWebhookHandler{Router: router}
		r.POST("/v1/telephony/voice", telephony.RequireSignature(cfg.Twilio.AuthToken, cfg.Twilio.WebhookURL), h.HandleVoice)
	}

	h := httpapi.Handlers{
		Auth:     authManager,
		Phones:   d.phones,
		Journal:  d.journal,
		Reports:  reporting.NewService(d.journal),
		DevLogin: !cfg.IsProduction(),
	}
	h.RegisterAuth(r)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(authManager))
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			wid, _ := auth.WorkspaceID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "workspace_id": wid, "role": role})
		})
		h.RegisterSoftphone(v1)
	}
}
