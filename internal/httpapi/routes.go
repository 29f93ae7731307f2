package httpapi

import (
	"github.com/gin-gonic/gin"

	"softphone/internal/rbac"
)

// RegisterSoftphone mounts the phone page and its actions under g. g must
// already carry the access token middleware.
func (h Handlers) RegisterSoftphone(g *gin.RouterGroup) {
	phone := g.Group("/softphone")
	phone.Use(RequireWorkspaceAndAnyRole(rbac.PhoneRoles...)...)
	{
		phone.GET("", h.Page)
		phone.POST("/mount", h.Mount)
		phone.DELETE("", h.Unmount)
		phone.GET("/state", h.State)
		phone.GET("/events", h.Events)
		phone.PUT("/destination", h.SetDestination)
		phone.POST("/destination", h.SetDestination)
		phone.POST("/call", h.PlaceCall)
		phone.POST("/answer", h.Answer)
		phone.POST("/reject", h.Reject)
		phone.POST("/hangup", h.HangUp)
	}

	history := g.Group("/softphone/history")
	history.Use(RequireWorkspaceAndAnyRole(rbac.HistoryRoles...)...)
	history.GET("", h.History)
	history.GET("/summary", h.Summary)
}

// RegisterAuth mounts the development login. It is public.
func (h Handlers) RegisterAuth(r gin.IRouter) {
	r.POST("/v1/auth/login", h.Login)
}
