package httpapi

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"softphone/internal/softphone"
	"softphone/pkg/logger"
)

const defaultHeartbeat = 25 * time.Second

// Events streams the rendered view as server-sent events. The current view is
// sent first, then one event per state change.
func (h Handlers) Events(c *gin.Context) {
	p, ok := h.phone(c)
	if !ok {
		return
	}
	updates, cancel := p.Subscribe()
	defer cancel()

	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("view", softphone.Render(p.Snapshot()))
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case s := <-updates:
			c.SSEvent("view", softphone.Render(s))
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		}
	})
	logger.FromGin(c).Debug("event stream closed")
}
