package logger

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestNewWriter_DebugOnlyInDev(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf, "production").Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected debug suppressed in production, got %s", buf.String())
	}
	NewWriter(&buf, "dev").Debug("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected debug line in dev")
	}
}

func TestFrom_FallsBackToDefault(t *testing.T) {
	if From(context.Background()) == nil {
		t.Fatalf("expected default logger")
	}
}

func TestMiddleware_PropagatesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	l := NewWriter(&buf, "local")

	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/x", func(c *gin.Context) {
		From(c.Request.Context()).Info("inside")
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(headerRequestID, "rid-1")
	r.ServeHTTP(w, req)

	if got := w.Header().Get(headerRequestID); got != "rid-1" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
	if n := strings.Count(buf.String(), `"request_id":"rid-1"`); n != 2 {
		t.Fatalf("expected 2 log lines with request id, got %d: %s", n, buf.String())
	}
}
