package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"softphone/internal/audit"
	"softphone/internal/auth"
	"softphone/internal/rbac"
	"softphone/internal/reporting"
	"softphone/internal/softphone"
	"softphone/pkg/logger"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: resolve the caller's phone, call it, render the result.
type Handlers struct {
	Auth    *auth.Manager
	Phones  *softphone.Registry
	Journal *audit.Service
	Reports *reporting.Service

	// DevLogin enables POST /v1/auth/login without credentials. Never set in
	// production.
	DevLogin bool
	// Heartbeat is the keep-alive interval of the event stream.
	Heartbeat time.Duration
}

const pagePath = "/v1/softphone"

// stateResponse is the JSON shape of the phone.
type stateResponse struct {
	Snapshot softphone.Snapshot `json:"snapshot"`
	View     softphone.View     `json:"view"`
}

func newState(s softphone.Snapshot) stateResponse {
	return stateResponse{Snapshot: s, View: softphone.Render(s)}
}

// --- Auth ---

type loginRequest struct {
	UserID      string `json:"user_id" form:"user_id"`
	WorkspaceID string `json:"workspace_id" form:"workspace_id"`
	Role        string `json:"role" form:"role"`
}

// Login issues a session token and sets the session cookie.
//
// NOTE: development only. Real deployments mint session tokens elsewhere.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil || !h.DevLogin {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "login disabled"})
		return
	}
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if req.UserID == "" || req.WorkspaceID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, workspace_id, role required"})
		return
	}
	tok, err := h.Auth.Issue(time.Now(), req.UserID, req.WorkspaceID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(auth.SessionCookie, tok, 0, "/", "", c.Request.TLS != nil, true)
	c.JSON(http.StatusOK, gin.H{"access_token": tok})
}

// --- Softphone ---

func identity(c *gin.Context) (softphone.Identity, bool) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return "", false
	}
	return softphone.Identity(uid), true
}

// phone returns the caller's mounted phone or aborts with 404.
func (h Handlers) phone(c *gin.Context) (*softphone.Phone, bool) {
	id, ok := identity(c)
	if !ok {
		return nil, false
	}
	p, err := h.Phones.Get(id)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "phone not mounted"})
		return nil, false
	}
	return p, true
}

// mount mounts the caller's phone. Initialization failures leave the phone
// disconnected; they are logged and returned with the phone. A nil phone means
// the request was aborted.
func (h Handlers) mount(c *gin.Context) (*softphone.Phone, error) {
	id, ok := identity(c)
	if !ok {
		return nil, nil
	}
	p, err := h.Phones.Mount(c.Request.Context(), id)
	if p == nil {
		logger.FromGin(c).Error("phone creation failed", "identity", id.String(), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "phone unavailable"})
		return nil, nil
	}
	if err != nil {
		logger.FromGin(c).Warn("phone not initialized", "identity", id.String(), "err", err)
	}
	return p, err
}

// Page renders the phone as HTML, mounting it first.
func (h Handlers) Page(c *gin.Context) {
	p, err := h.mount(c)
	if p == nil {
		return
	}
	data := gin.H{"View": softphone.Render(p.Snapshot()), "Path": pagePath}
	if err != nil {
		data["Notice"] = "Phone could not be initialized."
	}
	c.HTML(http.StatusOK, pageTemplateName, data)
}

// Mount mounts the caller's phone for API clients.
func (h Handlers) Mount(c *gin.Context) {
	p, err := h.mount(c)
	if p == nil {
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "device initialization failed", "state": newState(p.Snapshot())})
		return
	}
	c.JSON(http.StatusOK, newState(p.Snapshot()))
}

// Unmount tears the caller's phone down.
func (h Handlers) Unmount(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	if err := h.Phones.Unmount(id); err != nil {
		if errors.Is(err, softphone.ErrNotMounted) {
			c.Status(http.StatusNoContent)
			return
		}
		logger.FromGin(c).Warn("phone unmount failed", "identity", id.String(), "err", err)
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) State(c *gin.Context) {
	p, ok := h.phone(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newState(p.Snapshot()))
}

type destinationRequest struct {
	Number string `json:"number" form:"number"`
}

func (h Handlers) SetDestination(c *gin.Context) {
	p, ok := h.phone(c)
	if !ok {
		return
	}
	var req destinationRequest
	if err := c.ShouldBind(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	p.SetDestination(req.Number)
	h.respond(c, p, nil)
}

// PlaceCall sets the destination when the request carries one, then dials.
func (h Handlers) PlaceCall(c *gin.Context) {
	p, ok := h.phone(c)
	if !ok {
		return
	}
	var req destinationRequest
	if err := c.ShouldBind(&req); err == nil && strings.TrimSpace(req.Number) != "" {
		p.SetDestination(req.Number)
	}
	h.respond(c, p, p.PlaceCall(c.Request.Context()))
}

func (h Handlers) Answer(c *gin.Context) {
	if p, ok := h.phone(c); ok {
		h.respond(c, p, p.Answer())
	}
}

func (h Handlers) Reject(c *gin.Context) {
	if p, ok := h.phone(c); ok {
		h.respond(c, p, p.Reject())
	}
}

func (h Handlers) HangUp(c *gin.Context) {
	if p, ok := h.phone(c); ok {
		h.respond(c, p, p.HangUp())
	}
}

// respond redirects browser form posts back to the page and returns the state
// as JSON otherwise.
func (h Handlers) respond(c *gin.Context, p *softphone.Phone, err error) {
	if err != nil {
		logger.FromGin(c).Warn("phone action failed", "path", c.FullPath(), "err", err)
	}
	if isForm(c) {
		c.Redirect(http.StatusSeeOther, pagePath)
		return
	}
	switch {
	case errors.Is(err, softphone.ErrNoDestination):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "state": newState(p.Snapshot())})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": "device action failed", "state": newState(p.Snapshot())})
	default:
		c.JSON(http.StatusOK, newState(p.Snapshot()))
	}
}

func isForm(c *gin.Context) bool {
	return c.ContentType() == gin.MIMEPOSTForm
}

// --- Journal ---

// History returns the call journal. Agents only see their own calls.
func (h Handlers) History(c *gin.Context) {
	if h.Journal == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "journal not configured"})
		return
	}
	ctx := c.Request.Context()
	workspaceID, _ := auth.WorkspaceID(ctx)

	var q struct {
		Identity string `form:"identity"`
		Limit    int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	identity, ok := historyScope(c, q.Identity)
	if !ok {
		return
	}

	events, err := h.Journal.History(ctx, audit.Query{WorkspaceID: workspaceID, Identity: identity, Limit: q.Limit})
	if err != nil {
		logger.FromGin(c).Error("journal read failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "journal read failed"})
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// historyScope resolves the identity a journal read is narrowed to, aborting
// when the caller may not see it.
func historyScope(c *gin.Context, requested string) (string, bool) {
	ctx := c.Request.Context()
	self, _ := auth.UserID(ctx)
	role, _ := auth.Role(ctx)
	if requested == "" && role == rbac.RoleAgent {
		requested = self
	}
	if requested != "" && !rbac.CanViewAgent(role, self, requested) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return "", false
	}
	return requested, true
}

const defaultSummaryWindow = 24 * time.Hour

// Summary aggregates the journal. from/to are RFC3339 and default to the last
// 24 hours.
func (h Handlers) Summary(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	var q struct {
		Identity string    `form:"identity"`
		From     time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
		To       time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	if q.To.IsZero() {
		q.To = time.Now().UTC()
	}
	if q.From.IsZero() {
		q.From = q.To.Add(-defaultSummaryWindow)
	}
	identity, ok := historyScope(c, q.Identity)
	if !ok {
		return
	}
	workspaceID, _ := auth.WorkspaceID(c.Request.Context())

	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		WorkspaceID: workspaceID,
		Identity:    identity,
		Range:       reporting.TimeRange{From: q.From, To: q.To},
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
			return
		}
		logger.FromGin(c).Error("summary failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// Convenience middleware bundles.

func RequireWorkspaceAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireWorkspace(), rbac.RequireAnyRole(roles...)}
}
