// Package handler exposes the attendance services over HTTP.
package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/apperr"
	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/live"
	"rollcall/internal/session"
)

// Checker reports whether a backing service is reachable.
type Checker interface {
	Healthy(ctx context.Context) bool
}

// Handler wires the services to gin routes.
type Handler struct {
	Sessions   *session.Service
	Attendance *attendance.Service
	Snapshots  *live.SnapshotBuilder
	Bus        *live.Bus

	// Heartbeat is the idle interval after which live streams send a keep-alive.
	Heartbeat time.Duration
	// Health lists the dependencies /healthz reports on, by name.
	Health map[string]Checker

	SigningKey string
	Issuer     string

	// RateLimit, when set, runs on every /v1 route after authentication.
	RateLimit gin.HandlerFunc
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1", auth.Authenticate(h.SigningKey, h.Issuer))
	if h.RateLimit != nil {
		v1.Use(h.RateLimit)
	}

	lecturer := v1.Group("", auth.RequireRole(auth.RoleLecturer))
	lecturer.POST("/sessions", h.startSession)
	lecturer.GET("/sessions", h.listSessions)
	lecturer.GET("/sessions/active", h.activeSession)
	lecturer.GET("/sessions/:id", h.sessionDetails)
	lecturer.PATCH("/sessions/:id", h.updateSession)
	lecturer.POST("/sessions/:id/end", h.endSession)
	lecturer.POST("/sessions/:id/cancel", h.cancelSession)
	lecturer.POST("/sessions/:id/rotate-code", h.rotateCode)
	lecturer.POST("/sessions/:id/attendance", h.lecturerSign)
	lecturer.GET("/sessions/:id/attendance", h.listRecords)
	lecturer.DELETE("/attendance/:id", h.deleteRecord)
	lecturer.GET("/sessions/:id/live", h.liveSSE)
	lecturer.GET("/sessions/:id/live/ws", h.liveWS)

	student := v1.Group("", auth.RequireRole(auth.RoleStudent))
	student.POST("/attendance/mark", h.markAttendance)
}

func (h *Handler) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, chk := range h.Health {
		ok := chk.Healthy(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// subject returns the caller id set by auth.Authenticate.
func subject(c *gin.Context) string {
	claims, _ := auth.ClaimsFrom(c)
	return claims.Subject
}

// CallerKey identifies the authenticated caller for rate limiting.
func CallerKey(c *gin.Context) string {
	if sub := subject(c); sub != "" {
		return "sub:" + sub
	}
	return ""
}

// fail writes err with the status of its kind. Internal causes never reach the body.
func fail(c *gin.Context, err error) {
	body := gin.H{"error": apperr.PublicMessage(err)}
	if fields := apperr.FieldsOf(err); len(fields) > 0 {
		body["fields"] = fields
	}
	c.AbortWithStatusJSON(apperr.HTTPStatus(err), body)
}

// badBody reports a request body that is not valid JSON for the target type.
func badBody(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "malformed request body: " + err.Error()})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
