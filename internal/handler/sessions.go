package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"rollcall/internal/model"
	"rollcall/internal/session"
)

func (h *Handler) startSession(c *gin.Context) {
	var req session.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	sess, err := h.Sessions.Start(c.Request.Context(), subject(c), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h *Handler) listSessions(c *gin.Context) {
	sessions, err := h.Sessions.List(c.Request.Context(), subject(c), queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		fail(c, err)
		return
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) activeSession(c *gin.Context) {
	sess, err := h.Sessions.Active(c.Request.Context(), subject(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

func (h *Handler) sessionDetails(c *gin.Context) {
	sess, err := h.Sessions.Owned(c.Request.Context(), subject(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) updateSession(c *gin.Context) {
	var patch session.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badBody(c, err)
		return
	}
	sess, err := h.Sessions.Update(c.Request.Context(), subject(c), c.Param("id"), patch)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) endSession(c *gin.Context) {
	h.transition(c, h.Sessions.End, model.StatusEnded, "session is not active")
}

func (h *Handler) cancelSession(c *gin.Context) {
	h.transition(c, h.Sessions.Cancel, model.StatusCancelled, "session is not scheduled")
}

type transitionFunc func(ctx context.Context, lecturerID, sessionID string) (bool, error)

func (h *Handler) transition(c *gin.Context, fn transitionFunc, to model.SessionStatus, refused string) {
	ok, err := fn(c.Request.Context(), subject(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": refused})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": to})
}

func (h *Handler) rotateCode(c *gin.Context) {
	sess, err := h.Sessions.RotateCode(c.Request.Context(), subject(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": sess.ID, "code": sess.Code})
}
