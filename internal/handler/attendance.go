package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rollcall/internal/attendance"
)

func (h *Handler) markAttendance(c *gin.Context) {
	var req attendance.MarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	res, err := h.Attendance.Mark(c.Request.Context(), subject(c), req)
	if err != nil {
		fail(c, err)
		return
	}
	status := http.StatusCreated
	if res.RequiresProgrammeSelection {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

type lecturerSignRequest struct {
	RegistrationNumber string `json:"registration_number"`
}

func (h *Handler) lecturerSign(c *gin.Context) {
	var req lecturerSignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	rec, err := h.Attendance.LecturerSign(c.Request.Context(), subject(c), c.Param("id"), req.RegistrationNumber)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *Handler) listRecords(c *gin.Context) {
	lines, err := h.Attendance.ListRecords(c.Request.Context(), subject(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": lines})
}

func (h *Handler) deleteRecord(c *gin.Context) {
	if err := h.Attendance.DeleteRecord(c.Request.Context(), subject(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
