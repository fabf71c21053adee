package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/attendanced/attendanced/internal/models"
	"github.com/attendanced/attendanced/internal/storage"
)

type AttendanceHandler struct {
	db *storage.PostgresStore
}

func NewAttendanceHandler(db *storage.PostgresStore) *AttendanceHandler {
	return &AttendanceHandler{db: db}
}

type overrideRequest struct {
	EmployeeID int    `json:"employee_id" binding:"required"`
	Date       string `json:"date" binding:"required"`
	Status     string `json:"status" binding:"required"`
}

// Override implements spec.md §6's manual attendance override: admin writes
// {employee_id, date, status}, writer sets entry_type = MANUAL.
func (h *AttendanceHandler) Override(c *gin.Context) {
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status := models.AttendanceStatus(req.Status)
	if status != models.AttendancePresent && status != models.AttendanceAbsent {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be PRESENT or ABSENT"})
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}

	ctx := c.Request.Context()
	tx, err := h.db.BeginTx(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	existing, err := h.db.GetAttendance(ctx, tx, req.EmployeeID, date)
	if err != nil {
		_ = tx.Rollback(ctx)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if existing == nil {
		err = h.db.InsertAttendance(ctx, tx, models.Attendance{
			EmployeeID: req.EmployeeID, Date: date, Status: status, EntryType: models.EntryManual,
		})
	} else {
		existing.Status = status
		existing.EntryType = models.EntryManual
		err = h.db.UpdateAttendance(ctx, tx, *existing)
	}
	if err != nil {
		_ = tx.Rollback(ctx)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := tx.Commit(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type resetRequest struct {
	EmployeeID int    `json:"employee_id" binding:"required"`
	Date       string `json:"date" binding:"required"`
}

// Reset implements spec.md §6's reset operation: flips entry_type back to
// AUTO without touching status.
func (h *AttendanceHandler) Reset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}

	ctx := c.Request.Context()
	tx, err := h.db.BeginTx(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	existing, err := h.db.GetAttendance(ctx, tx, req.EmployeeID, date)
	if err != nil {
		_ = tx.Rollback(ctx)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if existing == nil {
		_ = tx.Rollback(ctx)
		c.JSON(http.StatusNotFound, gin.H{"error": "no attendance row for employee/date"})
		return
	}

	existing.EntryType = models.EntryAuto
	if err := h.db.UpdateAttendance(ctx, tx, *existing); err != nil {
		_ = tx.Rollback(ctx)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := tx.Commit(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}
