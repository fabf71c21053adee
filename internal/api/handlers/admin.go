package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/attendanced/attendanced/internal/capture"
)

// AdminHandler exposes the original's single-camera start/stop/is-running
// surface (database_models.py's manager start(cam_ids)/stop()/
// is_running()/is_camera_running(cam_id)/stop_camera(cam_id)) as admin
// endpoints. It mutates runtime state, so it is not part of the read-only
// UI contract spec.md §6 describes.
type AdminHandler struct {
	supervisor *capture.Supervisor
}

func NewAdminHandler(supervisor *capture.Supervisor) *AdminHandler {
	return &AdminHandler{supervisor: supervisor}
}

// Status reports is_running()/is_camera_running(cam_id) for every camera
// this process currently knows is started.
func (h *AdminHandler) Status(c *gin.Context) {
	loops := h.supervisor.Loops()
	cams := make(map[string]bool, len(loops))
	for id := range loops {
		cams[strconv.Itoa(id)] = true
	}
	c.JSON(http.StatusOK, gin.H{"running": h.supervisor.IsRunning(), "cameras": cams})
}

// StartCamera implements is_camera_running(cam_id) == false -> start it.
func (h *AdminHandler) StartCamera(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid camera id"})
		return
	}

	ok, err := h.supervisor.StartCamera(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// StopCamera implements stop_camera(cam_id).
func (h *AdminHandler) StopCamera(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid camera id"})
		return
	}
	if ok := h.supervisor.StopCamera(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "camera not running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
