package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/attendanced/attendanced/internal/capture"
	"github.com/attendanced/attendanced/internal/config"
	"github.com/attendanced/attendanced/internal/vision"
)

type CameraHandler struct {
	loops       map[int]*capture.CameraLoop
	tracker     map[int]*vision.Tracker
	store       *vision.Store
	streamPrefs config.VisionConfig
}

func NewCameraHandler(loops map[int]*capture.CameraLoop, tracker map[int]*vision.Tracker, store *vision.Store,
	prefs config.VisionConfig) *CameraHandler {
	return &CameraHandler{loops: loops, tracker: tracker, store: store, streamPrefs: prefs}
}

// Snapshot implements spec.md §6's get_latest_frame + annotate_frame,
// returning the camera's current annotated frame as a JPEG per the
// "REST payloads ... JSON/images to the UI collaborator" contract.
func (h *CameraHandler) Snapshot(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid camera id"})
		return
	}

	loop, ok := h.loops[id]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
		return
	}

	frame, _ := loop.LatestFrame()
	if frame == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame available yet"})
		return
	}

	var boxes []vision.Box
	if tr, ok := h.tracker[id]; ok {
		for _, t := range tr.Snapshot() {
			box := vision.Box{BBox: t.BBox}
			if t.FinalEmployeeID != nil {
				box.Recognized = true
				if meta, ok := h.store.Meta(*t.FinalEmployeeID); ok {
					box.Label = "ID " + strconv.Itoa(*t.FinalEmployeeID) + " - " + meta.Name
				} else {
					box.Label = "ID " + strconv.Itoa(*t.FinalEmployeeID)
				}
			}
			boxes = append(boxes, box)
		}
	}

	annotated := vision.Annotate(frame, boxes)
	jpegData := vision.EncodeJPEG(annotated, h.streamPrefs.JPEGQuality)

	c.Data(http.StatusOK, "image/jpeg", jpegData)
}

// StreamPrefs implements spec.md §6's get_stream_preferences().
func (h *CameraHandler) StreamPrefs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"max_width":         h.streamPrefs.StreamMaxWidth,
		"jpeg_quality":       h.streamPrefs.JPEGQuality,
		"annotation_stride": h.streamPrefs.AnnotationStride,
		"target_fps":        h.streamPrefs.FPSTarget,
	})
}
