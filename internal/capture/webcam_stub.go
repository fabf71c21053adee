//go:build !cgo

package capture

import (
	"context"
	"fmt"
)

// openWebcam is the non-cgo build's stand-in: gocv.VideoCapture needs
// OpenCV's C++ bindings, unavailable without cgo, so local device-index
// sources simply fail to open and runWebcamCapture's backoff loop keeps
// retrying (and logging) rather than silently dropping the camera.
func (c *CameraLoop) openWebcam(ctx context.Context, deviceIndex int) error {
	return fmt.Errorf("device index %d: webcam capture requires a cgo build (gocv.VideoCapture)", deviceIndex)
}
