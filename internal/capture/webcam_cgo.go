//go:build cgo

package capture

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"time"

	"gocv.io/x/gocv"
)

// openWebcam streams frames from a local device index until ctx is
// cancelled or a read fails; a failed read returns an error so
// runWebcamCapture's retry loop reopens the device after its usual backoff,
// the same restart-on-failure shape runCapture uses for the ffmpeg subprocess.
func (c *CameraLoop) openWebcam(ctx context.Context, deviceIndex int) error {
	capture, err := gocv.OpenVideoCapture(deviceIndex)
	if err != nil {
		return fmt.Errorf("open webcam device %d: %w", deviceIndex, err)
	}
	defer capture.Close()

	mat := gocv.NewMat()
	defer mat.Close()

	fps := c.fps
	if fps <= 0 {
		fps = 10
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if ok := capture.Read(&mat); !ok || mat.Empty() {
			return fmt.Errorf("webcam device %d: read failed", deviceIndex)
		}

		encoded, err := gocv.IMEncode(".jpg", mat)
		if err != nil {
			continue
		}
		img, decErr := jpeg.Decode(bytes.NewReader(encoded.GetBytes()))
		encoded.Close()
		if decErr != nil {
			continue
		}
		c.buf.Set(img)
	}
}
