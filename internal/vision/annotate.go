package vision

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Box is the minimal per-face payload annotate_frame needs to draw: a
// bounding box plus the recognized label, if any.
type Box struct {
	BBox      [4]float32
	Label     string
	Recognized bool
}

// Annotate draws a box per detection (green + "ID <id> - <name>" when
// recognized, red + "Unknown" otherwise) on top of frame, per spec.md §6's
// annotate_frame(frame, camera_id). gocv is reused here for the same reason
// quality.go reuses it for Laplacian blur: no other example-pack library
// draws onto an image.Image, and reimplementing line/text rasterization by
// hand would duplicate gocv's Rectangle/PutText.
func Annotate(frame image.Image, boxes []Box) image.Image {
	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return frame
	}
	defer mat.Close()

	for _, b := range boxes {
		clr := color.RGBA{R: 255, G: 0, B: 0, A: 255}
		label := "Unknown"
		if b.Recognized {
			clr = color.RGBA{R: 0, G: 200, B: 0, A: 255}
			label = b.Label
		}
		rect := image.Rect(int(b.BBox[0]), int(b.BBox[1]), int(b.BBox[2]), int(b.BBox[3]))
		gocv.Rectangle(&mat, rect, clr, 2)
		gocv.PutText(&mat, label, image.Pt(rect.Min.X, rect.Min.Y-8), gocv.FontHersheyPlain, 1.2, clr, 2)
	}

	out, err := mat.ToImage()
	if err != nil {
		return frame
	}
	return out
}
