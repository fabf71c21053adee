package vision

import (
	"image"

	"gocv.io/x/gocv"
)

// QualityThresholds configures the Quality Scorer (C3); values default from
// config.VisionConfig so the formula's thresholds are operator-tunable via
// config/parameter_config.json.
type QualityThresholds struct {
	MinBlurVar      float64
	MinBrightness   float64
	MaxBrightness   float64
	MinFaceAreaFrac float64
}

// ScoreCrop computes spec.md §4.3's quality score for a detection crop,
// grounded byte-for-byte on original_source/module_AI.py's _compute_quality:
// blur_var is the variance of a Laplacian of the grayscale crop, brightness
// is mean-gray/255, area_frac is bbox-area/frame-area. gocv is used for the
// Laplacian because no other library in the example pack computes a blur
// metric; reimplementing a Laplacian convolution over image.Image by hand
// would duplicate what gocv.io/x/gocv already does reliably.
func ScoreCrop(frame image.Image, bbox [4]float32, t QualityThresholds) float64 {
	blurVar, brightness := blurAndBrightness(frame, bbox)

	frameBounds := frame.Bounds()
	frameArea := float64(frameBounds.Dx() * frameBounds.Dy())
	bboxArea := float64(bbox[2]-bbox[0]) * float64(bbox[3]-bbox[1])
	areaFrac := 0.0
	if frameArea > 0 {
		areaFrac = bboxArea / frameArea
	}

	blur := clamp01(divSafe(blurVar, t.MinBlurVar))
	bright := 0.0
	if brightness >= t.MinBrightness && brightness <= t.MaxBrightness {
		bright = 1.0
	}
	size := clamp01(divSafe(areaFrac, t.MinFaceAreaFrac))

	return 0.5*blur + 0.2*bright + 0.3*size
}

func blurAndBrightness(frame image.Image, bbox [4]float32) (blurVar, brightness float64) {
	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil || mat.Empty() {
		return 0, 0
	}
	defer mat.Close()

	bounds := frame.Bounds()
	x1, y1, x2, y2 := clampRect(int(bbox[0]), int(bbox[1]), int(bbox[2]), int(bbox[3]), bounds)
	if x2 <= x1 || y2 <= y1 {
		return 0, 0
	}

	region := mat.Region(image.Rect(x1, y1, x2, y2))
	defer region.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(region, &gray, gocv.ColorBGRToGray)

	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	mean, stdDev := gocv.NewMat(), gocv.NewMat()
	defer mean.Close()
	defer stdDev.Close()
	gocv.MeanStdDev(lap, &mean, &stdDev)
	sigma := stdDev.GetDoubleAt(0, 0)
	blurVar = sigma * sigma

	grayMean := gray.Mean()
	brightness = grayMean.Val1 / 255.0

	return blurVar, brightness
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func divSafe(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
