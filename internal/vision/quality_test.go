package vision

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClamp01(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{-1, 0},
		{0, 0},
		{0.5, 0.5},
		{1, 1},
		{2, 1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, clamp01(tc.in))
	}
}

func TestDivSafe(t *testing.T) {
	assert.Equal(t, 0.0, divSafe(10, 0), "divSafe by zero should return 0")
	assert.Equal(t, 2.0, divSafe(10, 5))
}

func TestScoreCrop_MidBrightnessFlatImageScoresMidBrightnessComponent(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	gray := color.RGBA{R: 128, G: 128, B: 128, A: 255}
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			img.Set(x, y, gray)
		}
	}

	thresholds := QualityThresholds{
		MinBlurVar:      100,
		MinBrightness:   0.3,
		MaxBrightness:   0.8,
		MinFaceAreaFrac: 0.1,
	}

	score := ScoreCrop(img, [4]float32{10, 10, 90, 90}, thresholds)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
	// A flat gray crop has zero Laplacian variance (blur component 0) but
	// brightness 128/255≈0.5 falls inside [0.3,0.8] (bright component 1.0),
	// and the bbox covers 64% of the frame area, well past MinFaceAreaFrac
	// (size component clamps to 1.0). Expect roughly the 0.2*1 + 0.3*1 floor.
	assert.GreaterOrEqual(t, score, 0.4, "expected brightness+size components to dominate a flat image")
}
