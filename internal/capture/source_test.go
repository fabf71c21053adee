package capture

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSolidImage(w, h int) image.Image {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func TestParseSourceURL(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantErr bool
		want    ParsedSource
	}{
		{"rtsp url", "rtsp://cam1.local/stream", false, ParsedSource{Kind: SourceRTSP, URL: "rtsp://cam1.local/stream"}},
		{"rtsps url", "rtsps://cam1.local/stream", false, ParsedSource{Kind: SourceRTSP, URL: "rtsps://cam1.local/stream"}},
		{"webcam form", "webcam:2", false, ParsedSource{Kind: SourceDeviceIndex, DeviceIndex: 2}},
		{"bare device index", "0", false, ParsedSource{Kind: SourceDeviceIndex, DeviceIndex: 0}},
		{"whitespace padded", "  1  ", false, ParsedSource{Kind: SourceDeviceIndex, DeviceIndex: 1}},
		{"negative webcam index rejected", "webcam:-1", true, ParsedSource{}},
		{"negative bare index rejected", "-1", true, ParsedSource{}},
		{"garbage rejected", "not-a-source", true, ParsedSource{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseSourceURL(tc.raw)
			if tc.wantErr {
				require.Error(t, err, "expected error for %q", tc.raw)
				return
			}
			require.NoError(t, err, "unexpected error for %q", tc.raw)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBackoffFor(t *testing.T) {
	cases := []struct {
		streak int
		want   time.Duration
	}{
		{0, 0},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, 8 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, backoffFor(tc.streak))
	}
}

func TestFrameBuffer_LatestReflectsLastSet(t *testing.T) {
	var buf FrameBuffer
	img, seq := buf.Latest()
	require.Nil(t, img, "expected empty buffer initially")
	require.Zero(t, seq, "expected empty buffer initially")

	img1 := newSolidImage(4, 4)
	buf.Set(img1)
	got, seq := buf.Latest()
	assert.EqualValues(t, 1, seq)
	assert.Equal(t, img1, got)

	img2 := newSolidImage(4, 4)
	buf.Set(img2)
	got, seq = buf.Latest()
	assert.EqualValues(t, 2, seq)
	assert.Equal(t, img2, got)
}
