package capture

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attendanced/attendanced/internal/models"
	"github.com/attendanced/attendanced/internal/vision"
)

type fakeCameraLister struct {
	cams map[int]models.Camera
}

func (f *fakeCameraLister) ListCameras(ctx context.Context) ([]models.Camera, error) {
	out := make([]models.Camera, 0, len(f.cams))
	for _, c := range f.cams {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeCameraLister) GetCamera(ctx context.Context, id int) (*models.Camera, error) {
	c, ok := f.cams[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func newTestSupervisor() *Supervisor {
	// deliberately unparseable source URLs: runCapture logs and returns
	// immediately instead of spawning a real ffmpeg subprocess, keeping this
	// test free of external process dependencies.
	lister := &fakeCameraLister{cams: map[int]models.Camera{
		1: {ID: 1, Name: "lobby", SourceURL: "not-a-real-source"},
		2: {ID: 2, Name: "dock", SourceURL: "not-a-real-source"},
	}}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	newLoop := func(cam models.Camera) *CameraLoop {
		return NewCameraLoop(cam, log, nil, nil, nil, vision.QualityThresholds{}, 1, 1, 0.4, 0.5)
	}
	return NewSupervisor(lister, log, newLoop)
}

func TestSupervisor_StartWithNoIDsStartsEveryCamera(t *testing.T) {
	sup := newTestSupervisor()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, sup.Start(ctx, nil))
	require.True(t, sup.IsRunning(), "expected supervisor running after Start")
	assert.True(t, sup.IsCameraRunning(1) && sup.IsCameraRunning(2), "expected both cameras running")
	sup.Stop()
}

func TestSupervisor_StartWithIDsStartsOnlyThoseCameras(t *testing.T) {
	sup := newTestSupervisor()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, sup.Start(ctx, []int{1}))
	assert.True(t, sup.IsCameraRunning(1), "expected camera 1 running")
	assert.False(t, sup.IsCameraRunning(2), "expected camera 2 not running")
	sup.Stop()
}

func TestSupervisor_StopCameraStopsOnlyThatCamera(t *testing.T) {
	sup := newTestSupervisor()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, sup.Start(ctx, nil))

	require.True(t, sup.StopCamera(1), "expected StopCamera(1) to report it was running")
	assert.False(t, sup.IsCameraRunning(1), "expected camera 1 stopped")
	assert.True(t, sup.IsCameraRunning(2), "expected camera 2 still running")
	assert.False(t, sup.StopCamera(99), "expected StopCamera on an unknown id to report false")
	sup.Stop()
}

func TestSupervisor_StartCameraByIDLooksUpUnknownCamera(t *testing.T) {
	sup := newTestSupervisor()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ok, err := sup.StartCamera(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok, "expected StartCamera to find and start camera 2")
	assert.True(t, sup.IsCameraRunning(2), "expected camera 2 running")

	ok, err = sup.StartCamera(ctx, 404)
	require.NoError(t, err)
	assert.False(t, ok, "expected StartCamera on an unknown camera id to report false")
	sup.Stop()
}

func TestSupervisor_LoopsReturnsIndependentSnapshot(t *testing.T) {
	sup := newTestSupervisor()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sup.Start(ctx, nil))

	snap := sup.Loops()
	require.Len(t, snap, 2, "expected 2 loops in snapshot")
	delete(snap, 1)
	assert.True(t, sup.IsCameraRunning(1), "mutating the returned snapshot must not affect the Supervisor's own state")
	sup.Stop()

	// allow the cancelled capture goroutines to observe ctx.Done before the
	// test process moves on; runCapture exits immediately on a parse error
	// anyway, this is just to avoid a racy leak warning under -race.
	time.Sleep(10 * time.Millisecond)
}
