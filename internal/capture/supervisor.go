package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/attendanced/attendanced/internal/models"
)

// CameraLister is the one storage query Supervisor needs to resolve camera
// rows by id, narrowed to an interface so it can be exercised against a fake
// in tests without a live Postgres connection.
type CameraLister interface {
	ListCameras(ctx context.Context) ([]models.Camera, error)
	GetCamera(ctx context.Context, id int) (*models.Camera, error)
}

// Supervisor is the administrative start/stop surface for per-camera
// capture+inference loops: the original exposes start(cam_ids)/stop()/
// is_running()/is_camera_running(cam_id)/stop_camera(cam_id) on its manager
// so an operator can start or stop tracking for one camera without
// restarting the process. It does not participate in the read-only UI
// contract (spec.md §6) since it mutates runtime state rather than reading
// it.
type Supervisor struct {
	mu      sync.Mutex
	db      CameraLister
	log     *slog.Logger
	newLoop func(cam models.Camera) *CameraLoop
	loops   map[int]*CameraLoop
	ctx     context.Context
}

// NewSupervisor wires a Supervisor. newLoop constructs a fully-formed,
// not-yet-started CameraLoop for one camera row; the composition root
// supplies it as a closure over the shared vision engine/store/tracker set.
func NewSupervisor(db CameraLister, log *slog.Logger, newLoop func(models.Camera) *CameraLoop) *Supervisor {
	return &Supervisor{
		db:      db,
		log:     log.With("component", "capture.supervisor"),
		newLoop: newLoop,
		loops:   make(map[int]*CameraLoop),
	}
}

// Start launches capture+inference for the given camera ids, or for every
// camera row in storage when camIDs is empty. Cameras already running are
// left untouched. The passed ctx is retained so a later StartCamera/Start
// call can launch additional loops under the same cancellation scope.
func (s *Supervisor) Start(ctx context.Context, camIDs []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx

	cams, err := s.resolveCameras(ctx, camIDs)
	if err != nil {
		return err
	}
	for _, cam := range cams {
		s.startLocked(ctx, cam)
	}
	return nil
}

// StartCamera starts a single camera by id, looking up its row if it is not
// already known. Returns false if no camera with that id exists.
func (s *Supervisor) StartCamera(ctx context.Context, camID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx

	if _, ok := s.loops[camID]; ok {
		return true, nil
	}
	cam, err := s.db.GetCamera(ctx, camID)
	if err != nil {
		return false, fmt.Errorf("get camera %d: %w", camID, err)
	}
	if cam == nil {
		return false, nil
	}
	s.startLocked(ctx, *cam)
	return true, nil
}

func (s *Supervisor) startLocked(ctx context.Context, cam models.Camera) {
	if _, ok := s.loops[cam.ID]; ok {
		return
	}
	loop := s.newLoop(cam)
	loop.Start(ctx)
	s.loops[cam.ID] = loop
	s.log.Info("camera loop started", "camera_id", cam.ID)
}

func (s *Supervisor) resolveCameras(ctx context.Context, camIDs []int) ([]models.Camera, error) {
	all, err := s.db.ListCameras(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	if len(camIDs) == 0 {
		return all, nil
	}
	want := make(map[int]bool, len(camIDs))
	for _, id := range camIDs {
		want[id] = true
	}
	filtered := make([]models.Camera, 0, len(camIDs))
	for _, cam := range all {
		if want[cam.ID] {
			filtered = append(filtered, cam)
		}
	}
	return filtered, nil
}

// Stop cancels every running camera loop and forgets them. A later Start
// call is required to bring any camera back.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, loop := range s.loops {
		loop.Stop()
		delete(s.loops, id)
	}
}

// StopCamera cancels one camera's loop. Returns false if that camera was
// not running.
func (s *Supervisor) StopCamera(camID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	loop, ok := s.loops[camID]
	if !ok {
		return false
	}
	loop.Stop()
	delete(s.loops, camID)
	return true
}

// IsRunning reports whether any camera loop is currently running.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loops) > 0
}

// IsCameraRunning reports whether the given camera's loop is running.
func (s *Supervisor) IsCameraRunning(camID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loops[camID]
	return ok
}

// Loops returns a snapshot copy of the currently-running camera loops,
// keyed by camera id, for callers that need read access (snapshot writer,
// evidence writer, the UI router) without taking Supervisor's lock.
func (s *Supervisor) Loops() map[int]*CameraLoop {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]*CameraLoop, len(s.loops))
	for id, loop := range s.loops {
		out[id] = loop
	}
	return out
}
