package vision

import (
	"fmt"
	"sync"
	"time"
)

// Track is C6's per-track state: a short-lived identity associating
// successive detections of the same face across frames within one camera.
// Directly grounded on the reference stack's Tracker.Update (greedy best-IoU
// matching with a hardcoded 0.3 threshold), generalized per spec.md §4.6
// with a bounded vote deque replacing the single LastRecognized/PersonID
// fields, translated from original_source/module_AI.py's nested Track class
// (a Python deque(maxlen=8) of per-frame identity votes).
type Track struct {
	ID              string
	BBox            [4]float32
	Confidence      float32
	Hits            int
	Misses          int
	votes           []int // bounded ring, capacity = TrackerConfig.SmoothingWindow
	voteCap         int
	FinalEmployeeID *int
	FinalSince      *time.Time
	LastTS          time.Time
}

func (t *Track) pushVote(employeeID int) {
	t.votes = append(t.votes, employeeID)
	if len(t.votes) > t.voteCap {
		t.votes = t.votes[len(t.votes)-t.voteCap:]
	}
}

// plurality returns the most common vote in the deque and its count, tied
// votes broken by lowest employee id so the result is deterministic.
func (t *Track) plurality() (int, int) {
	counts := map[int]int{}
	for _, v := range t.votes {
		counts[v]++
	}
	bestID, bestCount := 0, 0
	for id, c := range counts {
		if c > bestCount || (c == bestCount && id < bestID) {
			bestID, bestCount = id, c
		}
	}
	return bestID, bestCount
}

func iou(a, b [4]float32) float32 {
	x1 := maxF(a[0], b[0])
	y1 := maxF(a[1], b[1])
	x2 := minF(a[2], b[2])
	y2 := minF(a[3], b[3])

	inter := maxF(0, x2-x1) * maxF(0, y2-y1)
	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - inter + 1e-6
	if union <= 0 {
		return 0
	}
	return inter / union
}

func maxF(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

// TrackerConfig is C6's tunable parameters, sourced from
// config.TrackingConfig / config/parameter_config.json.
type TrackerConfig struct {
	IoUMatchThreshold float32
	MaxTrackMisses    int
	SmoothingWindow   int
	SmoothingMinVotes int
}

// ScoredDetection is what C5's inference loop hands to the tracker per
// spec.md §4.5: a raw detection plus the candidate identity (if any) C2/C3
// already resolved for this frame.
type ScoredDetection struct {
	BBox         [4]float32
	Confidence   float32
	CandidateID  *int
	Similarity   float64
	QualityScore float64
}

// SeenSignal is emitted the moment a track's plurality vote first reaches
// smoothing_min_votes, or is reconfirmed on a later frame — the single point
// where C6 hands off to C7. This replaces the original pipeline's direct
// in-pipeline database write with an explicit typed channel per the Design
// Notes' C6->C7 boundary.
type SeenSignal struct {
	EmployeeID int
	CameraID   int
	TrackID    string
	Timestamp  time.Time
	Similarity float64
}

// Tracker is C6: a minimalist short-lived multi-object tracker, one instance
// per camera. Tracks are owned exclusively by the camera's inference
// goroutine; the mutex exists only to let the read-only annotate/state path
// take a safe snapshot concurrently.
type Tracker struct {
	mu       sync.Mutex
	tracks   map[string]*Track
	nextID   int
	cameraID int
	cfg      TrackerConfig
	seenCh   chan<- SeenSignal
}

func NewTracker(cameraID int, cfg TrackerConfig, seenCh chan<- SeenSignal) *Tracker {
	return &Tracker{
		tracks:   make(map[string]*Track),
		cameraID: cameraID,
		cfg:      cfg,
		seenCh:   seenCh,
	}
}

// Update associates this frame's detections with existing tracks by greedy
// best-IoU matching, starts new tracks for unmatched detections, evicts
// tracks stale past max_track_misses, and pushes any resolved identity onto
// the matched track's vote deque. now is the frame's wall-clock timestamp,
// injected rather than read via time.Now() so presence/tracking tests stay
// deterministic.
func (tr *Tracker) Update(dets []ScoredDetection, now time.Time) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	unmatched := make(map[int]bool, len(dets))
	for i := range dets {
		unmatched[i] = true
	}

	type assignment struct {
		trackID string
		detIdx  int
	}
	var assignments []assignment

	for id, t := range tr.tracks {
		bestIoU := float32(0)
		bestIdx := -1
		for j := range dets {
			if !unmatched[j] {
				continue
			}
			if v := iou(t.BBox, dets[j].BBox); v > bestIoU {
				bestIoU = v
				bestIdx = j
			}
		}
		if bestIdx >= 0 && bestIoU >= tr.cfg.IoUMatchThreshold {
			assignments = append(assignments, assignment{id, bestIdx})
			delete(unmatched, bestIdx)
		} else {
			t.Misses++
		}
	}

	for _, a := range assignments {
		t := tr.tracks[a.trackID]
		d := dets[a.detIdx]
		t.BBox = d.BBox
		t.Confidence = d.Confidence
		t.LastTS = now
		t.Hits++
		t.Misses = 0

		if d.CandidateID != nil {
			t.pushVote(*d.CandidateID)
			winner, count := t.plurality()
			if count >= tr.cfg.SmoothingMinVotes {
				changed := t.FinalEmployeeID == nil || *t.FinalEmployeeID != winner
				t.FinalEmployeeID = &winner
				if changed {
					since := now
					t.FinalSince = &since
				}
				tr.emitSeen(winner, t.ID, now, d.Similarity)
			}
		}
	}

	for j := range unmatched {
		d := dets[j]
		tr.nextID++
		id := fmt.Sprintf("%d_%d", tr.cameraID, tr.nextID)
		t := &Track{ID: id, BBox: d.BBox, Confidence: d.Confidence, LastTS: now, Hits: 1, voteCap: tr.cfg.SmoothingWindow}
		if d.CandidateID != nil {
			t.pushVote(*d.CandidateID)
		}
		tr.tracks[id] = t
	}

	for id, t := range tr.tracks {
		if t.Misses > tr.cfg.MaxTrackMisses {
			delete(tr.tracks, id)
		}
	}
}

func (tr *Tracker) emitSeen(employeeID int, trackID string, ts time.Time, sim float64) {
	if tr.seenCh == nil {
		return
	}
	select {
	case tr.seenCh <- SeenSignal{EmployeeID: employeeID, CameraID: tr.cameraID, TrackID: trackID, Timestamp: ts, Similarity: sim}:
	default:
		// C7 is the sole consumer and must never stall a camera's inference
		// loop; a full channel means presence processing is behind, so the
		// signal is dropped rather than blocking detection.
	}
}

// Snapshot returns a shallow copy of all current tracks, used by the
// read-only annotate_frame path and by get_state debugging views.
func (tr *Tracker) Snapshot() []Track {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]Track, 0, len(tr.tracks))
	for _, t := range tr.tracks {
		out = append(out, *t)
	}
	return out
}

// TrackCount returns the number of active tracks, used by observability.
func (tr *Tracker) TrackCount() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.tracks)
}
