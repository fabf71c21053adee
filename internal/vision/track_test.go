package vision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestTracker_EmitsSeenOnceSmoothingMinVotesReached(t *testing.T) {
	seenCh := make(chan SeenSignal, 8)
	cfg := TrackerConfig{IoUMatchThreshold: 0.3, MaxTrackMisses: 2, SmoothingWindow: 5, SmoothingMinVotes: 3}
	tr := NewTracker(1, cfg, seenCh)

	bbox := [4]float32{10, 10, 50, 50}
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		tr.Update([]ScoredDetection{{BBox: bbox, Confidence: 0.9, CandidateID: intPtr(42), Similarity: 0.8}}, now)
		select {
		case <-seenCh:
			t.Fatalf("expected no SeenSignal before smoothing_min_votes reached (iteration %d)", i)
		default:
		}
		now = now.Add(200 * time.Millisecond)
	}

	tr.Update([]ScoredDetection{{BBox: bbox, Confidence: 0.9, CandidateID: intPtr(42), Similarity: 0.8}}, now)
	select {
	case sig := <-seenCh:
		assert.Equal(t, 42, sig.EmployeeID)
		assert.Equal(t, 1, sig.CameraID)
	default:
		t.Fatal("expected a SeenSignal once votes reached smoothing_min_votes")
	}
}

func TestTracker_MatchesSameTrackByIoUAcrossFrames(t *testing.T) {
	seenCh := make(chan SeenSignal, 8)
	cfg := TrackerConfig{IoUMatchThreshold: 0.3, MaxTrackMisses: 2, SmoothingWindow: 5, SmoothingMinVotes: 1}
	tr := NewTracker(1, cfg, seenCh)

	now := time.Now()
	tr.Update([]ScoredDetection{{BBox: [4]float32{10, 10, 50, 50}, CandidateID: intPtr(1)}}, now)
	require.Equal(t, 1, tr.TrackCount(), "expected 1 track after first frame")

	// slightly shifted bbox, should match the same track (high IoU)
	now = now.Add(100 * time.Millisecond)
	tr.Update([]ScoredDetection{{BBox: [4]float32{12, 11, 52, 51}, CandidateID: intPtr(1)}}, now)
	assert.Equal(t, 1, tr.TrackCount(), "expected still 1 track after matching update")
}

func TestTracker_MatchesWhenIoUExactlyEqualsThreshold(t *testing.T) {
	seenCh := make(chan SeenSignal, 8)
	// identical bboxes across frames give IoU == 1.0 exactly; setting the
	// threshold to 1.0 means only an inclusive ">=" comparison accepts the
	// match.
	cfg := TrackerConfig{IoUMatchThreshold: 1.0, MaxTrackMisses: 2, SmoothingWindow: 5, SmoothingMinVotes: 1}
	tr := NewTracker(1, cfg, seenCh)

	bbox := [4]float32{10, 10, 50, 50}
	now := time.Now()
	tr.Update([]ScoredDetection{{BBox: bbox, CandidateID: intPtr(1)}}, now)
	require.Equal(t, 1, tr.TrackCount(), "expected 1 track after first frame")

	now = now.Add(100 * time.Millisecond)
	tr.Update([]ScoredDetection{{BBox: bbox, CandidateID: intPtr(1)}}, now)
	assert.Equal(t, 1, tr.TrackCount(), "expected the exact-threshold IoU match to reuse the existing track (inclusive >=)")
}

func TestTracker_UnmatchedDetectionStartsNewTrack(t *testing.T) {
	seenCh := make(chan SeenSignal, 8)
	cfg := TrackerConfig{IoUMatchThreshold: 0.3, MaxTrackMisses: 2, SmoothingWindow: 5, SmoothingMinVotes: 1}
	tr := NewTracker(1, cfg, seenCh)

	now := time.Now()
	tr.Update([]ScoredDetection{{BBox: [4]float32{10, 10, 50, 50}, CandidateID: intPtr(1)}}, now)

	// far-away bbox: no IoU overlap, must start a second track
	now = now.Add(100 * time.Millisecond)
	tr.Update([]ScoredDetection{{BBox: [4]float32{500, 500, 540, 540}, CandidateID: intPtr(2)}}, now)

	assert.Equal(t, 2, tr.TrackCount(), "expected 2 tracks after disjoint detection")
}

func TestTracker_EvictsTrackAfterMaxMisses(t *testing.T) {
	seenCh := make(chan SeenSignal, 8)
	cfg := TrackerConfig{IoUMatchThreshold: 0.3, MaxTrackMisses: 1, SmoothingWindow: 5, SmoothingMinVotes: 1}
	tr := NewTracker(1, cfg, seenCh)

	now := time.Now()
	tr.Update([]ScoredDetection{{BBox: [4]float32{10, 10, 50, 50}, CandidateID: intPtr(1)}}, now)

	// two consecutive empty frames: track should miss twice and be evicted
	// (max_track_misses = 1)
	now = now.Add(100 * time.Millisecond)
	tr.Update(nil, now)
	now = now.Add(100 * time.Millisecond)
	tr.Update(nil, now)

	assert.Equal(t, 0, tr.TrackCount(), "expected track evicted after exceeding max_track_misses")
}

func TestTrack_PluralityBreaksTiesByLowestID(t *testing.T) {
	tr := &Track{voteCap: 4}
	tr.pushVote(5)
	tr.pushVote(3)

	id, count := tr.plurality()
	assert.Equal(t, 3, id, "expected tie broken toward lowest id")
	assert.Equal(t, 1, count)
}

func TestTrack_PluralityRespectsVoteCapacity(t *testing.T) {
	tr := &Track{voteCap: 2}
	tr.pushVote(1)
	tr.pushVote(1)
	tr.pushVote(2)
	tr.pushVote(2)

	// capacity 2 means only the last two votes (2, 2) survive
	id, count := tr.plurality()
	assert.Equal(t, 2, id)
	assert.Equal(t, 2, count)
}

func TestIoU(t *testing.T) {
	a := [4]float32{0, 0, 10, 10}
	b := [4]float32{0, 0, 10, 10}
	assert.GreaterOrEqual(t, iou(a, b), float32(0.99), "expected identical boxes to have IoU ~1")

	c := [4]float32{100, 100, 110, 110}
	assert.Equal(t, float32(0), iou(a, c), "expected disjoint boxes to have IoU 0")
}
