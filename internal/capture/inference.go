package capture

import (
	"context"
	"strconv"
	"time"

	"github.com/attendanced/attendanced/internal/vision"
)

// runInference is C5: polls the latest-frame buffer at fps, processes only
// every annotate_stride-th frame, and runs C1 -> C3 -> (C2 if quality
// passes) -> C6 on it. Grounded on the original's _run_inference/
// _process_frame pair (frame-index-modulo gate + quality/similarity
// short-circuit), translated 1:1 into a Go ticker loop.
func (c *CameraLoop) runInference(ctx context.Context) {
	if c.fps <= 0 {
		c.fps = 10
	}
	ticker := time.NewTicker(time.Second / time.Duration(c.fps))
	defer ticker.Stop()

	var lastSeq uint64
	frameIdx := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, seq := c.buf.Latest()
		if frame == nil || seq == lastSeq {
			continue
		}
		lastSeq = seq

		frameIdx++
		if c.annotateStride > 0 && frameIdx%c.annotateStride != 0 {
			continue
		}

		dets, err := c.engine.Detect(frame)
		if err != nil || len(dets) == 0 {
			continue
		}

		scored := make([]vision.ScoredDetection, 0, len(dets))
		for _, d := range dets {
			sd := vision.ScoredDetection{BBox: d.BBox, Confidence: d.Confidence}
			sd.QualityScore = vision.ScoreCrop(frame, d.BBox, c.quality)

			if sd.QualityScore >= c.minQualityScore {
				crop := vision.CropFace(frame, d.BBox)
				if crop != nil {
					if emb, embErr := c.engine.Embed(crop); embErr == nil && emb != nil {
						if empID, sim, found := c.store.BestMatch(emb); found && sim >= c.embeddingSimilarityThreshold {
							id := empID
							sd.CandidateID = &id
							sd.Similarity = sim
						}
					}
				}
			}

			scored = append(scored, sd)
		}

		c.tracker.Update(scored, time.Now())
	}
}

func camIDLabel(id int) string {
	return strconv.Itoa(id)
}
