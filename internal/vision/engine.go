package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"path/filepath"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/attendanced/attendanced/internal/config"
)

// Backend names the execution provider a Face Engine ended up running on.
// Treated as opaque by every caller (spec.md §4.1: "Backend identity and
// detection size are treated as opaque by all other components").
type Backend string

const (
	BackendCoreML Backend = "coreml"
	BackendCUDA   Backend = "cuda"
	BackendCPU    Backend = "cpu"
	BackendEmpty  Backend = "empty"
)

// FaceEngine is C1: it detects faces and extracts L2-normalized embeddings.
// Initialization probes a preference tier (hardware-accelerated -> GPU ->
// CPU), performs a warmup run on a zero-filled frame, and degrades silently
// to an "empty" backend on repeated failure rather than returning an error
// to the caller's detect path — grounded on the reference stack's per-model
// ort.SessionOptions construction in its vision pipeline, generalized here
// into a retrying, tiered provider probe.
type FaceEngine struct {
	detector *Detector
	embedder *Embedder
	backend  Backend
	log      *slog.Logger
}

// providerTier is one entry in the backend preference list: a human label
// and a function that augments session options for that provider. A nil
// appendFn means "plain CPU, no special execution provider".
type providerTier struct {
	backend Backend
	appendFn func(*ort.SessionOptions) error
}

func tiers() []providerTier {
	return []providerTier{
		{BackendCoreML, func(o *ort.SessionOptions) error { return o.AppendExecutionProviderCoreML(0) }},
		{BackendCUDA, func(o *ort.SessionOptions) error { return o.AppendExecutionProviderCUDA() }},
		{BackendCPU, nil},
	}
}

// NewFaceEngine loads the detection and embedding ONNX models, probing each
// provider tier in turn. On total failure across every tier it returns an
// engine with backend=BackendEmpty whose Detect always returns (nil, nil);
// this matches spec.md §7's "on total failure the engine is empty ... the
// system stays up" policy — the constructor returns no error at all; an
// unreadable models directory also ends in the empty engine.
func NewFaceEngine(log *slog.Logger, cfg config.VisionConfig) *FaceEngine {
	detPath := filepath.Join(cfg.ModelsDir, "det_10g.onnx")
	embPath := filepath.Join(cfg.ModelsDir, "w600k_r50.onnx")

	for _, tier := range tiers() {
		det, emb, err := loadModels(detPath, embPath, float32(cfg.EmbeddingSimilarityThreshold), tier)
		if err != nil {
			log.Warn("face engine backend unavailable", "backend", tier.backend, "error", err)
			continue
		}
		log.Info("face engine ready", "backend", tier.backend)
		engine := &FaceEngine{detector: det, embedder: emb, backend: tier.backend, log: log}
		engine.warmup()
		return engine
	}

	log.Error("face engine: all backends failed to initialize, detection disabled")
	return &FaceEngine{backend: BackendEmpty, log: log}
}

func loadModels(detPath, embPath string, threshold float32, tier providerTier) (*Detector, *Embedder, error) {
	detOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, nil, fmt.Errorf("session options: %w", err)
	}
	defer detOpts.Destroy()
	if tier.appendFn != nil {
		if err := tier.appendFn(detOpts); err != nil {
			return nil, nil, fmt.Errorf("append execution provider: %w", err)
		}
	}

	det, err := NewDetector(detPath, threshold, detOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("load detector: %w", err)
	}

	emb, err := NewEmbedder(embPath)
	if err != nil {
		det.Close()
		return nil, nil, fmt.Errorf("load embedder: %w", err)
	}

	return det, emb, nil
}

// warmup runs one detection pass on a zero-filled frame so the first real
// frame doesn't pay ONNX Runtime's lazy initialization cost.
func (e *FaceEngine) warmup() {
	if e.detector == nil {
		return
	}
	w, h := e.detector.InputSize()
	blank := make([]float32, 3*w*h)
	if _, err := e.detector.Detect(blank, w, h); err != nil {
		e.log.Warn("face engine warmup failed", "error", err)
	}
}

func (e *FaceEngine) Backend() Backend {
	return e.backend
}

func (e *FaceEngine) DetectionSize() (int, int) {
	if e.detector == nil {
		return 0, 0
	}
	return e.detector.InputSize()
}

// Detect runs face detection on a decoded frame. Returns an empty slice,
// never an error, when the engine has degraded to BackendEmpty.
func (e *FaceEngine) Detect(img image.Image) ([]Detection, error) {
	if e.detector == nil {
		return nil, nil
	}
	bounds := img.Bounds()
	w, h := e.detector.InputSize()
	data := preprocessForDetection(img, w, h)
	return e.detector.Detect(data, bounds.Dx(), bounds.Dy())
}

// Embed extracts an L2-normalized embedding for a cropped face image.
// Returns (nil, nil) — not an error — when the engine is degraded, matching
// spec.md §7's "Identification miss ... returned as none, not an error".
func (e *FaceEngine) Embed(face image.Image) ([]float32, error) {
	if e.embedder == nil {
		return nil, nil
	}
	w, h := e.embedder.InputSize()
	data := preprocessForEmbedding(face, w, h)
	return e.embedder.Extract(data)
}

func (e *FaceEngine) Close() {
	if e.detector != nil {
		e.detector.Close()
	}
	if e.embedder != nil {
		e.embedder.Close()
	}
}

// --- Image preprocessing helpers, generalized from the reference vision
// pipeline's per-model normalization constants. ---

func preprocessForDetection(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{128.0, 128.0, 128.0})
}

func preprocessForEmbedding(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})
}

// imageToFloat32CHW resizes img to targetW×targetH and converts to CHW
// float32 in one pass, normalising as pixel = (pixel - mean) / std. Direct
// pixel access on the common concrete types avoids image.Image interface
// overhead in the hot per-frame path.
func imageToFloat32CHW(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	data := make([]float32, 3*targetH*targetW)
	planeSize := targetH * targetW

	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()
	minX := bounds.Min.X
	minY := bounds.Min.Y

	switch src := img.(type) {
	case *image.RGBA:
		for y := 0; y < targetH; y++ {
			srcY := minY + y*srcH/targetH
			for x := 0; x < targetW; x++ {
				srcX := minX + x*srcW/targetW
				off := src.PixOffset(srcX, srcY)
				pix := src.Pix[off : off+3 : off+3]
				idx := y*targetW + x
				data[idx] = (float32(pix[0]) - mean[0]) / std[0]
				data[planeSize+idx] = (float32(pix[1]) - mean[1]) / std[1]
				data[2*planeSize+idx] = (float32(pix[2]) - mean[2]) / std[2]
			}
		}
	case *image.YCbCr:
		for y := 0; y < targetH; y++ {
			srcY := minY + y*srcH/targetH
			for x := 0; x < targetW; x++ {
				srcX := minX + x*srcW/targetW
				yi := src.YOffset(srcX, srcY)
				ci := src.COffset(srcX, srcY)
				r8, g8, b8 := color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci])
				idx := y*targetW + x
				data[idx] = (float32(r8) - mean[0]) / std[0]
				data[planeSize+idx] = (float32(g8) - mean[1]) / std[1]
				data[2*planeSize+idx] = (float32(b8) - mean[2]) / std[2]
			}
		}
	default:
		for y := 0; y < targetH; y++ {
			srcY := minY + y*srcH/targetH
			for x := 0; x < targetW; x++ {
				srcX := minX + x*srcW/targetW
				r, g, b, _ := img.At(srcX, srcY).RGBA()
				idx := y*targetW + x
				data[idx] = (float32(r>>8) - mean[0]) / std[0]
				data[planeSize+idx] = (float32(g>>8) - mean[1]) / std[1]
				data[2*planeSize+idx] = (float32(b>>8) - mean[2]) / std[2]
			}
		}
	}

	return data
}

// CropFace extracts a face region from img given a pixel bbox, padding 10%
// on each side and clamping to image bounds; zero-copy via SubImage when the
// concrete type supports it.
func CropFace(img image.Image, bbox [4]float32) image.Image {
	bounds := img.Bounds()

	x1, y1, x2, y2 := int(bbox[0]), int(bbox[1]), int(bbox[2]), int(bbox[3])
	x1, y1, x2, y2 = clampRect(x1, y1, x2, y2, bounds)

	w, h := x2-x1, y2-y1
	if w <= 0 || h <= 0 {
		return nil
	}

	padW, padH := int(float32(w)*0.1), int(float32(h)*0.1)
	x1, y1, x2, y2 = clampRect(x1-padW, y1-padH, x2+padW, y2+padH, bounds)

	rect := image.Rect(x1, y1, x2, y2)

	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(rect)
	}

	crop := image.NewRGBA(image.Rect(0, 0, x2-x1, y2-y1))
	for cy := y1; cy < y2; cy++ {
		for cx := x1; cx < x2; cx++ {
			crop.Set(cx-x1, cy-y1, img.At(cx, cy))
		}
	}
	return crop
}

func clampRect(x1, y1, x2, y2 int, bounds image.Rectangle) (int, int, int, int) {
	if x1 < bounds.Min.X {
		x1 = bounds.Min.X
	}
	if y1 < bounds.Min.Y {
		y1 = bounds.Min.Y
	}
	if x2 > bounds.Max.X {
		x2 = bounds.Max.X
	}
	if y2 > bounds.Max.Y {
		y2 = bounds.Max.Y
	}
	return x1, y1, x2, y2
}

// EncodeJPEG encodes an image as JPEG at the given quality, used by the
// annotate/snapshot paths exposed to the UI surface.
func EncodeJPEG(img image.Image, quality int) []byte {
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	return buf.Bytes()
}

// DecodeJPEG is the inverse used when reading a captured frame back off disk
// or object storage for annotation.
func DecodeJPEG(data []byte) (image.Image, error) {
	return jpeg.Decode(bytes.NewReader(data))
}
