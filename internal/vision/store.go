package vision

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/attendanced/attendanced/internal/storage"
)

// EmployeeMeta is the display-facing half of the Embedding Store's parallel
// map (employee_id -> {name, department}) from spec.md §4.2.
type EmployeeMeta struct {
	Name       string
	Department string
}

type storeSnapshot struct {
	vectors map[int][][]float32
	meta    map[int]EmployeeMeta
}

// Store is C2, the Embedding Store: an in-process, atomically-swapped
// snapshot of every employee's reference embeddings, reloaded from Postgres
// on demand and rate-limited to at most once per reload interval unless
// forced. The snapshot-swap-on-read pattern keeps best_match lock-free for
// concurrent readers, matching spec.md §5's "Embedding Store: reloads
// replace the maps atomically; readers see a consistent snapshot."
type Store struct {
	db       *storage.PostgresStore
	log      *slog.Logger
	interval time.Duration

	snap     atomic.Pointer[storeSnapshot]
	lastLoad atomic.Int64 // unix nanos
}

func NewStore(db *storage.PostgresStore, log *slog.Logger, reloadInterval time.Duration) *Store {
	s := &Store{db: db, log: log, interval: reloadInterval}
	s.snap.Store(&storeSnapshot{vectors: map[int][][]float32{}, meta: map[int]EmployeeMeta{}})
	return s
}

// Load reloads the snapshot from storage if the reload interval has
// elapsed, or always when force=true.
func (s *Store) Load(ctx context.Context, force bool) error {
	now := time.Now()
	last := time.Unix(0, s.lastLoad.Load())
	if !force && now.Sub(last) < s.interval {
		return nil
	}

	rows, err := s.db.LoadAllEmbeddings(ctx)
	if err != nil {
		s.log.Warn("embedding store reload failed, keeping previous snapshot", "error", err)
		return err
	}

	next := &storeSnapshot{vectors: map[int][][]float32{}, meta: map[int]EmployeeMeta{}}
	for _, r := range rows {
		next.vectors[r.EmployeeID] = append(next.vectors[r.EmployeeID], r.Embedding)
		next.meta[r.EmployeeID] = EmployeeMeta{Name: r.Name, Department: r.Department}
	}

	s.snap.Store(next)
	s.lastLoad.Store(now.UnixNano())
	return nil
}

// BestMatch computes cosine similarity between the L2-normalized query and
// every reference vector, returning the argmax employee id and its
// similarity clamped to zero when negative. Ties are broken by lowest
// employee_id, exactly as spec.md §4.2 specifies.
func (s *Store) BestMatch(query []float32) (employeeID int, similarity float64, found bool) {
	snap := s.snap.Load()

	bestID := 0
	bestSim := -2.0 // below any possible cosine similarity
	haveBest := false

	for id, vectors := range snap.vectors {
		for _, ref := range vectors {
			sim := cosineSimilarity(query, ref)
			if sim > bestSim || (sim == bestSim && haveBest && id < bestID) {
				bestSim = sim
				bestID = id
				haveBest = true
			}
		}
	}

	if !haveBest {
		return 0, 0, false
	}
	if bestSim < 0 {
		bestSim = 0
	}
	return bestID, bestSim, true
}

func (s *Store) Meta(employeeID int) (EmployeeMeta, bool) {
	snap := s.snap.Load()
	m, ok := snap.meta[employeeID]
	return m, ok
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -2.0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return -2.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
