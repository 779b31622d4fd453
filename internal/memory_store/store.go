// Package memory_store owns the conversation memory: a dense in-memory
// vector index with a parallel metadata table, exact inner-product search
// and snapshot persistence through a storage provider.
//
// Vectors are L2-normalized at insert time, so inner product equals cosine
// similarity. Exact search over a dense matrix is cheap at the volumes this
// proxy targets and keeps the persistence format simple.
package memory_store //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/lewisedginton/recall-proxy/internal/storage_manager"
	"github.com/lewisedginton/recall-proxy/pkg/logger"
)

// ErrInvalidDimension is returned when a vector does not match the store's
// configured dimension. This is a programming-contract violation, not a
// runtime condition to retry.
var ErrInvalidDimension = errors.New("vector dimension mismatch")

// Record is one stored utterance. Records are created once and never updated.
type Record struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	Role      string    `json:"role"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
}

// SearchHit is a query-scoped search result.
type SearchHit struct {
	ID         int64
	Similarity float64
	Record     Record
}

// Config holds configuration for the memory store.
type Config struct {
	Dimension    int
	FileProvider storage_manager.FileProvider
	Logger       logger.Logger
}

// Store is the concurrent-safe vector memory store. The mutex guards the
// vector matrix, the position map and the metadata table as one unit; it is
// never held across embedding or backend I/O.
type Store struct {
	mu       sync.RWMutex
	dim      int
	vectors  [][]float32 // position -> unit vector
	idMap    []int64     // position -> record id
	records  map[int64]*Record
	nextID   int64
	provider storage_manager.FileProvider
	log      logger.Logger
}

// New creates a memory store and restores the persisted snapshot if one
// exists. A missing or corrupt snapshot is a warning, never a startup
// failure: the store falls back to empty.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("dimension must be greater than 0, got %d", cfg.Dimension)
	}
	if cfg.FileProvider == nil {
		return nil, fmt.Errorf("file provider cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	s := &Store{
		dim:      cfg.Dimension,
		records:  make(map[int64]*Record),
		provider: cfg.FileProvider,
		log:      cfg.Logger,
	}

	if err := s.load(ctx); err != nil {
		s.log.Warn("Failed to restore memory snapshot, starting empty",
			logger.ErrorField(err))
		s.vectors = nil
		s.idMap = nil
		s.records = make(map[int64]*Record)
		s.nextID = 0
	}

	return s, nil
}

// Insert stores a message vector with its metadata and returns the assigned
// id. The vector is normalized defensively; a zero vector is kept as-is.
// Ids are strictly increasing and never reused.
func (s *Store) Insert(vector []float32, text, role, model string) (int64, error) {
	if len(vector) != s.dim {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrInvalidDimension, len(vector), s.dim)
	}

	vec := normalize(vector)
	record := &Record{
		Text:      text,
		Role:      role,
		Model:     model,
		Timestamp: time.Now(),
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	record.ID = id
	s.vectors = append(s.vectors, vec)
	s.idMap = append(s.idMap, id)
	s.records[id] = record
	s.mu.Unlock()

	return id, nil
}

// Search returns up to min(topK, count) hits with similarity at or above
// threshold, ordered by descending similarity. Ties resolve to the earlier
// insertion for determinism. An empty store yields an empty result.
func (s *Store) Search(query []float32, topK int, threshold float64) ([]SearchHit, error) {
	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidDimension, len(query), s.dim)
	}
	if topK <= 0 {
		return nil, nil
	}

	q := normalize(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.vectors) == 0 {
		return nil, nil
	}

	type scored struct {
		pos   int
		score float64
	}
	scores := make([]scored, len(s.vectors))
	for pos, vec := range s.vectors {
		var dot float64
		for i, v := range vec {
			dot += float64(v) * float64(q[i])
		}
		scores[pos] = scored{pos: pos, score: dot}
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].pos < scores[j].pos
	})

	k := topK
	if k > len(scores) {
		k = len(scores)
	}

	hits := make([]SearchHit, 0, k)
	for _, sc := range scores[:k] {
		if sc.score < threshold {
			continue
		}
		id := s.idMap[sc.pos]
		record, ok := s.records[id]
		if !ok {
			continue
		}
		hits = append(hits, SearchHit{
			ID:         id,
			Similarity: sc.score,
			Record:     *record,
		})
	}

	return hits, nil
}

// Count returns the number of stored records.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

// Dimension returns the configured vector dimension.
func (s *Store) Dimension() int {
	return s.dim
}

// Stats describes the store for the admin surface.
type Stats struct {
	Count     int    `json:"count"`
	Dimension int    `json:"dimension"`
	IndexType string `json:"index_type"`
}

// GetStats returns current store statistics.
func (s *Store) GetStats() Stats {
	return Stats{
		Count:     s.Count(),
		Dimension: s.dim,
		IndexType: "flat-inner-product",
	}
}

// normalize returns an L2-normalized copy of the vector. A zero vector is
// copied unchanged rather than divided.
func normalize(vector []float32) []float32 {
	out := make([]float32, len(vector))
	copy(out, vector)

	var norm float64
	for _, v := range out {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return out
	}

	scale := float32(1 / math.Sqrt(norm))
	for i := range out {
		out[i] *= scale
	}
	return out
}
