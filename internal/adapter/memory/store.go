// Package memory is a brute-force vector index held in process memory.
// It backs the CLI and tests; nothing survives a restart.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"pdfsearch/internal/vector"
)

type Store struct {
	mu        sync.RWMutex
	dimension int
	records   map[string]vector.Record
	order     []string
}

// NewStore creates an empty index. A dimension of 0 is fixed by the first
// upsert.
func NewStore(dimension int) *Store {
	return &Store{dimension: dimension, records: make(map[string]vector.Record)}
}

func (s *Store) EnsureSchema(ctx context.Context) error { return nil }

func (s *Store) Upsert(ctx context.Context, records []vector.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dim, err := vector.CheckDimensions(records, s.dimension)
	if err != nil {
		return err
	}
	s.dimension = dim

	for _, r := range records {
		if _, ok := s.records[r.ID]; !ok {
			s.order = append(s.order, r.ID)
		}
		r.Vector = append([]float32(nil), r.Vector...)
		s.records[r.ID] = r
	}
	return nil
}

func (s *Store) Query(ctx context.Context, vec []float32, topK int, filter vector.Filter) ([]vector.Match, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dimension > 0 && len(vec) != s.dimension {
		return nil, vector.ErrDimensionMismatch
	}

	matches := make([]vector.Match, 0, len(s.records))
	for _, id := range s.order {
		r := s.records[id]
		if !filter.Matches(r) {
			continue
		}
		matches = append(matches, vector.Match{
			ID:         r.ID,
			FileName:   r.FileName,
			Source:     r.Source,
			Text:       r.Text,
			ChunkIndex: r.ChunkIndex,
			Score:      cosine(r.Vector, vec),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *Store) DeleteByFileName(ctx context.Context, fileName string) error {
	return s.deleteWhere(func(r vector.Record) bool { return r.FileName == fileName })
}

func (s *Store) DeleteStale(ctx context.Context, fileName string, keep int) error {
	return s.deleteWhere(func(r vector.Record) bool { return r.FileName == fileName && r.ChunkIndex >= keep })
}

func (s *Store) CountRecords(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *Store) deleteWhere(match func(vector.Record) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.order[:0]
	for _, id := range s.order {
		if match(s.records[id]) {
			delete(s.records, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return nil
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
