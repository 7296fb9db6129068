package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Memory is an in-process brute-force cosine index for local runs and tests.
type Memory struct {
	mu     sync.RWMutex
	dim    int
	points map[string]Point
	ready  bool
}

// NewMemory creates an empty index for vectors of size dim.
func NewMemory(dim int) *Memory {
	return &Memory{dim: dim, points: make(map[string]Point)}
}

// EnsureSchema marks the index ready. Idempotent.
func (m *Memory) EnsureSchema(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = true
	return nil
}

// Upsert replaces points by id.
func (m *Memory) Upsert(ctx context.Context, points []Point) error {
	if err := validatePoints(points, m.dim); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		p.Vector = vec
		m.points[p.ID] = p
	}
	return nil
}

// Search scans every point matching filter.
func (m *Memory) Search(ctx context.Context, vector []float32, filter Filter, k int) ([]Match, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if m.dim > 0 && len(vector) != m.dim {
		return nil, ErrDimensionMismatch
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]Match, 0)
	for _, p := range m.points {
		if !matchesFilter(p.Payload, filter) {
			continue
		}
		matches = append(matches, Match{Score: cosine(vector, p.Vector), Payload: p.Payload})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Delete removes points matching filter.
func (m *Memory) Delete(ctx context.Context, filter Filter) error {
	if err := filter.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.points {
		if matchesFilter(p.Payload, filter) {
			delete(m.points, id)
		}
	}
	return nil
}

// Len reports how many points are stored.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

func matchesFilter(p Payload, f Filter) bool {
	if p.UserID != f.UserID || p.SessionID != f.SessionID {
		return false
	}
	return f.FileName == "" || p.FileName == f.FileName
}

func cosine(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
