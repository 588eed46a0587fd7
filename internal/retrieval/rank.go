package retrieval

import (
	"errors"
	"math"
	"sort"

	"chatcore/internal/domain"
)

// ErrDimensionMismatch is returned when vectors of different lengths are compared.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Cosine returns dot(a,b)/(|a||b|), or 0 when either vector has zero magnitude.
func Cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom == 0 {
		return 0, nil
	}
	s := dot / denom
	// rounding can push |s| a hair past 1
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return s, nil
}

// Rank scores every chunk against query and returns at most topK of them in
// descending score order. Equal scores keep index order. Non-finite scores are dropped.
func Rank(query []float64, chunks []domain.IndexChunk, topK int) ([]domain.ScoredChunk, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	scored := make([]domain.ScoredChunk, 0, len(chunks))
	for _, ch := range chunks {
		s, err := Cosine(query, ch.Embedding)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(s) || math.IsInf(s, 0) {
			continue
		}
		scored = append(scored, domain.ScoredChunk{IndexChunk: ch, Score: s})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if topK > len(scored) {
		topK = len(scored)
	}
	return scored[:topK], nil
}
