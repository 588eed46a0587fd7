package retrieval

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"chatcore/internal/domain"
)

type staticIndex struct{ idx *domain.RetrievalIndex }

func (s staticIndex) Load(context.Context) *domain.RetrievalIndex { return s.idx }

type fixedEmbedder struct {
	vec   []float64
	err   error
	model string
}

func (e *fixedEmbedder) Name() string { return "fixed" }

func (e *fixedEmbedder) Embed(ctx context.Context, model, text string) ([]float64, error) {
	e.model = model
	return e.vec, e.err
}

func threeChunkIndex() *domain.RetrievalIndex {
	return &domain.RetrievalIndex{
		Model: "text-embedding-004",
		Chunks: []domain.IndexChunk{
			{ID: "1", Text: "one", Source: "a.md", Embedding: []float64{1, 0, 0}},
			{ID: "2", Text: "two", Source: "b.md", Embedding: []float64{0.2, 0.7, 0.1}},
			{ID: "3", Text: "three", Source: "c.md", Embedding: []float64{0, 0, 1}},
		},
	}
}

func TestCosineProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		a := make([]float64, 8)
		b := make([]float64, 8)
		for j := range a {
			a[j] = rng.NormFloat64()
			b[j] = rng.NormFloat64()
		}
		s, err := Cosine(a, b)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, s, -1.0)
		assert.LessOrEqual(t, s, 1.0)

		self, err := Cosine(a, a)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, self, 1e-12)
	}
}

func TestCosineZeroAndMismatch(t *testing.T) {
	s, err := Cosine([]float64{0, 0}, []float64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 0.0, s)

	_, err = Cosine([]float64{1, 2}, []float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestRankOrdersAndTruncates(t *testing.T) {
	idx := threeChunkIndex()
	res, err := Rank([]float64{0.9, 0.1, 0.3}, idx.Chunks, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.GreaterOrEqual(t, res[0].Score, res[1].Score)
	assert.Equal(t, "1", res[0].ID)
}

func TestRankStableOnTies(t *testing.T) {
	chunks := []domain.IndexChunk{
		{ID: "a", Embedding: []float64{1, 0}},
		{ID: "b", Embedding: []float64{2, 0}},
		{ID: "c", Embedding: []float64{0, 1}},
		{ID: "d", Embedding: []float64{3, 0}},
	}
	res, err := Rank([]float64{1, 0}, chunks, 10)
	require.NoError(t, err)
	require.Len(t, res, 4)
	assert.Equal(t, []string{"a", "b", "d", "c"}, []string{res[0].ID, res[1].ID, res[2].ID, res[3].ID})
}

func TestRankDropsNonFinite(t *testing.T) {
	chunks := []domain.IndexChunk{
		{ID: "nan", Embedding: []float64{math.NaN(), 1}},
		{ID: "ok", Embedding: []float64{1, 1}},
	}
	res, err := Rank([]float64{1, 1}, chunks, 5)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "ok", res[0].ID)
}

func TestSearchExactMatchScoresOne(t *testing.T) {
	emb := &fixedEmbedder{vec: []float64{0.2, 0.7, 0.1}}
	s := NewSearcher(staticIndex{threeChunkIndex()}, emb, zaptest.NewLogger(t))

	res := s.Search(context.Background(), "how do enemies spawn", 1)
	require.Len(t, res, 1)
	assert.Equal(t, "2", res[0].ID)
	assert.InDelta(t, 1.0, res[0].Score, 1e-12)
	assert.Equal(t, "text-embedding-004", emb.model)
}

func TestSearchLengthBound(t *testing.T) {
	emb := &fixedEmbedder{vec: []float64{1, 1, 1}}
	s := NewSearcher(staticIndex{threeChunkIndex()}, emb, zaptest.NewLogger(t))

	for _, k := range []int{1, 2, 3, 10} {
		res := s.Search(context.Background(), "q", k)
		assert.LessOrEqual(t, len(res), min(k, 3))
		for i := 1; i < len(res); i++ {
			assert.GreaterOrEqual(t, res[i-1].Score, res[i].Score)
		}
	}
}

func TestSearchDegradesToEmpty(t *testing.T) {
	log := zaptest.NewLogger(t)
	ctx := context.Background()

	t.Run("absent index", func(t *testing.T) {
		s := NewSearcher(staticIndex{nil}, &fixedEmbedder{vec: []float64{1}}, log)
		res := s.Search(ctx, "q", 3)
		assert.NotNil(t, res)
		assert.Empty(t, res)
	})
	t.Run("empty chunks", func(t *testing.T) {
		s := NewSearcher(staticIndex{&domain.RetrievalIndex{Model: "m"}}, &fixedEmbedder{vec: []float64{1}}, log)
		assert.Empty(t, s.Search(ctx, "q", 3))
	})
	t.Run("embedding failure", func(t *testing.T) {
		s := NewSearcher(staticIndex{threeChunkIndex()}, &fixedEmbedder{err: errors.New("503")}, log)
		assert.Empty(t, s.Search(ctx, "q", 3))
	})
	t.Run("dimension mismatch", func(t *testing.T) {
		s := NewSearcher(staticIndex{threeChunkIndex()}, &fixedEmbedder{vec: []float64{1, 0}}, log)
		assert.Empty(t, s.Search(ctx, "q", 3))
	})
}

func TestSearchDefaultTopK(t *testing.T) {
	chunks := make([]domain.IndexChunk, 6)
	for i := range chunks {
		chunks[i] = domain.IndexChunk{ID: string(rune('a' + i)), Embedding: []float64{1, float64(i)}}
	}
	s := NewSearcher(staticIndex{&domain.RetrievalIndex{Model: "m", Chunks: chunks}}, &fixedEmbedder{vec: []float64{1, 1}}, zaptest.NewLogger(t))
	assert.Len(t, s.Search(context.Background(), "q", 0), DefaultTopK)
}
