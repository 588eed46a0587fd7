package retrieval

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"chatcore/internal/domain"
	"chatcore/internal/embedding"
)

// DefaultTopK is used when callers pass a non-positive topK.
const DefaultTopK = 4

// IndexSource supplies the retrieval index; nil means unavailable.
type IndexSource interface {
	Load(ctx context.Context) *domain.RetrievalIndex
}

// Searcher ranks index chunks against a live query. Retrieval is best-effort:
// every failure degrades to an empty result.
type Searcher struct {
	index    IndexSource
	embedder embedding.Embedder
	log      *zap.Logger
}

// NewSearcher creates a Searcher.
func NewSearcher(index IndexSource, embedder embedding.Embedder, log *zap.Logger) *Searcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Searcher{index: index, embedder: embedder, log: log.Named("retrieval")}
}

// Search returns up to topK chunks most similar to query. It never fails.
func (s *Searcher) Search(ctx context.Context, query string, topK int) []domain.ScoredChunk {
	idx := s.index.Load(ctx)
	if idx == nil || len(idx.Chunks) == 0 {
		return []domain.ScoredChunk{}
	}
	if s.embedder == nil {
		return []domain.ScoredChunk{}
	}
	vec, err := s.embedder.Embed(ctx, idx.Model, query)
	if err != nil {
		s.log.Warn("query embedding failed", zap.String("model", idx.Model), zap.Error(err))
		return []domain.ScoredChunk{}
	}
	res, err := Rank(vec, idx.Chunks, topK)
	if err != nil {
		if errors.Is(err, ErrDimensionMismatch) {
			s.log.Error("query embedding does not match index",
				zap.Int("query_dim", len(vec)), zap.Int("index_dim", idx.Dimension()))
		}
		return []domain.ScoredChunk{}
	}
	s.log.Debug("retrieved chunks", zap.Int("hits", len(res)), zap.Int("top_k", topK))
	return res
}
