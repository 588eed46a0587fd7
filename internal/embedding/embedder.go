package embedding

import "context"

// Embedder converts free text into a numeric vector using the named model.
// The model is supplied per call because the retrieval index records which
// model produced its chunk vectors.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, model, text string) ([]float64, error)
}
