// Package embeddings provides the text vectorization providers the engine
// uses for semantic question matching: remote HTTP services (Ollama, OpenAI
// compatible) and a local sentence-transformers subprocess pool.
package embeddings

import "context"

// Embedder converts text into a vector representation.
type Embedder interface {
	// Embed vectorizes a single text. Implementations honor ctx cancellation
	// on the network or subprocess round trip.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the vector size, or 0 if the provider has not
	// produced an embedding yet and cannot know it upfront.
	Dimensions() int

	// Name identifies the provider instance, e.g. "ollama:nomic-embed-text".
	Name() string
}

// BatchEmbedder is implemented by providers that can vectorize many texts in
// one round trip. Bulk paths (ingestion, imports) prefer it.
type BatchEmbedder interface {
	Embedder
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedAll vectorizes texts with one batch call when the provider supports
// it, falling back to sequential Embed calls otherwise.
func EmbedAll(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	if be, ok := e.(BatchEmbedder); ok {
		return be.EmbedBatch(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}
