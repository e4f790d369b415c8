package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"

	"github.com/markdave123-py/papertrail/internal/core"
)

// geminiBatchLimit is the most texts BatchEmbedContents accepts per call.
const geminiBatchLimit = 100

type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
}

func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string) (*GeminiEmbedder, error) {
	cl, err := newGenaiClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "text-embedding-004"
	}
	return &GeminiEmbedder{client: cl, modelName: modelName}, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// EmbedTexts embeds texts in batches, preserving input order.
func (g *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	em := g.client.EmbeddingModel(g.modelName)
	em.TaskType = genai.TaskTypeRetrievalDocument

	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += geminiBatchLimit {
		end := min(i+geminiBatchLimit, len(texts))

		batch := em.NewBatch()
		for _, t := range texts[i:end] {
			batch.AddContent(genai.Text(t))
		}

		var resp *genai.BatchEmbedContentsResponse
		err := retryGemini(ctx, 30*time.Second, func() error {
			var err error
			resp, err = em.BatchEmbedContents(ctx, batch)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("gemini batch embed %d-%d: %w", i, end, err)
		}
		if len(resp.Embeddings) != end-i {
			return nil, fmt.Errorf("gemini batch embed %d-%d: got %d embeddings", i, end, len(resp.Embeddings))
		}
		for _, e := range resp.Embeddings {
			out = append(out, e.Values)
		}
	}
	return out, nil
}

var _ core.EmbeddingProvider = (*GeminiEmbedder)(nil)
