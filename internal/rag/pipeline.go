package rag

import (
	"context"
	"fmt"

	"backend/internal/search"
)

type PassageSearcher interface {
	KNNSearch(ctx context.Context, vector []float64, k int) ([]search.Passage, error)
}

// Retriever embeds a query and looks up the nearest indexed passages.
type Retriever struct {
	Bedrock BedrockClient
	Search  PassageSearcher
}

func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]search.Passage, error) {
	vector, err := EmbedText(ctx, r.Bedrock, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	passages, err := r.Search.KNNSearch(ctx, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("knn search: %w", err)
	}
	return passages, nil
}

// Generator produces an answer conditioned on retrieved passages.
type Generator struct {
	Bedrock BedrockClient
}

func (g *Generator) Generate(ctx context.Context, question string, passages []search.Passage) (string, error) {
	texts := make([]string, 0, len(passages))
	for _, p := range passages {
		texts = append(texts, p.Text)
	}
	return GenerateAnswer(ctx, g.Bedrock, BuildPrompt(question, texts))
}
