package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	oaoption "github.com/openai/openai-go/option"

	"github.com/markdave123-py/kbsync/internal/core"
)

type OpenAIEmbedder struct {
	client    openai.Client
	modelName string
	dim       int
}

// NewOpenAIEmbedder builds an embedder for the OpenAI embeddings API. dim is
// passed through for text-embedding-3 models; zero keeps the model default.
func NewOpenAIEmbedder(apiKey, modelName string, dim int) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("missing openai api key")
	}
	if modelName == "" {
		modelName = openai.EmbeddingModelTextEmbedding3Small
	}
	return &OpenAIEmbedder{
		client:    openai.NewClient(oaoption.WithAPIKey(apiKey)),
		modelName: modelName,
		dim:       dim,
	}, nil
}

func (o *OpenAIEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: o.modelName,
	}
	if o.dim > 0 {
		params.Dimensions = openai.Int(int64(o.dim))
	}

	resp, err := o.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("openai embed: index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}

var _ core.EmbeddingProvider = (*OpenAIEmbedder)(nil)
