package embedding

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider is the remote-primary embedding provider, backed by
// OpenAI's embeddings endpoint via the go-openai client.
type OpenAIProvider struct {
	client *openai.Client
	model  openai.EmbeddingModel
	dim    int
}

// NewOpenAIProvider builds an OpenAIProvider. The model is fixed to
// text-embedding-3-small and requests do not ask for a reduced output
// dimension; dim is only what Dim reports, and the gateway rejects any
// returned vector whose length differs from it.
func NewOpenAIProvider(apiKey string, dim int) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		model:  openai.SmallEmbedding3,
		dim:    dim,
	}
}

func (p *OpenAIProvider) Tag() Tag { return TagRemotePrimary }
func (p *OpenAIProvider) Dim() int { return p.dim }

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: p.model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings request: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings response contained no data")
	}
	return resp.Data[0].Embedding, nil
}
