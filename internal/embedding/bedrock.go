package embedding

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockProvider is the remote-secondary embedding provider, used as the
// primary when EMBEDDING_PROVIDER is remote-secondary (the local provider
// is its fallback). It invokes an Amazon Titan embeddings model through
// bedrockruntime.
type BedrockProvider struct {
	client  *bedrockruntime.Client
	modelID string
	dim     int
}

// NewBedrockProvider builds a BedrockProvider from an already-configured
// bedrockruntime client (region/credentials resolved by the caller via the
// AWS SDK's standard config chain).
func NewBedrockProvider(client *bedrockruntime.Client, modelID string, dim int) *BedrockProvider {
	return &BedrockProvider{client: client, modelID: modelID, dim: dim}
}

func (p *BedrockProvider) Tag() Tag { return TagRemoteSecondary }
func (p *BedrockProvider) Dim() int { return p.dim }

type titanEmbeddingRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbeddingResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

func (p *BedrockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(titanEmbeddingRequest{InputText: text})
	if err != nil {
		return nil, fmt.Errorf("marshal bedrock request: %w", err)
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock invoke model: %w", err)
	}

	var resp titanEmbeddingResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("decode bedrock response: %w", err)
	}
	return resp.Embedding, nil
}
