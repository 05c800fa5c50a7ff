package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/anima-systems/anima-memory/internal/config"
	"github.com/anima-systems/anima-memory/internal/embedding"
)

func TestSelectProviders_LocalHasNoFallback(t *testing.T) {
	cfg := &config.Config{EmbeddingProvider: config.ProviderLocal, EmbeddingDim: 384}
	primary, fallback := selectProviders(cfg)
	assert.IsType(t, &embedding.LocalProvider{}, primary)
	assert.Nil(t, fallback)
}

func TestSelectProviders_RemotePrimaryFallsBackToLocal(t *testing.T) {
	cfg := &config.Config{EmbeddingProvider: config.ProviderRemotePrimary, EmbeddingDim: 384, EmbeddingAPIKey: "test-key"}
	primary, fallback := selectProviders(cfg)
	assert.IsType(t, &embedding.OpenAIProvider{}, primary)
	assert.IsType(t, &embedding.LocalProvider{}, fallback)
}

func TestSelectProviders_UnknownKindDefaultsToLocal(t *testing.T) {
	cfg := &config.Config{EmbeddingProvider: config.EmbeddingProviderKind("bogus"), EmbeddingDim: 384}
	primary, fallback := selectProviders(cfg)
	assert.IsType(t, &embedding.LocalProvider{}, primary)
	assert.Nil(t, fallback)
}
