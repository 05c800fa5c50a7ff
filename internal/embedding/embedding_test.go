package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anima-systems/anima-memory/internal/config"
)

type stubProvider struct {
	tag    Tag
	dim    int
	vec    []float32
	err    error
	calls  int
}

func (s *stubProvider) Tag() Tag { return s.tag }
func (s *stubProvider) Dim() int { return s.dim }
func (s *stubProvider) Embed(_ context.Context, _ string) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.vec, nil
}

func testGateway(primary, fallback Provider, retries int) *Gateway {
	cfg := &config.Config{EmbeddingRetries: retries}
	g := New(cfg, primary, fallback, zerolog.Nop())
	g.backoff = time.Millisecond
	return g
}

func TestEmbedRejectsEmptyInput(t *testing.T) {
	g := testGateway(&stubProvider{dim: 3}, nil, 0)
	_, _, err := g.Embed(context.Background(), "   ")
	require.Error(t, err)
}

func TestEmbedReturnsUnitVector(t *testing.T) {
	p := &stubProvider{tag: TagLocal, dim: 3, vec: []float32{3, 4, 0}}
	g := testGateway(p, nil, 0)

	vec, tag, err := g.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, TagLocal, tag)

	var sumSq float64
	for _, x := range vec {
		sumSq += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, sumSq, 1e-6)
}

func TestEmbedFailsOverToSecondaryProvider(t *testing.T) {
	primary := &stubProvider{tag: TagRemotePrimary, dim: 2, err: errors.New("timeout")}
	fallback := &stubProvider{tag: TagRemoteSecondary, dim: 2, vec: []float32{1, 0}}
	g := testGateway(primary, fallback, 1)

	_, tag, err := g.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, TagRemoteSecondary, tag)
	assert.Equal(t, 2, primary.calls)
}

func TestEmbedFailsWhenNoFallbackConfigured(t *testing.T) {
	primary := &stubProvider{tag: TagRemotePrimary, dim: 2, err: errors.New("timeout")}
	g := testGateway(primary, nil, 0)

	_, _, err := g.Embed(context.Background(), "hello")
	require.Error(t, err)
}

func TestEmbedRetriesBeforeFailingOver(t *testing.T) {
	primary := &stubProvider{tag: TagRemotePrimary, dim: 2, err: errors.New("rate limited")}
	fallback := &stubProvider{tag: TagRemoteSecondary, dim: 2, vec: []float32{0, 1}}
	g := testGateway(primary, fallback, 3)

	_, _, err := g.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, 4, primary.calls) // initial attempt + 3 retries
}
