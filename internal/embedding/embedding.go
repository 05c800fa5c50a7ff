// Package embedding is the Embedding Gateway (C2): a uniform
// Embed(text) -> (vector, provider tag) contract over one of three
// provider kinds, with retry, failover, and unit-vector normalization.
package embedding

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/anima-systems/anima-memory/internal/apperr"
	"github.com/anima-systems/anima-memory/internal/config"
)

// Tag identifies which provider actually produced a vector.
type Tag string

const (
	TagLocal           Tag = "local"
	TagRemotePrimary   Tag = "remote-primary"
	TagRemoteSecondary Tag = "remote-secondary"
)

// Provider produces fixed-dimension embedding vectors for text.
type Provider interface {
	Tag() Tag
	Dim() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Gateway is the C2 component: it owns a primary provider and an optional
// failover provider, and enforces normalization and retry policy on both.
type Gateway struct {
	primary  Provider
	fallback Provider
	retries  int
	backoff  time.Duration
	logger   zerolog.Logger
}

// New builds a Gateway from configuration. primary is selected by
// cfg.EmbeddingProvider; fallback, when non-nil, is tried once the primary
// has exhausted its retries.
func New(cfg *config.Config, primary, fallback Provider, logger zerolog.Logger) *Gateway {
	return &Gateway{
		primary:  primary,
		fallback: fallback,
		retries:  cfg.EmbeddingRetries,
		backoff:  200 * time.Millisecond,
		logger:   logger.With().Str("component", "embedding").Logger(),
	}
}

// Embed returns a unit-length vector for text and the tag of whichever
// provider produced it. Empty or whitespace-only input is rejected before
// any provider is consulted.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, Tag, error) {
	if strings.TrimSpace(text) == "" {
		return nil, "", apperr.Validation("embedding input must not be empty")
	}

	vec, err := g.embedWithRetry(ctx, g.primary, text)
	if err == nil {
		return normalize(vec), g.primary.Tag(), nil
	}
	g.logger.Warn().Err(err).Str("provider", string(g.primary.Tag())).Msg("primary embedding provider exhausted retries")

	if g.fallback == nil {
		return nil, "", apperr.Wrap(apperr.CodeEmbedding, "embedding provider failed and no fallback configured", err)
	}

	vec, err = g.embedWithRetry(ctx, g.fallback, text)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.CodeEmbedding, "embedding fallback provider also failed", err)
	}
	return normalize(vec), g.fallback.Tag(), nil
}

func (g *Gateway) embedWithRetry(ctx context.Context, p Provider, text string) ([]float32, error) {
	if p == nil {
		return nil, apperr.New(apperr.CodeEmbedding, "no provider configured")
	}

	var lastErr error
	delay := g.backoff
	for attempt := 0; attempt <= g.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		vec, err := p.Embed(ctx, text)
		if err == nil {
			if len(vec) != p.Dim() {
				lastErr = apperr.New(apperr.CodeEmbedding, "provider returned unexpected vector dimension")
				continue
			}
			return vec, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// normalize rescales v to unit length. The zero vector is returned as-is;
// callers never hand it to cosine similarity without checking.
func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
