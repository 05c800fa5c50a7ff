package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
)

// LocalProvider derives a deterministic pseudo-embedding from a text's hash.
// It is not semantically meaningful but gives local development and tests a
// zero-dependency provider that honors the same contract as the remote
// ones, including dimension and determinism (repeated calls on the same
// text return the same vector, which exact-dedup and cache tests rely on).
type LocalProvider struct {
	dim int
}

// NewLocalProvider builds a LocalProvider producing vectors of the given
// dimension.
func NewLocalProvider(dim int) *LocalProvider {
	return &LocalProvider{dim: dim}
}

func (p *LocalProvider) Tag() Tag { return TagLocal }
func (p *LocalProvider) Dim() int { return p.dim }

func (p *LocalProvider) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dim)
	seed := sha256.Sum256([]byte(text))

	state := binary.BigEndian.Uint64(seed[:8])
	for i := range vec {
		state = splitmix64(state)
		// Map to roughly [-1, 1].
		vec[i] = float32(state>>11)/float32(1<<53)*2 - 1
	}
	return vec, nil
}

// splitmix64 is a fast, deterministic PRNG step used only to spread a
// 64-bit hash seed across a vector of arbitrary length.
func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	z := x
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}
