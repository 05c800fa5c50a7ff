package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTier_Valid(t *testing.T) {
	assert.True(t, TierActive.Valid())
	assert.True(t, TierThread.Valid())
	assert.True(t, TierStable.Valid())
	assert.True(t, TierNetwork.Valid())
	assert.False(t, Tier("bogus").Valid())
}

func TestClampResonance(t *testing.T) {
	assert.Equal(t, 0.0, ClampResonance(-1))
	assert.Equal(t, MaxResonance, ClampResonance(100))
	assert.Equal(t, 2.5, ClampResonance(2.5))
}

func TestOrderedPair_IsLexicographicallyStable(t *testing.T) {
	a, b := OrderedPair("zzz", "aaa")
	assert.Equal(t, "aaa", a)
	assert.Equal(t, "zzz", b)

	a2, b2 := OrderedPair("aaa", "zzz")
	assert.Equal(t, a, a2)
	assert.Equal(t, b, b2)
}

func TestMemory_Live(t *testing.T) {
	m := Memory{}
	assert.True(t, m.Live())

	var deletedAt = m.CreatedAt
	m.DeletedAt = &deletedAt
	assert.False(t, m.Live())
}
