package tier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/anima-systems/anima-memory/internal/models"
)

func TestNextAutoPromotion_ActiveToThread(t *testing.T) {
	next, ok := NextAutoPromotion(models.TierActive, AccessThresholdToThread)
	assert.True(t, ok)
	assert.Equal(t, models.TierThread, next)
}

func TestNextAutoPromotion_ActiveBelowThreshold(t *testing.T) {
	_, ok := NextAutoPromotion(models.TierActive, AccessThresholdToThread-1)
	assert.False(t, ok)
}

func TestNextAutoPromotion_ThreadToStable(t *testing.T) {
	next, ok := NextAutoPromotion(models.TierThread, AccessThresholdToStable)
	assert.True(t, ok)
	assert.Equal(t, models.TierStable, next)
}

func TestNextAutoPromotion_StableNeverAutoPromotes(t *testing.T) {
	_, ok := NextAutoPromotion(models.TierStable, 1_000_000)
	assert.False(t, ok)
}

func TestNextAutoPromotion_NetworkNeverAutoPromotes(t *testing.T) {
	// network is a manual-only destination tier; it never appears as a
	// source tier for auto-promotion.
	_, ok := NextAutoPromotion(models.TierNetwork, 1_000_000)
	assert.False(t, ok)
}
