package consolidate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhiContribution_CatalystNearExact(t *testing.T) {
	assert.InDelta(t, 1.0, phiContribution(true, 0.99), 1e-9)
}

func TestPhiContribution_CatalystLooseMatch(t *testing.T) {
	assert.InDelta(t, 0.9, phiContribution(true, 0.95), 1e-9)
}

func TestPhiContribution_NonCatalystNearExact(t *testing.T) {
	assert.InDelta(t, 0.1, phiContribution(false, 0.99), 1e-9)
}

func TestPhiContribution_NonCatalystLooseMatch(t *testing.T) {
	assert.InDelta(t, 0.09, phiContribution(false, 0.95), 1e-9)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassHighConfidenceMerge, classify(0.97))
	assert.Equal(t, ClassHighConfidenceMerge, classify(0.95))
	assert.Equal(t, ClassPotentialMerge, classify(0.93))
	assert.Equal(t, ClassPotentialMerge, classify(0.92))
	assert.Equal(t, ClassRelated, classify(0.80))
}
