package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/anima-systems/anima-memory/internal/embedding"
	"github.com/anima-systems/anima-memory/internal/memory"
	"github.com/anima-systems/anima-memory/internal/models"
)

func TestNewMemoryDTO_OmitsEmbedding(t *testing.T) {
	m := models.Memory{
		ID: "mem-1", Content: "hello world", Tier: models.TierActive,
		ResonancePhi: 1.5, AccessCount: 3, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	dto := newMemoryDTO(m)
	assert.Equal(t, "mem-1", dto.ID)
	assert.Equal(t, "active", dto.Tier)
	assert.Equal(t, 1.5, dto.ResonancePhi)
}

func TestNewAddResponse_DuplicateSetsExactAndMergedPointers(t *testing.T) {
	res := memory.AddResult{
		Memory: models.Memory{ID: "mem-1"}, IsDuplicate: true, ExactMatch: true, IsMerged: false,
		EmbeddingProvider: embedding.TagLocal,
	}
	resp := newAddResponse(res)
	assert.True(t, resp.IsDuplicate)
	assert.NotNil(t, resp.ExactMatch)
	assert.True(t, *resp.ExactMatch)
	assert.NotNil(t, resp.IsMerged)
	assert.False(t, *resp.IsMerged)
}

func TestNewAddResponse_NonDuplicateOmitsPointers(t *testing.T) {
	res := memory.AddResult{Memory: models.Memory{ID: "mem-1"}, IsDuplicate: false}
	resp := newAddResponse(res)
	assert.Nil(t, resp.ExactMatch)
	assert.Nil(t, resp.IsMerged)
}

func TestNewBootstrapResponse_FilteringReflectsConversationID(t *testing.T) {
	resp := newBootstrapResponse(memory.BootstrapResult{}, "conv-42")
	assert.True(t, resp.Filtering.ConversationSpecific)
	assert.Equal(t, 2.0, resp.Filtering.BoostFactor)
	assert.Equal(t, 3.0, resp.Filtering.MinGlobalPhi)
	assert.Equal(t, "conv-42", resp.ConversationID)
}

func TestNewBootstrapResponse_NoConversationIsGlobal(t *testing.T) {
	resp := newBootstrapResponse(memory.BootstrapResult{}, "")
	assert.False(t, resp.Filtering.ConversationSpecific)
}
