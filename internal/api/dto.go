package api

import (
	"time"

	"github.com/anima-systems/anima-memory/internal/association"
	"github.com/anima-systems/anima-memory/internal/embedding"
	"github.com/anima-systems/anima-memory/internal/handshake"
	"github.com/anima-systems/anima-memory/internal/memory"
	"github.com/anima-systems/anima-memory/internal/models"
	"github.com/anima-systems/anima-memory/internal/reflection"
	"github.com/anima-systems/anima-memory/internal/tier"
)

// memoryDTO is the wire shape of a models.Memory. The raw embedding
// vector is never serialized — callers never need it and it would dwarf
// every other field in the payload.
type memoryDTO struct {
	ID                 string         `json:"id"`
	Content            string         `json:"content"`
	ContentFingerprint string         `json:"contentFingerprint"`
	Tier               string         `json:"tier"`
	TierUpdatedAt      time.Time      `json:"tierUpdatedAt"`
	ResonancePhi       float64        `json:"resonancePhi"`
	IsCatalyst         bool           `json:"isCatalyst"`
	AccessCount        int64          `json:"accessCount"`
	LastAccessedAt     time.Time      `json:"lastAccessedAt"`
	Category           string         `json:"category,omitempty"`
	Tags               []string       `json:"tags,omitempty"`
	Source             string         `json:"source,omitempty"`
	ConversationID     string         `json:"conversationId,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

func newMemoryDTO(m models.Memory) memoryDTO {
	return memoryDTO{
		ID: m.ID, Content: m.Content, ContentFingerprint: m.ContentFingerprint,
		Tier: string(m.Tier), TierUpdatedAt: m.TierUpdatedAt, ResonancePhi: m.ResonancePhi,
		IsCatalyst: m.IsCatalyst, AccessCount: m.AccessCount, LastAccessedAt: m.LastAccessedAt,
		Category: m.Category, Tags: m.Tags, Source: m.Source, ConversationID: m.ConversationID,
		Metadata: m.Metadata, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

func newMemoryDTOs(ms []models.Memory) []memoryDTO {
	out := make([]memoryDTO, len(ms))
	for i, m := range ms {
		out[i] = newMemoryDTO(m)
	}
	return out
}

type promotionDTO struct {
	ID                  string  `json:"id,omitempty"`
	MemoryID            string  `json:"memoryId"`
	FromTier            string  `json:"fromTier"`
	ToTier              string  `json:"toTier"`
	Reason              string  `json:"reason"`
	AccessCountAtPromo  int64   `json:"accessCountAtPromotion"`
	DaysSinceLastAccess float64 `json:"daysSinceLastAccess"`
}

func newPromotionDTO(p models.TierPromotion) promotionDTO {
	return promotionDTO{
		ID: p.ID, MemoryID: p.MemoryID, FromTier: string(p.FromTier), ToTier: string(p.ToTier),
		Reason: string(p.Reason), AccessCountAtPromo: p.AccessCountAtPromo,
		DaysSinceLastAccess: p.DaysSinceLastAccess,
	}
}

type autoPromotionDTO struct {
	ID      string `json:"id"`
	NewTier string `json:"newTier"`
}

func newAutoPromotionDTOs(ps []tier.Promotion) []autoPromotionDTO {
	out := make([]autoPromotionDTO, len(ps))
	for i, p := range ps {
		out[i] = autoPromotionDTO{ID: p.ID, NewTier: string(p.NewTier)}
	}
	return out
}

type handshakeDTO struct {
	ID             string    `json:"id,omitempty"`
	PromptText     string    `json:"promptText"`
	TopPhiMemories []string  `json:"topPhiMemories,omitempty"`
	TopPhiValues   []float64 `json:"topPhiValues,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	ContextType    string    `json:"contextType"`
	IsExisting     bool      `json:"isExisting"`
	CachedForMS    int64     `json:"cachedForMs"`
	CreatedAt      time.Time `json:"createdAt"`
}

func newHandshakeDTO(res handshake.Result) handshakeDTO {
	r := res.Record
	return handshakeDTO{
		ID: r.ID, PromptText: r.PromptText, TopPhiMemories: r.TopPhiMemories,
		TopPhiValues: r.TopPhiValues, ConversationID: r.ConversationID,
		ContextType: string(r.ContextType), IsExisting: res.IsExisting,
		CachedForMS: res.CachedForMS, CreatedAt: r.CreatedAt,
	}
}

type associationDTO struct {
	MemoryA           string  `json:"memoryA"`
	MemoryB           string  `json:"memoryB"`
	CoOccurrenceCount int64   `json:"coOccurrenceCount"`
	Strength          float64 `json:"strength"`
	LastCoOccurredAt  string  `json:"lastCoOccurredAt"`
}

func newAssociationDTOs(as []association.Association) []associationDTO {
	out := make([]associationDTO, len(as))
	for i, a := range as {
		out[i] = associationDTO{
			MemoryA: a.MemoryA, MemoryB: a.MemoryB, CoOccurrenceCount: a.CoOccurrenceCount,
			Strength: a.Strength, LastCoOccurredAt: a.LastCoOccurredAt,
		}
	}
	return out
}

type hubDTO struct {
	MemoryID      string  `json:"memoryId"`
	Connections   int64   `json:"connections"`
	TotalStrength float64 `json:"totalStrength"`
}

func newHubDTOs(hs []association.Hub) []hubDTO {
	out := make([]hubDTO, len(hs))
	for i, h := range hs {
		out[i] = hubDTO{MemoryID: h.MemoryID, Connections: h.Connections, TotalStrength: h.TotalStrength}
	}
	return out
}

type networkStatsDTO struct {
	MemoryID         string  `json:"memoryId"`
	TotalConnections int64   `json:"totalConnections"`
	AvgStrength      float64 `json:"avgStrength"`
	MaxStrength      float64 `json:"maxStrength"`
}

func newNetworkStatsDTO(s association.NetworkStats) networkStatsDTO {
	return networkStatsDTO{
		MemoryID: s.MemoryID, TotalConnections: s.TotalConnections,
		AvgStrength: s.AvgStrength, MaxStrength: s.MaxStrength,
	}
}

type reflectionDTO struct {
	ID              string         `json:"id"`
	ReflectionType  string         `json:"reflectionType"`
	ConversationID  string         `json:"conversationId,omitempty"`
	Metrics         map[string]any `json:"metrics"`
	Insights        []string       `json:"insights"`
	Recommendations []string       `json:"recommendations"`
	CreatedAt       time.Time      `json:"createdAt"`
}

func newReflectionDTO(r models.Reflection) reflectionDTO {
	return reflectionDTO{
		ID: r.ID, ReflectionType: string(r.ReflectionType), ConversationID: r.ConversationID,
		Metrics: r.Metrics, Insights: r.Insights, Recommendations: r.Recommendations, CreatedAt: r.CreatedAt,
	}
}

func newReflectionDTOs(rs []models.Reflection) []reflectionDTO {
	out := make([]reflectionDTO, len(rs))
	for i, r := range rs {
		out[i] = newReflectionDTO(r)
	}
	return out
}

type addResponse struct {
	Memory            memoryDTO     `json:"memory"`
	IsDuplicate       bool          `json:"isDuplicate"`
	ExactMatch        *bool         `json:"exactMatch,omitempty"`
	IsMerged          *bool         `json:"isMerged,omitempty"`
	EmbeddingProvider embedding.Tag `json:"embeddingProvider"`
}

func newAddResponse(res memory.AddResult) addResponse {
	resp := addResponse{
		Memory: newMemoryDTO(res.Memory), IsDuplicate: res.IsDuplicate,
		EmbeddingProvider: res.EmbeddingProvider,
	}
	if res.IsDuplicate {
		resp.ExactMatch = &res.ExactMatch
		resp.IsMerged = &res.IsMerged
	}
	return resp
}

type queryResponse struct {
	Memories          []memoryDTO        `json:"memories"`
	QueryTime         int64              `json:"queryTime"`
	EmbeddingProvider embedding.Tag      `json:"embeddingProvider"`
	Promotions        []autoPromotionDTO `json:"promotions,omitempty"`
}

func newQueryResponse(res memory.QueryResult) queryResponse {
	return queryResponse{
		Memories: newMemoryDTOs(res.Memories), QueryTime: res.QueryTime.Milliseconds(),
		EmbeddingProvider: res.EmbeddingProvider, Promotions: newAutoPromotionDTOs(res.Promotions),
	}
}

type bootstrapFiltering struct {
	ConversationSpecific bool    `json:"conversationSpecific"`
	BoostFactor          float64 `json:"boostFactor"`
	IncludeGlobalHighPhi bool    `json:"includeGlobalHighPhi"`
	MinGlobalPhi         float64 `json:"minGlobalPhi"`
}

type bootstrapResponse struct {
	Memories struct {
		Active []memoryDTO `json:"active"`
		Thread []memoryDTO `json:"thread"`
		Stable []memoryDTO `json:"stable"`
	} `json:"memories"`
	Distribution struct {
		Active int `json:"active"`
		Thread int `json:"thread"`
		Stable int `json:"stable"`
		Total  int `json:"total"`
	} `json:"distribution"`
	ConversationID string             `json:"conversationId,omitempty"`
	Filtering      bootstrapFiltering `json:"filtering"`
	GhostHandshake handshakeDTO       `json:"ghostHandshake"`
}

func newBootstrapResponse(res memory.BootstrapResult, conversationID string) bootstrapResponse {
	var resp bootstrapResponse
	resp.Memories.Active = newMemoryDTOs(res.Active)
	resp.Memories.Thread = newMemoryDTOs(res.Thread)
	resp.Memories.Stable = newMemoryDTOs(res.Stable)
	resp.Distribution.Active = res.Distribution.Active
	resp.Distribution.Thread = res.Distribution.Thread
	resp.Distribution.Stable = res.Distribution.Stable
	resp.Distribution.Total = res.Distribution.Total
	resp.ConversationID = conversationID
	resp.Filtering = bootstrapFiltering{
		ConversationSpecific: conversationID != "", BoostFactor: 2.0,
		IncludeGlobalHighPhi: true, MinGlobalPhi: 3.0,
	}
	resp.GhostHandshake = newHandshakeDTO(res.Handshake)
	return resp
}
