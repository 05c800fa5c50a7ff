package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/anima-systems/anima-memory/internal/apperr"
	"github.com/anima-systems/anima-memory/internal/engine"
	"github.com/anima-systems/anima-memory/internal/memory"
	"github.com/anima-systems/anima-memory/internal/models"
	"github.com/anima-systems/anima-memory/internal/reflection"
)

// handlers binds every route to the engine it operates on.
type handlers struct {
	engine *engine.Engine
}

func newHandlers(e *engine.Engine) *handlers {
	return &handlers{engine: e}
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return apperr.Validation("request body required")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.CodeValidation, "invalid request body", err)
	}
	return nil
}

// --- memories ---

type addRequest struct {
	Content        string         `json:"content"`
	Category       string         `json:"category,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Source         string         `json:"source,omitempty"`
	IsCatalyst     bool           `json:"isCatalyst,omitempty"`
	ConversationID string         `json:"conversationId,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func (h *handlers) addMemory(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.engine.Memory.Add(r.Context(), req.Content, req.Metadata, req.IsCatalyst, req.Category, req.Source, req.ConversationID, req.Tags)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.IsDuplicate {
		status = http.StatusOK
	}
	writeData(w, r, status, newAddResponse(res))
}

type queryRequest struct {
	Query               string   `json:"query"`
	Limit               int      `json:"limit,omitempty"`
	SimilarityThreshold  float64  `json:"similarityThreshold,omitempty"`
	Tiers                []string `json:"tiers,omitempty"`
	ConversationID       string   `json:"conversationId,omitempty"`
}

func (h *handlers) queryMemories(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Query == "" {
		writeError(w, r, apperr.Validation("query must not be empty"))
		return
	}

	tiers := make([]models.Tier, len(req.Tiers))
	for i, t := range req.Tiers {
		tiers[i] = models.Tier(t)
	}

	res, err := h.engine.Memory.Query(r.Context(), req.Query, memory.QueryOptions{
		Limit: req.Limit, Threshold: req.SimilarityThreshold, Tiers: tiers, ConversationID: req.ConversationID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeDataTimed(w, r, http.StatusOK, newQueryResponse(res), res.QueryTime)
}

func (h *handlers) bootstrapMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := memory.BootstrapOptions{
		ConversationID: q.Get("conversationId"),
		Limit:          atoiDefault(q.Get("limit"), 50),
		IncludeActive:  boolDefault(q.Get("includeActive"), true),
		IncludeThread:  boolDefault(q.Get("includeThread"), true),
		IncludeStable:  boolDefault(q.Get("includeStable"), true),
	}

	res, err := h.engine.Memory.Bootstrap(r.Context(), h.engine.Handshake, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, newBootstrapResponse(res, opts.ConversationID))
}

type updateTierRequest struct {
	MemoryID string `json:"memoryId"`
	Tier     string `json:"tier"`
	Reason   string `json:"reason,omitempty"`
}

func (h *handlers) updateTier(w http.ResponseWriter, r *http.Request) {
	var req updateTierRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.MemoryID == "" {
		writeError(w, r, apperr.Validation("memoryId must not be empty"))
		return
	}

	reason := models.ReasonManual
	if req.Reason != "" {
		reason = models.PromotionReason(req.Reason)
	}

	updated, promotion, err := h.engine.Memory.UpdateTier(r.Context(), req.MemoryID, models.Tier(req.Tier), reason)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeData(w, r, http.StatusOK, map[string]any{
		"memory":     newMemoryDTO(updated),
		"promotion":  newPromotionDTO(promotion),
		"message":    "tier updated",
	})
}

// --- associations ---

func (h *handlers) discoverAssociations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	memoryID := q.Get("memoryId")
	if memoryID == "" {
		writeError(w, r, apperr.Validation("memoryId is required"))
		return
	}
	minStrength := atofDefault(q.Get("minStrength"), 0.1)
	limit := atoiDefault(q.Get("limit"), 20)

	associations, err := h.engine.Association.Discover(r.Context(), memoryID, minStrength, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{
		"memory_id":         memoryID,
		"associations":      newAssociationDTOs(associations),
		"total_associations": len(associations),
	})
}

func (h *handlers) associationHubs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := atoiDefault(q.Get("limit"), 10)
	minConnections := atoiDefault(q.Get("minConnections"), 5)

	hubs, err := h.engine.Association.Hubs(r.Context(), limit, minConnections)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{"hubs": newHubDTOs(hubs)})
}

func (h *handlers) networkStats(w http.ResponseWriter, r *http.Request) {
	memoryID := r.URL.Query().Get("memoryId")
	if memoryID == "" {
		writeError(w, r, apperr.Validation("memoryId is required"))
		return
	}

	stats, err := h.engine.Association.NetworkStats(r.Context(), memoryID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{"network_stats": newNetworkStatsDTO(stats)})
}

// --- meta ---

type conversationEndRequest struct {
	ConversationID string                    `json:"conversationId"`
	SessionMetrics *reflection.SessionMetrics `json:"sessionMetrics,omitempty"`
}

func (h *handlers) conversationEnd(w http.ResponseWriter, r *http.Request) {
	var req conversationEndRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ConversationID == "" {
		writeError(w, r, apperr.Validation("conversationId is required"))
		return
	}

	sm := reflection.SessionMetrics{}
	if req.SessionMetrics != nil {
		sm = *req.SessionMetrics
	}

	refl, err := h.engine.Reflection.Record(r.Context(), models.ReflectionConversationEnd, req.ConversationID, sm)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{"reflection": newReflectionDTO(refl)})
}

func (h *handlers) listReflections(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	conversationID := q.Get("conversationId")
	limit := atoiDefault(q.Get("limit"), 1)
	reflectionType := models.ReflectionType(q.Get("reflectionType"))

	reflections, err := h.engine.Reflection.List(r.Context(), conversationID, reflectionType, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{
		"reflections": newReflectionDTOs(reflections),
		"count":       len(reflections),
	})
}

type generateHandshakeRequest struct {
	Force bool `json:"force,omitempty"`
}

func (h *handlers) generateHandshake(w http.ResponseWriter, r *http.Request) {
	var req generateHandshakeRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}

	conversationID := r.URL.Query().Get("conversationId")
	res := h.engine.Handshake.Generate(r.Context(), conversationID, req.Force)
	writeData(w, r, http.StatusOK, map[string]any{"handshake": newHandshakeDTO(res)})
}

func (h *handlers) getHandshake(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversationId")
	res := h.engine.Handshake.Generate(r.Context(), conversationID, false)
	writeData(w, r, http.StatusOK, map[string]any{"handshake": newHandshakeDTO(res)})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if err := h.engine.Storage.DB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}
	embeddingStatus := "healthy"

	status := "healthy"
	httpStatus := http.StatusOK
	if dbStatus != "healthy" || embeddingStatus != "healthy" {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	writeData(w, r, httpStatus, map[string]any{
		"status":            status,
		"database":          dbStatus,
		"embedding_service":  embeddingStatus,
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *handlers) metrics(w http.ResponseWriter, r *http.Request) {
	cacheStats := h.engine.Cache.Stats()
	poolStats := h.engine.Storage.Stats()

	poolStatus := "healthy"
	if poolStats.Waiting > 5 {
		poolStatus = "degraded"
	}

	writeData(w, r, http.StatusOK, map[string]any{
		"cache": map[string]any{
			"hits": cacheStats.Hits, "misses": cacheStats.Misses,
			"hitRate": cacheStats.HitRate, "size": cacheStats.Size,
			"maxSize": h.engine.Config.EmbeddingCacheSize, "status": "healthy",
		},
		"database": map[string]any{
			"totalConnections": poolStats.Total, "idleConnections": poolStats.Idle,
			"waitingConnections": poolStats.Waiting, "status": poolStatus,
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *handlers) cacheStats(w http.ResponseWriter, r *http.Request) {
	stats := h.engine.Cache.Stats()
	recommendation := "cache is well-sized"
	if stats.HitRate < 0.3 && stats.Size > 0 {
		recommendation = "low hit rate — consider increasing EMBEDDING_CACHE_SIZE or TTL"
	}
	writeData(w, r, http.StatusOK, map[string]any{
		"cache": map[string]any{
			"hits": stats.Hits, "misses": stats.Misses,
			"hitRate": stats.HitRate, "size": stats.Size,
		},
		"recommendation": recommendation,
	})
}

func atoiDefault(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func atofDefault(s string, fallback float64) float64 {
	if s == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	return f
}

func boolDefault(s string, fallback bool) bool {
	if s == "" {
		return fallback
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return fallback
	}
	return b
}
