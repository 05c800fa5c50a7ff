// Package reflection is the Reflection Recorder (C9): it turns a raw
// session-metrics snapshot into a persisted Reflection row with derived
// friction/retrieval/hub sub-blocks and a handful of plain-English
// insights and recommendations.
package reflection

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/anima-systems/anima-memory/internal/association"
	"github.com/anima-systems/anima-memory/internal/models"
	"github.com/anima-systems/anima-memory/internal/storage"
)

// Friction feel thresholds (fraction of loaded memories never accessed).
const (
	wasteSmoothCeiling = 0.2
	wasteStickyCeiling = 0.5
)

const hubBlockSize = 5

// SessionMetrics is the raw input handed to Record by a caller (typically
// the HTTP layer at conversation end, or a scheduled weekly job).
type SessionMetrics struct {
	LoadTimeMS        int64    `json:"loadTimeMs"`
	MemoriesLoaded    int      `json:"memoriesLoaded"`
	MemoriesAccessed  int      `json:"memoriesAccessed"`
	AccessedMemoryIDs []string `json:"accessedMemoryIds"`

	Queries           int       `json:"queries"`
	QueryResultCounts []int     `json:"queryResultCounts"`
	QueryHits         int       `json:"queryHits"`
	RelevanceScores   []float64 `json:"relevanceScores"`
}

// Friction describes how much of what was loaded into context went unused.
type Friction struct {
	LoadTimeMS       int64   `json:"load_time_ms"`
	MemoriesLoaded   int     `json:"memories_loaded"`
	MemoriesAccessed int     `json:"memories_accessed"`
	WasteRatio       float64 `json:"waste_ratio"`
	Feel             string  `json:"feel"`
}

// Retrieval summarizes how well queries during the session performed.
type Retrieval struct {
	Queries      int     `json:"queries"`
	AvgResults   float64 `json:"avg_results"`
	HitRate      float64 `json:"hit_rate"`
	AvgRelevance float64 `json:"avg_relevance"`
}

// HubEntry is one memory's position in the association graph, surfaced as
// part of a reflection's hub block.
type HubEntry struct {
	MemoryID         string  `json:"memory_id"`
	TotalConnections int64   `json:"total_connections"`
	AvgStrength      float64 `json:"avg_strength"`
}

// Recorder is the C9 component.
type Recorder struct {
	db           *storage.Adapter
	associations *association.Engine
	logger       zerolog.Logger
}

// New builds a Recorder.
func New(db *storage.Adapter, associations *association.Engine, logger zerolog.Logger) *Recorder {
	return &Recorder{db: db, associations: associations, logger: logger.With().Str("component", "reflection").Logger()}
}

// Record computes friction/retrieval/hub metrics from sm, derives insights
// and recommendations, and persists the result as a Reflection row.
func (r *Recorder) Record(ctx context.Context, reflectionType models.ReflectionType, conversationID string, sm SessionMetrics) (models.Reflection, error) {
	friction := computeFriction(sm)
	retrieval := computeRetrieval(sm)
	hubs := r.computeHubs(ctx, sm.AccessedMemoryIDs)

	metrics := map[string]any{
		"friction":  friction,
		"retrieval": retrieval,
		"hubs":      hubs,
	}
	insights := deriveInsights(friction, retrieval)
	recommendations := deriveRecommendations(friction, retrieval)

	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return models.Reflection{}, fmt.Errorf("marshal reflection metrics: %w", err)
	}

	row := reflectionRow{
		ReflectionType: string(reflectionType),
		ConversationID: nullable(conversationID),
		Metrics:        metricsJSON,
		Insights:       pq.StringArray(insights),
		Recommendations: pq.StringArray(recommendations),
		CreatedAt:      time.Now(),
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (reflection_type, conversation_id, metrics, insights, recommendations)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`, r.db.Table("meta_reflections"))

	if err := r.db.DB.GetContext(ctx, &row, query,
		row.ReflectionType, row.ConversationID, row.Metrics, row.Insights, row.Recommendations); err != nil {
		return models.Reflection{}, fmt.Errorf("insert reflection: %w", err)
	}

	return models.Reflection{
		ID:              row.ID,
		ReflectionType:  reflectionType,
		ConversationID:  conversationID,
		Metrics:         metrics,
		Insights:        insights,
		Recommendations: recommendations,
		CreatedAt:       row.CreatedAt,
	}, nil
}

// List returns the most recent reflections, optionally filtered by
// conversationID and/or reflectionType.
func (r *Recorder) List(ctx context.Context, conversationID string, reflectionType models.ReflectionType, limit int) ([]models.Reflection, error) {
	if limit <= 0 {
		limit = 1
	}

	where := ""
	args := []any{limit}
	if conversationID != "" {
		args = append(args, conversationID)
		where += fmt.Sprintf(" AND conversation_id = $%d", len(args))
	}
	if reflectionType != "" {
		args = append(args, string(reflectionType))
		where += fmt.Sprintf(" AND reflection_type = $%d", len(args))
	}

	query := fmt.Sprintf(`
		SELECT * FROM %s
		WHERE true %s
		ORDER BY created_at DESC
		LIMIT $1`, r.db.Table("meta_reflections"), where)

	var rows []reflectionRow
	if err := r.db.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list reflections: %w", err)
	}

	out := make([]models.Reflection, len(rows))
	for i, row := range rows {
		m, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

func computeFriction(sm SessionMetrics) Friction {
	waste := 0.0
	if sm.MemoriesLoaded > 0 {
		waste = 1 - float64(sm.MemoriesAccessed)/float64(sm.MemoriesLoaded)
		if waste < 0 {
			waste = 0
		}
	}

	feel := "smooth"
	switch {
	case waste >= wasteStickyCeiling:
		feel = "rough"
	case waste >= wasteSmoothCeiling:
		feel = "sticky"
	}

	return Friction{
		LoadTimeMS:       sm.LoadTimeMS,
		MemoriesLoaded:   sm.MemoriesLoaded,
		MemoriesAccessed: sm.MemoriesAccessed,
		WasteRatio:       waste,
		Feel:             feel,
	}
}

func computeRetrieval(sm SessionMetrics) Retrieval {
	if sm.Queries == 0 {
		return Retrieval{}
	}

	totalResults := 0
	for _, c := range sm.QueryResultCounts {
		totalResults += c
	}

	avgRelevance := 0.0
	if len(sm.RelevanceScores) > 0 {
		sum := 0.0
		for _, v := range sm.RelevanceScores {
			sum += v
		}
		avgRelevance = sum / float64(len(sm.RelevanceScores))
	}

	return Retrieval{
		Queries:      sm.Queries,
		AvgResults:   float64(totalResults) / float64(sm.Queries),
		HitRate:      float64(sm.QueryHits) / float64(sm.Queries),
		AvgRelevance: avgRelevance,
	}
}

// computeHubs looks up network stats for each accessed memory and returns
// the top hubBlockSize by connection count. Failures are logged and treated
// as "no hub data" rather than failing the whole reflection.
func (r *Recorder) computeHubs(ctx context.Context, memoryIDs []string) []HubEntry {
	if r.associations == nil || len(memoryIDs) == 0 {
		return nil
	}

	entries := make([]HubEntry, 0, len(memoryIDs))
	for _, id := range memoryIDs {
		stats, err := r.associations.NetworkStats(ctx, id)
		if err != nil {
			r.logger.Warn().Err(err).Str("memory_id", id).Msg("hub lookup failed")
			continue
		}
		if stats.TotalConnections == 0 {
			continue
		}
		entries = append(entries, HubEntry{
			MemoryID:         id,
			TotalConnections: stats.TotalConnections,
			AvgStrength:      stats.AvgStrength,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].TotalConnections > entries[j].TotalConnections
	})
	if len(entries) > hubBlockSize {
		entries = entries[:hubBlockSize]
	}
	return entries
}

func deriveInsights(f Friction, r Retrieval) []string {
	var insights []string

	switch f.Feel {
	case "smooth":
		insights = append(insights, "context loading was efficient: nearly everything loaded got used")
	case "sticky":
		insights = append(insights, fmt.Sprintf("about %.0f%% of loaded memories went unused this session", f.WasteRatio*100))
	case "rough":
		insights = append(insights, fmt.Sprintf("%.0f%% of loaded memories went unused; bootstrap is over-fetching for this conversation", f.WasteRatio*100))
	}

	if r.Queries > 0 {
		if r.HitRate >= 0.8 {
			insights = append(insights, "most queries returned relevant hits")
		} else if r.HitRate < 0.5 {
			insights = append(insights, "fewer than half of queries returned a usable hit")
		}
	}

	if len(insights) == 0 {
		insights = append(insights, "no retrieval activity recorded for this session")
	}
	return insights
}

func deriveRecommendations(f Friction, r Retrieval) []string {
	var recs []string

	if f.Feel == "rough" {
		recs = append(recs, "lower the bootstrap limit or raise the conversation-boost floor to reduce unused context")
	}
	if r.Queries > 0 && r.HitRate < 0.5 {
		recs = append(recs, "consider lowering the query similarity threshold")
	}
	if r.Queries > 0 && r.AvgRelevance > 0 && r.AvgRelevance < 0.6 {
		recs = append(recs, "returned memories trend low-relevance; review embedding provider or threshold")
	}
	return recs
}

// reflectionRow mirrors a meta_reflections row for scanning; metrics,
// insights, and recommendations are decoded separately from
// models.Reflection's Go-native fields.
type reflectionRow struct {
	ID              string         `db:"id"`
	ReflectionType  string         `db:"reflection_type"`
	ConversationID  *string        `db:"conversation_id"`
	Metrics         []byte         `db:"metrics"`
	Insights        pq.StringArray `db:"insights"`
	Recommendations pq.StringArray `db:"recommendations"`
	CreatedAt       time.Time      `db:"created_at"`
}

func (row reflectionRow) toModel() (models.Reflection, error) {
	var metrics map[string]any
	if len(row.Metrics) > 0 {
		if err := json.Unmarshal(row.Metrics, &metrics); err != nil {
			return models.Reflection{}, fmt.Errorf("decode reflection metrics: %w", err)
		}
	}

	conversationID := ""
	if row.ConversationID != nil {
		conversationID = *row.ConversationID
	}

	return models.Reflection{
		ID:              row.ID,
		ReflectionType:  models.ReflectionType(row.ReflectionType),
		ConversationID:  conversationID,
		Metrics:         metrics,
		Insights:        []string(row.Insights),
		Recommendations: []string(row.Recommendations),
		CreatedAt:       row.CreatedAt,
	}, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
