// Package association is the Association Engine (C7): it records
// co-occurrence between memories returned together from a query as an
// undirected graph of ordered-pair edges, and answers hub/network
// queries over that graph.
package association

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/anima-systems/anima-memory/internal/models"
	"github.com/anima-systems/anima-memory/internal/storage"
)

// maxBatchPairs bounds how many association pairs are upserted in a
// single statement; larger sets are chunked and committed sequentially.
const maxBatchPairs = 1000

// initialStrength is the strength a brand-new association starts at:
// ln(1 + 1) / 10, the same curve upserts follow as co_occurrence_count grows.
var initialStrength = math.Log(2) / 10

// Engine is the C7 component.
type Engine struct {
	db     *storage.Adapter
	logger zerolog.Logger
}

// New builds an Engine.
func New(db *storage.Adapter, logger zerolog.Logger) *Engine {
	return &Engine{db: db, logger: logger.With().Str("component", "association").Logger()}
}

// RecordCoOccurrence forms every C(N,2) ordered pair among memoryIDs and
// upserts each as an association, incrementing co_occurrence_count and
// recomputing strength. It is designed to be called from a background
// worker: chunk failures are logged, not returned as a caller-facing
// error, so one bad chunk never discards the others.
func (e *Engine) RecordCoOccurrence(ctx context.Context, memoryIDs []string, conversationID string) {
	pairs := allPairs(memoryIDs)
	if len(pairs) == 0 {
		return
	}

	for start := 0; start < len(pairs); start += maxBatchPairs {
		end := start + maxBatchPairs
		if end > len(pairs) {
			end = len(pairs)
		}
		if err := e.upsertChunk(ctx, pairs[start:end], conversationID); err != nil {
			e.logger.Warn().Err(err).
				Int("chunk_start", start).Int("chunk_end", end).
				Msg("co-occurrence chunk upsert failed")
		}
	}
}

// allPairs returns every ordered pair (a < b) among ids, deduplicated.
func allPairs(ids []string) [][2]string {
	seen := make(map[[2]string]struct{})
	pairs := make([][2]string, 0, len(ids)*(len(ids)-1)/2)
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := models.OrderedPair(ids[i], ids[j])
			if a == b {
				continue
			}
			key := [2]string{a, b}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			pairs = append(pairs, key)
		}
	}
	return pairs
}

// upsertChunk upserts pairs as a single batched multi-row INSERT, matching
// the ON CONFLICT DO UPDATE semantics of the per-pair case but generalized
// to a VALUES list of arbitrary width: conflicting rows within the same
// statement all resolve against EXCLUDED, Postgres's view of the row that
// would have been inserted, rather than a fixed placeholder.
func (e *Engine) upsertChunk(ctx context.Context, pairs [][2]string, conversationID string) error {
	contexts := pq.StringArray{}
	if conversationID != "" {
		contexts = pq.StringArray{conversationID}
	}

	now := time.Now()
	cols := []string{
		"memory_a", "memory_b", "co_occurrence_count", "strength",
		"first_co_occurred_at", "last_co_occurred_at", "conversation_contexts",
	}
	rows := make([][]any, len(pairs))
	for i, p := range pairs {
		rows[i] = []any{p[0], p[1], 1, initialStrength, now, now, contexts}
	}

	suffix := fmt.Sprintf(`ON CONFLICT (memory_a, memory_b) DO UPDATE SET
			co_occurrence_count = %[1]s.co_occurrence_count + 1,
			strength = LEAST(ln(1 + %[1]s.co_occurrence_count + 1) / 10, 1.0),
			last_co_occurred_at = now(),
			conversation_contexts = %[1]s.conversation_contexts || excluded.conversation_contexts`,
		e.db.Table("memory_associations"))

	if err := e.db.BatchInsert(ctx, "memory_associations", cols, rows, suffix); err != nil {
		return fmt.Errorf("batch upsert %d association(s): %w", len(pairs), err)
	}
	return nil
}

// Association mirrors one row of memory_associations for query results.
type Association struct {
	MemoryA           string
	MemoryB           string
	CoOccurrenceCount int64
	Strength          float64
	LastCoOccurredAt  string
}

// Discover returns the associations touching memoryID with strength at
// least minStrength, strongest first, ties broken by most recent.
func (e *Engine) Discover(ctx context.Context, memoryID string, minStrength float64, limit int) ([]Association, error) {
	query := fmt.Sprintf(`
		SELECT memory_a, memory_b, co_occurrence_count, strength, last_co_occurred_at::text
		FROM %s
		WHERE (memory_a = $1 OR memory_b = $1) AND strength >= $2
		ORDER BY strength DESC, last_co_occurred_at DESC
		LIMIT $3`, e.db.Table("memory_associations"))

	var rows []struct {
		MemoryA           string  `db:"memory_a"`
		MemoryB           string  `db:"memory_b"`
		CoOccurrenceCount int64   `db:"co_occurrence_count"`
		Strength          float64 `db:"strength"`
		LastCoOccurredAt  string  `db:"last_co_occurred_at"`
	}
	if err := e.db.DB.SelectContext(ctx, &rows, query, memoryID, minStrength, limit); err != nil {
		return nil, fmt.Errorf("discover associations: %w", err)
	}

	out := make([]Association, len(rows))
	for i, r := range rows {
		out[i] = Association{
			MemoryA: r.MemoryA, MemoryB: r.MemoryB,
			CoOccurrenceCount: r.CoOccurrenceCount, Strength: r.Strength,
			LastCoOccurredAt: r.LastCoOccurredAt,
		}
	}
	return out, nil
}

// Hub is a memory with many strong associations.
type Hub struct {
	MemoryID    string
	Connections int64
	TotalStrength float64
}

// Hubs returns the memories with at least minConnections associations,
// ranked by connection count. Associations of every strength are counted;
// there is no strength threshold.
func (e *Engine) Hubs(ctx context.Context, limit, minConnections int) ([]Hub, error) {
	query := fmt.Sprintf(`
		WITH endpoints AS (
			SELECT memory_a AS memory_id, strength FROM %[1]s
			UNION ALL
			SELECT memory_b AS memory_id, strength FROM %[1]s
		)
		SELECT memory_id, COUNT(*) AS connections, SUM(strength) AS total_strength
		FROM endpoints
		GROUP BY memory_id
		HAVING COUNT(*) >= $1
		ORDER BY connections DESC
		LIMIT $2`, e.db.Table("memory_associations"))

	var rows []struct {
		MemoryID      string  `db:"memory_id"`
		Connections   int64   `db:"connections"`
		TotalStrength float64 `db:"total_strength"`
	}
	if err := e.db.DB.SelectContext(ctx, &rows, query, minConnections, limit); err != nil {
		return nil, fmt.Errorf("hubs query: %w", err)
	}

	out := make([]Hub, len(rows))
	for i, r := range rows {
		out[i] = Hub{MemoryID: r.MemoryID, Connections: r.Connections, TotalStrength: r.TotalStrength}
	}
	return out, nil
}

// NetworkStats summarizes one memory's position in the association graph.
type NetworkStats struct {
	MemoryID         string
	TotalConnections int64
	AvgStrength      float64
	MaxStrength      float64
}

// NetworkStats computes aggregate connection statistics for a memory.
func (e *Engine) NetworkStats(ctx context.Context, memoryID string) (NetworkStats, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*) AS total_connections,
		       COALESCE(AVG(strength), 0) AS avg_strength,
		       COALESCE(MAX(strength), 0) AS max_strength
		FROM %s
		WHERE memory_a = $1 OR memory_b = $1`, e.db.Table("memory_associations"))

	var row struct {
		TotalConnections int64   `db:"total_connections"`
		AvgStrength      float64 `db:"avg_strength"`
		MaxStrength      float64 `db:"max_strength"`
	}
	if err := e.db.DB.GetContext(ctx, &row, query, memoryID); err != nil {
		return NetworkStats{}, fmt.Errorf("network stats query: %w", err)
	}

	return NetworkStats{
		MemoryID: memoryID, TotalConnections: row.TotalConnections,
		AvgStrength: row.AvgStrength, MaxStrength: row.MaxStrength,
	}, nil
}
