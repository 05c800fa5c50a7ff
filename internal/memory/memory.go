// Package memory is the Memory Service (C4): add/query/bootstrap/
// updateTier over the memory store, composing the embedding gateway,
// cache, and semantic consolidator.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"

	"github.com/anima-systems/anima-memory/internal/apperr"
	"github.com/anima-systems/anima-memory/internal/consolidate"
	"github.com/anima-systems/anima-memory/internal/embedding"
	embeddingcache "github.com/anima-systems/anima-memory/internal/embedding/cache"
	"github.com/anima-systems/anima-memory/internal/fingerprint"
	"github.com/anima-systems/anima-memory/internal/models"
	"github.com/anima-systems/anima-memory/internal/storage"
	"github.com/anima-systems/anima-memory/internal/tier"
)

const (
	defaultQueryThreshold = 0.5
	defaultQueryLimit     = 20
	maxQueryLimit         = 100
)

// CatalystProbe decides whether freshly added content should be treated
// as a catalyst when the caller didn't say so explicitly. Its heuristic
// is intentionally swappable — the spec leaves catalyst auto-detection
// unspecified, so the engine exposes a seam rather than guessing.
type CatalystProbe interface {
	Probe(ctx context.Context, content string) bool
}

// Deferred is the hook the Memory Service uses to schedule background
// work (deferred semantic re-check, catalyst probe, co-occurrence
// recording) without blocking the caller. Implemented by internal/worker.
type Deferred interface {
	ScheduleSemanticRecheck(memoryID string)
	ScheduleCatalystProbe(memoryID, content string)
	ScheduleCoOccurrence(memoryIDs []string, conversationID string)
}

// Service is the C4 component.
type Service struct {
	db            *storage.Adapter
	embed         *embedding.Gateway
	cache         *embeddingcache.Cache
	consolidator  *consolidate.Consolidator
	tiers         *tier.Engine
	deferred      Deferred
	consolidation bool
	logger        zerolog.Logger
}

// New builds a Service.
func New(db *storage.Adapter, embed *embedding.Gateway, cache *embeddingcache.Cache, consolidator *consolidate.Consolidator, tiers *tier.Engine, deferred Deferred, semanticConsolidation bool, logger zerolog.Logger) *Service {
	return &Service{
		db: db, embed: embed, cache: cache, consolidator: consolidator, tiers: tiers,
		deferred: deferred, consolidation: semanticConsolidation,
		logger: logger.With().Str("component", "memory").Logger(),
	}
}

// AddResult is the outcome of Add.
type AddResult struct {
	Memory             models.Memory
	IsDuplicate        bool
	ExactMatch         bool
	IsMerged           bool
	EmbeddingProvider  embedding.Tag
}

// embedCached fetches text's embedding, preferring the embedding cache
// over a provider round-trip.
func (s *Service) embedCached(ctx context.Context, text string) ([]float32, embedding.Tag, error) {
	fp := fingerprint.Of(text)
	if vec, tag, ok := s.cache.Get(fp); ok {
		return vec, embedding.Tag(tag), nil
	}

	vec, tag, err := s.embed.Embed(ctx, text)
	if err != nil {
		return nil, "", err
	}
	s.cache.Put(fp, vec, string(tag))
	return vec, tag, nil
}

// Add fingerprints and embeds content, resolves it against existing
// memories (semantic merge if consolidation is enabled, otherwise exact
// dedup), and otherwise inserts a new active memory. Background
// re-check and catalyst-probe jobs are scheduled but never block the
// response.
func (s *Service) Add(ctx context.Context, content string, metadata map[string]any, isCatalyst bool, category, source, conversationID string, tags []string) (AddResult, error) {
	if content == "" {
		return AddResult{}, apperr.Validation("content must not be empty")
	}
	fp := fingerprint.Of(content)

	vec, tag, err := s.embedCached(ctx, content)
	if err != nil {
		return AddResult{}, err
	}

	if s.consolidation {
		dup, found, err := s.consolidator.FindSemanticDuplicate(ctx, vec, consolidate.DuplicateThreshold)
		if err != nil {
			return AddResult{}, apperr.Wrap(apperr.CodeConsolidation, "semantic duplicate lookup failed", err)
		}
		if found {
			merged, err := s.consolidator.MergeIntoCentroid(ctx, dup.ID, content, isCatalyst, dup.Similarity)
			if err != nil {
				return AddResult{}, err
			}
			return AddResult{Memory: merged, IsDuplicate: true, IsMerged: true, EmbeddingProvider: tag}, nil
		}
	}

	existing, found, err := s.findByFingerprint(ctx, fp)
	if err != nil {
		return AddResult{}, err
	}
	if found {
		updated, err := s.touchExisting(ctx, existing.ID)
		if err != nil {
			return AddResult{}, err
		}
		return AddResult{Memory: updated, IsDuplicate: true, ExactMatch: true, EmbeddingProvider: tag}, nil
	}

	phi := 0.0
	if isCatalyst {
		phi = 1.0
	}

	inserted, err := s.insert(ctx, content, fp, vec, phi, isCatalyst, category, source, conversationID, tags, metadata)
	if err != nil {
		return AddResult{}, err
	}

	if s.deferred != nil {
		s.deferred.ScheduleSemanticRecheck(inserted.ID)
		if !isCatalyst {
			s.deferred.ScheduleCatalystProbe(inserted.ID, content)
		}
	}

	return AddResult{Memory: inserted, EmbeddingProvider: tag}, nil
}

func (s *Service) findByFingerprint(ctx context.Context, fp string) (models.Memory, bool, error) {
	query := fmt.Sprintf(`SELECT * FROM %s WHERE content_fingerprint = $1 AND deleted_at IS NULL`, s.db.Table("memories"))
	var row storage.MemoryRow
	if err := s.db.DB.GetContext(ctx, &row, query, fp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Memory{}, false, nil
		}
		return models.Memory{}, false, fmt.Errorf("lookup by fingerprint: %w", err)
	}
	m, err := row.ToModel()
	return m, true, err
}

func (s *Service) touchExisting(ctx context.Context, id string) (models.Memory, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET access_count = access_count + 1, last_accessed_at = now(), updated_at = now()
		WHERE id = $1
		RETURNING *`, s.db.Table("memories"))
	var row storage.MemoryRow
	if err := s.db.DB.GetContext(ctx, &row, query, id); err != nil {
		return models.Memory{}, fmt.Errorf("touch existing memory: %w", err)
	}
	return row.ToModel()
}

func (s *Service) insert(ctx context.Context, content, fp string, vec []float32, phi float64, isCatalyst bool, category, source, conversationID string, tags []string, metadata map[string]any) (models.Memory, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return models.Memory{}, err
	}
	if tags == nil {
		tags = []string{}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (content, content_fingerprint, embedding, tier, resonance_phi, is_catalyst, category, tags, source, conversation_id, metadata)
		VALUES ($1, $2, $3, 'active', $4, $5, $6, $7, $8, $9, $10)
		RETURNING *`, s.db.Table("memories"))

	var row storage.MemoryRow
	err = s.db.DB.GetContext(ctx, &row, query,
		content, fp, pgvector.NewVector(vec), phi, isCatalyst,
		nullable(category), pq.StringArray(tags), nullable(source), nullable(conversationID), metadataJSON)
	if err != nil {
		return models.Memory{}, fmt.Errorf("insert memory: %w", err)
	}
	return row.ToModel()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// QueryOptions configure Query.
type QueryOptions struct {
	Limit          int
	Threshold      float64
	Tiers          []models.Tier
	ConversationID string
}

// QueryResult is the outcome of Query.
type QueryResult struct {
	Memories          []models.Memory
	Promotions        []tier.Promotion
	QueryTime         time.Duration
	EmbeddingProvider embedding.Tag
}

// Query embeds text, finds live memories above the similarity threshold
// ranked by structural weight, records the access update in one batched
// statement, applies any auto-promotions (one update and audit row per
// promoted memory), and schedules co-occurrence recording asynchronously.
func (s *Service) Query(ctx context.Context, text string, opts QueryOptions) (QueryResult, error) {
	start := time.Now()

	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = 0
	}
	if opts.Threshold == 0 {
		threshold = defaultQueryThreshold
	}
	limit := opts.Limit
	if limit == 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	if limit <= 0 {
		return QueryResult{QueryTime: time.Since(start)}, nil
	}

	vec, tag, err := s.embedCached(ctx, text)
	if err != nil {
		return QueryResult{}, err
	}

	type scored struct {
		storage.MemoryRow
		Similarity       float64 `db:"similarity"`
		StructuralWeight float64 `db:"structural_weight"`
	}

	tierFilter := ""
	args := []any{pgvector.NewVector(vec), threshold, limit}
	if len(opts.Tiers) > 0 {
		tierStrs := make([]string, len(opts.Tiers))
		for i, t := range opts.Tiers {
			tierStrs[i] = string(t)
		}
		tierFilter = " AND tier = ANY($4)"
		args = append(args, pq.Array(tierStrs))
	}

	query := fmt.Sprintf(`
		SELECT *, (1 - (embedding <=> $1::vector)) AS similarity,
		       ((1 - (embedding <=> $1::vector)) * 0.7 + (resonance_phi / 5.0) * 0.3) AS structural_weight
		FROM %s
		WHERE deleted_at IS NULL
		  AND (1 - (embedding <=> $1::vector)) >= $2%s
		ORDER BY structural_weight DESC, resonance_phi DESC
		LIMIT $3`, s.db.Table("memories"), tierFilter)

	var rows []scored
	if err := s.db.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return QueryResult{}, fmt.Errorf("query memories: %w", err)
	}
	if len(rows) == 0 {
		return QueryResult{QueryTime: time.Since(start), EmbeddingProvider: tag}, nil
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}

	updateQuery := fmt.Sprintf(`
		UPDATE %s SET access_count = access_count + 1, last_accessed_at = now(),
		              resonance_phi = LEAST(resonance_phi + 0.1, 5.0), updated_at = now()
		WHERE id = ANY($1)
		RETURNING id, tier, access_count`, s.db.Table("memories"))

	var updatedRows []struct {
		ID          string `db:"id"`
		Tier        string `db:"tier"`
		AccessCount int64  `db:"access_count"`
	}
	if err := s.db.DB.SelectContext(ctx, &updatedRows, updateQuery, pq.Array(ids)); err != nil {
		return QueryResult{}, fmt.Errorf("batched access-count update: %w", err)
	}

	candidates := make([]tier.PromotionCandidate, len(updatedRows))
	for i, u := range updatedRows {
		candidates[i] = tier.PromotionCandidate{ID: u.ID, CurrentTier: models.Tier(u.Tier), AccessCount: u.AccessCount}
	}
	promotions, err := s.tiers.ApplyAutoPromotions(ctx, candidates)
	if err != nil {
		s.logger.Warn().Err(err).Msg("auto-promotion pass failed")
		promotions = nil
	}

	memories := make([]models.Memory, len(rows))
	for i, r := range rows {
		m, err := r.ToModel()
		if err != nil {
			return QueryResult{}, err
		}
		memories[i] = m
	}

	if s.deferred != nil && len(ids) >= 2 {
		s.deferred.ScheduleCoOccurrence(ids, opts.ConversationID)
	}

	return QueryResult{
		Memories: memories, Promotions: promotions,
		QueryTime: time.Since(start), EmbeddingProvider: tag,
	}, nil
}

// UpdateTier delegates to the tier engine.
func (s *Service) UpdateTier(ctx context.Context, memoryID string, newTier models.Tier, reason models.PromotionReason) (models.Memory, models.TierPromotion, error) {
	return s.tiers.UpdateTier(ctx, memoryID, newTier, reason)
}
