// Package consolidate is the Semantic Consolidator (C5): it treats
// near-duplicate memories as fragments of the same attractor and merges
// them into a centroid, tracking the merge history in each memory's
// metadata.
package consolidate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"

	"github.com/anima-systems/anima-memory/internal/apperr"
	embeddingcache "github.com/anima-systems/anima-memory/internal/embedding/cache"
	"github.com/anima-systems/anima-memory/internal/fingerprint"
	"github.com/anima-systems/anima-memory/internal/models"
	"github.com/anima-systems/anima-memory/internal/storage"
)

// DuplicateThreshold is the similarity at or above which add() treats a
// new embedding as the same attractor rather than a new memory.
const DuplicateThreshold = 0.95

// Consolidator is the C5 component. It operates directly against the
// memories table through the shared storage adapter.
type Consolidator struct {
	db      *storage.Adapter
	hintBus *embeddingcache.HintBus
	logger  zerolog.Logger
}

// New builds a Consolidator. hintBus may be nil, in which case merges
// never publish a cross-process cache invalidation hint.
func New(db *storage.Adapter, hintBus *embeddingcache.HintBus, logger zerolog.Logger) *Consolidator {
	return &Consolidator{db: db, hintBus: hintBus, logger: logger.With().Str("component", "consolidate").Logger()}
}

// Duplicate is the result of findSemanticDuplicate.
type Duplicate struct {
	ID         string
	Similarity float64
}

// FindSemanticDuplicate returns the highest-similarity live memory at or
// above threshold, or (Duplicate{}, false) if none qualifies.
func (c *Consolidator) FindSemanticDuplicate(ctx context.Context, embedding []float32, threshold float64) (Duplicate, bool, error) {
	query := fmt.Sprintf(`
		SELECT id, (1 - (embedding <=> $1::vector)) AS similarity
		FROM %s
		WHERE deleted_at IS NULL
		  AND (1 - (embedding <=> $1::vector)) >= $2
		ORDER BY similarity DESC
		LIMIT 1`, c.db.Table("memories"))

	var row struct {
		ID         string  `db:"id"`
		Similarity float64 `db:"similarity"`
	}
	err := c.db.DB.GetContext(ctx, &row, query, pgvector.NewVector(embedding), threshold)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Duplicate{}, false, nil
		}
		return Duplicate{}, false, fmt.Errorf("find semantic duplicate: %w", err)
	}
	return Duplicate{ID: row.ID, Similarity: row.Similarity}, true, nil
}

// FindSemanticDuplicateExcluding is FindSemanticDuplicate but ignores
// excludeID itself, for the deferred re-check where the candidate memory's
// own row would otherwise always win at similarity 1.0.
func (c *Consolidator) FindSemanticDuplicateExcluding(ctx context.Context, embedding []float32, threshold float64, excludeID string) (Duplicate, bool, error) {
	query := fmt.Sprintf(`
		SELECT id, (1 - (embedding <=> $1::vector)) AS similarity
		FROM %s
		WHERE deleted_at IS NULL AND id != $3
		  AND (1 - (embedding <=> $1::vector)) >= $2
		ORDER BY similarity DESC
		LIMIT 1`, c.db.Table("memories"))

	var row struct {
		ID         string  `db:"id"`
		Similarity float64 `db:"similarity"`
	}
	err := c.db.DB.GetContext(ctx, &row, query, pgvector.NewVector(embedding), threshold, excludeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Duplicate{}, false, nil
		}
		return Duplicate{}, false, fmt.Errorf("find semantic duplicate excluding self: %w", err)
	}
	return Duplicate{ID: row.ID, Similarity: row.Similarity}, true, nil
}

// semanticVariantsKey is the metadata key append-only variant history
// lives under.
const semanticVariantsKey = "semantic_variants"

// MergeIntoCentroid folds newContent into the target memory: it appends a
// semantic-variant record, upgrades is_catalyst (never downgrades), and
// adds phi scaled by whether the new content was itself a catalyst and by
// how similar it was. The whole read-modify-write happens in one
// transaction so concurrent merges on the same target never lose updates.
func (c *Consolidator) MergeIntoCentroid(ctx context.Context, targetID, newContent string, wasCatalyst bool, similarity float64) (models.Memory, error) {
	var merged models.Memory
	mergedFingerprint := fingerprint.Of(newContent)

	err := c.db.Tx(ctx, func(tx *sqlx.Tx) error {
		var row storage.MemoryRow
		selectQuery := fmt.Sprintf(`SELECT * FROM %s WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, c.db.Table("memories"))
		if err := tx.GetContext(ctx, &row, selectQuery, targetID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperr.NotFound("merge target memory not found")
			}
			return fmt.Errorf("load merge target: %w", err)
		}

		metadata := map[string]any{}
		if len(row.Metadata) > 0 {
			if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
				return fmt.Errorf("decode metadata: %w", err)
			}
		}

		variants, _ := metadata[semanticVariantsKey].([]any)
		variants = append(variants, map[string]any{
			"content":         newContent,
			"merged_at":       time.Now().UTC().Format(time.RFC3339Nano),
			"similarity":      similarity,
			"phi_contributed": phiContribution(wasCatalyst, similarity),
			"was_catalyst":    wasCatalyst,
		})
		metadata[semanticVariantsKey] = variants

		metadataJSON, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}

		newPhi := models.ClampResonance(row.ResonancePhi + phiContribution(wasCatalyst, similarity))
		newCatalyst := row.IsCatalyst || wasCatalyst

		updateQuery := fmt.Sprintf(`
			UPDATE %s
			SET metadata = $1, access_count = access_count + 1, resonance_phi = $2,
			    is_catalyst = $3, updated_at = now()
			WHERE id = $4
			RETURNING *`, c.db.Table("memories"))

		var updated storage.MemoryRow
		if err := tx.GetContext(ctx, &updated, updateQuery, metadataJSON, newPhi, newCatalyst, targetID); err != nil {
			return fmt.Errorf("apply merge: %w", err)
		}

		merged, err = updated.ToModel()
		return err
	})
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return models.Memory{}, err
		}
		return models.Memory{}, apperr.Wrap(apperr.CodeConsolidation, "merge into centroid failed", err)
	}

	if c.hintBus != nil {
		if err := c.hintBus.Publish(ctx, mergedFingerprint); err != nil {
			c.logger.Warn().Err(err).Str("fingerprint", mergedFingerprint).Msg("cache invalidation hint publish failed")
		}
	}

	return merged, nil
}

// phiContribution is the resonance increment a merge contributes, per
// §4.5: catalyst content contributes more, and a near-exact match
// contributes its full weight while a looser match is scaled down.
func phiContribution(wasCatalyst bool, similarity float64) float64 {
	base := 0.1
	if wasCatalyst {
		base = 1.0
	}
	if similarity >= 0.98 {
		return base * 1.0
	}
	return base * 0.9
}

// ClusterMember is one entry of findSemanticCluster's result.
type ClusterMember struct {
	ID           string
	Similarity   float64
	ResonancePhi float64
}

// FindSemanticCluster returns live memories within radius of embedding
// that also meet minPhi, ordered by phi then similarity, capped at 20.
func (c *Consolidator) FindSemanticCluster(ctx context.Context, embedding []float32, radius, minPhi float64) ([]ClusterMember, error) {
	query := fmt.Sprintf(`
		SELECT id, (1 - (embedding <=> $1::vector)) AS similarity, resonance_phi
		FROM %s
		WHERE deleted_at IS NULL
		  AND (1 - (embedding <=> $1::vector)) >= $2
		  AND resonance_phi >= $3
		ORDER BY resonance_phi DESC, similarity DESC
		LIMIT 20`, c.db.Table("memories"))

	var rows []struct {
		ID           string  `db:"id"`
		Similarity   float64 `db:"similarity"`
		ResonancePhi float64 `db:"resonance_phi"`
	}
	if err := c.db.DB.SelectContext(ctx, &rows, query, pgvector.NewVector(embedding), 1.0-radius, minPhi); err != nil {
		return nil, fmt.Errorf("find semantic cluster: %w", err)
	}

	out := make([]ClusterMember, len(rows))
	for i, r := range rows {
		out[i] = ClusterMember{ID: r.ID, Similarity: r.Similarity, ResonancePhi: r.ResonancePhi}
	}
	return out, nil
}

// FragmentationClass classifies a candidate pair for detectPhiFragmentation.
type FragmentationClass string

const (
	ClassHighConfidenceMerge FragmentationClass = "HIGH_CONFIDENCE_MERGE"
	ClassPotentialMerge      FragmentationClass = "POTENTIAL_MERGE"
	ClassRelated             FragmentationClass = "RELATED"
)

// FragmentationCandidate is one pair flagged by detectPhiFragmentation.
type FragmentationCandidate struct {
	MemoryA, MemoryB string
	Similarity       float64
	TotalPhi         float64
	Class            FragmentationClass
}

// DetectPhiFragmentation finds pairs of live memories whose embeddings are
// similar enough to suggest the same concept exists as separate rows.
func (c *Consolidator) DetectPhiFragmentation(ctx context.Context, threshold float64) ([]FragmentationCandidate, error) {
	query := fmt.Sprintf(`
		SELECT a.id AS memory_a, b.id AS memory_b,
		       (1 - (a.embedding <=> b.embedding)) AS similarity,
		       a.resonance_phi + b.resonance_phi AS total_phi
		FROM %s a
		JOIN %s b ON a.id < b.id
		WHERE a.deleted_at IS NULL AND b.deleted_at IS NULL
		  AND (1 - (a.embedding <=> b.embedding)) >= $1
		ORDER BY total_phi DESC, similarity DESC
		LIMIT 50`, c.db.Table("memories"), c.db.Table("memories"))

	var rows []struct {
		MemoryA    string  `db:"memory_a"`
		MemoryB    string  `db:"memory_b"`
		Similarity float64 `db:"similarity"`
		TotalPhi   float64 `db:"total_phi"`
	}
	if err := c.db.DB.SelectContext(ctx, &rows, query, threshold); err != nil {
		return nil, fmt.Errorf("detect phi fragmentation: %w", err)
	}

	out := make([]FragmentationCandidate, len(rows))
	for i, r := range rows {
		out[i] = FragmentationCandidate{
			MemoryA: r.MemoryA, MemoryB: r.MemoryB,
			Similarity: r.Similarity, TotalPhi: r.TotalPhi,
			Class: classify(r.Similarity),
		}
	}
	return out, nil
}

func classify(similarity float64) FragmentationClass {
	switch {
	case similarity >= 0.95:
		return ClassHighConfidenceMerge
	case similarity >= 0.92:
		return ClassPotentialMerge
	default:
		return ClassRelated
	}
}

// Centroid is the result of calculateCentroid.
type Centroid struct {
	Vector     []float32
	CoreID     string
}

// CalculateCentroid computes the phi-weighted average embedding of the
// given memory ids (weight = phi + 1.0, so even phi=0 memories count),
// and identifies the core member closest to that centroid.
func (c *Consolidator) CalculateCentroid(ctx context.Context, ids []string) (Centroid, error) {
	if len(ids) == 0 {
		return Centroid{}, apperr.New(apperr.CodeConsolidation, "EMPTY_CLUSTER")
	}

	query := fmt.Sprintf(`SELECT id, embedding, resonance_phi FROM %s WHERE id = ANY($1) AND deleted_at IS NULL`, c.db.Table("memories"))
	var rows []struct {
		ID           string          `db:"id"`
		Embedding    pgvector.Vector `db:"embedding"`
		ResonancePhi float64         `db:"resonance_phi"`
	}
	if err := c.db.DB.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return Centroid{}, fmt.Errorf("load cluster members: %w", err)
	}
	if len(rows) == 0 {
		return Centroid{}, apperr.New(apperr.CodeConsolidation, "EMPTY_CLUSTER")
	}

	dim := len(rows[0].Embedding.Slice())
	centroid := make([]float64, dim)
	var totalWeight float64
	for _, r := range rows {
		weight := r.ResonancePhi + 1.0
		totalWeight += weight
		vec := r.Embedding.Slice()
		for i := 0; i < dim && i < len(vec); i++ {
			centroid[i] += float64(vec[i]) * weight
		}
	}
	for i := range centroid {
		centroid[i] /= totalWeight
	}

	out := make([]float32, dim)
	for i, v := range centroid {
		out[i] = float32(v)
	}

	coreID := rows[0].ID
	bestDist := math.MaxFloat64
	for _, r := range rows {
		vec := r.Embedding.Slice()
		var dist float64
		for i := 0; i < dim && i < len(vec); i++ {
			d := float64(vec[i]) - centroid[i]
			dist += d * d
		}
		if dist < bestDist {
			bestDist = dist
			coreID = r.ID
		}
	}

	return Centroid{Vector: out, CoreID: coreID}, nil
}

