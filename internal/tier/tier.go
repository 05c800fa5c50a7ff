// Package tier is the Tier & Resonance Engine (C6): the tier state
// machine and the phi accumulation/decay rules that feed it.
package tier

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/anima-systems/anima-memory/internal/apperr"
	"github.com/anima-systems/anima-memory/internal/models"
	"github.com/anima-systems/anima-memory/internal/storage"
)

const (
	// AccessThresholdToThread is the access_count at which an active
	// memory auto-promotes to thread.
	AccessThresholdToThread = 5
	// AccessThresholdToStable is the access_count at which a thread
	// memory auto-promotes to stable.
	AccessThresholdToStable = 20

	// DecayWindowActiveToThread is how long an active memory can go
	// unaccessed before the decay job moves it to thread;
	// DecayWindowThreadToStable is the same window for thread -> stable.
	// Stable is the lowest tier and is never moved by the decay job.
	DecayWindowActiveToThread = 30 * 24 * time.Hour
	DecayWindowThreadToStable = 90 * 24 * time.Hour

	// MonthlyDecayWindow is the inactivity window after which phi decays,
	// and the minimum time (measured from updated_at) between two phi
	// decays of the same memory.
	MonthlyDecayWindow = 30 * 24 * time.Hour
	// MonthlyDecayFactor is applied to phi for memories that qualify.
	MonthlyDecayFactor = 0.95
	// MonthlyDecayPhiFloor is the minimum phi a memory must have before
	// the monthly decay rule considers it at all.
	MonthlyDecayPhiFloor = 0.5
)

// NextAutoPromotion returns the tier a memory should auto-promote to
// given its current tier and post-increment access count, or ("", false)
// if no promotion threshold is crossed.
func NextAutoPromotion(current models.Tier, accessCount int64) (models.Tier, bool) {
	switch current {
	case models.TierActive:
		if accessCount >= AccessThresholdToThread {
			return models.TierThread, true
		}
	case models.TierThread:
		if accessCount >= AccessThresholdToStable {
			return models.TierStable, true
		}
	}
	return "", false
}

// Engine is the C6 component: it applies tier transitions and resonance
// updates against the store, recording an audit row for every promotion.
type Engine struct {
	db     *storage.Adapter
	logger zerolog.Logger
}

// New builds an Engine.
func New(db *storage.Adapter, logger zerolog.Logger) *Engine {
	return &Engine{db: db, logger: logger.With().Str("component", "tier").Logger()}
}

// UpdateTier validates newTier, applies it, and writes a TierPromotion
// audit row. Fails with NOT_FOUND if memoryID does not reference a live
// memory.
func (e *Engine) UpdateTier(ctx context.Context, memoryID string, newTier models.Tier, reason models.PromotionReason) (models.Memory, models.TierPromotion, error) {
	if !newTier.Valid() {
		return models.Memory{}, models.TierPromotion{}, apperr.Validation("invalid tier: " + string(newTier))
	}

	var row storage.MemoryRow
	selectQuery := fmt.Sprintf(`SELECT * FROM %s WHERE id = $1 AND deleted_at IS NULL`, e.db.Table("memories"))
	if err := e.db.DB.GetContext(ctx, &row, selectQuery, memoryID); err != nil {
		return models.Memory{}, models.TierPromotion{}, apperr.NotFound("memory not found")
	}

	updateQuery := fmt.Sprintf(`
		UPDATE %s SET tier = $1, tier_updated_at = now(), updated_at = now()
		WHERE id = $2
		RETURNING *`, e.db.Table("memories"))

	var updated storage.MemoryRow
	if err := e.db.DB.GetContext(ctx, &updated, updateQuery, string(newTier), memoryID); err != nil {
		return models.Memory{}, models.TierPromotion{}, fmt.Errorf("update tier: %w", err)
	}

	promotion := models.TierPromotion{
		MemoryID:            memoryID,
		FromTier:            models.Tier(row.Tier),
		ToTier:               newTier,
		Reason:               reason,
		AccessCountAtPromo:   row.AccessCount,
		DaysSinceLastAccess:  time.Since(row.LastAccessedAt).Hours() / 24,
		CreatedAt:            time.Now(),
	}

	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (memory_id, from_tier, to_tier, reason, access_count_at_promotion, days_since_last_access)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`, e.db.Table("tier_promotions"))

	if err := e.db.DB.GetContext(ctx, &promotion, insertQuery,
		memoryID, string(promotion.FromTier), string(promotion.ToTier), string(reason),
		promotion.AccessCountAtPromo, promotion.DaysSinceLastAccess); err != nil {
		return models.Memory{}, models.TierPromotion{}, fmt.Errorf("record tier promotion: %w", err)
	}

	memory, err := updated.ToModel()
	if err != nil {
		return models.Memory{}, models.TierPromotion{}, err
	}
	return memory, promotion, nil
}

// ApplyAutoPromotions checks each given (id, newAccessCount, currentTier)
// triple against the auto-promotion thresholds and, for every memory that
// crosses one, updates its tier and writes an audit row. Each promotion is
// its own UPDATE and INSERT; promotions are not batched. It returns the ids
// that were promoted together with their new tier, in candidate order; a
// candidate whose update or audit insert fails is logged and left out.
func (e *Engine) ApplyAutoPromotions(ctx context.Context, candidates []PromotionCandidate) ([]Promotion, error) {
	var applied []Promotion
	for _, c := range candidates {
		newTier, ok := NextAutoPromotion(c.CurrentTier, c.AccessCount)
		if !ok {
			continue
		}

		updateQuery := fmt.Sprintf(`
			UPDATE %s SET tier = $1, tier_updated_at = now(), updated_at = now()
			WHERE id = $2 AND tier = $3`, e.db.Table("memories"))
		res, err := e.db.DB.ExecContext(ctx, updateQuery, string(newTier), c.ID, string(c.CurrentTier))
		if err != nil {
			e.logger.Warn().Err(err).Str("memory_id", c.ID).Msg("auto-promotion update failed")
			continue
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue // another request already moved this memory; monotone, skip
		}

		insertQuery := fmt.Sprintf(`
			INSERT INTO %s (memory_id, from_tier, to_tier, reason, access_count_at_promotion, days_since_last_access)
			VALUES ($1, $2, $3, $4, $5, $6)`, e.db.Table("tier_promotions"))
		if _, err := e.db.DB.ExecContext(ctx, insertQuery,
			c.ID, string(c.CurrentTier), string(newTier), string(models.ReasonAccessThreshold),
			c.AccessCount, 0.0); err != nil {
			e.logger.Warn().Err(err).Str("memory_id", c.ID).Msg("auto-promotion audit row failed")
			continue
		}

		applied = append(applied, Promotion{ID: c.ID, NewTier: newTier})
	}
	return applied, nil
}

// PromotionCandidate is a memory considered for auto-promotion after a
// query's access-count increment.
type PromotionCandidate struct {
	ID          string
	CurrentTier models.Tier
	AccessCount int64
}

// Promotion is the outcome of one applied auto-promotion.
type Promotion struct {
	ID      string
	NewTier models.Tier
}

// DecayJob is the engine-owned phi/tier decay rule, invoked by a scheduler
// that lives outside the core (§4.6, §9). It is exposed as a plain
// callable so the scheduler can be anything (cron, a ticker, a one-off
// CLI invocation) without the rule itself depending on how it's driven.
func (e *Engine) DecayJob(ctx context.Context) error {
	if err := e.decayPhi(ctx); err != nil {
		return fmt.Errorf("phi decay: %w", err)
	}
	if err := e.decayTiers(ctx); err != nil {
		return fmt.Errorf("tier decay: %w", err)
	}
	return nil
}

// timeDecayAudit is one tier_promotions row the decay job writes for a
// memory it touched; from == to for a phi-only decay (no tier transition).
type timeDecayAudit struct {
	MemoryID        string
	FromTier        models.Tier
	ToTier          models.Tier
	AccessCount     int64
	DaysSinceAccess float64
}

// insertTimeDecayAudits writes one tier_promotions row per audit, reason
// time_decay, in a single batched statement. The decay job is the only
// caller of this reason: every other transition path writes its own row
// inline (UpdateTier, ApplyAutoPromotions).
func (e *Engine) insertTimeDecayAudits(ctx context.Context, audits []timeDecayAudit) error {
	if len(audits) == 0 {
		return nil
	}

	cols := []string{"memory_id", "from_tier", "to_tier", "reason", "access_count_at_promotion", "days_since_last_access"}
	rows := make([][]any, len(audits))
	for i, a := range audits {
		rows[i] = []any{a.MemoryID, string(a.FromTier), string(a.ToTier), string(models.ReasonTimeDecay), a.AccessCount, a.DaysSinceAccess}
	}

	if err := e.db.BatchInsert(ctx, "tier_promotions", cols, rows, ""); err != nil {
		return fmt.Errorf("record time-decay audit rows: %w", err)
	}
	return nil
}

func (e *Engine) decayPhi(ctx context.Context) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET resonance_phi = resonance_phi * $1, updated_at = now()
		WHERE deleted_at IS NULL
		  AND resonance_phi > $2
		  AND last_accessed_at < now() - $3::interval
		  AND updated_at < now() - $3::interval
		RETURNING id, tier, access_count, last_accessed_at`,
		e.db.Table("memories"))

	var rows []struct {
		ID             string    `db:"id"`
		Tier           string    `db:"tier"`
		AccessCount    int64     `db:"access_count"`
		LastAccessedAt time.Time `db:"last_accessed_at"`
	}
	if err := e.db.DB.SelectContext(ctx, &rows, query,
		MonthlyDecayFactor, MonthlyDecayPhiFloor, fmt.Sprintf("%d seconds", int(MonthlyDecayWindow.Seconds()))); err != nil {
		return err
	}

	audits := make([]timeDecayAudit, len(rows))
	for i, r := range rows {
		audits[i] = timeDecayAudit{
			MemoryID:        r.ID,
			FromTier:        models.Tier(r.Tier),
			ToTier:          models.Tier(r.Tier),
			AccessCount:     r.AccessCount,
			DaysSinceAccess: time.Since(r.LastAccessedAt).Hours() / 24,
		}
	}
	return e.insertTimeDecayAudits(ctx, audits)
}

func (e *Engine) decayTiers(ctx context.Context) error {
	activeToThread := fmt.Sprintf(`
		UPDATE %s SET tier = 'thread', tier_updated_at = now(), updated_at = now()
		WHERE deleted_at IS NULL AND tier = 'active' AND last_accessed_at < now() - $1::interval
		RETURNING id, access_count, last_accessed_at`,
		e.db.Table("memories"))
	if err := e.decayTierTransition(ctx, activeToThread,
		fmt.Sprintf("%d seconds", int(DecayWindowActiveToThread.Seconds())),
		models.TierActive, models.TierThread); err != nil {
		return err
	}

	threadToStable := fmt.Sprintf(`
		UPDATE %s SET tier = 'stable', tier_updated_at = now(), updated_at = now()
		WHERE deleted_at IS NULL AND tier = 'thread' AND last_accessed_at < now() - $1::interval
		RETURNING id, access_count, last_accessed_at`,
		e.db.Table("memories"))
	return e.decayTierTransition(ctx, threadToStable,
		fmt.Sprintf("%d seconds", int(DecayWindowThreadToStable.Seconds())),
		models.TierThread, models.TierStable)
}

// decayTierTransition runs a single tier-downgrade UPDATE, then writes a
// time_decay audit row for every memory it actually moved.
func (e *Engine) decayTierTransition(ctx context.Context, query, interval string, from, to models.Tier) error {
	var rows []struct {
		ID             string    `db:"id"`
		AccessCount    int64     `db:"access_count"`
		LastAccessedAt time.Time `db:"last_accessed_at"`
	}
	if err := e.db.DB.SelectContext(ctx, &rows, query, interval); err != nil {
		return err
	}

	audits := make([]timeDecayAudit, len(rows))
	for i, r := range rows {
		audits[i] = timeDecayAudit{
			MemoryID:        r.ID,
			FromTier:        from,
			ToTier:          to,
			AccessCount:     r.AccessCount,
			DaysSinceAccess: time.Since(r.LastAccessedAt).Hours() / 24,
		}
	}
	return e.insertTimeDecayAudits(ctx, audits)
}
