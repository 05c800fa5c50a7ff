package memory

import (
	"context"
	"fmt"

	"github.com/anima-systems/anima-memory/internal/handshake"
	"github.com/anima-systems/anima-memory/internal/models"
	"github.com/anima-systems/anima-memory/internal/storage"
)

// BootstrapOptions configure Bootstrap.
type BootstrapOptions struct {
	ConversationID string
	Limit          int
	IncludeActive  bool
	IncludeThread  bool
	IncludeStable  bool
}

// Distribution summarizes how many memories were returned per tier.
type Distribution struct {
	Active, Thread, Stable, Total int
}

// BootstrapResult is the outcome of Bootstrap.
type BootstrapResult struct {
	Active, Thread, Stable []models.Memory
	Distribution           Distribution
	Handshake              handshake.Result
}

// globalHighPhiFloor is the minimum phi a memory outside conversationID
// needs to still be included in a conversation-scoped bootstrap.
const globalHighPhiFloor = 3.0

// conversationBoost is the read-only ranking multiplier applied to phi
// for memories in the requested conversation.
const conversationBoost = 2.0

// Bootstrap returns the active/thread/stable orientation lists plus an
// embedded handshake. It is strictly read-only: no access_count,
// resonance_phi, last_accessed_at, or tier is mutated.
func (s *Service) Bootstrap(ctx context.Context, hs *handshake.Engine, opts BootstrapOptions) (BootstrapResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	var active, thread, stable []models.Memory
	var err error

	if opts.IncludeActive {
		active, err = s.bootstrapTier(ctx, models.TierActive, opts.ConversationID, limit, "last_accessed_at DESC")
		if err != nil {
			return BootstrapResult{}, err
		}
	}

	remaining := limit - len(active)
	if remaining < 0 {
		remaining = 0
	}
	threadLimit := (remaining * 70) / 100
	stableLimit := remaining - threadLimit

	if opts.IncludeThread && threadLimit > 0 {
		thread, err = s.bootstrapTier(ctx, models.TierThread, opts.ConversationID, threadLimit, "effective_phi DESC, last_accessed_at DESC")
		if err != nil {
			return BootstrapResult{}, err
		}
	}
	if opts.IncludeStable && stableLimit > 0 {
		stable, err = s.bootstrapTier(ctx, models.TierStable, opts.ConversationID, stableLimit, "effective_phi DESC")
		if err != nil {
			return BootstrapResult{}, err
		}
	}

	result := BootstrapResult{
		Active: active, Thread: thread, Stable: stable,
		Distribution: Distribution{
			Active: len(active), Thread: len(thread), Stable: len(stable),
			Total: len(active) + len(thread) + len(stable),
		},
	}

	if hs != nil {
		result.Handshake = hs.Generate(ctx, opts.ConversationID, false)
	}

	return result, nil
}

// bootstrapTier fetches up to limit live memories of tier, ranked by
// orderBy, applying the conversation boost and global-high-phi inclusion
// rule for ranking purposes only — never mutating the underlying rows.
func (s *Service) bootstrapTier(ctx context.Context, t models.Tier, conversationID string, limit int, orderBy string) ([]models.Memory, error) {
	if limit <= 0 {
		return nil, nil
	}

	var where string
	boostExpr := "resonance_phi"
	args := []any{string(t), limit}
	if conversationID != "" {
		where = "AND (conversation_id = $3 OR resonance_phi >= $4)"
		boostExpr = fmt.Sprintf("(CASE WHEN conversation_id = $3 THEN resonance_phi * %v ELSE resonance_phi END)", conversationBoost)
		args = append(args, conversationID, globalHighPhiFloor)
	}

	query := fmt.Sprintf(`
		SELECT *, %s AS effective_phi FROM %s
		WHERE deleted_at IS NULL AND tier = $1 %s
		ORDER BY %s
		LIMIT $2`, boostExpr, s.db.Table("memories"), where, orderBy)

	type rankedRow struct {
		storage.MemoryRow
		EffectivePhi float64 `db:"effective_phi"`
	}

	var rows []rankedRow
	if err := s.db.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("bootstrap tier %s: %w", t, err)
	}

	memories := make([]models.Memory, len(rows))
	for i, r := range rows {
		m, err := r.ToModel()
		if err != nil {
			return nil, err
		}
		memories[i] = m
	}
	return memories, nil
}
