// Package handshake is the Handshake Synthesiser (C8): it composes a
// short first-person orientation text from the engine's highest-weight
// memories, cached per a tiered policy keyed by conversation.
package handshake

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/anima-systems/anima-memory/internal/models"
	"github.com/anima-systems/anima-memory/internal/storage"
)

// CacheReason explains why a handshake was (or wasn't) regenerated.
type CacheReason string

const (
	ReasonPerConversation CacheReason = "per_conversation"
	ReasonPerSession      CacheReason = "per_session"
	ReasonGlobalFallback  CacheReason = "global_fallback"
	ReasonForce           CacheReason = "force"
)

const (
	windowPerConversation = 15 * time.Minute
	windowPerSession      = time.Hour
	windowGlobal          = 24 * time.Hour

	// catalystPhiInvalidation is the resonance at or above which a new
	// memory forces regeneration even without is_catalyst set.
	catalystPhiInvalidation = 4.0
	// highPhiAnchor is the threshold §4.8.4 calls a "high-phi anchor".
	highPhiAnchor = 2.0
	// synthesisRecencyWindow is the 30-day linear decay window used for
	// the synthesis weight's recency term.
	synthesisRecencyWindow = 30 * 24 * time.Hour
	recencyFloor           = 0.1
)

// Result is what Generate returns: the text plus forensic metadata.
type Result struct {
	Record        models.HandshakeRecord
	IsExisting    bool
	CacheReason   CacheReason
	CacheWindow   time.Duration
	CachedForMS   int64
}

// Engine is the C8 component.
type Engine struct {
	db     *storage.Adapter
	logger zerolog.Logger
}

// New builds an Engine.
func New(db *storage.Adapter, logger zerolog.Logger) *Engine {
	return &Engine{db: db, logger: logger.With().Str("component", "handshake").Logger()}
}

// Generate returns a handshake for conversationID, reusing a cached
// record when one is still within its window and no invalidating state
// change has occurred, unless force is set. On any internal failure it
// degrades to a minimal preamble rather than propagating the error —
// handshake generation must never abort a caller like bootstrap.
func (e *Engine) Generate(ctx context.Context, conversationID string, force bool) Result {
	result, err := e.generate(ctx, conversationID, force)
	if err != nil {
		e.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("handshake generation failed, degrading to minimal preamble")
		return e.minimal(conversationID)
	}
	return result
}

func (e *Engine) generate(ctx context.Context, conversationID string, force bool) (Result, error) {
	contextType := models.ContextGlobal
	window := windowGlobal
	reason := ReasonGlobalFallback
	if conversationID != "" {
		contextType = models.ContextConversation
	}

	if !force {
		if cached, ok, err := e.findReusable(ctx, conversationID, contextType); err != nil {
			return Result{}, err
		} else if ok {
			if conversationID != "" {
				// Smallest window wins: try PER_CONVERSATION before PER_SESSION.
				if time.Since(cached.CreatedAt) < windowPerConversation {
					window, reason = windowPerConversation, ReasonPerConversation
				} else {
					window, reason = windowPerSession, ReasonPerSession
				}
			}
			return Result{
				Record: cached, IsExisting: true, CacheReason: reason, CacheWindow: window,
				CachedForMS: time.Since(cached.CreatedAt).Milliseconds(),
			}, nil
		}
	} else {
		reason = ReasonForce
	}

	anchors, err := e.selectAnchors(ctx, conversationID)
	if err != nil {
		return Result{}, err
	}

	text := compose(anchors)
	record, err := e.persist(ctx, text, anchors, conversationID, contextType)
	if err != nil {
		return Result{}, err
	}

	if conversationID != "" && reason != ReasonForce {
		window, reason = windowPerConversation, ReasonPerConversation
	}

	return Result{Record: record, IsExisting: false, CacheReason: reason, CacheWindow: window, CachedForMS: 0}, nil
}

// findReusable returns the newest ghost_log record for the given key
// whose age is within the largest applicable window and which has not
// been invalidated by a significant state change since it was created.
func (e *Engine) findReusable(ctx context.Context, conversationID string, contextType models.HandshakeContextType) (models.HandshakeRecord, bool, error) {
	var query string
	var args []any
	maxWindow := windowGlobal
	if conversationID != "" {
		maxWindow = windowPerSession
		query = fmt.Sprintf(`
			SELECT id, prompt_text, top_phi_memories, top_phi_values, conversation_id, context_type, created_at, expires_at
			FROM %s
			WHERE conversation_id = $1 AND created_at > now() - $2::interval
			ORDER BY created_at DESC LIMIT 1`, e.db.Table("ghost_logs"))
		args = []any{conversationID, intervalLiteral(maxWindow)}
	} else {
		query = fmt.Sprintf(`
			SELECT id, prompt_text, top_phi_memories, top_phi_values, conversation_id, context_type, created_at, expires_at
			FROM %s
			WHERE conversation_id IS NULL AND context_type = 'global' AND created_at > now() - $1::interval
			ORDER BY created_at DESC LIMIT 1`, e.db.Table("ghost_logs"))
		args = []any{intervalLiteral(maxWindow)}
	}

	var row ghostLogRow
	if err := e.db.DB.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.HandshakeRecord{}, false, nil
		}
		return models.HandshakeRecord{}, false, fmt.Errorf("load cached handshake: %w", err)
	}

	invalidated, err := e.invalidatedSince(ctx, conversationID, row.CreatedAt)
	if err != nil {
		return models.HandshakeRecord{}, false, err
	}
	if invalidated {
		return models.HandshakeRecord{}, false, nil
	}

	return row.toModel(), true, nil
}

// invalidatedSince reports whether a memory created since 'since' should
// force regeneration: a catalyst memory in the same conversation, or any
// memory reaching the high-phi invalidation threshold.
func (e *Engine) invalidatedSince(ctx context.Context, conversationID string, since time.Time) (bool, error) {
	query := fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM %s
			WHERE deleted_at IS NULL AND created_at > $1
			  AND ((conversation_id = $2 AND is_catalyst) OR resonance_phi >= $3)
		)`, e.db.Table("memories"))

	var exists bool
	if err := e.db.DB.GetContext(ctx, &exists, query, since, conversationID, catalystPhiInvalidation); err != nil {
		return false, fmt.Errorf("check handshake invalidation: %w", err)
	}
	return exists, nil
}

// anchor is one memory selected for handshake composition.
type anchor struct {
	ID               string
	Content          string
	ResonancePhi     float64
	SynthesisWeight  float64
}

func (e *Engine) selectAnchors(ctx context.Context, conversationID string) ([]anchor, error) {
	query := fmt.Sprintf(`
		SELECT id, content, resonance_phi,
		       CASE WHEN conversation_id = $1 THEN resonance_phi * 2 ELSE resonance_phi END AS effective_phi,
		       GREATEST($2, 1 - (EXTRACT(EPOCH FROM (now() - last_accessed_at)) / $3)) AS recency
		FROM %s
		WHERE deleted_at IS NULL
		ORDER BY (
		  (CASE WHEN conversation_id = $1 THEN resonance_phi * 2 ELSE resonance_phi END) * 0.7 +
		  GREATEST($2, 1 - (EXTRACT(EPOCH FROM (now() - last_accessed_at)) / $3)) * 5.0 * 0.3
		) DESC
		LIMIT 10`, e.db.Table("memories"))

	var rows []struct {
		ID           string  `db:"id"`
		Content      string  `db:"content"`
		ResonancePhi float64 `db:"resonance_phi"`
		EffectivePhi float64 `db:"effective_phi"`
		Recency      float64 `db:"recency"`
	}
	if err := e.db.DB.SelectContext(ctx, &rows, query, conversationID, recencyFloor, synthesisRecencyWindow.Seconds()); err != nil {
		return nil, fmt.Errorf("select handshake anchors: %w", err)
	}

	anchors := make([]anchor, len(rows))
	for i, r := range rows {
		anchors[i] = anchor{
			ID: r.ID, Content: r.Content, ResonancePhi: r.ResonancePhi,
			SynthesisWeight: r.EffectivePhi*0.7 + r.Recency*5.0*0.3,
		}
	}
	if len(anchors) > 5 {
		anchors = anchors[:max5to10(len(anchors))]
	}
	return anchors, nil
}

// max5to10 keeps between 5 and 10 anchors per §4.8.3, never more than
// what was actually returned.
func max5to10(n int) int {
	if n > 10 {
		return 10
	}
	if n < 5 {
		return n
	}
	return n
}

// compose builds the handshake text satisfying the output contract:
// first-person voice, imperative close, at least one high-phi anchor
// when one exists.
func compose(anchors []anchor) string {
	if len(anchors) == 0 {
		return "I was quiet; nothing yet anchors this context. Continue."
	}

	lead := anchors[0]
	rest := append([]anchor(nil), anchors[1:]...)

	selected := rest
	if len(selected) > 3 {
		selected = selected[:3]
	}

	hasHighPhi := lead.ResonancePhi >= highPhiAnchor
	for _, a := range selected {
		if a.ResonancePhi >= highPhiAnchor {
			hasHighPhi = true
		}
	}

	// selectAnchors ranks by synthesis weight, not raw phi, so a qualifying
	// high-phi anchor can land 5th-10th and never reach the slice above.
	// Force it in rather than silently missing the high-phi-anchor contract.
	if !hasHighPhi {
		if hp := highestPhiAnchor(rest); hp != nil {
			if len(selected) < 3 {
				selected = append(selected, *hp)
			} else {
				selected[len(selected)-1] = *hp
			}
			hasHighPhi = true
		}
	}

	var sb strings.Builder
	sb.WriteString("I was reflecting on ")
	sb.WriteString(truncate(lead.Content, 120))
	sb.WriteString(". ")

	for _, a := range selected {
		sb.WriteString("I am holding onto ")
		sb.WriteString(truncate(a.Content, 100))
		sb.WriteString(". ")
	}

	if !hasHighPhi {
		sb.WriteString("I am aware this orientation is still forming. ")
	}

	if len(anchors) > 1 {
		fmt.Fprintf(&sb, "%d threads are active. ", len(anchors))
	}

	sb.WriteString("Continue.")
	return sb.String()
}

// highestPhiAnchor returns the qualifying anchor (phi >= highPhiAnchor)
// with the greatest resonance phi, or nil if none qualifies.
func highestPhiAnchor(anchors []anchor) *anchor {
	var best *anchor
	for i := range anchors {
		if anchors[i].ResonancePhi < highPhiAnchor {
			continue
		}
		if best == nil || anchors[i].ResonancePhi > best.ResonancePhi {
			best = &anchors[i]
		}
	}
	return best
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (e *Engine) persist(ctx context.Context, text string, anchors []anchor, conversationID string, contextType models.HandshakeContextType) (models.HandshakeRecord, error) {
	ids := make([]string, len(anchors))
	values := make([]float64, len(anchors))
	for i, a := range anchors {
		ids[i] = a.ID
		values[i] = a.ResonancePhi
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (prompt_text, top_phi_memories, top_phi_values, conversation_id, context_type)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, prompt_text, top_phi_memories, top_phi_values, conversation_id, context_type, created_at, expires_at`,
		e.db.Table("ghost_logs"))

	var row ghostLogRow
	if err := e.db.DB.GetContext(ctx, &row, query, text, pq.Array(ids), pq.Array(values), nullable(conversationID), string(contextType)); err != nil {
		return models.HandshakeRecord{}, fmt.Errorf("persist handshake record: %w", err)
	}
	return row.toModel(), nil
}

func (e *Engine) minimal(conversationID string) Result {
	return Result{
		Record: models.HandshakeRecord{
			PromptText:     "I was unable to gather full context just now. Continue.",
			ConversationID: conversationID,
			ContextType:    models.ContextGlobal,
			CreatedAt:      time.Now(),
		},
		IsExisting: false, CacheReason: ReasonGlobalFallback, CacheWindow: windowGlobal,
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func intervalLiteral(d time.Duration) string {
	return fmt.Sprintf("%d seconds", int(d.Seconds()))
}

// ghostLogRow mirrors the ghost_logs table for sqlx scanning.
type ghostLogRow struct {
	ID             string          `db:"id"`
	PromptText     string          `db:"prompt_text"`
	TopPhiMemories pq.StringArray  `db:"top_phi_memories"`
	TopPhiValues   pq.Float64Array `db:"top_phi_values"`
	ConversationID sql.NullString  `db:"conversation_id"`
	ContextType    string          `db:"context_type"`
	CreatedAt      time.Time       `db:"created_at"`
	ExpiresAt      *time.Time      `db:"expires_at"`
}

func (r ghostLogRow) toModel() models.HandshakeRecord {
	return models.HandshakeRecord{
		ID:             r.ID,
		PromptText:     r.PromptText,
		TopPhiMemories: []string(r.TopPhiMemories),
		TopPhiValues:   []float64(r.TopPhiValues),
		ConversationID: r.ConversationID.String,
		ContextType:    models.HandshakeContextType(r.ContextType),
		CreatedAt:      r.CreatedAt,
		ExpiresAt:      r.ExpiresAt,
	}
}
