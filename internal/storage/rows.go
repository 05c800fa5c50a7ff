package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/anima-systems/anima-memory/internal/models"
)

// MemoryRow mirrors the memories table's column layout for sqlx scanning.
// It is shared by the packages that read whole memory rows (C4, C5, C6 and
// the background worker) so the mapping from SQL row to models.Memory
// lives in one place.
type MemoryRow struct {
	ID                 string          `db:"id"`
	Content            string          `db:"content"`
	ContentFingerprint string          `db:"content_fingerprint"`
	Embedding          pgvector.Vector `db:"embedding"`
	Tier               string          `db:"tier"`
	TierUpdatedAt      time.Time       `db:"tier_updated_at"`
	ResonancePhi       float64         `db:"resonance_phi"`
	IsCatalyst         bool            `db:"is_catalyst"`
	AccessCount        int64           `db:"access_count"`
	LastAccessedAt     time.Time       `db:"last_accessed_at"`
	Category           sql.NullString  `db:"category"`
	Tags               pq.StringArray  `db:"tags"`
	Source             sql.NullString  `db:"source"`
	ConversationID     sql.NullString  `db:"conversation_id"`
	Metadata           []byte          `db:"metadata"`
	CreatedAt          time.Time       `db:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at"`
	DeletedAt          *time.Time      `db:"deleted_at"`
}

// ToModel decodes a MemoryRow into the domain-level models.Memory.
func (r MemoryRow) ToModel() (models.Memory, error) {
	metadata := map[string]any{}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &metadata); err != nil {
			return models.Memory{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return models.Memory{
		ID:                 r.ID,
		Content:            r.Content,
		ContentFingerprint: r.ContentFingerprint,
		Embedding:          r.Embedding.Slice(),
		Tier:               models.Tier(r.Tier),
		TierUpdatedAt:      r.TierUpdatedAt,
		ResonancePhi:       r.ResonancePhi,
		IsCatalyst:         r.IsCatalyst,
		AccessCount:        r.AccessCount,
		LastAccessedAt:     r.LastAccessedAt,
		Category:           r.Category.String,
		Source:             r.Source.String,
		ConversationID:     r.ConversationID.String,
		Tags:               []string(r.Tags),
		Metadata:           metadata,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
		DeletedAt:          r.DeletedAt,
	}, nil
}
