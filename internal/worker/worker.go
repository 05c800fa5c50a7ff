// Package worker is the bounded background-job infrastructure backing
// internal/memory.Deferred. Co-occurrence and catalyst-probe jobs run on
// bounded queues served by fixed worker goroutines; when a queue is full
// the newly scheduled job is dropped and logged, so a burst of requests
// does not spawn unbounded goroutines. Semantic re-checks do not use a
// queue: each runs on its own per-memory timer, coalesced by memory id.
package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/anima-systems/anima-memory/internal/association"
	"github.com/anima-systems/anima-memory/internal/consolidate"
	"github.com/anima-systems/anima-memory/internal/memory"
	"github.com/anima-systems/anima-memory/internal/storage"
)

// settleDelay is the coalescing window for the deferred semantic re-check:
// a target id that gets rescheduled within this window restarts its timer
// rather than running twice (spec §4.5/§9).
const settleDelay = 1 * time.Second

// Config controls queue depth and worker counts per job.
type Config struct {
	CoOccurrenceQueueSize int
	RecheckQueueSize      int
	RecheckWorkers        int
	CatalystQueueSize     int
	CatalystWorkers       int
}

// DefaultConfig returns the default sizes: a single co-occurrence worker
// (it only ever touches one small queue) and CatalystWorkers workers for
// catalyst probes. RecheckQueueSize and RecheckWorkers are not used to
// size anything (RecheckWorkers only appears in Start's log line):
// re-checks run on per-memory timers, with no queue or worker limit.
func DefaultConfig() Config {
	return Config{
		CoOccurrenceQueueSize: 1000,
		RecheckQueueSize:      2000,
		RecheckWorkers:        4,
		CatalystQueueSize:     2000,
		CatalystWorkers:       2,
	}
}

type coOccurrenceJob struct {
	memoryIDs      []string
	conversationID string
}

type catalystJob struct {
	memoryID string
	content  string
}

// Pool is the C9-adjacent worker-pool component implementing
// memory.Deferred. Every job logs its own failures; none propagate to the
// caller that scheduled them.
type Pool struct {
	cfg          Config
	db           *storage.Adapter
	consolidator *consolidate.Consolidator
	associations *association.Engine
	probe        memory.CatalystProbe
	logger       zerolog.Logger

	coOccurrenceCh chan coOccurrenceJob
	catalystCh     chan catalystJob

	recheckMu      sync.Mutex
	recheckTimers  map[string]*time.Timer

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Pool. probe may be nil, in which case catalyst-probe jobs
// are a no-op.
func New(cfg Config, db *storage.Adapter, consolidator *consolidate.Consolidator, associations *association.Engine, probe memory.CatalystProbe, logger zerolog.Logger) *Pool {
	return &Pool{
		cfg:            cfg,
		db:             db,
		consolidator:   consolidator,
		associations:   associations,
		probe:          probe,
		logger:         logger.With().Str("component", "worker").Logger(),
		coOccurrenceCh: make(chan coOccurrenceJob, cfg.CoOccurrenceQueueSize),
		catalystCh:     make(chan catalystJob, cfg.CatalystQueueSize),
		recheckTimers:  make(map[string]*time.Timer),
	}
}

// Start launches the pool's worker goroutines against ctx. Stop should be
// called on shutdown to drain in-flight work.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.coOccurrenceWorker(ctx)

	for i := 0; i < p.cfg.CatalystWorkers; i++ {
		p.wg.Add(1)
		go p.catalystWorker(ctx, i)
	}

	p.logger.Info().
		Int("co_occurrence_workers", 1).
		Int("catalyst_workers", p.cfg.CatalystWorkers).
		Int("recheck_workers", p.cfg.RecheckWorkers).
		Msg("worker pool started")
}

// Stop cancels all workers and waits for them to drain their current job.
// Pending coalesced re-check timers are fired immediately rather than
// dropped, since a re-check that never runs can leave a duplicate live.
func (p *Pool) Stop() {
	p.recheckMu.Lock()
	pending := make([]string, 0, len(p.recheckTimers))
	for id, t := range p.recheckTimers {
		if t.Stop() {
			pending = append(pending, id)
		}
		delete(p.recheckTimers, id)
	}
	p.recheckMu.Unlock()
	for _, id := range pending {
		p.runSemanticRecheck(id)
	}

	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info().Msg("worker pool stopped")
}

// ScheduleCoOccurrence implements memory.Deferred.
func (p *Pool) ScheduleCoOccurrence(memoryIDs []string, conversationID string) {
	job := coOccurrenceJob{memoryIDs: memoryIDs, conversationID: conversationID}
	select {
	case p.coOccurrenceCh <- job:
	default:
		p.logger.Warn().Int("memory_count", len(memoryIDs)).Msg("co-occurrence job dropped: queue full")
	}
}

// ScheduleCatalystProbe implements memory.Deferred.
func (p *Pool) ScheduleCatalystProbe(memoryID, content string) {
	if p.probe == nil {
		return
	}
	job := catalystJob{memoryID: memoryID, content: content}
	select {
	case p.catalystCh <- job:
	default:
		p.logger.Warn().Str("memory_id", memoryID).Msg("catalyst probe job dropped: queue full")
	}
}

// ScheduleSemanticRecheck implements memory.Deferred. Rescheduling the same
// memoryID within settleDelay resets its timer rather than queuing a
// second run — the coalescing the spec's worker-pool redesign calls for.
func (p *Pool) ScheduleSemanticRecheck(memoryID string) {
	p.recheckMu.Lock()
	defer p.recheckMu.Unlock()

	if t, ok := p.recheckTimers[memoryID]; ok {
		t.Reset(settleDelay)
		return
	}

	p.recheckTimers[memoryID] = time.AfterFunc(settleDelay, func() {
		p.recheckMu.Lock()
		delete(p.recheckTimers, memoryID)
		p.recheckMu.Unlock()
		p.runSemanticRecheck(memoryID)
	})
}

func (p *Pool) coOccurrenceWorker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			p.drainCoOccurrence()
			return
		case job := <-p.coOccurrenceCh:
			p.associations.RecordCoOccurrence(ctx, job.memoryIDs, job.conversationID)
		}
	}
}

func (p *Pool) drainCoOccurrence() {
	for {
		select {
		case job := <-p.coOccurrenceCh:
			p.associations.RecordCoOccurrence(context.Background(), job.memoryIDs, job.conversationID)
		default:
			return
		}
	}
}

func (p *Pool) catalystWorker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.catalystCh:
			p.runCatalystProbe(ctx, job)
		}
	}
}

func (p *Pool) runCatalystProbe(ctx context.Context, job catalystJob) {
	if p.probe == nil {
		return
	}
	if !p.probe.Probe(ctx, job.content) {
		return
	}

	query := fmt.Sprintf(`
		UPDATE %s SET is_catalyst = true, resonance_phi = GREATEST(resonance_phi, 1.0), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, p.db.Table("memories"))
	if _, err := p.db.DB.ExecContext(ctx, query, job.memoryID); err != nil {
		p.logger.Warn().Err(err).Str("memory_id", job.memoryID).Msg("catalyst probe flag update failed")
	}
}

// recheckCandidate is the minimal projection runSemanticRecheck needs from
// the memories table.
type recheckCandidate struct {
	ID           string          `db:"id"`
	Content      string          `db:"content"`
	Embedding    []float32       `db:"-"`
	IsCatalyst   bool            `db:"is_catalyst"`
	CreatedAt    time.Time       `db:"created_at"`
}

// runSemanticRecheck re-runs semantic duplicate detection for memoryID
// after the settle delay, catching near-duplicates created by a
// concurrent add that raced the original's consolidation check. The
// newer of the two live memories is merged into the older and
// soft-deleted; the older's id is always the survivor regardless of which
// id triggered the recheck.
func (p *Pool) runSemanticRecheck(memoryID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	self, ok, err := p.loadRecheckRow(ctx, memoryID)
	if err != nil {
		p.logger.Warn().Err(err).Str("memory_id", memoryID).Msg("semantic re-check: load self failed")
		return
	}
	if !ok {
		return // already soft-deleted, e.g. merged by a concurrent recheck
	}

	dup, found, err := p.consolidator.FindSemanticDuplicateExcluding(ctx, self.Embedding, consolidate.DuplicateThreshold, memoryID)
	if err != nil {
		p.logger.Warn().Err(err).Str("memory_id", memoryID).Msg("semantic re-check: duplicate lookup failed")
		return
	}
	if !found {
		return
	}

	other, ok, err := p.loadRecheckRow(ctx, dup.ID)
	if err != nil {
		p.logger.Warn().Err(err).Str("memory_id", dup.ID).Msg("semantic re-check: load candidate failed")
		return
	}
	if !ok {
		return
	}

	survivor, casualty := self, other
	if other.CreatedAt.Before(self.CreatedAt) {
		survivor, casualty = other, self
	}

	if _, err := p.consolidator.MergeIntoCentroid(ctx, survivor.ID, casualty.Content, casualty.IsCatalyst, dup.Similarity); err != nil {
		p.logger.Warn().Err(err).Str("survivor_id", survivor.ID).Str("casualty_id", casualty.ID).Msg("semantic re-check: merge failed")
		return
	}

	deleteQuery := fmt.Sprintf(`UPDATE %s SET deleted_at = now(), updated_at = now() WHERE id = $1`, p.db.Table("memories"))
	if _, err := p.db.DB.ExecContext(ctx, deleteQuery, casualty.ID); err != nil {
		p.logger.Warn().Err(err).Str("memory_id", casualty.ID).Msg("semantic re-check: soft-delete failed")
	}
}

func (p *Pool) loadRecheckRow(ctx context.Context, id string) (recheckCandidate, bool, error) {
	var row storage.MemoryRow
	query := fmt.Sprintf(`SELECT * FROM %s WHERE id = $1 AND deleted_at IS NULL`, p.db.Table("memories"))
	err := p.db.DB.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return recheckCandidate{}, false, nil
	}
	if err != nil {
		return recheckCandidate{}, false, fmt.Errorf("load memory %s: %w", id, err)
	}
	return recheckCandidate{
		ID: row.ID, Content: row.Content, Embedding: row.Embedding.Slice(),
		IsCatalyst: row.IsCatalyst, CreatedAt: row.CreatedAt,
	}, true, nil
}
