// Package storage owns the relational+vector store: a connection pool,
// schema qualification, and transaction/batch helpers. It is the engine's
// single point of contact with Postgres (C1 in the design). Statements are
// built and executed per call; none are prepared or cached.
package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	// Registers the "postgres" driver with database/sql.
	_ "github.com/lib/pq"

	"github.com/anima-systems/anima-memory/internal/config"
	"github.com/anima-systems/anima-memory/internal/telemetry"
)

// maxBatchRows is the largest number of rows the batch VALUES builder will
// pack into a single statement, keeping parameter counts under Postgres's
// 65535 limit for rows of up to 65 columns.
const maxBatchRows = 1000

// PoolStats is a snapshot of the connection pool's utilization.
type PoolStats struct {
	Total   int
	Idle    int
	Waiting int
}

// Adapter is the Storage Adapter component (C1): a pooled sqlx connection
// plus the active-schema hook used for test isolation.
type Adapter struct {
	DB     *sqlx.DB
	schema string
	logger zerolog.Logger

	mu            sync.Mutex
	waitingGauge  telemetry.Gauge
	lastWarnAt    time.Time
}

// New opens a connection pool against Postgres using cfg, and records
// cfg.DBSchema so that Table qualifies every table name with it when it is
// non-empty (test isolation hook). The connection's search_path is not
// changed.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Adapter, error) {
	dsn := buildDSN(cfg)

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	a := &Adapter{
		DB:     db,
		schema: cfg.DBSchema,
		logger: logger.With().Str("component", "storage").Logger(),
	}
	return a, nil
}

func buildDSN(cfg *config.Config) string {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode,
		int(cfg.DBConnectTimeout.Seconds()),
	)
	return dsn
}

// qualify returns table prefixed with "<schema>." when the adapter is
// scoped to a non-default schema, and table unchanged otherwise. Reached
// through Table by every query-building helper in the engine so tests can
// run against an isolated schema without touching production code paths.
func (a *Adapter) qualify(table string) string {
	if a.schema == "" {
		return table
	}
	return a.schema + "." + table
}

// Table returns the schema-qualified name for a bare table name.
func (a *Adapter) Table(name string) string { return a.qualify(name) }

// Close releases the underlying connection pool.
func (a *Adapter) Close() error { return a.DB.Close() }

// Stats returns a snapshot of the pool's current utilization.
func (a *Adapter) Stats() PoolStats {
	s := a.DB.Stats()
	return PoolStats{
		Total:   s.OpenConnections,
		Idle:    s.Idle,
		Waiting: int(s.WaitCount),
	}
}

// StartPoolMonitor launches a ticker that samples pool stats, records
// Waiting in the adapter's waiting gauge, and warns when Waiting exceeds
// 5. It runs until ctx is cancelled.
func (a *Adapter) StartPoolMonitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := a.Stats()
				a.waitingGauge.Set(float64(stats.Waiting))
				if stats.Waiting > 5 {
					a.mu.Lock()
					if time.Since(a.lastWarnAt) > interval {
						a.logger.Warn().
							Int("total", stats.Total).
							Int("idle", stats.Idle).
							Int("waiting", stats.Waiting).
							Msg("connection pool under pressure")
						a.lastWarnAt = time.Now()
					}
					a.mu.Unlock()
				}
			}
		}
	}()
}

// Tx runs fn inside a transaction, committing on success and rolling back
// (logging any rollback error) otherwise.
func (a *Adapter) Tx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := a.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			a.logger.Error().Err(rbErr).Msg("failed to roll back transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// BatchInsert builds and executes one or more parameterized
// "INSERT INTO table (cols) VALUES (...), (...), ..." statements, chunking
// rows so that no single statement exceeds maxBatchRows rows. suffix (e.g.
// an ON CONFLICT clause) is appended verbatim to every chunk's statement.
func (a *Adapter) BatchInsert(ctx context.Context, table string, cols []string, rows [][]any, suffix string) error {
	if len(rows) == 0 {
		return nil
	}

	for start := 0; start < len(rows); start += maxBatchRows {
		end := start + maxBatchRows
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		query, args := buildValuesStatement(a.qualify(table), cols, chunk, suffix)
		if _, err := a.DB.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("batch insert into %s (rows %d-%d): %w", table, start, end, err)
		}
	}
	return nil
}

func buildValuesStatement(table string, cols []string, rows [][]any, suffix string) (string, []any) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(cols))
	argN := 1
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j := range row {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", argN)
			argN++
		}
		sb.WriteString(")")
		args = append(args, row...)
	}

	if suffix != "" {
		sb.WriteString(" ")
		sb.WriteString(suffix)
	}

	return sb.String(), args
}
