// Command migrate applies or rolls back the engine's schema migrations.
// The engine owns its schema (memories, memory_associations,
// tier_promotions, meta_reflections, ghost_logs); this is the one piece of
// tooling the teacher never needed and the only new dependency pulled in to
// cover it (github.com/golang-migrate/migrate/v4).
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/anima-systems/anima-memory/internal/config"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	path := flag.String("path", "internal/storage/migrations", "path to migration files")
	flag.Parse()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName, cfg.DBSSLMode)

	m, err := migrate.New("file://"+*path, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize migrator: %v\n", err)
		os.Exit(1)
	}

	switch *direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	default:
		fmt.Fprintf(os.Stderr, "unknown direction %q\n", *direction)
		os.Exit(1)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("migrations applied successfully")
}
