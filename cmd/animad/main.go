// Command animad is the engine's HTTP entry point: config -> logger ->
// engine -> router -> http.Server, with graceful shutdown on SIGINT/
// SIGTERM, adapted from the teacher's gateway entry point.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/anima-systems/anima-memory/internal/api"
	"github.com/anima-systems/anima-memory/internal/config"
	"github.com/anima-systems/anima-memory/internal/engine"
	"github.com/anima-systems/anima-memory/internal/logging"
	"github.com/anima-systems/anima-memory/internal/tier"
)

// decayInterval is how often the tier/resonance decay job runs. The rule
// itself only acts on memories past their respective inactivity windows
// (30/90 days), so an hourly tick is frequent enough without being wasteful.
const decayInterval = time.Hour

// poolMonitorInterval is how often the storage adapter samples pool stats.
const poolMonitorInterval = 30 * time.Second

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		os.Stderr.WriteString("invalid configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logging.New(cfg)
	log.Info().Str("env", cfg.Env).Msg("anima memory engine starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := engine.New(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("engine initialization failed")
		os.Exit(1)
	}

	eng.Storage.StartPoolMonitor(ctx, poolMonitorInterval)
	startDecayLoop(ctx, eng.Tier, log)

	r := api.NewRouter(eng, log)
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("engine listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server failed")
			os.Exit(1)
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	eng.Close()
	log.Info().Msg("engine stopped")
}

// startDecayLoop runs the tier/resonance decay job on a ticker until ctx
// is canceled. This is the scheduler the core rule (tier.Engine.DecayJob)
// is deliberately agnostic to (spec §4.6/§9): here it's a simple in-process
// ticker, but it could as easily be a cron invocation of a one-off CLI.
func startDecayLoop(ctx context.Context, tiers *tier.Engine, log zerolog.Logger) {
	go func() {
		ticker := time.NewTicker(decayInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := tiers.DecayJob(ctx); err != nil {
					log.Warn().Err(err).Msg("decay job failed")
				}
			}
		}
	}()
}
