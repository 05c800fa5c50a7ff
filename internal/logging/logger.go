// Package logging builds the engine's single zerolog.Logger: console
// output in development, structured JSON in production, exactly as the
// rest of the codebase expects to receive it.
package logging

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/anima-systems/anima-memory/internal/config"
)

// New returns a configured root logger. Every component derives its own
// child via .With().Str("component", ...).Logger() rather than logging
// through this value directly.
func New(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.IsDevelopment() {
		out := zerolog.ConsoleWriter{Out: os.Stderr}
		return zerolog.New(out).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
