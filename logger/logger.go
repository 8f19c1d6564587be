package logger

import (
	"os"

	"github.com/olticketwidget/price-ingest/config"
	"github.com/rs/zerolog"
)

// New returns a configured zerolog.Logger. Level is driven by cfg.LogLevel;
// an unrecognised value falls back to info, or to debug in development.
func New(cfg *config.Config) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: os.Stderr}
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
		if cfg.Env == "development" {
			lvl = zerolog.DebugLevel
		}
	}
	zerolog.SetGlobalLevel(lvl)
	return zerolog.New(out).With().Timestamp().Str("service", "price-ingest").Logger()
}
