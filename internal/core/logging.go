package core

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// SetupLogging installs the process-wide slog default: tint's colorized,
// level-aware handler writing to stderr. verbose raises the minimum level
// from Info down to Debug.
func SetupLogging(verbose int) {
	level := slog.LevelInfo
	if verbose > 0 {
		level = slog.LevelDebug
	}

	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.DateTime,
		}),
	))
}
