package log

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs a JSON handler writing to stdout as the default logger.
// Unknown levels fall back to INFO.
func Setup(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})

	slog.SetDefault(slog.New(handler))
}
