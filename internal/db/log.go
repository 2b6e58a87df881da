package db

import (
	"fmt"
	"log/slog"
)

// logWriter sends gorm's logger output to slog.
type logWriter struct{}

func (logWriter) Printf(format string, args ...any) {
	slog.Warn("gorm", "message", fmt.Sprintf(format, args...))
}
