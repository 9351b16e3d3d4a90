// Package logging configures the process-wide slog logger: human
// readable output on stderr plus a rotated log file in the data
// directory.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup builds the logger. When dataDir is non-empty, log lines are also
// appended to <dataDir>/ascsync.log with rotation. verbose lowers the
// level to Debug; the ASCSYNC_LOG environment variable (debug, info,
// warn, error) overrides it.
func Setup(dataDir string, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if env := os.Getenv("ASCSYNC_LOG"); env != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(env)); err == nil {
			level = l
		}
	}

	var out io.Writer = os.Stderr
	if dataDir != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   filepath.Join(dataDir, "ascsync.log"),
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     30, // days
			Compress:   true,
		})
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}
