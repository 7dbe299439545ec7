// Package logging configures the process-wide slog logger: text output
// to a log file (stderr if the file cannot be opened), with a
// shortened timestamp format.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Init builds and installs the default slog.Logger. verbose selects
// Debug level; otherwise Info. Records go to logPath (default: a
// per-process file under the temp dir) rather than the terminal,
// which may be in raw mode; stderr is the fallback when the file
// cannot be opened.
func Init(verbose bool, logPath string) (*slog.Logger, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stderr
	if logPath == "" {
		logPath = filepath.Join(os.TempDir(), fmt.Sprintf("wsshell-%d.log", os.Getpid()))
	}
	if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
		w = f
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format("15:04:05"))
				}
			}
			return a
		},
	})

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}
