package core

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// SetupLogging installs a tint handler on stderr as the default logger.
// Colors are only used when stderr is a terminal; inside a sandbox stderr
// is usually a file on the host.
func SetupLogging(verbose int) {
	noColor := !term.IsTerminal(int(os.Stderr.Fd()))
	slog.SetDefault(NewLogger(os.Stderr, verbose, noColor))
}

// NewLogger builds the tint logger used by all ol-init commands
func NewLogger(w io.Writer, verbose int, noColor bool) *slog.Logger {
	handler := tint.NewHandler(w, &tint.Options{
		Level:      LogLevel(verbose),
		TimeFormat: time.DateTime,
		NoColor:    noColor,
	})
	return slog.New(handler)
}

// LogLevel maps the verbose setting to a slog level
func LogLevel(verbose int) slog.Level {
	if verbose >= 1 {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
