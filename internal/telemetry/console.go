// Package telemetry sets up the logging and the OpenTelemetry providers
// used by the stages, and contains the carriers needed to propagate traces.
package telemetry

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// NewConsoleHandler returns a slog handler that writes human readable records to w.
// Colors are enabled only when w is a terminal.
func NewConsoleHandler(w io.Writer, level slog.Leveler) slog.Handler {
	noColor := true

	if f, ok := w.(*os.File); ok {
		fd := f.Fd()
		noColor = !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)

		if !noColor {
			w = colorable.NewColorable(f)
		}
	}

	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.StampMilli,
		NoColor:    noColor,
	})
}

// SetupConsoleLogger installs a console handler writing to stderr
// as the default slog handler.
func SetupConsoleLogger(level slog.Leveler) {
	slog.SetDefault(slog.New(NewConsoleHandler(os.Stderr, level)))
}
