// Package hooklog configures the process-wide zerolog logger used by every
// other package in this module.
package hooklog

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init installs the global logger. When stderr is a terminal, output goes
// through zerolog's human-readable console writer; otherwise it stays
// newline-delimited JSON, suitable for log aggregation. debug raises the
// global level to zerolog.DebugLevel; otherwise the level is InfoLevel.
func Init(debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var w = os.Stderr
	if isatty.IsTerminal(w.Fd()) {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}
