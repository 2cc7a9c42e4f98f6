package telemetry

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Log output formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

var ErrLogFormat = errors.New("telemetry: unknown log format")

// NewLogger builds the root logger. level is a zerolog level name.
func NewLogger(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("telemetry: %w", err)
	}
	switch format {
	case FormatJSON, "":
	case FormatConsole:
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	default:
		return zerolog.Nop(), fmt.Errorf("%w: %q", ErrLogFormat, format)
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}
