package config

import (
	"io"

	"github.com/rs/zerolog"
)

// Logger builds the process logger. Console output is meant for a terminal,
// json for log collectors.
func (c LogConfig) Logger(w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		return zerolog.Nop(), err
	}
	if c.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Caller().Logger(), nil
}
