package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Loggers hands out per-component loggers sharing one writer and level.
type Loggers struct {
	root zerolog.Logger
}

// NewLoggers parses level with zerolog's names; empty or unknown means info.
func NewLoggers(w io.Writer, level string) *Loggers {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return &Loggers{root: zerolog.New(w).Level(lvl).With().Timestamp().Logger()}
}

// For tags every entry with component.
func (l *Loggers) For(component string) zerolog.Logger {
	return l.root.With().Str("component", component).Logger()
}

// NewLogger is the stdout logger for one-shot tools, leveled by
// AMM_LOG_LEVEL.
func NewLogger(component string) zerolog.Logger {
	return NewLoggers(os.Stdout, os.Getenv("AMM_LOG_LEVEL")).For(component)
}

// NewLoggerTo writes to w. Tests pass a buffer.
func NewLoggerTo(w io.Writer, component string, level zerolog.Level) zerolog.Logger {
	return NewLoggers(w, level.String()).For(component)
}

// WithSnapshot scopes l to one pool snapshot.
func WithSnapshot(l zerolog.Logger, pool string, block uint64) zerolog.Logger {
	return l.With().Str("pool", pool).Uint64("block", block).Logger()
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
