package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger zerolog.Logger
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
	level            = zerolog.InfoLevel
	runID  string
)

func init() {
	rebuild()
}

// rebuild must be called with mu held for writing, or from init.
func rebuild() {
	writer := zerolog.MultiLevelWriter(
		SpecificLevelWriter{
			Writer: zerolog.ConsoleWriter{
				Out:        stdout,
				TimeFormat: time.RFC3339,
				NoColor:    true,
			},
			Levels: []zerolog.Level{
				zerolog.DebugLevel, zerolog.InfoLevel, zerolog.WarnLevel,
			},
		},
		SpecificLevelWriter{
			Writer: zerolog.ConsoleWriter{
				Out:        stderr,
				TimeFormat: time.RFC3339,
				NoColor:    true,
			},
			Levels: []zerolog.Level{
				zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel,
			},
		},
	)
	ctx := zerolog.New(writer).Level(level).With().Timestamp()
	if runID != "" {
		ctx = ctx.Str("run_id", runID)
	}
	logger = ctx.Logger()
}

// SetOutput routes debug, info and warn lines to out and everything above to errOut.
func SetOutput(out, errOut io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	stdout, stderr = out, errOut
	rebuild()
}

// SetLevel accepts debug, info, warn or error.
func SetLevel(name string) error {
	lvl, err := ParseLevel(name)
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	level = lvl
	rebuild()
	return nil
}

// ParseLevel maps a --log-level value to a zerolog level.
func ParseLevel(name string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info", "":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	}
	return zerolog.NoLevel, fmt.Errorf("unknown log level %q (want debug, info, warn or error)", name)
}

// WithRunID stamps every following line with the invocation's run id.
func WithRunID(id string) {
	mu.Lock()
	defer mu.Unlock()
	runID = id
	rebuild()
}

func current() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := logger
	return &l
}

func Info(msg string) {
	current().Info().Msg(msg)
}

func Infof(format string, args ...interface{}) {
	current().Info().Msgf(format, args...)
}

func Warn(msg string) {
	current().Warn().Msg(msg)
}

func Warnf(format string, args ...interface{}) {
	current().Warn().Msgf(format, args...)
}

func Error(msg string) {
	current().Error().Msg(msg)
}

func Errorf(format string, args ...interface{}) {
	current().Error().Msgf(format, args...)
}

func Debug(msg string) {
	current().Debug().Msg(msg)
}

func Debugf(format string, args ...interface{}) {
	current().Debug().Msgf(format, args...)
}

// multilevel writer from https://stackoverflow.com/questions/76858037/how-to-use-zerolog-to-filter-info-logs-to-stdout-and-error-logs-to-stderr
type SpecificLevelWriter struct {
	io.Writer
	Levels []zerolog.Level
}

func (w SpecificLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	for _, l := range w.Levels {
		if l == level {
			return w.Write(p)
		}
	}
	return len(p), nil
}
