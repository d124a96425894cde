package obs

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	loggerMu sync.Mutex
	logger   *zerolog.Logger
)

// InitLogging configures the global log level. Level is one of debug, info,
// warn, error; anything else falls back to info.
func InitLogging(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// Logger returns the shared structured logger used across the service.
func Logger() *zerolog.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		l := newLogger(os.Stdout)
		logger = &l
	}
	return logger
}

// SetLogOutput redirects the shared logger. Intended for tests.
func SetLogOutput(w io.Writer) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	l := newLogger(w)
	logger = &l
}

func newLogger(w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return zerolog.New(w).With().Timestamp().Str("service", "agentstore-api").Logger()
}
