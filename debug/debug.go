package debug

import (
	"os"
	"strconv"

	"github.com/rs/zerolog"
)

var logger zerolog.Logger

func init() {
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger().
		Level(zerolog.Disabled)

	debugEnv, exists := os.LookupEnv("REMOTE_GO_DEBUG")
	if exists {
		if val, err := strconv.ParseBool(debugEnv); err == nil && val {
			Enable()
		}
	}
}

// Logger returns the package-wide default logger. It stays disabled unless
// REMOTE_GO_DEBUG is set to a true value or Enable is called.
func Logger() zerolog.Logger {
	return logger
}

func Enable() {
	logger = logger.Level(zerolog.DebugLevel)
}

func Disable() {
	logger = logger.Level(zerolog.Disabled)
}
