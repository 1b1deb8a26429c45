package library

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds process-level settings read from the environment.
type Config struct {
	DBPath      string
	Seed        bool
	LogLevel    zerolog.Level
	BusyTimeout time.Duration
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// LoadConfig reads an optional .env file from the working directory, then
// the LIBRARY_* variables, falling back to defaults for anything unset or
// unparsable. Variables already in the environment win over .env entries.
func LoadConfig() Config {
	_ = godotenv.Load()

	level, err := zerolog.ParseLevel(getenv("LIBRARY_LOG_LEVEL", "info"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	timeout := DefaultBusyTimeout
	if ms, err := strconv.Atoi(getenv("LIBRARY_BUSY_TIMEOUT_MS", "")); err == nil && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	seed, err := strconv.ParseBool(getenv("LIBRARY_SEED", "true"))
	if err != nil {
		seed = true
	}

	return Config{
		DBPath:      getenv("LIBRARY_DB_PATH", "library.db"),
		Seed:        seed,
		LogLevel:    level,
		BusyTimeout: timeout,
	}
}
