// Package config loads the coordinator's startup configuration from
// the environment. Everything else is per-call.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/parleyhq/parley/pkg/database"
)

// MaxConversationTimeout is the upper bound accepted for a blocking
// conversation send.
const MaxConversationTimeout = 300 * time.Second

// MaxTurnDuration is the upper bound accepted for a meeting turn.
const MaxTurnDuration = 3600 * time.Second

// Config is the full startup configuration.
type Config struct {
	Database database.Config
	HTTPPort string

	// DefaultConversationTimeout applies when a blocking send or a
	// queue-then-wait read passes no timeout.
	DefaultConversationTimeout time.Duration

	// DefaultTurnDuration applies when a meeting is created without an
	// explicit turn duration. Zero disables turn timeouts by default.
	DefaultTurnDuration time.Duration

	// HandlerDeadline bounds detached handler invocations.
	HandlerDeadline time.Duration

	// FastPathDeadline bounds the synchronous conversation-handler
	// attempt before the caller falls back to waiting.
	FastPathDeadline time.Duration

	// LockAcquireTimeout bounds pinning a pool connection for an
	// advisory lock.
	LockAcquireTimeout time.Duration
}

// Load reads configuration from the environment with defaults applied.
func Load() (*Config, error) {
	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database:                   dbCfg,
		HTTPPort:                   getEnv("HTTP_PORT", "8080"),
		DefaultConversationTimeout: getDuration("DEFAULT_CONVERSATION_TIMEOUT", 30*time.Second),
		DefaultTurnDuration:        getDuration("DEFAULT_TURN_DURATION", 0),
		HandlerDeadline:            getDuration("HANDLER_DEADLINE", 30*time.Second),
		FastPathDeadline:           getDuration("FAST_PATH_DEADLINE", 100*time.Millisecond),
		LockAcquireTimeout:         getDuration("LOCK_ACQUIRE_TIMEOUT", 5*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configured bounds.
func (c *Config) Validate() error {
	if c.DefaultConversationTimeout <= 0 || c.DefaultConversationTimeout > MaxConversationTimeout {
		return fmt.Errorf("DEFAULT_CONVERSATION_TIMEOUT must be in (0, %s], got %s",
			MaxConversationTimeout, c.DefaultConversationTimeout)
	}
	if c.DefaultTurnDuration < 0 || c.DefaultTurnDuration > MaxTurnDuration {
		return fmt.Errorf("DEFAULT_TURN_DURATION must be in [0, %s], got %s",
			MaxTurnDuration, c.DefaultTurnDuration)
	}
	if c.HandlerDeadline <= 0 {
		return fmt.Errorf("HANDLER_DEADLINE must be positive, got %s", c.HandlerDeadline)
	}
	if c.FastPathDeadline <= 0 {
		return fmt.Errorf("FAST_PATH_DEADLINE must be positive, got %s", c.FastPathDeadline)
	}
	if c.LockAcquireTimeout <= 0 {
		return fmt.Errorf("LOCK_ACQUIRE_TIMEOUT must be positive, got %s", c.LockAcquireTimeout)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
