package store

import (
	"log/slog"
	"time"
)

// Config holds configuration for the Store.
type Config struct {
	// AllOrNothing rolls back a whole SaveChanges when any entity conflicts.
	// Default: false (conflicts are reported per entity, the rest commits)
	AllOrNothing bool

	// Logger receives statement and save diagnostics.
	// Default: slog.Default()
	Logger *slog.Logger

	// Clock supplies the instant used for shadow timestamps.
	// Default: time.Now
	Clock func() time.Time
}

// DefaultConfig returns the per-entity conflict reporting configuration.
func DefaultConfig() Config {
	return Config{
		Logger: slog.Default(),
		Clock:  time.Now,
	}
}

// validate fills unset fields.
func (c *Config) validate() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

func (c *Config) now() time.Time {
	return c.Clock().UTC()
}
