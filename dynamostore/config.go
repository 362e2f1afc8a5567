package dynamostore

import "log/slog"

// Config holds configuration for a DB.
type Config struct {
	// TablePrefix is prepended to every table name.
	// Default: ""
	TablePrefix string

	// SequenceTable holds one atomic counter per sequence.
	// Default: "innkeeper_sequences"
	SequenceTable string

	// Streams enables NEW_AND_OLD_IMAGES streams on provisioned entity
	// tables, for handlers that maintain view tables.
	// Default: false
	Streams bool

	// Logger receives request diagnostics.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SequenceTable: "innkeeper_sequences",
		Logger:        slog.Default(),
	}
}

// validate fills in defaults.
func (c *Config) validate() {
	if c.SequenceTable == "" {
		c.SequenceTable = "innkeeper_sequences"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
