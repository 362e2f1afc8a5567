package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"github.com/jacentio/innkeeper/bookings"
	"github.com/jacentio/innkeeper/store"
)

// Backend names.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
)

// Room mapping names.
const (
	RoomsTablePerConcrete = "table-per-concrete"
	RoomsSingleTable      = "single-table"
)

var errConfigInvalid = errors.New("invalid config")

// Config holds all configuration options.
type Config struct {
	// Backend is sqlite, postgres or dynamodb.
	Backend string `json:"backend"`
	// DSN is the SQLite file path or the PostgreSQL connection URL.
	DSN string `json:"dsn,omitempty"`
	// Endpoint overrides the DynamoDB endpoint, e.g. DynamoDB Local.
	Endpoint    string `json:"endpoint,omitempty"`
	TablePrefix string `json:"table_prefix,omitempty"` //nolint:tagliatelle // snake_case for config file
	Streams     bool   `json:"streams,omitempty"`
	Rooms       string `json:"rooms,omitempty"`
	Routines    bool   `json:"routines,omitempty"`
	Verbose     bool   `json:"verbose,omitempty"`
}

// DefaultConfig returns the default configuration: a local SQLite file with
// one table per room kind.
func DefaultConfig() Config {
	return Config{
		Backend: BackendSQLite,
		DSN:     "innkeeper.db",
		Rooms:   RoomsTablePerConcrete,
	}
}

// LoadConfig reads a JWCC config file over the defaults. An empty path
// returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := parseConfig(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}
	return cfg, nil
}

func parseConfig(data []byte, cfg *Config) error {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("invalid JSONC: %w", err)
	}
	if err := json.Unmarshal(standardized, cfg); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// Validate checks backend and room mapping names.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendSQLite, BackendPostgres:
		if c.DSN == "" {
			return fmt.Errorf("%w: %s needs a dsn", errConfigInvalid, c.Backend)
		}
	case BackendDynamoDB:
		if c.Routines {
			return fmt.Errorf("%w: dynamodb has no stored routines", errConfigInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", errConfigInvalid, c.Backend)
	}
	if _, err := c.roomStrategy(); err != nil {
		return err
	}
	return nil
}

func (c Config) roomStrategy() (store.Strategy, error) {
	switch c.Rooms {
	case "", RoomsTablePerConcrete:
		return store.StrategyTablePerConcrete, nil
	case RoomsSingleTable:
		return store.StrategySingleTable, nil
	}
	return store.StrategyNone, fmt.Errorf("%w: unknown room mapping %q", errConfigInvalid, c.Rooms)
}

// Options returns the booking model options.
func (c Config) Options() (bookings.Options, error) {
	strategy, err := c.roomStrategy()
	if err != nil {
		return bookings.Options{}, err
	}
	return bookings.Options{RoomStrategy: strategy, Routines: c.Routines}, nil
}
