package store

import (
	"errors"
	"fmt"
	"log/slog"
)

// Store binds a sealed registry to a backend. It is safe for concurrent use;
// the sessions it creates are not.
type Store struct {
	backend  Backend
	registry *Registry
	config   Config
	log      *slog.Logger
}

// New creates a new Store instance. The registry is sealed if it is not
// already.
func New(backend Backend, registry *Registry, config Config) (*Store, error) {
	if backend == nil {
		return nil, errors.New("innkeeper: backend is required")
	}
	if registry == nil {
		return nil, errors.New("innkeeper: registry is required")
	}
	config.validate()
	if err := registry.Seal(); err != nil {
		return nil, fmt.Errorf("new store: %w", err)
	}
	return &Store{
		backend:  backend,
		registry: registry,
		config:   config,
		log:      config.Logger,
	}, nil
}

// Registry returns the sealed registry.
func (s *Store) Registry() *Registry {
	return s.registry
}

// Backend returns the backend the store persists to.
func (s *Store) Backend() Backend {
	return s.backend
}

// Session starts a unit of work.
func (s *Store) Session() *Session {
	return &Session{
		store:   s,
		tracker: NewTracker(s.registry),
		log:     s.log,
	}
}
