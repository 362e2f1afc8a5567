package store

import (
	"context"
	"errors"
	"fmt"
)

// Scope spans several SaveChanges calls with one backend transaction. A
// failed save inside the scope rolls the transaction back and restores the
// tracker to its state when the scope began.
type Scope struct {
	session *Session
	tx      Tx
	cp      *Checkpoint
	done    bool
}

// Begin starts a scope on backends that allow multi-save transactions.
func (s *Session) Begin(ctx context.Context) (*Scope, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if s.scope != nil {
		return nil, errors.New("innkeeper: scope already active")
	}
	if !s.store.backend.Capabilities().Scopes {
		return nil, ErrScopeUnsupported
	}
	tx, err := s.store.backend.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin scope: %w", err)
	}
	sc := &Scope{session: s, tx: tx, cp: s.tracker.Checkpoint()}
	s.scope = sc
	return sc, nil
}

// Commit makes every save of the scope durable.
func (sc *Scope) Commit() error {
	if sc.done {
		return ErrScopeDone
	}
	sc.finish()
	if err := sc.tx.Commit(); err != nil {
		sc.session.tracker.Restore(sc.cp)
		return fmt.Errorf("commit scope: %w", err)
	}
	return nil
}

// Rollback discards every save of the scope and restores the tracker.
func (sc *Scope) Rollback() error {
	if sc.done {
		return ErrScopeDone
	}
	sc.finish()
	sc.session.tracker.Restore(sc.cp)
	if err := sc.tx.Rollback(); err != nil {
		return fmt.Errorf("rollback scope: %w", err)
	}
	return nil
}

func (sc *Scope) abort() {
	if sc.done {
		return
	}
	_ = sc.Rollback()
}

func (sc *Scope) finish() {
	sc.done = true
	if sc.session.scope == sc {
		sc.session.scope = nil
	}
}

// InTransaction runs fn inside a scope, committing when it returns nil.
func (s *Session) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	sc, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		if !sc.done {
			_ = sc.Rollback()
		}
		return err
	}
	return sc.Commit()
}
