package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
)

// Session is a unit of work: an identity map of the entities it loaded or
// was given, and the writes that make storage match them. It is not safe
// for concurrent use.
type Session struct {
	store   *Store
	tracker *Tracker
	log     *slog.Logger
	scope   *Scope
	closed  bool
	// atomic forces all-or-nothing saves regardless of Config.
	atomic bool
}

// SaveResult reports the outcome of SaveChanges.
type SaveResult struct {
	// Committed counts the writes that were applied.
	Committed int
	// Conflicts lists the entities whose token no longer matched storage.
	// They keep their pending state so the caller can reload or detach them.
	Conflicts []*ConflictError
}

func (s *Session) check() error {
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) executor() Executor {
	if s.scope != nil {
		return s.scope.tx
	}
	return s.store.backend
}

// Add tracks a new entity for insertion on the next SaveChanges.
func (s *Session) Add(entity any) error {
	if err := s.check(); err != nil {
		return err
	}
	e, err := s.tracker.Attach(entity)
	if err != nil {
		return err
	}
	if b, ok := entity.(*Bag); ok {
		if err := b.validate(); err != nil {
			s.tracker.Detach(e)
			return err
		}
	}
	return nil
}

// Remove schedules a tracked entity for deletion. Removing an entity that
// was added in this session simply forgets it.
func (s *Session) Remove(entity any) error {
	if err := s.check(); err != nil {
		return err
	}
	e, ok := s.tracker.Entry(entity)
	if !ok {
		return fmt.Errorf("remove %T: %w", entity, ErrNotTracked)
	}
	s.tracker.MarkDeleted(e)
	return nil
}

// Update runs fn against a tracked entity. When fn fails, or changes the
// key, every property is restored to its value before the call.
func (s *Session) Update(entity any, fn func() error) error {
	if err := s.check(); err != nil {
		return err
	}
	e, ok := s.tracker.Entry(entity)
	if !ok {
		return fmt.Errorf("update %T: %w", entity, ErrNotTracked)
	}
	if e.State == Deleted {
		return fmt.Errorf("update %s %v: entity is scheduled for deletion", e.Desc.Kind, e.Key())
	}
	before := e.Desc.current(entity)
	if err := fn(); err != nil {
		_ = e.Desc.assign(entity, before)
		return err
	}
	if e.State != Added {
		for _, k := range e.Desc.Keys {
			if !k.Conv.Equal(before[k.Name], k.get(entity)) {
				_ = e.Desc.assign(entity, before)
				return NewValidationError(e.Desc.Kind, k.Name, k.get(entity), "key of a tracked entity cannot change")
			}
		}
	}
	return nil
}

// SaveChanges writes every pending change in one backend transaction, or in
// the active scope's. Conflicting entities are reported in the result and
// the rest commits, unless Config.AllOrNothing is set: then any conflict
// fails the whole save. On error the tracker is left as it was before the
// call.
func (s *Session) SaveChanges(ctx context.Context) (SaveResult, error) {
	if err := s.check(); err != nil {
		return SaveResult{}, err
	}
	// Pending mutations must be part of what a failed save restores.
	if err := s.tracker.DetectChanges(); err != nil {
		return SaveResult{}, err
	}
	cp := s.tracker.Checkpoint()
	res, err := s.save(ctx)
	if err != nil {
		if s.scope != nil {
			s.scope.abort()
		} else {
			s.tracker.Restore(cp)
		}
		return res, err
	}
	return res, nil
}

func (s *Session) save(ctx context.Context) (res SaveResult, err error) {
	cfg := s.store.config
	cfg.AllOrNothing = cfg.AllOrNothing || s.atomic

	// 1. Make foreign keys follow assigned navigations
	if err := s.fixup(); err != nil {
		return res, err
	}

	// 2. Join the scope's transaction or begin our own
	var tx Tx
	own := s.scope == nil
	if own {
		if tx, err = s.store.backend.Begin(ctx); err != nil {
			return res, fmt.Errorf("save changes: begin: %w", err)
		}
		defer func() {
			if err != nil {
				_ = tx.Rollback()
			}
		}()
	} else {
		tx = s.scope.tx
	}

	// 3. Draw keys for new entities from their sequences
	generated := false
	for _, e := range s.tracker.Entries() {
		if e.State != Added || !isZero(e.Key()) {
			continue
		}
		n, err := tx.NextValue(ctx, e.Desc.Sequence)
		if err != nil {
			return res, fmt.Errorf("save changes: sequence %s: %w", e.Desc.Sequence, err)
		}
		key, err := e.Desc.Key.Conv.FromStorage(n)
		if err != nil {
			return res, &ConversionError{Kind: e.Desc.Kind, Column: e.Desc.Key.Column, Value: n, Err: err}
		}
		if err := s.tracker.AssignKey(e, key); err != nil {
			return res, err
		}
		generated = true
	}
	if generated {
		if err := s.fixup(); err != nil {
			return res, err
		}
	}

	// 4. Compute the ordered change set
	if err := s.tracker.DetectChanges(); err != nil {
		return res, err
	}
	cs, err := s.tracker.Flush()
	if err != nil {
		return res, err
	}
	if cs.Len() == 0 {
		if own {
			return res, tx.Commit()
		}
		return res, nil
	}

	// 5. Check tokens and build the writes
	d := &dispatcher{reg: s.store.registry, caps: s.store.backend.Capabilities(), now: cfg.now()}
	var (
		intents []WriteIntent
		writes  []Write
		shadows []Values
	)
	for _, e := range cs.Entries() {
		in, err := CheckAndPrepare(e)
		if err != nil {
			var ce *ConflictError
			if !errors.As(err, &ce) {
				return res, err
			}
			res.Conflicts = append(res.Conflicts, ce)
			continue
		}
		prev := maps.Clone(e.shadow)
		d.stamp(in)
		w, err := d.prepare(in)
		if err != nil {
			return res, err
		}
		intents = append(intents, in)
		writes = append(writes, w)
		shadows = append(shadows, prev)
	}
	if cfg.AllOrNothing && len(res.Conflicts) > 0 {
		return res, conflictsError(res.Conflicts)
	}

	// 6. Execute the batch
	results, err := tx.Apply(ctx, Batch{Writes: writes, Atomic: cfg.AllOrNothing})
	if err != nil {
		return res, fmt.Errorf("save changes: %w", err)
	}
	var applied []int
	for i, r := range results {
		if i >= len(intents) {
			break
		}
		if err := checkAffected(intents[i], r); err != nil {
			var ce *ConflictError
			errors.As(err, &ce)
			res.Conflicts = append(res.Conflicts, ce)
			intents[i].Entry.shadow = shadows[i]
			continue
		}
		applied = append(applied, i)
	}
	for _, ce := range res.Conflicts {
		s.log.Warn("concurrency conflict", "kind", ce.Kind, "key", ce.Key)
	}
	if cfg.AllOrNothing && len(res.Conflicts) > 0 {
		return res, conflictsError(res.Conflicts)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	// 7. Decode returned columns, commit, then accept the new snapshots and tokens
	returned := make([]Values, len(applied))
	for j, i := range applied {
		if returned[j], err = s.decodeReturned(intents[i].Entry, results[i]); err != nil {
			return res, err
		}
	}
	if own {
		if err := tx.Commit(); err != nil {
			return res, fmt.Errorf("save changes: commit: %w", err)
		}
	}
	for j, i := range applied {
		e := intents[i].Entry
		s.readBack(e, returned[j])
		token := results[i].Token
		if token == nil && e.Desc.TokenColumn != "" {
			if b, ok := results[i].Returned[e.Desc.TokenColumn].([]byte); ok {
				token = Token(b)
			}
		}
		inserted := e.State == Added
		s.tracker.Accept(e, token)
		if inserted {
			s.bindNavs(e)
		}
	}
	res.Committed = len(applied)

	s.log.Info("saved changes",
		"inserts", len(cs.Inserts),
		"updates", len(cs.Updates),
		"deletes", len(cs.Deletes),
		"committed", res.Committed,
		"conflicts", len(res.Conflicts),
	)
	return res, nil
}

// decodeReturned converts server-computed result columns, other than the
// token, to domain values keyed by property.
func (s *Session) decodeReturned(e *Entry, r WriteResult) (Values, error) {
	var vals Values
	for col, raw := range r.Returned {
		if col == e.Desc.TokenColumn || raw == nil {
			continue
		}
		p, ok := e.Desc.byColumn[col]
		if !ok {
			continue
		}
		v, err := p.Conv.FromStorage(raw)
		if err != nil {
			return nil, &ConversionError{Kind: e.Desc.Kind, Column: col, Value: raw, Err: err}
		}
		if vals == nil {
			vals = Values{}
		}
		vals[p.Name] = v
	}
	return vals, nil
}

// readBack assigns decoded result values to the entity before its snapshot
// is taken. The rows are already committed, so a value the entity rejects
// is logged rather than failing the save.
func (s *Session) readBack(e *Entry, vals Values) {
	for name, v := range vals {
		p := e.Desc.byName[name]
		if p.Role == RoleShadow {
			e.shadow[name] = v
			continue
		}
		if err := p.set(e.Entity, v); err != nil {
			s.log.Error("read back result column", "kind", e.Desc.Kind, "column", p.Column, "err", err)
		}
	}
}

// fixup copies the key of every principal assigned through a Ref into the
// owner's foreign key.
func (s *Session) fixup() error {
	for _, e := range s.tracker.Entries() {
		if e.State == Deleted {
			continue
		}
		for _, n := range e.Desc.Navigations {
			if n.Many {
				continue
			}
			slot := n.Slot(e.Entity)
			if slot == nil {
				continue
			}
			items := slot.assigned()
			if len(items) == 0 {
				continue
			}
			pd, err := s.store.registry.Describe(items[0])
			if err != nil {
				return fmt.Errorf("navigation %s.%s: %w", e.Desc.Kind, n.Name, err)
			}
			key := pd.Key.get(items[0])
			if isZero(key) {
				continue
			}
			stored, err := pd.storageKey(key)
			if err != nil {
				return err
			}
			fk := e.Desc.byName[n.Property]
			v, err := fk.Conv.FromStorage(stored)
			if err != nil {
				return &ConversionError{Kind: e.Desc.Kind, Column: fk.Column, Value: stored, Err: err}
			}
			if fk.Conv.Equal(fk.get(e.Entity), v) {
				continue
			}
			if err := fk.set(e.Entity, v); err != nil {
				return &ConversionError{Kind: e.Desc.Kind, Column: fk.Column, Value: stored, Err: err}
			}
		}
	}
	return nil
}

func conflictsError(conflicts []*ConflictError) error {
	errs := make([]error, len(conflicts))
	for i, c := range conflicts {
		errs[i] = c
	}
	return errors.Join(errs...)
}

// Entry returns the tracking record of entity.
func (s *Session) Entry(entity any) (*Entry, bool) {
	return s.tracker.Entry(entity)
}

// State returns the lifecycle state of entity; untracked entities are Detached.
func (s *Session) State(entity any) State {
	if e, ok := s.tracker.Entry(entity); ok {
		return e.State
	}
	return Detached
}

// Token returns the concurrency token last observed for entity.
func (s *Session) Token(entity any) (Token, bool) {
	e, ok := s.tracker.Entry(entity)
	if !ok || len(e.Token) == 0 {
		return nil, false
	}
	return e.Token, true
}

// Shadow returns a shadow attribute of a tracked entity, such as CreatedAt.
func (s *Session) Shadow(entity any, name string) (any, bool) {
	e, ok := s.tracker.Entry(entity)
	if !ok {
		return nil, false
	}
	return e.Shadow(name)
}

// Detach stops tracking entity; pending changes to it are discarded.
func (s *Session) Detach(entity any) error {
	e, ok := s.tracker.Entry(entity)
	if !ok {
		return fmt.Errorf("detach %T: %w", entity, ErrNotTracked)
	}
	s.tracker.Detach(e)
	return nil
}

// Local returns the tracked entities of kind whose property equals value
// under the property's converter equality, without touching storage.
func (s *Session) Local(kind, property string, value any) ([]any, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	d, err := s.store.registry.Kind(kind)
	if err != nil {
		return nil, err
	}
	p, ok := d.byName[property]
	if !ok {
		return nil, fmt.Errorf("local %s: unknown property %s", kind, property)
	}
	want := p.Conv.Hash(value)
	var out []any
	for _, e := range s.tracker.entries {
		if !e.Desc.IsA(kind) || e.State == Deleted {
			continue
		}
		ep := e.Desc.byName[property]
		var cur any
		if ep.Role == RoleShadow {
			cur = e.shadow[property]
		} else {
			cur = ep.get(e.Entity)
		}
		if ep.Conv.Hash(cur) == want && ep.Conv.Equal(cur, value) {
			out = append(out, e.Entity)
		}
	}
	return out, nil
}

// Close ends the session, rolling back an active scope. Lazy navigations of
// its entities fail with ErrSessionClosed afterwards.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	var err error
	if s.scope != nil {
		err = s.scope.Rollback()
	}
	s.closed = true
	return err
}
