package store

import (
	"bytes"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sort"

	"github.com/jacentio/innkeeper/internal/keyhash"
)

// State is the lifecycle state of a tracked entity.
type State int

const (
	Detached State = iota
	Unchanged
	Added
	Modified
	Deleted
)

func (s State) String() string {
	switch s {
	case Unchanged:
		return "Unchanged"
	case Added:
		return "Added"
	case Modified:
		return "Modified"
	case Deleted:
		return "Deleted"
	}
	return "Detached"
}

// Entry is the tracking record of one entity.
type Entry struct {
	Entity any
	Desc   *Descriptor
	State  State
	// Original holds property values as last loaded or saved.
	Original Values
	// Token is the concurrency token last observed for the row.
	Token Token
	// Changed lists the properties that differ from Original, in column order.
	Changed []string

	shadow   Values
	identity string
}

// Key returns the entity's current key value.
func (e *Entry) Key() any {
	return e.Desc.keyValue(func(p *Property) any { return p.get(e.Entity) })
}

// Shadow returns a shadow attribute value.
func (e *Entry) Shadow(name string) (any, bool) {
	v, ok := e.shadow[name]
	return v, ok
}

// ChangeSet is the ordered write set of one flush: inserts principal-first,
// then updates, then deletes dependent-first.
type ChangeSet struct {
	Inserts []*Entry
	Updates []*Entry
	Deletes []*Entry
}

// Len returns the number of pending writes.
func (c ChangeSet) Len() int { return len(c.Inserts) + len(c.Updates) + len(c.Deletes) }

// Entries returns every entry in dispatch order.
func (c ChangeSet) Entries() []*Entry {
	out := make([]*Entry, 0, c.Len())
	out = append(out, c.Inserts...)
	out = append(out, c.Updates...)
	return append(out, c.Deletes...)
}

// Tracker is the identity map and state machine of one unit of work. It is
// not safe for concurrent use.
type Tracker struct {
	reg        *Registry
	byIdentity map[string]*Entry
	byEntity   map[any]*Entry
	entries    []*Entry
	generated  []*Entry
}

// NewTracker creates an empty tracker.
func NewTracker(reg *Registry) *Tracker {
	return &Tracker{
		reg:        reg,
		byIdentity: map[string]*Entry{},
		byEntity:   map[any]*Entry{},
	}
}

// Entries returns the tracked entries in tracking order.
func (t *Tracker) Entries() []*Entry { return slices.Clone(t.entries) }

// Entry returns the entry tracking entity.
func (t *Tracker) Entry(entity any) (*Entry, bool) {
	e, ok := t.byEntity[entity]
	return e, ok
}

// Lookup returns the entry for the identity (hierarchy of d, key).
func (t *Tracker) Lookup(d *Descriptor, key any) (*Entry, bool) {
	id, err := identityOf(d, key)
	if err != nil {
		return nil, false
	}
	e, ok := t.byIdentity[id]
	return e, ok
}

func identityOf(d *Descriptor, key any) (string, error) {
	s, err := d.storageKey(key)
	if err != nil {
		return "", err
	}
	return keyhash.Identity(d.Root().Kind, s), nil
}

// Attach registers a new entity as Added. A zero key is allowed only when
// the kind draws keys from a sequence.
func (t *Tracker) Attach(entity any) (*Entry, error) {
	d, err := t.reg.Describe(entity)
	if err != nil {
		return nil, err
	}
	if d.View || d.Abstract {
		return nil, fmt.Errorf("attach %s: kind is read-only", d.Kind)
	}
	if _, ok := t.byEntity[entity]; ok {
		return nil, fmt.Errorf("attach %s: %w", d.Kind, ErrAlreadyTracked)
	}
	e := &Entry{Entity: entity, Desc: d, State: Added, shadow: Values{}}
	key := e.Key()
	if isZero(key) {
		if d.Sequence == "" {
			return nil, NewValidationError(d.Kind, d.Key.Name, key, "key is required")
		}
	} else {
		id, err := identityOf(d, key)
		if err != nil {
			return nil, err
		}
		if _, dup := t.byIdentity[id]; dup {
			return nil, fmt.Errorf("attach %s %v: %w", d.Kind, key, ErrAlreadyTracked)
		}
		e.identity = id
		t.byIdentity[id] = e
	}
	t.byEntity[entity] = e
	t.entries = append(t.entries, e)
	return e, nil
}

// Load registers a materialized row as Unchanged, or returns the entry
// already tracking that identity; the existing entity is never overwritten.
func (t *Tracker) Load(d *Descriptor, vals Values, token Token, shadow Values) (*Entry, bool, error) {
	id, err := identityOf(d, d.keyValue(func(p *Property) any { return vals[p.Name] }))
	if err != nil {
		return nil, false, err
	}
	if e, ok := t.byIdentity[id]; ok {
		return e, false, nil
	}
	entity, err := d.build(vals)
	if err != nil {
		return nil, false, err
	}
	e := &Entry{
		Entity:   entity,
		Desc:     d,
		State:    Unchanged,
		Original: vals,
		Token:    token,
		shadow:   shadow,
		identity: id,
	}
	t.byIdentity[id] = e
	t.byEntity[entity] = e
	t.entries = append(t.entries, e)
	return e, true, nil
}

// MarkDeleted schedules the entity for deletion. An Added entity is simply
// forgotten.
func (t *Tracker) MarkDeleted(e *Entry) {
	switch e.State {
	case Added:
		t.Detach(e)
	case Unchanged, Modified:
		e.State = Deleted
	}
}

// Detach stops tracking e.
func (t *Tracker) Detach(e *Entry) {
	if e.identity != "" && t.byIdentity[e.identity] == e {
		delete(t.byIdentity, e.identity)
	}
	delete(t.byEntity, e.Entity)
	t.entries = slices.DeleteFunc(t.entries, func(x *Entry) bool { return x == e })
	e.State = Detached
}

// AssignKey sets a generated key on an Added entity and indexes its identity.
func (t *Tracker) AssignKey(e *Entry, key any) error {
	if err := e.Desc.Key.set(e.Entity, key); err != nil {
		return err
	}
	id, err := identityOf(e.Desc, e.Key())
	if err != nil {
		return err
	}
	if _, dup := t.byIdentity[id]; dup {
		return &IntegrityError{Kind: e.Desc.Kind, Key: key, Reason: "generated key already tracked"}
	}
	e.identity = id
	t.byIdentity[id] = e
	t.generated = append(t.generated, e)
	return nil
}

// DetectChanges compares every Unchanged or Modified entity with its
// snapshot using each property's converter equality.
func (t *Tracker) DetectChanges() error {
	for _, e := range t.entries {
		if e.State != Unchanged && e.State != Modified {
			continue
		}
		var changed []string
		for _, p := range e.Desc.Properties {
			if p.Conv.Equal(p.get(e.Entity), e.Original[p.Name]) {
				continue
			}
			if p.Role == RoleKey {
				return NewValidationError(e.Desc.Kind, p.Name, p.get(e.Entity), "key of a tracked entity cannot change")
			}
			changed = append(changed, p.Name)
		}
		e.Changed = changed
		if len(changed) > 0 {
			e.State = Modified
		} else {
			e.State = Unchanged
		}
	}
	return nil
}

// Flush collects pending writes in dependency order. A live entity
// referencing a principal scheduled for deletion is an IntegrityError:
// the flush never reorders around it.
func (t *Tracker) Flush() (ChangeSet, error) {
	var cs ChangeSet
	for _, e := range t.entries {
		switch e.State {
		case Added:
			cs.Inserts = append(cs.Inserts, e)
		case Modified:
			cs.Updates = append(cs.Updates, e)
		case Deleted:
			cs.Deletes = append(cs.Deletes, e)
		}
	}
	if len(cs.Deletes) > 0 {
		if err := t.checkDeletes(); err != nil {
			return ChangeSet{}, err
		}
	}
	sort.SliceStable(cs.Inserts, func(i, j int) bool { return cs.Inserts[i].Desc.depth < cs.Inserts[j].Desc.depth })
	sort.SliceStable(cs.Deletes, func(i, j int) bool { return cs.Deletes[i].Desc.depth > cs.Deletes[j].Desc.depth })
	return cs, nil
}

func (t *Tracker) checkDeletes() error {
	for _, e := range t.entries {
		if e.State == Deleted || e.State == Detached {
			continue
		}
		for _, ref := range e.Desc.References {
			fk := e.Desc.byName[ref.Property].get(e.Entity)
			if isZero(fk) {
				continue
			}
			target, err := t.reg.Kind(ref.Target)
			if err != nil {
				return err
			}
			principal, ok := t.Lookup(target, fk)
			if !ok || principal.State != Deleted {
				continue
			}
			return &IntegrityError{
				Kind:   principal.Desc.Kind,
				Key:    fk,
				Reason: fmt.Sprintf("deleted while %s %v still references it", e.Desc.Kind, e.Key()),
			}
		}
	}
	return nil
}

// Accept records a successful write: the entry becomes Unchanged with a new
// snapshot and token, or leaves the tracker if it was deleted.
func (t *Tracker) Accept(e *Entry, token Token) {
	if e.State == Deleted {
		t.Detach(e)
		return
	}
	e.Original = e.Desc.current(e.Entity)
	e.State = Unchanged
	e.Changed = nil
	if token != nil {
		e.Token = token
	}
}

// Checkpoint captures the tracker state for Restore.
type Checkpoint struct {
	entries   []*Entry
	snaps     map[*Entry]entrySnapshot
	generated int
}

type entrySnapshot struct {
	state    State
	original Values
	token    Token
	changed  []string
	shadow   Values
	identity string
}

// Checkpoint snapshots every entry.
func (t *Tracker) Checkpoint() *Checkpoint {
	cp := &Checkpoint{
		entries:   slices.Clone(t.entries),
		snaps:     make(map[*Entry]entrySnapshot, len(t.entries)),
		generated: len(t.generated),
	}
	for _, e := range t.entries {
		cp.snaps[e] = entrySnapshot{
			state:    e.State,
			original: maps.Clone(e.Original),
			token:    bytes.Clone(e.Token),
			changed:  slices.Clone(e.Changed),
			shadow:   maps.Clone(e.shadow),
			identity: e.identity,
		}
	}
	return cp
}

// Restore reverts the tracker to cp: entries tracked since are dropped,
// states, snapshots, tokens and shadow values are reset, and keys generated
// since are cleared from their entities.
func (t *Tracker) Restore(cp *Checkpoint) {
	for _, e := range t.generated[cp.generated:] {
		_ = e.Desc.Key.set(e.Entity, nil)
	}
	t.generated = t.generated[:cp.generated]
	for _, e := range t.entries {
		if _, kept := cp.snaps[e]; !kept {
			e.State = Detached
		}
	}
	t.entries = slices.Clone(cp.entries)
	t.byIdentity = map[string]*Entry{}
	t.byEntity = map[any]*Entry{}
	for _, e := range t.entries {
		s := cp.snaps[e]
		e.State = s.state
		e.Original = maps.Clone(s.original)
		e.Token = bytes.Clone(s.token)
		e.Changed = slices.Clone(s.changed)
		e.shadow = maps.Clone(s.shadow)
		if e.shadow == nil {
			e.shadow = Values{}
		}
		e.identity = s.identity
		if e.identity != "" {
			t.byIdentity[e.identity] = e
		}
		t.byEntity[e.Entity] = e
	}
}

func isZero(v any) bool {
	if v == nil {
		return true
	}
	if k, ok := v.(CompositeKey); ok {
		return len(k) == 0 || slices.ContainsFunc(k, isZero)
	}
	rv := reflect.ValueOf(v)
	return rv.IsZero()
}
