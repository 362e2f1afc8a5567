package store

import (
	"context"
	"fmt"
)

// Navigation relates an entity to its principal (HasOne) or its dependents (HasMany).
type Navigation struct {
	Name   string
	Target string
	// Property is the foreign key: on the owner for HasOne, on the target for HasMany.
	Property string
	Many     bool

	slot func(entity any) Navigator
}

// Slot returns the navigator field of entity.
func (n *Navigation) Slot(entity any) Navigator { return n.slot(entity) }

type loader func(ctx context.Context) ([]any, error)

// Navigator is a relation field that is either loaded or carries a loader
// bound by the owning session. It is implemented by *Ref and *Many.
type Navigator interface {
	Loaded() bool
	fill(items []any) error
	bind(l loader)
	assigned() []any
}

// Ref is a navigation to a single principal. The zero value is not loaded.
type Ref[T any] struct {
	value  T
	has    bool
	loaded bool
	// set marks an assignment the owner's foreign key must follow.
	set  bool
	load loader
}

// Loaded reports whether the principal has been resolved.
func (r *Ref[T]) Loaded() bool { return r.loaded }

// Get returns the loaded principal, if any.
func (r *Ref[T]) Get() (T, bool) { return r.value, r.has }

// Set assigns the principal; the foreign key follows it on the next save.
func (r *Ref[T]) Set(v T) {
	r.value = v
	r.has = !isNil(v)
	r.loaded = true
	r.set = true
}

// Load resolves the principal through the owning session on first use. A
// missing or filtered principal loads as the zero value.
func (r *Ref[T]) Load(ctx context.Context) (T, error) {
	var zero T
	if !r.loaded {
		if r.load == nil {
			return zero, fmt.Errorf("load navigation: %w", ErrNotTracked)
		}
		items, err := r.load(ctx)
		if err != nil {
			return zero, err
		}
		if err := r.fill(items); err != nil {
			return zero, err
		}
	}
	return r.value, nil
}

func (r *Ref[T]) fill(items []any) error {
	var zero T
	r.value, r.has, r.loaded, r.set = zero, false, true, false
	if len(items) == 0 {
		return nil
	}
	v, ok := items[0].(T)
	if !ok {
		return fmt.Errorf("navigation holds %T, not %T", items[0], zero)
	}
	r.value, r.has = v, true
	return nil
}

func (r *Ref[T]) bind(l loader) { r.load = l }

func (r *Ref[T]) assigned() []any {
	if !r.set || !r.has {
		return nil
	}
	return []any{r.value}
}

// Many is a navigation to a collection of dependents. The zero value is not loaded.
type Many[T any] struct {
	items  []T
	loaded bool
	load   loader
}

// Loaded reports whether the collection has been resolved.
func (m *Many[T]) Loaded() bool { return m.loaded }

// Items returns the loaded dependents.
func (m *Many[T]) Items() []T { return m.items }

// Load resolves the collection through the owning session on first use.
func (m *Many[T]) Load(ctx context.Context) ([]T, error) {
	if m.loaded {
		return m.items, nil
	}
	if m.load == nil {
		return nil, fmt.Errorf("load navigation: %w", ErrNotTracked)
	}
	items, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.fill(items); err != nil {
		return nil, err
	}
	return m.items, nil
}

func (m *Many[T]) fill(items []any) error {
	out := make([]T, 0, len(items))
	for _, it := range items {
		v, ok := it.(T)
		if !ok {
			var zero T
			return fmt.Errorf("navigation holds %T, not %T", it, zero)
		}
		out = append(out, v)
	}
	m.items, m.loaded = out, true
	return nil
}

func (m *Many[T]) bind(l loader) { m.load = l }

func (m *Many[T]) assigned() []any { return nil }
