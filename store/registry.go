package store

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
)

// Dependent is a kind holding a reference to another kind.
type Dependent struct {
	Desc *Descriptor
	Ref  Reference
}

// Registry holds the descriptors of every registered kind. It is frozen by
// Seal and read-only afterwards.
type Registry struct {
	kinds    map[string]*Descriptor
	types    map[reflect.Type]*Descriptor
	order    []*Descriptor
	compiled map[string]*CompiledQuery
	sealed   bool
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		kinds:    make(map[string]*Descriptor),
		types:    make(map[reflect.Type]*Descriptor),
		compiled: make(map[string]*CompiledQuery),
	}
}

// Register adds kinds and hierarchies.
func (r *Registry) Register(defs ...Definition) error {
	if r.sealed {
		return errors.New("innkeeper: registry is sealed")
	}
	for _, def := range defs {
		ds, err := def.define()
		if err != nil {
			return fmt.Errorf("register: %w", err)
		}
		for _, d := range ds {
			if _, dup := r.kinds[d.Kind]; dup {
				return fmt.Errorf("register: duplicate kind %s", d.Kind)
			}
			if d.goType != nil {
				if other, dup := r.types[d.goType]; dup {
					return fmt.Errorf("register: %s already mapped by kind %s", d.goType, other.Kind)
				}
			}
		}
		for _, d := range ds {
			r.kinds[d.Kind] = d
			if d.goType != nil {
				r.types[d.goType] = d
			}
			r.order = append(r.order, d)
		}
	}
	return nil
}

// Describe resolves the descriptor of an entity by its Go type, or by kind
// for a Bag.
func (r *Registry) Describe(entity any) (*Descriptor, error) {
	if b, ok := entity.(*Bag); ok {
		if b == nil || b.desc == nil {
			return nil, fmt.Errorf("%w: unbound bag", ErrUnknownKind)
		}
		return r.Kind(b.kind)
	}
	d, ok := r.types[reflect.TypeOf(entity)]
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, entity)
	}
	return d, nil
}

// Kind resolves a descriptor by kind name.
func (r *Registry) Kind(name string) (*Descriptor, error) {
	d, ok := r.kinds[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, name)
	}
	return d, nil
}

// Kinds returns every descriptor in registration order.
func (r *Registry) Kinds() []*Descriptor {
	return slices.Clone(r.order)
}

// Dependents returns the concrete kinds referencing kind or its hierarchy.
func (r *Registry) Dependents(kind string) []Dependent {
	target, ok := r.kinds[kind]
	if !ok {
		return nil
	}
	root := target.Root().Kind
	var out []Dependent
	for _, d := range r.order {
		if d.Abstract {
			continue
		}
		for _, ref := range d.References {
			if t, ok := r.kinds[ref.Target]; ok && t.Root().Kind == root {
				out = append(out, Dependent{Desc: d, Ref: ref})
			}
		}
	}
	return out
}

// Sequences returns every sequence name with the tables drawing from it.
func (r *Registry) Sequences() map[string][]*Descriptor {
	out := map[string][]*Descriptor{}
	for _, d := range r.order {
		if d.Sequence != "" && !d.Abstract {
			out[d.Sequence] = append(out[d.Sequence], d)
		}
	}
	return out
}

// NewBag creates an empty entity of a shared-type kind.
func (r *Registry) NewBag(kind string) (*Bag, error) {
	d, err := r.Kind(kind)
	if err != nil {
		return nil, err
	}
	if !d.Shared {
		return nil, fmt.Errorf("%w: %s is not a shared type", ErrUnknownKind, kind)
	}
	return d.newFn().(*Bag), nil
}

// Sealed reports whether Seal succeeded.
func (r *Registry) Sealed() bool { return r.sealed }

// Seal validates references, filters, routines and compiled queries and
// freezes the registry. Sealing twice is a no-op.
func (r *Registry) Seal() error {
	if r.sealed {
		return nil
	}
	var errs []error
	for _, d := range r.order {
		errs = append(errs, r.validate(d)...)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("seal: %w", err)
	}
	if err := r.computeDepths(); err != nil {
		return fmt.Errorf("seal: %w", err)
	}
	for _, cq := range r.compiled {
		if err := r.validateCompiled(cq); err != nil {
			return fmt.Errorf("seal: %w", err)
		}
	}
	r.sealed = true
	return nil
}

func (r *Registry) validate(d *Descriptor) []error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("kind %s: "+format, append([]any{d.Kind}, args...)...))
	}
	for _, ref := range d.References {
		t, ok := r.kinds[ref.Target]
		if !ok {
			fail("reference %s: unknown kind %s", ref.Property, ref.Target)
			continue
		}
		if t.Key == nil {
			fail("reference %s: kind %s has no key", ref.Property, ref.Target)
			continue
		}
		if t.Composite() {
			fail("reference %s: kind %s has a composite key", ref.Property, ref.Target)
			continue
		}
		if p := d.byName[ref.Property]; p.Type != t.Key.Type {
			fail("reference %s: %s does not match key type %s", ref.Property, p.Type, t.Key.Type)
		}
	}
	for _, n := range d.Navigations {
		t, ok := r.kinds[n.Target]
		if !ok {
			fail("navigation %s: unknown kind %s", n.Name, n.Target)
			continue
		}
		switch {
		case n.Many && d.Composite():
			fail("navigation %s: kinds with a composite key cannot own collections", n.Name)
		case n.Many:
			if _, ok := t.byName[n.Property]; !ok {
				fail("navigation %s: kind %s has no property %s", n.Name, n.Target, n.Property)
			}
		case t.Composite():
			fail("navigation %s: kind %s has a composite key", n.Name, n.Target)
		}
	}
	if d.Filter != nil {
		if err := r.checkExpr(d, d.Filter, false); err != nil {
			fail("filter: %v", err)
		}
	}
	if d.Routines != nil {
		for _, rt := range []*Routine{d.Routines.Insert, d.Routines.Update, d.Routines.Delete} {
			if rt == nil {
				continue
			}
			for _, p := range rt.Params {
				if !d.hasColumn(p.Column) {
					fail("routine %s: unknown column %s", rt.Name, p.Column)
				}
			}
			for _, c := range rt.Results {
				if !d.hasColumn(c) {
					fail("routine %s: unknown result column %s", rt.Name, c)
				}
			}
		}
	}
	if d.Strategy == StrategyTablePerConcrete && d.Abstract && d.Sequence == "" {
		fail("table-per-concrete-type hierarchies need a shared sequence")
	}
	return errs
}

func (d *Descriptor) hasColumn(column string) bool {
	if column == d.TokenColumn || column == d.DiscriminatorColumn {
		return column != ""
	}
	_, ok := d.byColumn[column]
	return ok
}

// checkExpr validates property names, navigations and parameter use.
func (r *Registry) checkExpr(d *Descriptor, x Expr, allowParams bool) error {
	switch e := x.(type) {
	case nil:
		return nil
	case Compare:
		if _, ok := d.byName[e.Prop]; !ok {
			return fmt.Errorf("unknown property %s", e.Prop)
		}
		if _, isParam := e.Value.(Param); isParam && !allowParams {
			return fmt.Errorf("parameter %v not allowed", e.Value)
		}
	case Within:
		if _, ok := d.byName[e.Prop]; !ok {
			return fmt.Errorf("unknown property %s", e.Prop)
		}
		for _, v := range e.Values {
			if _, isParam := v.(Param); isParam && !allowParams {
				return fmt.Errorf("parameter %v not allowed", v)
			}
		}
	case Null:
		if _, ok := d.byName[e.Prop]; !ok {
			return fmt.Errorf("unknown property %s", e.Prop)
		}
	case Logical:
		for _, a := range e.Args {
			if err := r.checkExpr(d, a, allowParams); err != nil {
				return err
			}
		}
	case Negate:
		return r.checkExpr(d, e.X, allowParams)
	case Related:
		if !allowParams {
			return fmt.Errorf("navigation %s not allowed", e.Nav)
		}
		n, ok := d.Navigation(e.Nav)
		if !ok {
			return fmt.Errorf("unknown navigation %s", e.Nav)
		}
		t, err := r.Kind(n.Target)
		if err != nil {
			return err
		}
		return r.checkExpr(t, e.Where, allowParams)
	default:
		return fmt.Errorf("unsupported expression %T", x)
	}
	return nil
}

// computeDepths orders kinds so principals come before their dependents.
func (r *Registry) computeDepths() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := map[string]int{}
	var visit func(root *Descriptor) (int, error)
	visit = func(root *Descriptor) (int, error) {
		switch state[root.Kind] {
		case done:
			return root.depth, nil
		case visiting:
			return 0, fmt.Errorf("reference cycle through %s", root.Kind)
		}
		state[root.Kind] = visiting
		depth := 0
		for _, c := range append([]*Descriptor{root}, root.Variants...) {
			for _, ref := range c.References {
				t := r.kinds[ref.Target].Root()
				if t == root {
					continue
				}
				td, err := visit(t)
				if err != nil {
					return 0, err
				}
				depth = max(depth, td+1)
			}
		}
		root.depth = depth
		for _, v := range root.Variants {
			v.depth = depth
		}
		state[root.Kind] = done
		return depth, nil
	}
	for _, d := range r.order {
		if _, err := visit(d.Root()); err != nil {
			return err
		}
	}
	return nil
}
