package store

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jacentio/innkeeper/internal/keyhash"
)

// Query returns the entities of kind matching where. Global filters apply
// unless BypassFilters is given; a hierarchy base returns every variant.
func (s *Session) Query(ctx context.Context, kind string, where Expr, opts ...QueryOption) ([]any, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	d, err := s.store.registry.Kind(kind)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, d, where, nil, applyOptions(opts))
}

// Count returns the number of rows of kind matching where.
func (s *Session) Count(ctx context.Context, kind string, where Expr, opts ...QueryOption) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	d, err := s.store.registry.Kind(kind)
	if err != nil {
		return 0, err
	}
	o := applyOptions(opts)
	where, err = s.lower(ctx, d, where, nil, o.bypass)
	if err != nil {
		return 0, err
	}
	q, err := BuildQuery(d, where, o.bypass)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, part := range q.Parts {
		n, err := s.executor().Count(ctx, part.Select.Table, part.Select.Where)
		if err != nil {
			return 0, fmt.Errorf("count %s: %w", d.Kind, err)
		}
		total += n
	}
	return total, nil
}

// Find returns the entity of kind with key, preferring the tracked instance.
// A row hidden by a global filter is not found, even when it is tracked.
func (s *Session) Find(ctx context.Context, kind string, key any, opts ...QueryOption) (any, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	d, err := s.store.registry.Kind(kind)
	if err != nil {
		return nil, err
	}
	if d.Key == nil {
		return nil, fmt.Errorf("find %s: kind has no key", kind)
	}
	// Stored rows are read through the filters; identity resolution then
	// hands back the tracked instance. Only pending inserts skip storage.
	if e, ok := s.tracker.Lookup(d, key); ok && e.Desc.IsA(kind) {
		switch e.State {
		case Deleted:
			return nil, &NotFoundError{Kind: kind, Key: key}
		case Added:
			return e.Entity, nil
		}
	}
	where, err := d.keyWhere(key)
	if err != nil {
		return nil, err
	}
	found, err := s.query(ctx, d, where, nil, applyOptions(opts))
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, &NotFoundError{Kind: kind, Key: key}
	}
	return found[0], nil
}

// CompiledQuery runs a registered compiled query with args bound to its
// parameters.
func (s *Session) CompiledQuery(ctx context.Context, name string, args Args) ([]any, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	cq, ok := s.store.registry.Compiled(name)
	if !ok {
		return nil, fmt.Errorf("compiled query %s: %w", name, ErrUnknownKind)
	}
	if err := cq.checkArgs(args); err != nil {
		return nil, err
	}
	d, err := s.store.registry.Kind(cq.Kind)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, d, cq.Where, args, cq.opts)
}

// Project reads every row of a view kind. Rows are untracked and keyless;
// duplicates are preserved.
func (s *Session) Project(ctx context.Context, kind string, opts ...QueryOption) ([]any, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	d, err := s.store.registry.Kind(kind)
	if err != nil {
		return nil, err
	}
	if !d.View {
		return nil, fmt.Errorf("project %s: kind is not a view", kind)
	}
	o := applyOptions(opts)
	orders, err := bindOrder(d, o.orders)
	if err != nil {
		return nil, err
	}
	rows, err := s.executor().Select(ctx, Select{
		Table:   d.Table,
		Columns: d.Columns(),
		OrderBy: orders,
		Limit:   o.limit,
		Offset:  o.offset,
	})
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", kind, err)
	}
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		vals, _, _, err := d.decode(row)
		if err != nil {
			return nil, err
		}
		v, err := d.build(vals)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	s.log.Debug("projected view", "kind", kind, "rows", len(out))
	return out, nil
}

// Reload re-reads a tracked entity, discarding its pending changes. Global
// filters do not hide the row. A row that no longer exists detaches the
// entity and returns a NotFoundError.
func (s *Session) Reload(ctx context.Context, entity any) error {
	if err := s.check(); err != nil {
		return err
	}
	e, ok := s.tracker.Entry(entity)
	if !ok {
		return fmt.Errorf("reload %T: %w", entity, ErrNotTracked)
	}
	if e.State == Added {
		return fmt.Errorf("reload %s: entity is not saved", e.Desc.Kind)
	}
	where, err := e.Desc.keyWhere(e.Key())
	if err != nil {
		return err
	}
	q, err := BuildQuery(e.Desc, where, true)
	if err != nil {
		return err
	}
	rows, err := s.executor().Select(ctx, q.Parts[0].Select)
	if err != nil {
		return fmt.Errorf("reload %s: %w", e.Desc.Kind, err)
	}
	if len(rows) == 0 {
		key := e.Key()
		s.tracker.Detach(e)
		return &NotFoundError{Kind: e.Desc.Kind, Key: key}
	}
	vals, token, shadow, err := e.Desc.decode(rows[0])
	if err != nil {
		return err
	}
	if err := e.Desc.assign(entity, vals); err != nil {
		return err
	}
	e.Original = vals
	e.Token = token
	e.shadow = shadow
	e.State = Unchanged
	e.Changed = nil
	return nil
}

// QueryAs is Query with the results asserted to T.
func QueryAs[T any](ctx context.Context, s *Session, kind string, where Expr, opts ...QueryOption) ([]T, error) {
	items, err := s.Query(ctx, kind, where, opts...)
	if err != nil {
		return nil, err
	}
	return castAll[T](items)
}

// FindAs is Find with the result asserted to T.
func FindAs[T any](ctx context.Context, s *Session, kind string, key any, opts ...QueryOption) (T, error) {
	var zero T
	item, err := s.Find(ctx, kind, key, opts...)
	if err != nil {
		return zero, err
	}
	v, ok := item.(T)
	if !ok {
		return zero, fmt.Errorf("find %s: got %T, not %T", kind, item, zero)
	}
	return v, nil
}

// CompiledAs is CompiledQuery with the results asserted to T.
func CompiledAs[T any](ctx context.Context, s *Session, name string, args Args) ([]T, error) {
	items, err := s.CompiledQuery(ctx, name, args)
	if err != nil {
		return nil, err
	}
	return castAll[T](items)
}

// ProjectAs is Project with the rows asserted to T.
func ProjectAs[T any](ctx context.Context, s *Session, kind string, opts ...QueryOption) ([]T, error) {
	items, err := s.Project(ctx, kind, opts...)
	if err != nil {
		return nil, err
	}
	return castAll[T](items)
}

func castAll[T any](items []any) ([]T, error) {
	out := make([]T, 0, len(items))
	for _, it := range items {
		v, ok := it.(T)
		if !ok {
			var zero T
			return nil, fmt.Errorf("result holds %T, not %T", it, zero)
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Session) query(ctx context.Context, d *Descriptor, where Expr, args Args, o queryOptions) ([]any, error) {
	if d.View {
		return nil, fmt.Errorf("query %s: kind is a view", d.Kind)
	}
	where, err := s.lower(ctx, d, where, args, o.bypass)
	if err != nil {
		return nil, err
	}
	q, err := buildQuery(d, where, o.bypass, args)
	if err != nil {
		return nil, err
	}
	orders, err := bindOrder(d, o.orders)
	if err != nil {
		return nil, err
	}
	rows, err := s.fetch(ctx, q, orders, o.limit, o.offset)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", d.Kind, err)
	}
	out := make([]any, 0, len(rows))
	for _, r := range rows {
		v, err := s.materialize(r.desc, r.row, o.noTracking)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	for _, name := range o.includes {
		if err := s.include(ctx, out, name, o); err != nil {
			return nil, err
		}
	}
	s.log.Debug("query", "kind", d.Kind, "tables", len(q.Parts), "rows", len(out))
	return out, nil
}

type partRow struct {
	desc *Descriptor
	row  Row
}

// fetch runs every part of q. A single part pushes ordering and paging to
// the backend; several parts are merged in memory first.
func (s *Session) fetch(ctx context.Context, q Query, orders []Order, limit, offset int) ([]partRow, error) {
	ex := s.executor()
	if len(q.Parts) == 1 {
		sel := q.Parts[0].Select
		sel.OrderBy, sel.Limit, sel.Offset = orders, limit, offset
		rows, err := ex.Select(ctx, sel)
		if err != nil {
			return nil, err
		}
		out := make([]partRow, len(rows))
		for i, r := range rows {
			out[i] = partRow{desc: q.Parts[0].Desc, row: r}
		}
		return out, nil
	}
	var out []partRow
	for _, part := range q.Parts {
		sel := part.Select
		sel.OrderBy = orders
		if limit > 0 {
			sel.Limit = limit + offset
		}
		rows, err := ex.Select(ctx, sel)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			out = append(out, partRow{desc: part.Desc, row: r})
		}
	}
	if len(orders) > 0 {
		slices.SortStableFunc(out, func(a, b partRow) int {
			for _, o := range orders {
				c := CompareStored(a.row[o.Column], b.row[o.Column])
				if o.Desc {
					c = -c
				}
				if c != 0 {
					return c
				}
			}
			return 0
		})
	}
	if offset > 0 {
		out = out[min(offset, len(out)):]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CompareStored orders normalized storage values; NULL sorts first. Backends
// that cannot order rows themselves sort with it.
func CompareStored(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			return cmpOrdered(x, y)
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmpOrdered(x, y)
		}
	case string:
		if y, ok := b.(string); ok {
			return cmpOrdered(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok && x != y {
			if x {
				return 1
			}
			return -1
		}
		return 0
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case []byte:
		if y, ok := b.([]byte); ok {
			return bytes.Compare(x, y)
		}
	}
	return cmpOrdered(fmt.Sprint(a), fmt.Sprint(b))
}

func cmpOrdered[T int64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// materialize builds the entity of a row, resolving the concrete kind of a
// single-table hierarchy from its discriminator. Tracked reads return the
// instance already in the identity map.
func (s *Session) materialize(d *Descriptor, row Row, noTracking bool) (any, error) {
	if d.Abstract {
		disc, _ := row[d.DiscriminatorColumn].(string)
		v, ok := d.Variant(disc)
		if !ok {
			return nil, &ConversionError{Kind: d.Kind, Column: d.DiscriminatorColumn, Value: row[d.DiscriminatorColumn],
				Err: fmt.Errorf("unknown discriminator %q", disc)}
		}
		d = v
	}
	vals, token, shadow, err := d.decode(row)
	if err != nil {
		return nil, err
	}
	if noTracking {
		return d.build(vals)
	}
	e, created, err := s.tracker.Load(d, vals, token, shadow)
	if err != nil {
		return nil, err
	}
	if created {
		s.bindNavs(e)
		s.log.Debug("tracked entity", "kind", d.Kind, "key", e.Key())
	}
	return e.Entity, nil
}

// bindNavs gives every unloaded navigation of e a lazy loader.
func (s *Session) bindNavs(e *Entry) {
	for _, n := range e.Desc.Navigations {
		slot := n.Slot(e.Entity)
		if slot == nil || slot.Loaded() {
			continue
		}
		slot.bind(func(ctx context.Context) ([]any, error) {
			if err := s.check(); err != nil {
				return nil, err
			}
			return s.loadNav(ctx, e, n)
		})
	}
}

func (s *Session) loadNav(ctx context.Context, e *Entry, n *Navigation) ([]any, error) {
	t, err := s.store.registry.Kind(n.Target)
	if err != nil {
		return nil, err
	}
	if n.Many {
		return s.query(ctx, t, Eq(n.Property, e.Key()), nil, queryOptions{})
	}
	fk := e.Desc.byName[n.Property].get(e.Entity)
	if isZero(fk) {
		return nil, nil
	}
	return s.query(ctx, t, Eq(t.Key.Name, fk), nil, queryOptions{})
}

// include loads one navigation of every item with a single batched read of
// the target kind.
func (s *Session) include(ctx context.Context, items []any, name string, o queryOptions) error {
	type owner struct {
		desc *Descriptor
		item any
		nav  *Navigation
	}
	var (
		owners []owner
		nav    *Navigation
		keys   []any
		seen   = map[string]bool{}
	)
	for _, it := range items {
		d, err := s.store.registry.Describe(it)
		if err != nil {
			return err
		}
		n, ok := d.Navigation(name)
		if !ok {
			continue
		}
		nav = n
		owners = append(owners, owner{desc: d, item: it, nav: n})
		var k any
		if n.Many {
			k = d.Key.get(it)
		} else {
			k = d.byName[n.Property].get(it)
		}
		if isNil(k) {
			continue
		}
		id := keyhash.Encode(k)
		if !seen[id] {
			seen[id] = true
			keys = append(keys, k)
		}
	}
	if nav == nil {
		if len(items) == 0 {
			return nil
		}
		return fmt.Errorf("include %s: unknown navigation", name)
	}
	t, err := s.store.registry.Kind(nav.Target)
	if err != nil {
		return err
	}
	match := t.Key.Name
	if nav.Many {
		match = nav.Property
	}
	var related []any
	if len(keys) > 0 {
		sub := queryOptions{bypass: o.bypass, noTracking: o.noTracking}
		if related, err = s.query(ctx, t, In(match, keys...), nil, sub); err != nil {
			return fmt.Errorf("include %s: %w", name, err)
		}
	}
	groups := map[string][]any{}
	for _, r := range related {
		rd, err := s.store.registry.Describe(r)
		if err != nil {
			return err
		}
		p := rd.byName[match]
		k, err := toStorage(p, p.get(r))
		if err != nil {
			return err
		}
		id := keyhash.Encode(k)
		groups[id] = append(groups[id], r)
	}
	for _, ow := range owners {
		slot := ow.nav.Slot(ow.item)
		if slot == nil {
			continue
		}
		var p *Property
		if ow.nav.Many {
			p = ow.desc.Key
		} else {
			p = ow.desc.byName[ow.nav.Property]
		}
		k, err := toStorage(p, p.get(ow.item))
		if err != nil {
			return err
		}
		var got []any
		if k != nil {
			got = groups[keyhash.Encode(k)]
		}
		if err := slot.fill(got); err != nil {
			return fmt.Errorf("include %s: %w", name, err)
		}
	}
	return nil
}

// lower rewrites navigation predicates into key sets by running the
// related query first, with the same filter settings as the outer read.
func (s *Session) lower(ctx context.Context, d *Descriptor, x Expr, args Args, bypass bool) (Expr, error) {
	switch e := x.(type) {
	case Related:
		n, ok := d.Navigation(e.Nav)
		if !ok {
			return nil, fmt.Errorf("kind %s: unknown navigation %s", d.Kind, e.Nav)
		}
		t, err := s.store.registry.Kind(n.Target)
		if err != nil {
			return nil, err
		}
		related, err := s.query(ctx, t, e.Where, args, queryOptions{bypass: bypass, noTracking: true})
		if err != nil {
			return nil, err
		}
		prop := n.Property
		if n.Many {
			prop = d.Key.Name
		}
		vals := make([]any, 0, len(related))
		for _, r := range related {
			rd, err := s.store.registry.Describe(r)
			if err != nil {
				return nil, err
			}
			var v any
			if n.Many {
				v = rd.byName[n.Property].get(r)
			} else {
				v = rd.Key.get(r)
			}
			if !isNil(v) {
				vals = append(vals, v)
			}
		}
		return Within{Prop: prop, Values: vals}, nil
	case Logical:
		out := Logical{And: e.And, Args: make([]Expr, len(e.Args))}
		for i, a := range e.Args {
			l, err := s.lower(ctx, d, a, args, bypass)
			if err != nil {
				return nil, err
			}
			out.Args[i] = l
		}
		return out, nil
	case Negate:
		l, err := s.lower(ctx, d, e.X, args, bypass)
		if err != nil {
			return nil, err
		}
		return Negate{X: l}, nil
	}
	return x, nil
}
