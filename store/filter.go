package store

import (
	"errors"
	"fmt"
)

// Query is a bound read of one kind: one Part per table it fans out to.
type Query struct {
	Desc  *Descriptor
	Parts []Part
}

// Part reads the rows of one table.
type Part struct {
	Desc   *Descriptor
	Select Select
}

// Args binds compiled query parameters by name.
type Args map[string]any

// BuildQuery binds where against d and conjoins every global filter of d
// unless bypass is set. A table-per-concrete-type base fans out to one
// Part per variant table; a single-table variant adds its discriminator.
// Navigation predicates must be lowered before binding.
func BuildQuery(d *Descriptor, where Expr, bypass bool) (Query, error) {
	return buildQuery(d, where, bypass, nil)
}

func buildQuery(d *Descriptor, where Expr, bypass bool, args Args) (Query, error) {
	if d.View {
		return Query{}, fmt.Errorf("kind %s is a view", d.Kind)
	}
	targets := []*Descriptor{d}
	if d.Abstract && d.Strategy == StrategyTablePerConcrete {
		targets = d.Variants
	}
	q := Query{Desc: d}
	for _, t := range targets {
		var conds AllOf
		if where != nil {
			c, err := bind(t, where, args)
			if err != nil {
				return Query{}, fmt.Errorf("kind %s: %w", d.Kind, err)
			}
			conds = append(conds, c)
		}
		if !bypass && t.Filter != nil {
			c, err := bind(t, t.Filter, nil)
			if err != nil {
				return Query{}, fmt.Errorf("kind %s filter: %w", d.Kind, err)
			}
			conds = append(conds, c)
		}
		if t.Strategy == StrategySingleTable && !t.Abstract {
			conds = append(conds, ColumnCompare{Column: t.DiscriminatorColumn, Op: OpEq, Value: t.DiscriminatorValue})
		}
		sel := Select{Table: t.Table, Columns: t.Columns()}
		if len(conds) > 0 {
			sel.Where = conds
		}
		q.Parts = append(q.Parts, Part{Desc: t, Select: sel})
	}
	return q, nil
}

// bind resolves property names to columns and converts operands to storage values.
func bind(d *Descriptor, x Expr, args Args) (Cond, error) {
	switch e := x.(type) {
	case Compare:
		p, ok := d.byName[e.Prop]
		if !ok {
			return nil, fmt.Errorf("unknown property %s", e.Prop)
		}
		v, err := operand(p, e.Value, args)
		if err != nil {
			return nil, err
		}
		if v == nil {
			switch e.Op {
			case OpEq:
				return ColumnNull{Column: p.Column, Null: true}, nil
			case OpNe:
				return ColumnNull{Column: p.Column}, nil
			}
			return nil, fmt.Errorf("property %s: %s with NULL", e.Prop, e.Op)
		}
		return ColumnCompare{Column: p.Column, Op: e.Op, Value: v, Fold: p.CaseInsensitive()}, nil
	case Within:
		p, ok := d.byName[e.Prop]
		if !ok {
			return nil, fmt.Errorf("unknown property %s", e.Prop)
		}
		vals := make([]any, 0, len(e.Values))
		for _, raw := range e.Values {
			v, err := operand(p, raw, args)
			if err != nil {
				return nil, err
			}
			vals = append(vals, v)
		}
		return ColumnIn{Column: p.Column, Values: vals, Fold: p.CaseInsensitive()}, nil
	case Null:
		p, ok := d.byName[e.Prop]
		if !ok {
			return nil, fmt.Errorf("unknown property %s", e.Prop)
		}
		return ColumnNull{Column: p.Column, Null: e.Is}, nil
	case Logical:
		conds := make([]Cond, 0, len(e.Args))
		for _, a := range e.Args {
			c, err := bind(d, a, args)
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
		}
		if e.And {
			return AllOf(conds), nil
		}
		return AnyOf(conds), nil
	case Negate:
		c, err := bind(d, e.X, args)
		if err != nil {
			return nil, err
		}
		return NotCond{Cond: c}, nil
	case Related:
		return nil, errors.New("navigation predicate must be lowered before binding")
	}
	return nil, fmt.Errorf("unsupported expression %T", x)
}

func operand(p *Property, v any, args Args) (any, error) {
	if name, ok := v.(Param); ok {
		arg, present := args[string(name)]
		if !present {
			return nil, fmt.Errorf("unbound parameter %s", name)
		}
		v = arg
	}
	return toStorage(p, v)
}

// bindOrder resolves sort properties.
func bindOrder(d *Descriptor, orders []orderSpec) ([]Order, error) {
	out := make([]Order, 0, len(orders))
	for _, o := range orders {
		p, ok := d.byName[o.prop]
		if !ok {
			return nil, fmt.Errorf("kind %s: cannot order by unknown property %s", d.Kind, o.prop)
		}
		out = append(out, Order{Column: p.Column, Desc: o.desc})
	}
	return out, nil
}
