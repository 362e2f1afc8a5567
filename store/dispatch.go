package store

import (
	"fmt"
	"slices"
	"time"
)

// dispatcher turns write intents into backend writes.
type dispatcher struct {
	reg  *Registry
	caps Capabilities
	now  time.Time
}

// stamp applies shadow timestamps: CreatedAt once on insert, UpdatedAt on
// every update.
func (d *dispatcher) stamp(in WriteIntent) {
	e := in.Entry
	switch in.Op {
	case OpInsert:
		if p, ok := e.Desc.byName["CreatedAt"]; ok && p.Role == RoleShadow && isNil(e.shadow["CreatedAt"]) {
			e.shadow["CreatedAt"] = d.now
		}
	case OpUpdate:
		if p, ok := e.Desc.byName["UpdatedAt"]; ok && p.Role == RoleShadow {
			e.shadow["UpdatedAt"] = d.now
		}
	}
}

// prepare builds the statement or routine call for in.
func (d *dispatcher) prepare(in WriteIntent) (Write, error) {
	e := in.Entry
	desc := e.Desc
	key, err := desc.storageKey(e.Key())
	if err != nil {
		return Write{}, err
	}
	w := Write{
		Op:          in.Op,
		Kind:        desc.Kind,
		Table:       desc.Table,
		KeyColumn:   desc.Key.Column,
		Key:         key,
		TokenColumn: desc.TokenColumn,
		Expected:    in.Expected,
	}
	if parts, ok := key.([]any); ok {
		w.Key = parts[0]
		for i, p := range desc.Keys[1:] {
			w.Match = append(w.Match, ColumnValue{Column: p.Column, Type: p.Type, Value: parts[i+1]})
		}
	}

	switch in.Op {
	case OpInsert:
		if desc.DiscriminatorColumn != "" {
			w.Values = append(w.Values, ColumnValue{Column: desc.DiscriminatorColumn, Type: TypeText, Value: desc.DiscriminatorValue})
		}
		for _, p := range desc.Properties {
			cv, err := d.columnValue(e, p)
			if err != nil {
				return Write{}, err
			}
			w.Values = append(w.Values, cv)
		}
		for _, p := range desc.Shadows {
			w.Values = append(w.Values, ColumnValue{Column: p.Column, Type: p.Type, Value: e.shadow[p.Name]})
		}
	case OpUpdate:
		for _, name := range e.Changed {
			cv, err := d.columnValue(e, desc.byName[name])
			if err != nil {
				return Write{}, err
			}
			w.Values = append(w.Values, cv)
		}
		if p, ok := desc.byName["UpdatedAt"]; ok && p.Role == RoleShadow {
			w.Values = append(w.Values, ColumnValue{Column: p.Column, Type: p.Type, Value: e.shadow[p.Name]})
		}
	}

	if rt := desc.Routines.forOp(in.Op); rt != nil {
		if !d.caps.Routines {
			return Write{}, fmt.Errorf("kind %s: backend cannot run routine %s", desc.Kind, rt.Name)
		}
		call, err := d.routineCall(in, rt)
		if err != nil {
			return Write{}, err
		}
		w.Routine = call
	}

	checks, err := d.checks(in)
	if err != nil {
		return Write{}, err
	}
	w.Checks = checks
	return w, nil
}

func (d *dispatcher) columnValue(e *Entry, p *Property) (ColumnValue, error) {
	raw := p.get(e.Entity)
	if err := checkAttr(e.Desc.Kind, p, raw); err != nil && !isNil(raw) {
		return ColumnValue{}, err
	}
	v, err := toStorage(p, raw)
	if err != nil {
		return ColumnValue{}, withKind(err, e.Desc.Kind)
	}
	return ColumnValue{Column: p.Column, Type: p.Type, Value: v, Fold: p.CaseInsensitive()}, nil
}

// routineCall binds routine parameters from the original snapshot or the
// current values, and declares the result columns to read back.
func (d *dispatcher) routineCall(in WriteIntent, rt *Routine) (*RoutineCall, error) {
	e := in.Entry
	desc := e.Desc
	call := &RoutineCall{Name: rt.Name}
	for _, param := range rt.Params {
		var v any
		switch param.Column {
		case desc.TokenColumn:
			if param.Original {
				v = []byte(in.Expected)
			} else {
				v = []byte(e.Token)
			}
		case desc.DiscriminatorColumn:
			v = desc.DiscriminatorValue
		default:
			p := desc.byColumn[param.Column]
			var raw any
			switch {
			case p.Role == RoleShadow:
				raw = e.shadow[p.Name]
			case param.Original && e.Original != nil:
				raw = e.Original[p.Name]
			default:
				raw = p.get(e.Entity)
			}
			s, err := toStorage(p, raw)
			if err != nil {
				return nil, withKind(err, desc.Kind)
			}
			v = s
		}
		call.Args = append(call.Args, NamedArg{Name: param.Name, Value: v})
	}
	for _, col := range rt.Results {
		t := TypeBlob
		if p, ok := desc.byColumn[col]; ok {
			t = p.Type
		}
		call.Results = append(call.Results, ColumnRef{Name: col, Type: t})
	}
	return call, nil
}

// checks adds the reference rules the backend cannot enforce itself: any
// reference when it has no foreign keys, and references into a
// table-per-concrete-type hierarchy, whose rows span several tables.
func (d *dispatcher) checks(in WriteIntent) ([]Check, error) {
	e := in.Entry
	var out []Check
	switch in.Op {
	case OpInsert, OpUpdate:
		for _, ref := range e.Desc.References {
			if in.Op == OpUpdate && !slices.Contains(e.Changed, ref.Property) {
				continue
			}
			target, err := d.reg.Kind(ref.Target)
			if err != nil {
				return nil, err
			}
			if !d.needsCheck(target) {
				continue
			}
			p := e.Desc.byName[ref.Property]
			fk, err := toStorage(p, p.get(e.Entity))
			if err != nil {
				return nil, withKind(err, e.Desc.Kind)
			}
			if fk == nil {
				continue
			}
			out = append(out, Check{
				Tables: target.Root().Tables(),
				Column: target.Root().Key.Column,
				Value:  fk,
				Exists: true,
				Reason: fmt.Sprintf("%s %s references missing %s", e.Desc.Kind, ref.Property, target.Kind),
			})
		}
	case OpDelete:
		deps := d.reg.Dependents(e.Desc.Kind)
		if len(deps) == 0 || !d.needsCheck(e.Desc) {
			return nil, nil
		}
		key, err := e.Desc.storageKey(e.Key())
		if err != nil {
			return nil, err
		}
		for _, dep := range deps {
			out = append(out, Check{
				Tables: []string{dep.Desc.Table},
				Column: dep.Ref.Column,
				Value:  key,
				Reason: fmt.Sprintf("%s still referenced by %s", e.Desc.Kind, dep.Desc.Kind),
			})
		}
	}
	return out, nil
}

func (d *dispatcher) needsCheck(target *Descriptor) bool {
	return !d.caps.ForeignKeys || target.Root().Strategy == StrategyTablePerConcrete
}

func withKind(err error, kind string) error {
	if ve, ok := err.(*ValidationError); ok && ve.Kind == "" {
		ve.Kind = kind
	}
	return err
}
