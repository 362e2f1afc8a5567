package store

import (
	"fmt"
	"slices"
)

// CompiledQuery is a named, parameterized query shape validated once at
// registration and reused across sessions.
type CompiledQuery struct {
	Name   string
	Kind   string
	Where  Expr
	Params []string

	opts queryOptions
}

// Compile registers a compiled query. Parameters are referenced in where
// with P(name).
func (r *Registry) Compile(name, kind string, where Expr, opts ...QueryOption) error {
	if _, dup := r.compiled[name]; dup {
		return fmt.Errorf("compile %s: duplicate name", name)
	}
	set := map[string]bool{}
	params(where, set)
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	slices.Sort(names)
	cq := &CompiledQuery{Name: name, Kind: kind, Where: where, Params: names, opts: applyOptions(opts)}
	if r.sealed {
		if err := r.validateCompiled(cq); err != nil {
			return err
		}
	}
	r.compiled[name] = cq
	return nil
}

// Compiled returns a compiled query by name.
func (r *Registry) Compiled(name string) (*CompiledQuery, bool) {
	cq, ok := r.compiled[name]
	return cq, ok
}

func (r *Registry) validateCompiled(cq *CompiledQuery) error {
	d, err := r.Kind(cq.Kind)
	if err != nil {
		return fmt.Errorf("compile %s: %w", cq.Name, err)
	}
	if err := r.checkExpr(d, cq.Where, true); err != nil {
		return fmt.Errorf("compile %s: %w", cq.Name, err)
	}
	if _, err := bindOrder(d, cq.opts.orders); err != nil {
		return fmt.Errorf("compile %s: %w", cq.Name, err)
	}
	for _, inc := range cq.opts.includes {
		if _, ok := d.Navigation(inc); !ok {
			return fmt.Errorf("compile %s: unknown navigation %s", cq.Name, inc)
		}
	}
	return nil
}

// checkArgs requires args to bind exactly the declared parameters.
func (cq *CompiledQuery) checkArgs(args Args) error {
	for _, p := range cq.Params {
		if _, ok := args[p]; !ok {
			return NewValidationError(cq.Name, p, nil, "missing parameter")
		}
	}
	for name, v := range args {
		if !slices.Contains(cq.Params, name) {
			return NewValidationError(cq.Name, name, v, "unknown parameter")
		}
	}
	return nil
}
