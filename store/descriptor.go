package store

import (
	"fmt"
	"reflect"
)

// Strategy selects how a kind hierarchy maps onto tables.
type Strategy int

const (
	// StrategyNone maps a standalone kind to its own table.
	StrategyNone Strategy = iota
	// StrategyTablePerConcrete gives every concrete kind its own table with
	// keys drawn from one shared sequence.
	StrategyTablePerConcrete
	// StrategySingleTable stores every kind of a hierarchy in one table
	// selected by a discriminator column.
	StrategySingleTable
)

func (s Strategy) String() string {
	switch s {
	case StrategyTablePerConcrete:
		return "table-per-concrete-type"
	case StrategySingleTable:
		return "single-table-with-discriminator"
	}
	return "none"
}

// Role tells the engine who owns a column's value.
type Role int

const (
	RoleData Role = iota
	RoleKey
	RoleShadow
)

// Values holds property values keyed by property name.
type Values map[string]any

// Row holds normalized storage primitives keyed by column name.
type Row map[string]any

// CompositeKey is the key of a kind keyed by several properties, in the
// order they were declared.
type CompositeKey []any

// Token is an opaque concurrency token assigned by the backend on every write.
type Token []byte

// Property maps one domain value onto one column.
type Property struct {
	Name     string
	Column   string
	Type     ColumnType
	Nullable bool
	MaxLen   int
	Conv     Converter
	Role     Role

	get func(entity any) any
	set func(entity any, v any) error
}

// Get reads the property from an entity.
func (p *Property) Get(entity any) any { return p.get(entity) }

// CaseInsensitive reports whether stored values compare case-insensitively.
func (p *Property) CaseInsensitive() bool { return caseInsensitive(p.Conv) }

// Reference is a foreign key from a property to the key of another kind.
type Reference struct {
	Property string
	Column   string
	Target   string
}

// Descriptor is the immutable mapping of one entity kind.
type Descriptor struct {
	Kind     string
	Table    string
	Strategy Strategy

	// Base is the hierarchy a concrete kind belongs to; Variants lists the
	// concrete kinds of an abstract hierarchy base.
	Base     *Descriptor
	Variants []*Descriptor
	Abstract bool

	DiscriminatorColumn string
	DiscriminatorValue  string

	// Sequence names the key generator used when a new entity has a zero key.
	Sequence string

	// Key is the first key property; Keys lists all of them.
	Key         *Property
	Keys        []*Property
	Properties  []*Property
	Shadows     []*Property
	TokenColumn string
	Filter      Expr
	References  []Reference
	Navigations []*Navigation
	Routines    *Routines

	// View marks a keyless, read-only projection.
	View bool
	// Shared marks a kind stored as an attribute Bag.
	Shared bool

	goType   reflect.Type
	newFn    func() any
	byName   map[string]*Property
	byColumn map[string]*Property
	depth    int
}

// Root returns the hierarchy base, or d itself.
func (d *Descriptor) Root() *Descriptor {
	if d.Base != nil {
		return d.Base
	}
	return d
}

// Depth is the length of the longest reference chain below d; principals
// have smaller depths than their dependents.
func (d *Descriptor) Depth() int { return d.depth }

// IsA reports whether d is kind or a variant of it.
func (d *Descriptor) IsA(kind string) bool {
	return d.Kind == kind || (d.Base != nil && d.Base.Kind == kind)
}

// Property returns a data, key or shadow property by name.
func (d *Descriptor) Property(name string) (*Property, bool) {
	p, ok := d.byName[name]
	return p, ok
}

// PropertyByColumn returns the property stored in column.
func (d *Descriptor) PropertyByColumn(column string) (*Property, bool) {
	p, ok := d.byColumn[column]
	return p, ok
}

// Navigation returns a navigation by name.
func (d *Descriptor) Navigation(name string) (*Navigation, bool) {
	for _, n := range d.Navigations {
		if n.Name == name {
			return n, true
		}
	}
	return nil, false
}

// Concrete returns the kinds whose rows a query on d can produce.
func (d *Descriptor) Concrete() []*Descriptor {
	if d.Abstract {
		return d.Variants
	}
	return []*Descriptor{d}
}

// Variant resolves the concrete kind for a discriminator value.
func (d *Descriptor) Variant(value string) (*Descriptor, bool) {
	if !d.Abstract {
		return d, d.DiscriminatorValue == "" || d.DiscriminatorValue == value
	}
	for _, v := range d.Variants {
		if v.DiscriminatorValue == value {
			return v, true
		}
	}
	return nil, false
}

// Columns returns every column a row of d carries, in declaration order.
// For an abstract single-table base this is the union of its variants.
func (d *Descriptor) Columns() []ColumnRef {
	var cols []ColumnRef
	seen := map[string]bool{}
	add := func(name string, t ColumnType) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		cols = append(cols, ColumnRef{Name: name, Type: t})
	}
	for _, c := range d.Concrete() {
		add(c.DiscriminatorColumn, TypeText)
		for _, p := range c.Properties {
			add(p.Column, p.Type)
		}
		for _, p := range c.Shadows {
			add(p.Column, p.Type)
		}
		add(c.TokenColumn, TypeBlob)
	}
	return cols
}

// Tables returns the distinct tables holding rows of d.
func (d *Descriptor) Tables() []string {
	var out []string
	seen := map[string]bool{}
	for _, c := range d.Concrete() {
		if !seen[c.Table] {
			seen[c.Table] = true
			out = append(out, c.Table)
		}
	}
	return out
}

// decode converts a storage row into property values, token and shadow values.
func (d *Descriptor) decode(row Row) (Values, Token, Values, error) {
	vals := make(Values, len(d.Properties))
	for _, p := range d.Properties {
		raw := row[p.Column]
		if raw == nil {
			vals[p.Name] = nil
			continue
		}
		v, err := p.Conv.FromStorage(raw)
		if err != nil {
			return nil, nil, nil, &ConversionError{Kind: d.Kind, Column: p.Column, Value: raw, Err: err}
		}
		vals[p.Name] = v
	}
	var token Token
	if d.TokenColumn != "" {
		if b, ok := row[d.TokenColumn].([]byte); ok {
			token = Token(b)
		}
	}
	shadow := Values{}
	for _, p := range d.Shadows {
		raw := row[p.Column]
		if raw == nil {
			continue
		}
		v, err := p.Conv.FromStorage(raw)
		if err != nil {
			return nil, nil, nil, &ConversionError{Kind: d.Kind, Column: p.Column, Value: raw, Err: err}
		}
		shadow[p.Name] = v
	}
	return vals, token, shadow, nil
}

// build constructs a new entity and assigns vals through the property setters.
func (d *Descriptor) build(vals Values) (any, error) {
	entity := d.newFn()
	if err := d.assign(entity, vals); err != nil {
		return nil, err
	}
	return entity, nil
}

func (d *Descriptor) assign(entity any, vals Values) error {
	for _, p := range d.Properties {
		v, ok := vals[p.Name]
		if !ok {
			continue
		}
		if err := p.set(entity, v); err != nil {
			return &ConversionError{Kind: d.Kind, Column: p.Column, Value: v, Err: err}
		}
	}
	return nil
}

// current reads every property of entity.
func (d *Descriptor) current(entity any) Values {
	vals := make(Values, len(d.Properties))
	for _, p := range d.Properties {
		vals[p.Name] = p.get(entity)
	}
	return vals
}

// Composite reports whether d is keyed by more than one property.
func (d *Descriptor) Composite() bool { return len(d.Keys) > 1 }

// keyValue assembles the key of d from per-property values.
func (d *Descriptor) keyValue(get func(p *Property) any) any {
	switch {
	case d.Key == nil:
		return nil
	case !d.Composite():
		return get(d.Key)
	}
	k := make(CompositeKey, len(d.Keys))
	for i, p := range d.Keys {
		k[i] = get(p)
	}
	return k
}

// keyParts splits key into one value per key property.
func (d *Descriptor) keyParts(key any) ([]any, error) {
	if d.Key == nil {
		return nil, fmt.Errorf("kind %s has no key", d.Kind)
	}
	if !d.Composite() {
		return []any{key}, nil
	}
	var parts []any
	switch k := key.(type) {
	case CompositeKey:
		parts = k
	case []any:
		parts = k
	}
	if len(parts) != len(d.Keys) {
		return nil, NewValidationError(d.Kind, d.Key.Name, key, "key needs %d parts", len(d.Keys))
	}
	return parts, nil
}

// storageKey converts a domain key for identity and statements. A
// composite key converts to a []any of storage values.
func (d *Descriptor) storageKey(key any) (any, error) {
	parts, err := d.keyParts(key)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(parts))
	for i, p := range d.Keys {
		if out[i], err = toStorage(p, parts[i]); err != nil {
			return nil, err
		}
	}
	if !d.Composite() {
		return out[0], nil
	}
	return out, nil
}

// keyWhere matches the row of d with key.
func (d *Descriptor) keyWhere(key any) (Expr, error) {
	parts, err := d.keyParts(key)
	if err != nil {
		return nil, err
	}
	if !d.Composite() {
		return Eq(d.Key.Name, key), nil
	}
	xs := make([]Expr, len(parts))
	for i, p := range d.Keys {
		xs[i] = Eq(p.Name, parts[i])
	}
	return And(xs...), nil
}
