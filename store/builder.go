package store

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/inflection"

	"github.com/jacentio/innkeeper/internal/ident"
)

// PropertySpec declares a property while building a kind.
type PropertySpec struct {
	p   Property
	err error
}

// Prop declares a property of entity type E read by get and written by set.
// Pointer value types are nullable. Without a converter the column type is
// inferred from V.
func Prop[E, V any](name string, get func(*E) V, set func(*E, V)) *PropertySpec {
	vt := reflect.TypeOf((*V)(nil)).Elem()
	spec := &PropertySpec{p: Property{Name: name, Column: ident.Snake(name)}}
	if typ, nullable, err := columnTypeOf(vt); err == nil {
		spec.p.Type = typ
		spec.p.Nullable = nullable
		spec.p.Conv = native{typ: vt, storage: typ}
	} else {
		spec.err = fmt.Errorf("property %s: %w", name, err)
	}
	spec.p.get = func(e any) any { return get(e.(*E)) }
	spec.p.set = func(e any, v any) error {
		if v == nil {
			var zero V
			set(e.(*E), zero)
			return nil
		}
		x, ok := v.(V)
		if !ok {
			return fmt.Errorf("property %s: expected %s, got %T", name, vt, v)
		}
		set(e.(*E), x)
		return nil
	}
	return spec
}

var attrTypes = map[ColumnType]reflect.Type{
	TypeText: reflect.TypeOf(""),
	TypeInt:  reflect.TypeOf(int64(0)),
	TypeReal: reflect.TypeOf(float64(0)),
	TypeBool: reflect.TypeOf(false),
	TypeTime: timeType,
	TypeBlob: byteType,
	TypeUUID: reflect.TypeOf(uuid.UUID{}),
}

// Attr declares an attribute of a shared-type kind stored in a Bag.
func Attr(name string, t ColumnType) *PropertySpec {
	spec := &PropertySpec{p: Property{Name: name, Column: ident.Snake(name), Type: t}}
	gt, ok := attrTypes[t]
	if !ok {
		spec.err = fmt.Errorf("attribute %s: unknown column type %d", name, t)
		return spec
	}
	spec.p.Conv = native{typ: gt, storage: t}
	spec.p.get = func(e any) any { return e.(*Bag).attrs[name] }
	spec.p.set = func(e any, v any) error {
		e.(*Bag).attrs[name] = v
		return nil
	}
	return spec
}

// Column overrides the snake_case column name.
func (s *PropertySpec) Column(name string) *PropertySpec {
	s.p.Column = name
	return s
}

// MaxLen bounds the stored text length.
func (s *PropertySpec) MaxLen(n int) *PropertySpec {
	s.p.MaxLen = n
	return s
}

// Nullable allows NULL in the column.
func (s *PropertySpec) Nullable() *PropertySpec {
	s.p.Nullable = true
	return s
}

// Convert stores the property through c.
func (s *PropertySpec) Convert(c Converter) *PropertySpec {
	s.p.Conv = c
	s.p.Type = c.StorageType()
	s.err = nil
	return s
}

// Definition is anything that can be registered: a kind or a hierarchy.
type Definition interface {
	define() ([]*Descriptor, error)
}

// EntityType declares the mapping of Go type E.
type EntityType[E any] struct {
	d     *Descriptor
	keys  []*PropertySpec
	props []*PropertySpec
	navs  []navSpec[E]
	errs  []error
}

type navSpec[E any] struct {
	name, target, property string
	many                   bool
	slot                   func(*E) Navigator
}

// Entity starts the mapping of a standalone kind backed by *E. The table
// defaults to the pluralized snake_case kind name.
func Entity[E any](kind string) *EntityType[E] {
	return &EntityType[E]{d: &Descriptor{
		Kind:   kind,
		Table:  inflection.Plural(ident.Snake(kind)),
		goType: reflect.TypeOf((*E)(nil)),
		newFn:  func() any { return new(E) },
	}}
}

// View starts the mapping of a keyless read-only projection backed by *R.
func View[R any](kind, relation string) *EntityType[R] {
	b := Entity[R](kind)
	b.d.View = true
	b.d.Table = relation
	return b
}

// SharedType starts the mapping of a kind stored as a Bag of attributes.
func SharedType(kind string) *EntityType[Bag] {
	b := Entity[Bag](kind)
	b.d.Shared = true
	b.d.goType = nil
	d := b.d
	d.newFn = func() any { return &Bag{kind: kind, desc: d, attrs: map[string]any{}} }
	return b
}

// Table overrides the table name.
func (b *EntityType[E]) Table(name string) *EntityType[E] {
	b.d.Table = name
	return b
}

// Key declares the primary key property.
func (b *EntityType[E]) Key(p *PropertySpec) *EntityType[E] {
	b.keys = []*PropertySpec{p}
	return b
}

// CompositeKey declares a key made of several properties, in order. Such
// kinds take explicit keys, cannot be referenced and cannot own
// collections.
func (b *EntityType[E]) CompositeKey(ps ...*PropertySpec) *EntityType[E] {
	b.keys = ps
	return b
}

// Props declares data properties in column order.
func (b *EntityType[E]) Props(ps ...*PropertySpec) *EntityType[E] {
	b.props = append(b.props, ps...)
	return b
}

// Token declares the concurrency token column.
func (b *EntityType[E]) Token(column string) *EntityType[E] {
	b.d.TokenColumn = column
	return b
}

// Timestamps declares the CreatedAt and UpdatedAt shadow attributes.
func (b *EntityType[E]) Timestamps() *EntityType[E] {
	b.d.Shadows = timestampShadows()
	return b
}

// Filter declares the global filter conjoined with every read.
func (b *EntityType[E]) Filter(x Expr) *EntityType[E] {
	b.d.Filter = x
	return b
}

// Sequence draws zero keys from the named sequence.
func (b *EntityType[E]) Sequence(name string) *EntityType[E] {
	b.d.Sequence = name
	return b
}

// References declares a foreign key from property to the key of target.
func (b *EntityType[E]) References(property, target string) *EntityType[E] {
	b.d.References = append(b.d.References, Reference{Property: property, Target: target})
	return b
}

// HasOne declares a navigation to the principal referenced by property.
func (b *EntityType[E]) HasOne(name, target, property string, slot func(*E) Navigator) *EntityType[E] {
	b.navs = append(b.navs, navSpec[E]{name: name, target: target, property: property, slot: slot})
	return b
}

// HasMany declares a navigation to the dependents of target whose property
// references this kind.
func (b *EntityType[E]) HasMany(name, target, property string, slot func(*E) Navigator) *EntityType[E] {
	b.navs = append(b.navs, navSpec[E]{name: name, target: target, property: property, many: true, slot: slot})
	return b
}

// Routines writes the kind through bound stored routines instead of statements.
func (b *EntityType[E]) Routines(r Routines) *EntityType[E] {
	b.d.Routines = &r
	return b
}

// Discriminator sets the discriminator value of a hierarchy variant.
func (b *EntityType[E]) Discriminator(value string) *EntityType[E] {
	b.d.DiscriminatorValue = value
	return b
}

func (b *EntityType[E]) define() ([]*Descriptor, error) {
	d := b.d
	errs := append([]error(nil), b.errs...)
	d.byName = map[string]*Property{}
	d.byColumn = map[string]*Property{}

	add := func(spec *PropertySpec, role Role) *Property {
		if spec.err != nil {
			errs = append(errs, spec.err)
			return nil
		}
		p := spec.p
		p.Role = role
		if _, dup := d.byName[p.Name]; dup {
			errs = append(errs, fmt.Errorf("duplicate property %s", p.Name))
			return nil
		}
		if _, dup := d.byColumn[p.Column]; dup {
			errs = append(errs, fmt.Errorf("duplicate column %s", p.Column))
			return nil
		}
		d.byName[p.Name] = &p
		d.byColumn[p.Column] = &p
		return &p
	}

	switch {
	case len(b.keys) > 0:
		for _, spec := range b.keys {
			if p := add(spec, RoleKey); p != nil {
				d.Keys = append(d.Keys, p)
				d.Properties = append(d.Properties, p)
			}
		}
		if len(d.Keys) == len(b.keys) {
			d.Key = d.Keys[0]
		}
		if len(b.keys) > 1 && d.Sequence != "" {
			errs = append(errs, errors.New("composite keys cannot be drawn from a sequence"))
		}
	case !d.View:
		errs = append(errs, errors.New("missing key"))
	}
	for _, spec := range b.props {
		if p := add(spec, RoleData); p != nil {
			d.Properties = append(d.Properties, p)
		}
	}
	for _, sh := range d.Shadows {
		if d.byColumn[sh.Column] != nil {
			errs = append(errs, fmt.Errorf("shadow column %s collides with a property", sh.Column))
			continue
		}
		d.byName[sh.Name] = sh
		d.byColumn[sh.Column] = sh
	}
	for i, ref := range d.References {
		p, ok := d.byName[ref.Property]
		if !ok {
			errs = append(errs, fmt.Errorf("reference to %s: unknown property %s", ref.Target, ref.Property))
			continue
		}
		d.References[i].Column = p.Column
	}
	for _, n := range b.navs {
		slot := n.slot
		d.Navigations = append(d.Navigations, &Navigation{
			Name:     n.name,
			Target:   n.target,
			Property: n.property,
			Many:     n.many,
			slot:     func(e any) Navigator { return slot(e.(*E)) },
		})
		if !n.many {
			if _, ok := d.byName[n.property]; !ok {
				errs = append(errs, fmt.Errorf("navigation %s: unknown property %s", n.name, n.property))
			}
		}
	}
	if d.View && (d.TokenColumn != "" || len(d.Shadows) > 0 || d.Routines != nil) {
		errs = append(errs, errors.New("views cannot declare tokens, shadows or routines"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("kind %s: %w", d.Kind, err)
	}
	return []*Descriptor{d}, nil
}

func timestampShadows() []*Property {
	return []*Property{
		shadowTime("CreatedAt", "created_at"),
		shadowTime("UpdatedAt", "updated_at"),
	}
}

func shadowTime(name, column string) *Property {
	return &Property{
		Name:     name,
		Column:   column,
		Type:     TypeTime,
		Nullable: true,
		Role:     RoleShadow,
		Conv:     native{typ: reflect.TypeOf(time.Time{}), storage: TypeTime},
	}
}

// HierarchyType declares a closed set of kinds mapped under one strategy.
type HierarchyType struct {
	d        *Descriptor
	variants []Definition
}

// Hierarchy starts an abstract kind whose variants are registered with Variant.
func Hierarchy(kind string, strategy Strategy) *HierarchyType {
	return &HierarchyType{d: &Descriptor{
		Kind:     kind,
		Table:    inflection.Plural(ident.Snake(kind)),
		Strategy: strategy,
		Abstract: true,
	}}
}

// Table names the shared table of a single-table hierarchy.
func (h *HierarchyType) Table(name string) *HierarchyType {
	h.d.Table = name
	return h
}

// Discriminator names the column selecting the variant of a single-table hierarchy.
func (h *HierarchyType) Discriminator(column string) *HierarchyType {
	h.d.DiscriminatorColumn = column
	return h
}

// Sequence names the key sequence shared by every variant.
func (h *HierarchyType) Sequence(name string) *HierarchyType {
	h.d.Sequence = name
	return h
}

// Token declares the concurrency token column of every variant.
func (h *HierarchyType) Token(column string) *HierarchyType {
	h.d.TokenColumn = column
	return h
}

// Timestamps declares CreatedAt and UpdatedAt on every variant.
func (h *HierarchyType) Timestamps() *HierarchyType {
	h.d.Shadows = timestampShadows()
	return h
}

// Filter declares a global filter applying to every variant.
func (h *HierarchyType) Filter(x Expr) *HierarchyType {
	h.d.Filter = x
	return h
}

// Variant adds a concrete kind.
func (h *HierarchyType) Variant(v Definition) *HierarchyType {
	h.variants = append(h.variants, v)
	return h
}

func (h *HierarchyType) define() ([]*Descriptor, error) {
	base := h.d
	if len(h.variants) == 0 {
		return nil, fmt.Errorf("hierarchy %s: no variants", base.Kind)
	}
	if base.Strategy == StrategySingleTable && base.DiscriminatorColumn == "" {
		base.DiscriminatorColumn = "discriminator"
	}
	out := []*Descriptor{base}
	seen := map[string]bool{}
	for _, v := range h.variants {
		if eb, ok := v.(interface{ prepareVariant(*Descriptor) }); ok {
			eb.prepareVariant(base)
		}
		ds, err := v.define()
		if err != nil {
			return nil, fmt.Errorf("hierarchy %s: %w", base.Kind, err)
		}
		vd := ds[0]
		vd.Base = base
		vd.Strategy = base.Strategy
		if base.Strategy == StrategySingleTable {
			vd.Table = base.Table
			vd.DiscriminatorColumn = base.DiscriminatorColumn
			if vd.DiscriminatorValue == "" {
				vd.DiscriminatorValue = vd.Kind
			}
			if seen[vd.DiscriminatorValue] {
				return nil, fmt.Errorf("hierarchy %s: duplicate discriminator %q", base.Kind, vd.DiscriminatorValue)
			}
			seen[vd.DiscriminatorValue] = true
		}
		base.Variants = append(base.Variants, vd)
		out = append(out, vd)
	}
	if err := base.inheritCommon(); err != nil {
		return nil, err
	}
	return out, nil
}

// prepareVariant copies hierarchy-wide settings before the variant is defined.
func (b *EntityType[E]) prepareVariant(base *Descriptor) {
	if base.Sequence != "" {
		b.d.Sequence = base.Sequence
	}
	if base.TokenColumn != "" {
		b.d.TokenColumn = base.TokenColumn
	}
	if len(base.Shadows) > 0 {
		b.d.Shadows = timestampShadows()
	}
	if base.Filter != nil {
		b.d.Filter = base.Filter
	}
}

// inheritCommon gives an abstract base the key and the properties shared by
// all variants, so queries on the base can bind them.
func (d *Descriptor) inheritCommon() error {
	first := d.Variants[0]
	if first.Key == nil {
		return fmt.Errorf("hierarchy %s: variants need a key", d.Kind)
	}
	if first.Composite() {
		return fmt.Errorf("hierarchy %s: variants need a single-property key", d.Kind)
	}
	d.byName = map[string]*Property{}
	d.byColumn = map[string]*Property{}
	for _, p := range first.Properties {
		common := true
		for _, v := range d.Variants[1:] {
			q, ok := v.byName[p.Name]
			if !ok || q.Column != p.Column || q.Type != p.Type {
				common = false
				break
			}
		}
		if !common {
			continue
		}
		d.Properties = append(d.Properties, p)
		d.byName[p.Name] = p
		d.byColumn[p.Column] = p
	}
	key, ok := d.byName[first.Key.Name]
	if !ok || key.Role != RoleKey {
		return fmt.Errorf("hierarchy %s: variants must share key %s", d.Kind, first.Key.Name)
	}
	d.Key = key
	d.Keys = []*Property{key}
	for _, sh := range first.Shadows {
		d.Shadows = append(d.Shadows, sh)
		d.byName[sh.Name] = sh
		d.byColumn[sh.Column] = sh
	}
	return nil
}
