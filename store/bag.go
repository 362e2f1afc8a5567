package store

import (
	"fmt"
	"maps"
	"unicode/utf8"
)

// Bag is an entity of a shared-type kind: an open set of named attributes
// validated against the kind's declared attributes.
type Bag struct {
	kind  string
	desc  *Descriptor
	attrs map[string]any
}

// Kind returns the shared-type kind.
func (b *Bag) Kind() string { return b.kind }

// Get returns an attribute value.
func (b *Bag) Get(name string) any { return b.attrs[name] }

// Attrs returns a copy of all attributes.
func (b *Bag) Attrs() map[string]any { return maps.Clone(b.attrs) }

// Set validates and assigns an attribute.
func (b *Bag) Set(name string, v any) error {
	p, ok := b.desc.byName[name]
	if !ok || p.Role == RoleShadow {
		return NewValidationError(b.kind, name, v, "unknown attribute")
	}
	if err := checkAttr(b.kind, p, v); err != nil {
		return err
	}
	if v == nil {
		b.attrs[name] = nil
		return nil
	}
	s, _ := p.Conv.ToStorage(v)
	d, err := p.Conv.FromStorage(s)
	if err != nil {
		return &ValidationError{Kind: b.kind, Field: name, Value: v, Err: err}
	}
	b.attrs[name] = d
	return nil
}

// validate checks that every required attribute is present.
func (b *Bag) validate() error {
	for _, p := range b.desc.Properties {
		if p.Nullable {
			continue
		}
		if v, ok := b.attrs[p.Name]; !ok || v == nil {
			return NewValidationError(b.kind, p.Name, nil, "required attribute missing")
		}
	}
	return nil
}

func checkAttr(kind string, p *Property, v any) error {
	if v == nil {
		if !p.Nullable {
			return NewValidationError(kind, p.Name, v, "attribute is required")
		}
		return nil
	}
	s, err := p.Conv.ToStorage(v)
	if err != nil {
		return &ValidationError{Kind: kind, Field: p.Name, Value: v, Err: err}
	}
	if str, ok := s.(string); ok && p.MaxLen > 0 && utf8.RuneCountInString(str) > p.MaxLen {
		return &ValidationError{Kind: kind, Field: p.Name, Value: v,
			Err: fmt.Errorf("longer than %d characters", p.MaxLen)}
	}
	return nil
}
