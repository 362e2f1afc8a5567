package store

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jacentio/innkeeper/internal/keyhash"
)

// ColumnType is the storage primitive a column holds.
type ColumnType int

const (
	TypeText ColumnType = iota + 1
	TypeInt
	TypeReal
	TypeBool
	TypeTime
	TypeBlob
	TypeUUID
)

func (t ColumnType) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeInt:
		return "int"
	case TypeReal:
		return "real"
	case TypeBool:
		return "bool"
	case TypeTime:
		return "time"
	case TypeBlob:
		return "blob"
	case TypeUUID:
		return "uuid"
	}
	return "unknown"
}

// Normalize coerces a driver value into the canonical primitive for t:
// string, int64, float64, bool, time.Time (UTC), []byte, or a canonical
// UUID string. nil stays nil.
func Normalize(t ColumnType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeText:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		}
	case TypeInt:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case int16:
			return int64(x), nil
		case float64:
			if x == math.Trunc(x) {
				return int64(x), nil
			}
		case string:
			return strconv.ParseInt(x, 10, 64)
		case []byte:
			return strconv.ParseInt(string(x), 10, 64)
		}
	case TypeReal:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case string:
			return strconv.ParseFloat(x, 64)
		case []byte:
			return strconv.ParseFloat(string(x), 64)
		}
	case TypeBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case string:
			return strconv.ParseBool(x)
		}
	case TypeTime:
		switch x := v.(type) {
		case time.Time:
			return x.UTC(), nil
		case string:
			return parseTime(x)
		case []byte:
			return parseTime(string(x))
		case int64:
			return time.Unix(x, 0).UTC(), nil
		}
	case TypeBlob:
		switch x := v.(type) {
		case []byte:
			return bytes.Clone(x), nil
		case string:
			return []byte(x), nil
		}
	case TypeUUID:
		switch x := v.(type) {
		case string:
			id, err := uuid.Parse(x)
			if err != nil {
				return nil, err
			}
			return id.String(), nil
		case uuid.UUID:
			return x.String(), nil
		case [16]byte:
			return uuid.UUID(x).String(), nil
		case []byte:
			if len(x) == 16 {
				id, err := uuid.FromBytes(x)
				if err != nil {
					return nil, err
				}
				return id.String(), nil
			}
			id, err := uuid.ParseBytes(x)
			if err != nil {
				return nil, err
			}
			return id.String(), nil
		}
	}
	return nil, fmt.Errorf("cannot use %T as %s", v, t)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSuffix(s, "Z")
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
		if t, err := time.Parse(layout, s+"Z"); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// Converter maps a domain value to a storage primitive and back. Equal and
// Hash define the domain equality used for change detection and in-memory
// lookups.
type Converter interface {
	StorageType() ColumnType
	ToStorage(v any) (any, error)
	FromStorage(v any) (any, error)
	Equal(a, b any) bool
	Hash(v any) uint64
}

// CaseFolder is implemented by converters whose stored text compares
// case-insensitively.
type CaseFolder interface {
	CaseInsensitive() bool
}

// ValueConverter is a typed Converter between domain type D and storage primitive S.
type ValueConverter[D, S any] struct {
	storage ColumnType
	to      func(D) S
	from    func(S) (D, error)
	eq      func(a, b D) bool
	hash    func(D) uint64
	fold    bool
}

// NewConverter builds a converter storing D as S in a column of type storage.
// S must be the canonical primitive for storage (see Normalize).
func NewConverter[D, S any](storage ColumnType, to func(D) S, from func(S) (D, error)) *ValueConverter[D, S] {
	return &ValueConverter[D, S]{
		storage: storage,
		to:      to,
		from:    from,
		eq:      func(a, b D) bool { return sameValue(a, b) },
		hash:    func(v D) uint64 { return keyhash.Value(any(v)) },
	}
}

// Compare replaces the default structural equality.
func (c *ValueConverter[D, S]) Compare(eq func(a, b D) bool, hash func(D) uint64) *ValueConverter[D, S] {
	c.eq = eq
	c.hash = hash
	return c
}

// FoldCase marks stored values as compared case-insensitively by queries.
func (c *ValueConverter[D, S]) FoldCase() *ValueConverter[D, S] {
	c.fold = true
	return c
}

func (c *ValueConverter[D, S]) StorageType() ColumnType { return c.storage }

func (c *ValueConverter[D, S]) CaseInsensitive() bool { return c.fold }

func (c *ValueConverter[D, S]) ToStorage(v any) (any, error) {
	d, ok := v.(D)
	if !ok {
		var zero D
		return nil, fmt.Errorf("expected %T, got %T", zero, v)
	}
	return Normalize(c.storage, any(c.to(d)))
}

func (c *ValueConverter[D, S]) FromStorage(v any) (any, error) {
	n, err := Normalize(c.storage, v)
	if err != nil {
		return nil, err
	}
	s, ok := n.(S)
	if !ok {
		var zero S
		return nil, fmt.Errorf("expected stored %T, got %T", zero, n)
	}
	return c.from(s)
}

func (c *ValueConverter[D, S]) Equal(a, b any) bool {
	da, okA := a.(D)
	db, okB := b.(D)
	if !okA || !okB {
		return a == nil && b == nil
	}
	return c.eq(da, db)
}

func (c *ValueConverter[D, S]) Hash(v any) uint64 {
	d, ok := v.(D)
	if !ok {
		return 0
	}
	return c.hash(d)
}

// YesNo stores a bool as "Y" or "N".
func YesNo() *ValueConverter[bool, string] {
	return NewConverter(TypeText,
		func(b bool) string {
			if b {
				return "Y"
			}
			return "N"
		},
		func(s string) (bool, error) {
			switch s {
			case "Y":
				return true, nil
			case "N":
				return false, nil
			}
			return false, fmt.Errorf("expected Y or N, got %q", s)
		})
}

// Enum stores a closed string enum as its text, rejecting unknown values on read.
func Enum[T ~string](values ...T) *ValueConverter[T, string] {
	allowed := make(map[string]T, len(values))
	for _, v := range values {
		allowed[string(v)] = v
	}
	return NewConverter(TypeText,
		func(v T) string { return string(v) },
		func(s string) (T, error) {
			v, ok := allowed[s]
			if !ok {
				return v, fmt.Errorf("unknown value %q", s)
			}
			return v, nil
		})
}

// native converts built-in Go values of one reflect type to their column type.
type native struct {
	typ     reflect.Type
	storage ColumnType
}

var (
	timeType = reflect.TypeOf(time.Time{})
	uuidType = reflect.TypeOf(uuid.UUID{})
	byteType = reflect.TypeOf([]byte(nil))
)

// columnTypeOf infers the column type for a Go type. Pointer types are nullable.
func columnTypeOf(t reflect.Type) (ColumnType, bool, error) {
	nullable := false
	if t.Kind() == reflect.Pointer {
		nullable = true
		t = t.Elem()
	}
	switch {
	case t == timeType:
		return TypeTime, nullable, nil
	case t == uuidType:
		return TypeUUID, nullable, nil
	case t == byteType:
		return TypeBlob, true, nil
	}
	switch t.Kind() {
	case reflect.String:
		return TypeText, nullable, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return TypeInt, nullable, nil
	case reflect.Float32, reflect.Float64:
		return TypeReal, nullable, nil
	case reflect.Bool:
		return TypeBool, nullable, nil
	}
	return 0, false, fmt.Errorf("no storage type for %s", t)
}

func (n native) StorageType() ColumnType { return n.storage }

func (n native) ToStorage(v any) (any, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, nil
	}
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	var raw any
	switch {
	case rv.Type() == timeType || rv.Type() == uuidType || rv.Type() == byteType:
		raw = rv.Interface()
	case rv.Kind() == reflect.String:
		raw = rv.String()
	case rv.CanInt():
		raw = rv.Int()
	case rv.Kind() == reflect.Uint8 || rv.Kind() == reflect.Uint16 || rv.Kind() == reflect.Uint32:
		raw = int64(rv.Uint())
	case rv.CanFloat():
		raw = rv.Float()
	case rv.Kind() == reflect.Bool:
		raw = rv.Bool()
	default:
		return nil, fmt.Errorf("cannot store %T", v)
	}
	_, isText := raw.(string)
	if rv.Type() != uuidType && isText != (n.storage == TypeText || n.storage == TypeUUID) {
		return nil, fmt.Errorf("cannot use %T as %s", v, n.storage)
	}
	return Normalize(n.storage, raw)
}

func (n native) FromStorage(v any) (any, error) {
	s, err := Normalize(n.storage, v)
	if err != nil || s == nil {
		return nil, err
	}
	t := n.typ
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	var out reflect.Value
	switch {
	case t == uuidType:
		id, err := uuid.Parse(s.(string))
		if err != nil {
			return nil, err
		}
		out = reflect.ValueOf(id)
	default:
		sv := reflect.ValueOf(s)
		if !sv.Type().ConvertibleTo(t) {
			return nil, fmt.Errorf("cannot convert %T to %s", s, t)
		}
		out = sv.Convert(t)
	}
	if n.typ.Kind() == reflect.Pointer {
		p := reflect.New(t)
		p.Elem().Set(out)
		return p.Interface(), nil
	}
	return out.Interface(), nil
}

func (n native) Equal(a, b any) bool { return sameValue(a, b) }

func (n native) Hash(v any) uint64 {
	s, err := n.ToStorage(v)
	if err != nil {
		return 0
	}
	return keyhash.Value(s)
}

// sameValue is structural equality aware of time instants, byte slices and
// pointers to values.
func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return isNil(a) && isNil(b)
	}
	switch x := a.(type) {
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case *time.Time:
		y, ok := b.(*time.Time)
		if !ok {
			return false
		}
		if x == nil || y == nil {
			return x == nil && y == nil
		}
		return x.Equal(*y)
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	}
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Kind() == reflect.Pointer && rb.Kind() == reflect.Pointer && ra.Type() == rb.Type() {
		if ra.IsNil() || rb.IsNil() {
			return ra.IsNil() && rb.IsNil()
		}
		return reflect.DeepEqual(ra.Elem().Interface(), rb.Elem().Interface())
	}
	return reflect.DeepEqual(a, b)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func caseInsensitive(c Converter) bool {
	f, ok := c.(CaseFolder)
	return ok && f.CaseInsensitive()
}

// toStorage converts a domain value for a property, passing nil through.
func toStorage(p *Property, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if _, ok := p.Conv.(native); ok && isNil(v) {
		return nil, nil
	}
	s, err := p.Conv.ToStorage(v)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return nil, err
		}
		return nil, &ValidationError{Field: p.Name, Value: v, Err: err}
	}
	return s, nil
}
