package dynamostore

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/innkeeper/store"
)

// noneAttr is never written, so attribute_not_exists on it is always true.
const noneAttr = "__innkeeper_none"

// exprBuilder collects expression attribute names and values. Every
// attribute is referenced through a #attrN placeholder and every operand
// through a :valN placeholder.
type exprBuilder struct {
	names  map[string]string
	values map[string]types.AttributeValue
	byAttr map[string]string
}

func newExprBuilder() *exprBuilder {
	return &exprBuilder{
		names:  map[string]string{},
		values: map[string]types.AttributeValue{},
		byAttr: map[string]string{},
	}
}

func (b *exprBuilder) name(attr string) string {
	if key, ok := b.byAttr[attr]; ok {
		return key
	}
	key := fmt.Sprintf("#attr%d", len(b.byAttr))
	b.byAttr[attr] = key
	b.names[key] = attr
	return key
}

func (b *exprBuilder) value(v any) (string, error) {
	av, err := encode(v)
	if err != nil {
		return "", err
	}
	return b.raw(av), nil
}

func (b *exprBuilder) raw(av types.AttributeValue) string {
	key := fmt.Sprintf(":val%d", len(b.values))
	b.values[key] = av
	return key
}

// attrNames returns the names map, or nil when empty as the API requires.
func (b *exprBuilder) attrNames() map[string]string {
	if len(b.names) == 0 {
		return nil
	}
	return b.names
}

func (b *exprBuilder) attrValues() map[string]types.AttributeValue {
	if len(b.values) == 0 {
		return nil
	}
	return b.values
}

// cond renders a predicate as a condition or filter expression. Folded text
// comparisons use the lower-cased companion attribute.
func (b *exprBuilder) cond(c store.Cond) (string, error) {
	switch x := c.(type) {
	case store.ColumnCompare:
		col, v := x.Column, x.Value
		if s, ok := v.(string); ok && x.Fold {
			col, v = foldedName(col), strings.ToLower(s)
		}
		val, err := b.value(v)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s", b.name(col), x.Op, val), nil
	case store.ColumnIn:
		if len(x.Values) == 0 {
			n := b.name(x.Column)
			return fmt.Sprintf("(attribute_exists(%s) AND attribute_not_exists(%s))", n, n), nil
		}
		col := x.Column
		vals := make([]string, len(x.Values))
		for i, v := range x.Values {
			if s, ok := v.(string); ok && x.Fold {
				col, v = foldedName(x.Column), strings.ToLower(s)
			}
			val, err := b.value(v)
			if err != nil {
				return "", err
			}
			vals[i] = val
		}
		return fmt.Sprintf("%s IN (%s)", b.name(col), strings.Join(vals, ", ")), nil
	case store.ColumnNull:
		n := b.name(x.Column)
		null := b.raw(&types.AttributeValueMemberS{Value: "NULL"})
		if x.Null {
			return fmt.Sprintf("(attribute_not_exists(%s) OR attribute_type(%s, %s))", n, n, null), nil
		}
		return fmt.Sprintf("(attribute_exists(%s) AND NOT attribute_type(%s, %s))", n, n, null), nil
	case store.AllOf:
		return b.join(x, " AND ", "attribute_not_exists")
	case store.AnyOf:
		return b.join(x, " OR ", "attribute_exists")
	case store.NotCond:
		inner, err := b.cond(x.Cond)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	}
	return "", fmt.Errorf("dynamostore: unsupported condition %T", c)
}

// join renders conds separated by sep. An empty list becomes a constant
// test of an attribute no item carries; the name is only registered then,
// since DynamoDB rejects unused expression names.
func (b *exprBuilder) join(conds []store.Cond, sep, empty string) (string, error) {
	if len(conds) == 0 {
		return empty + "(" + b.name(noneAttr) + ")", nil
	}
	parts := make([]string, len(conds))
	for i, c := range conds {
		s, err := b.cond(c)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

// projection renders a projection expression for cols.
func (b *exprBuilder) projection(cols []store.ColumnRef) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = b.name(c.Name)
	}
	return strings.Join(names, ", ")
}
