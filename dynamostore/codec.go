package dynamostore

import (
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/innkeeper/store"
)

// timeLayout has fixed-width fractions so stored instants sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// foldedSuffix names the lower-cased companion of a case-insensitive
// attribute; comparisons on such attributes run against the companion.
const foldedSuffix = "__folded"

func foldedName(column string) string { return column + foldedSuffix }

// encode converts a normalized storage value to an attribute value.
func encode(v any) (types.AttributeValue, error) {
	switch x := v.(type) {
	case nil:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case time.Time:
		return &types.AttributeValueMemberS{Value: x.UTC().Format(timeLayout)}, nil
	case store.Token:
		return &types.AttributeValueMemberB{Value: []byte(x)}, nil
	}
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return av, nil
}

// decode converts an attribute value to the normalized storage value for t.
// Missing and NULL attributes decode to nil.
func decode(t store.ColumnType, av types.AttributeValue) (any, error) {
	if av == nil {
		return nil, nil
	}
	if _, null := av.(*types.AttributeValueMemberNULL); null {
		return nil, nil
	}
	var (
		out any
		err error
	)
	switch t {
	case store.TypeInt:
		var n int64
		err = attributevalue.Unmarshal(av, &n)
		out = n
	case store.TypeReal:
		var f float64
		err = attributevalue.Unmarshal(av, &f)
		out = f
	case store.TypeBool:
		var b bool
		err = attributevalue.Unmarshal(av, &b)
		out = b
	case store.TypeTime:
		var s string
		if err = attributevalue.Unmarshal(av, &s); err == nil {
			out, err = time.Parse(time.RFC3339Nano, s)
		}
	case store.TypeBlob:
		var b []byte
		err = attributevalue.Unmarshal(av, &b)
		out = b
	default:
		var s string
		err = attributevalue.Unmarshal(av, &s)
		out = s
	}
	if err != nil {
		return nil, err
	}
	return store.Normalize(t, out)
}

// putItem builds the item of an insert, with folded companions.
func putItem(w store.Write, token store.Token) (map[string]types.AttributeValue, error) {
	item := make(map[string]types.AttributeValue, len(w.Values)+1)
	for _, v := range w.Values {
		av, err := encode(v.Value)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", w.Kind, v.Column, err)
		}
		item[v.Column] = av
		if s, ok := v.Value.(string); ok && v.Fold {
			item[foldedName(v.Column)] = &types.AttributeValueMemberS{Value: strings.ToLower(s)}
		}
	}
	if w.TokenColumn != "" {
		item[w.TokenColumn] = &types.AttributeValueMemberB{Value: token}
	}
	return item, nil
}

// decodeRow reads the requested columns of an item.
func decodeRow(item map[string]types.AttributeValue, cols []store.ColumnRef) (store.Row, error) {
	row := make(store.Row, len(cols))
	for _, c := range cols {
		v, err := decode(c.Type, item[c.Name])
		if err != nil {
			return nil, &store.ConversionError{Column: c.Name, Value: item[c.Name], Err: err}
		}
		row[c.Name] = v
	}
	return row, nil
}
