package sqlstore

import (
	"fmt"
	"strings"

	"github.com/jacentio/innkeeper/internal/ident"
	"github.com/jacentio/innkeeper/store"
)

// builder accumulates SQL text and its positional arguments.
type builder struct {
	d    Dialect
	sb   strings.Builder
	args []any
}

func (b *builder) write(parts ...string) {
	for _, p := range parts {
		b.sb.WriteString(p)
	}
}

func (b *builder) param(v any) string {
	b.args = append(b.args, v)
	return b.d.Placeholder(len(b.args))
}

func (b *builder) String() string { return b.sb.String() }

// cond renders a predicate. Folded comparisons lower both sides.
func (b *builder) cond(c store.Cond) {
	switch x := c.(type) {
	case store.ColumnCompare:
		col, val := ident.Quote(x.Column), b.param(x.Value)
		if _, text := x.Value.(string); text && x.Fold {
			col, val = "LOWER("+col+")", "LOWER("+val+")"
		}
		b.write(col, " ", string(x.Op), " ", val)
	case store.ColumnIn:
		if len(x.Values) == 0 {
			b.write("1 = 0")
			return
		}
		col := ident.Quote(x.Column)
		if x.Fold {
			col = "LOWER(" + col + ")"
		}
		b.write(col, " IN (")
		for i, v := range x.Values {
			if i > 0 {
				b.write(", ")
			}
			p := b.param(v)
			if _, text := v.(string); text && x.Fold {
				p = "LOWER(" + p + ")"
			}
			b.write(p)
		}
		b.write(")")
	case store.ColumnNull:
		if x.Null {
			b.write(ident.Quote(x.Column), " IS NULL")
		} else {
			b.write(ident.Quote(x.Column), " IS NOT NULL")
		}
	case store.AllOf:
		b.join(x, " AND ", "1 = 1")
	case store.AnyOf:
		b.join(x, " OR ", "1 = 0")
	case store.NotCond:
		b.write("NOT (")
		b.cond(x.Cond)
		b.write(")")
	default:
		panic(fmt.Sprintf("sqlstore: unsupported condition %T", c))
	}
}

func (b *builder) join(conds []store.Cond, sep, empty string) {
	if len(conds) == 0 {
		b.write(empty)
		return
	}
	b.write("(")
	for i, c := range conds {
		if i > 0 {
			b.write(sep)
		}
		b.cond(c)
	}
	b.write(")")
}

func columnList(cols []store.ColumnRef) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = ident.Quote(c.Name)
	}
	return strings.Join(names, ", ")
}

func renderSelect(d Dialect, sel store.Select) (string, []any) {
	b := &builder{d: d}
	b.write("SELECT ", columnList(sel.Columns), " FROM ", ident.QuoteName(sel.Table))
	if sel.Where != nil {
		b.write(" WHERE ")
		b.cond(sel.Where)
	}
	if len(sel.OrderBy) > 0 {
		b.write(" ORDER BY ")
		for i, o := range sel.OrderBy {
			if i > 0 {
				b.write(", ")
			}
			b.write(ident.Quote(o.Column))
			if o.Desc {
				b.write(" DESC")
			}
		}
	}
	b.write(d.paging(sel.Limit, sel.Offset))
	return b.String(), b.args
}

func renderCount(d Dialect, table string, where store.Cond) (string, []any) {
	b := &builder{d: d}
	b.write("SELECT COUNT(*) FROM ", ident.QuoteName(table))
	if where != nil {
		b.write(" WHERE ")
		b.cond(where)
	}
	return b.String(), b.args
}

// renderWrite renders the statement for w. Inserts and updates refresh the
// token column and return it; updates and deletes match the expected token.
func renderWrite(d Dialect, w store.Write) (string, []any) {
	b := &builder{d: d}
	table := ident.QuoteName(w.Table)
	switch w.Op {
	case store.OpInsert:
		cols := make([]string, 0, len(w.Values)+1)
		vals := make([]string, 0, len(w.Values)+1)
		for _, v := range w.Values {
			cols = append(cols, ident.Quote(v.Column))
			vals = append(vals, b.param(v.Value))
		}
		if w.TokenColumn != "" {
			cols = append(cols, ident.Quote(w.TokenColumn))
			vals = append(vals, d.NewToken())
		}
		b.write("INSERT INTO ", table, " (", strings.Join(cols, ", "), ") VALUES (", strings.Join(vals, ", "), ")")
	case store.OpUpdate:
		sets := make([]string, 0, len(w.Values)+1)
		for _, v := range w.Values {
			sets = append(sets, ident.Quote(v.Column)+" = "+b.param(v.Value))
		}
		if w.TokenColumn != "" {
			sets = append(sets, ident.Quote(w.TokenColumn)+" = "+d.NewToken())
		}
		b.write("UPDATE ", table, " SET ", strings.Join(sets, ", "))
		b.where(w)
	case store.OpDelete:
		b.write("DELETE FROM ", table)
		b.where(w)
	}
	if w.TokenColumn != "" && w.Op != store.OpDelete {
		b.write(" RETURNING ", ident.Quote(w.TokenColumn))
	}
	return b.String(), b.args
}

func (b *builder) where(w store.Write) {
	b.write(" WHERE ", ident.Quote(w.KeyColumn), " = ", b.param(w.Key))
	for _, m := range w.Match {
		b.write(" AND ", ident.Quote(m.Column), " = ", b.param(m.Value))
	}
	if w.TokenColumn != "" {
		b.write(" AND ", ident.Quote(w.TokenColumn), " = ", b.param([]byte(w.Expected)))
	}
}

func renderCheck(d Dialect, table, column string, value any) (string, []any) {
	b := &builder{d: d}
	b.write("SELECT 1 FROM ", ident.QuoteName(table), " WHERE ", ident.Quote(column), " = ", b.param(value), " LIMIT 1")
	return b.String(), b.args
}
