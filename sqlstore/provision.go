package sqlstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/jacentio/innkeeper/internal/ident"
	"github.com/jacentio/innkeeper/store"
)

// DDL renders the idempotent schema for every kind of a sealed registry:
// the sequence and routine catalog, then one table per concrete kind (or per
// single-table hierarchy) with principals before dependents. Views are
// provided by domain scripts.
func DDL(d Dialect, reg *store.Registry) ([]string, error) {
	if !reg.Sealed() {
		if err := reg.Seal(); err != nil {
			return nil, err
		}
	}
	var seqs []string
	for name := range reg.Sequences() {
		seqs = append(seqs, name)
	}
	sort.Strings(seqs)
	stmts := d.catalog(seqs)

	var tables []*store.Descriptor
	for _, k := range reg.Kinds() {
		switch {
		case k.View:
		case k.Strategy == store.StrategySingleTable && k.Abstract:
			tables = append(tables, k)
		case k.Abstract, k.Strategy == store.StrategySingleTable:
		default:
			tables = append(tables, k)
		}
	}
	sort.SliceStable(tables, func(i, j int) bool { return tables[i].Depth() < tables[j].Depth() })
	for _, t := range tables {
		stmt, err := createTable(d, reg, t)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

type columnDef struct {
	name     string
	typ      store.ColumnType
	maxLen   int
	required bool
}

func createTable(d Dialect, reg *store.Registry, t *store.Descriptor) (string, error) {
	variants := t.Concrete()
	var defs []columnDef
	seen := map[string]int{}
	add := func(c columnDef) {
		if i, ok := seen[c.name]; ok {
			defs[i].maxLen = max(defs[i].maxLen, c.maxLen)
			return
		}
		seen[c.name] = len(defs)
		defs = append(defs, c)
	}
	for _, v := range variants {
		if v.DiscriminatorColumn != "" {
			add(columnDef{name: v.DiscriminatorColumn, typ: store.TypeText, required: true})
		}
		for _, p := range v.Properties {
			add(columnDef{name: p.Column, typ: p.Type, maxLen: p.MaxLen, required: !p.Nullable && inAll(variants, p.Column)})
		}
		for _, p := range v.Shadows {
			add(columnDef{name: p.Column, typ: p.Type})
		}
		if v.TokenColumn != "" {
			add(columnDef{name: v.TokenColumn, typ: store.TypeBlob, required: true})
		}
	}

	keys := make([]string, len(t.Keys))
	for i, k := range t.Keys {
		keys[i] = ident.Quote(k.Column)
	}
	lines := make([]string, 0, len(defs)+4)
	for _, c := range defs {
		line := ident.Quote(c.name) + " " + d.ColumnType(c.typ, c.maxLen)
		switch {
		case len(keys) == 1 && c.name == t.Key.Column:
			line += " PRIMARY KEY"
		case c.required:
			line += " NOT NULL"
		}
		if c.maxLen > 0 {
			if chk := d.lengthCheck(c.name, c.maxLen); chk != "" {
				line += " " + chk
			}
		}
		lines = append(lines, line)
	}
	if len(keys) > 1 {
		lines = append(lines, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}
	refs := map[string]bool{}
	for _, v := range variants {
		for _, ref := range v.References {
			target, err := reg.Kind(ref.Target)
			if err != nil {
				return "", err
			}
			root := target.Root()
			if root.Strategy == store.StrategyTablePerConcrete {
				// Rows of the target span several tables; the engine checks it.
				continue
			}
			fk := fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
				ident.Quote(ref.Column), ident.QuoteName(root.Table), ident.Quote(root.Key.Column))
			if !refs[fk] {
				refs[fk] = true
				lines = append(lines, fk)
			}
		}
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", ident.QuoteName(t.Table), strings.Join(lines, ",\n\t")), nil
}

func inAll(variants []*store.Descriptor, column string) bool {
	return !slices.ContainsFunc(variants, func(v *store.Descriptor) bool {
		_, ok := v.PropertyByColumn(column)
		return !ok
	})
}

// Provision creates the schema of reg, then runs the domain scripts (views,
// functions) in order. Every statement is idempotent.
func Provision(ctx context.Context, db *DB, reg *store.Registry, scripts ...string) error {
	stmts, err := DDL(db.dialect, reg)
	if err != nil {
		return fmt.Errorf("provision: %w", err)
	}
	for _, s := range append(stmts, scripts...) {
		if strings.TrimSpace(s) == "" {
			continue
		}
		db.log.Debug("provision", "sql", s)
		if _, err := db.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("provision: %w", err)
		}
	}
	db.log.Info("provisioned schema", "dialect", db.dialect.Name(), "statements", len(stmts)+len(scripts))
	return nil
}

// InstallRoutine stores the body of a SQLite routine in the catalog,
// replacing an earlier version. Bodies reference arguments as :name.
func InstallRoutine(ctx context.Context, db *DB, name, body string) error {
	if _, ok := db.dialect.(sqliteDialect); !ok {
		return fmt.Errorf("install routine %s: %s routines are created by scripts", name, db.dialect.Name())
	}
	_, err := db.db.ExecContext(ctx, `INSERT INTO _routines (name, body) VALUES (?, ?)
ON CONFLICT (name) DO UPDATE SET body = excluded.body`, name, body)
	if err != nil {
		return fmt.Errorf("install routine %s: %w", name, err)
	}
	return nil
}
