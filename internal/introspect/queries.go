package introspect

import (
	"context"
	"fmt"

	"github.com/sadopc/pgreflect/internal/filter"
)

// Kind selects which relation kind a discovery pass targets.
type Kind int

const (
	KindTable Kind = iota
	KindView
	KindIndex
	KindSequence
)

// relkind returns the pg_class type code for the kind.
func (k Kind) relkind() byte {
	switch k {
	case KindTable:
		return 'r'
	case KindView:
		return 'v'
	case KindIndex:
		return 'i'
	case KindSequence:
		return 'S'
	}
	return 'r'
}

func (k Kind) String() string {
	switch k {
	case KindTable:
		return "table"
	case KindView:
		return "view"
	case KindIndex:
		return "index"
	case KindSequence:
		return "sequence"
	}
	return "table"
}

// systemSchemas is the namespace condition shared by every discovery query:
// the pg_* namespaces and information_schema are never part of a reflected
// catalog.
const systemSchemas = `n.nspname !~ '^pg_' AND n.nspname <> 'information_schema'`

// filterClause renders an expression as a pushed-down predicate: the
// OR-combined atoms are ANDed into the query, and for exclusion the whole
// disjunction is negated. Empty expressions contribute nothing.
func filterClause(e *filter.Expression, negate bool, schemaCol, nameCol string) string {
	if e.Empty() {
		return ""
	}
	disj := filter.Disjunction(filter.Fragments(e, schemaCol, nameCol))
	if negate {
		return "\n   AND NOT (" + disj + ")"
	}
	return "\n   AND (" + disj + ")"
}

// columnsSQL lists every column of every relation of the given kind that
// survives the filters, ordered by schema, relation and ordinal position.
// The ORDER BY is load-bearing: the catalog preserves column order as
// delivered.
func columnsSQL(kind Kind, include, exclude *filter.Expression) string {
	return fmt.Sprintf(`SELECT n.nspname,
       c.relname,
       c.oid,
       a.attname,
       t.typname,
       a.atttypmod,
       a.attnotnull,
       pg_catalog.pg_get_expr(d.adbin, d.adrelid)
  FROM pg_catalog.pg_class c
  JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
  JOIN pg_catalog.pg_attribute a ON a.attrelid = c.oid
  JOIN pg_catalog.pg_type t ON t.oid = a.atttypid
  LEFT JOIN pg_catalog.pg_attrdef d ON d.adrelid = c.oid AND d.adnum = a.attnum
 WHERE c.relkind = '%c'
   AND a.attnum > 0
   AND NOT a.attisdropped
   AND %s%s%s
 ORDER BY n.nspname, c.relname, a.attnum`,
		kind.relkind(), systemSchemas,
		filterClause(include, false, "n.nspname", "c.relname"),
		filterClause(exclude, true, "n.nspname", "c.relname"))
}

// indexesSQL lists indexes of filtered tables, ordered by schema and table.
// The constraint columns are non-null only when the index backs a declared
// constraint.
func indexesSQL(include, exclude *filter.Expression) string {
	return fmt.Sprintf(`SELECT n.nspname,
       c.relname,
       i.relname,
       x.indisprimary,
       x.indisunique,
       pg_catalog.pg_get_indexdef(x.indexrelid),
       con.conname,
       pg_catalog.pg_get_constraintdef(con.oid)
  FROM pg_catalog.pg_index x
  JOIN pg_catalog.pg_class c ON c.oid = x.indrelid
  JOIN pg_catalog.pg_class i ON i.oid = x.indexrelid
  JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
  LEFT JOIN pg_catalog.pg_constraint con ON con.conindid = x.indexrelid
 WHERE c.relkind = 'r'
   AND %s%s%s
 ORDER BY n.nspname, c.relname, i.relname`,
		systemSchemas,
		filterClause(include, false, "n.nspname", "c.relname"),
		filterClause(exclude, true, "n.nspname", "c.relname"))
}

// foreignKeysSQL lists foreign-key constraints between filtered tables.
// Self-referencing constraints are excluded here, not at runtime. The
// include set is applied to both endpoints (a row survives when either
// endpoint is included); the exclude set is applied to the referencing
// side only, so a foreign key pointing at an excluded table still reaches
// the relation resolver, which drops it with a diagnostic instead of
// losing it silently.
func foreignKeysSQL(include, exclude *filter.Expression) string {
	incl := ""
	if !include.Empty() {
		d1 := filter.Disjunction(filter.Fragments(include, "n1.nspname", "c1.relname"))
		d2 := filter.Disjunction(filter.Fragments(include, "n2.nspname", "c2.relname"))
		incl = "\n   AND ((" + d1 + ") OR (" + d2 + "))"
	}
	return fmt.Sprintf(`SELECT con.conname,
       n1.nspname,
       c1.relname,
       n2.nspname,
       c2.relname,
       (SELECT pg_catalog.string_agg(a.attname, ',' ORDER BY k.ord)
          FROM pg_catalog.unnest(con.conkey) WITH ORDINALITY AS k(attnum, ord)
          JOIN pg_catalog.pg_attribute a
            ON a.attrelid = con.conrelid AND a.attnum = k.attnum),
       (SELECT pg_catalog.string_agg(a.attname, ',' ORDER BY k.ord)
          FROM pg_catalog.unnest(con.confkey) WITH ORDINALITY AS k(attnum, ord)
          JOIN pg_catalog.pg_attribute a
            ON a.attrelid = con.confrelid AND a.attnum = k.attnum),
       con.confupdtype::text,
       con.confdeltype::text,
       con.confmatchtype::text,
       con.condeferrable,
       con.condeferred,
       pg_catalog.pg_get_constraintdef(con.oid)
  FROM pg_catalog.pg_constraint con
  JOIN pg_catalog.pg_class c1 ON c1.oid = con.conrelid
  JOIN pg_catalog.pg_namespace n1 ON n1.oid = c1.relnamespace
  JOIN pg_catalog.pg_class c2 ON c2.oid = con.confrelid
  JOIN pg_catalog.pg_namespace n2 ON n2.oid = c2.relnamespace
 WHERE con.contype = 'f'
   AND con.conrelid <> con.confrelid
   AND n1.nspname !~ '^pg_' AND n1.nspname <> 'information_schema'
   AND n2.nspname !~ '^pg_' AND n2.nspname <> 'information_schema'%s%s
 ORDER BY n1.nspname, c1.relname, con.conname`,
		incl,
		filterClause(exclude, true, "n1.nspname", "c1.relname"))
}

// schemasSQL lists user schema names.
const schemasSQL = `SELECT n.nspname
  FROM pg_catalog.pg_namespace n
 WHERE ` + systemSchemas + `
 ORDER BY n.nspname`

// relationsSQL maps table names to (schema, name, oid) in one round trip
// for any number of names.
const relationsSQL = `SELECT n.nspname, c.relname, c.oid
  FROM pg_catalog.pg_class c
  JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
 WHERE c.relkind = 'r'
   AND c.relname = ANY($1)
   AND ` + systemSchemas + `
 ORDER BY n.nspname, c.relname`

const currentSchemaSQL = `SELECT pg_catalog.current_schema()`

// relation is one row of the batched name-to-oid lookup.
type relation struct {
	Schema string
	Name   string
	OID    uint32
}

// relationOIDs resolves table names to their schema and object identifier,
// batched into a single query.
func relationOIDs(ctx context.Context, q Querier, names []string) ([]relation, error) {
	rows, err := q.Query(ctx, relationsSQL, names)
	if err != nil {
		return nil, fmt.Errorf("relation oids: %w", err)
	}
	defer rows.Close()

	var rels []relation
	for rows.Next() {
		var r relation
		if err := rows.Scan(&r.Schema, &r.Name, &r.OID); err != nil {
			return nil, fmt.Errorf("relation oids scan: %w", err)
		}
		rels = append(rels, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("relation oids rows: %w", err)
	}
	return rels, nil
}

// ListSchemas returns the source's user schema names.
func ListSchemas(ctx context.Context, q Querier) ([]string, error) {
	rows, err := q.Query(ctx, schemasSQL)
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list schemas scan: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list schemas rows: %w", err)
	}
	return names, nil
}

// currentSchema asks the source which schema unqualified names resolve to.
func currentSchema(ctx context.Context, q Querier) (string, error) {
	rows, err := q.Query(ctx, currentSchemaSQL)
	if err != nil {
		return "", fmt.Errorf("current schema: %w", err)
	}
	defer rows.Close()

	var name string
	if rows.Next() {
		if err := rows.Scan(&name); err != nil {
			return "", fmt.Errorf("current schema scan: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("current schema rows: %w", err)
	}
	return name, nil
}
