// Package introspect reflects a live PostgreSQL database into a catalog.
//
// One call to BuildCatalog runs the discovery passes in order — columns,
// indexes, foreign keys — each a single round trip whose result is fully
// consumed before the next starts. Filtering is pushed down into the
// source's regex operator; the catalog never sees objects the filters
// removed, with one deliberate exception: foreign keys whose referenced
// table was filtered out arrive here and are dropped with a notice, since
// losing a dangling relationship is the correct outcome of filtering, not
// data loss.
//
// The connection is externally owned and the build is strictly
// synchronous; parallel builds need independent connections and catalogs.
package introspect

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/sadopc/pgreflect/internal/catalog"
	"github.com/sadopc/pgreflect/internal/diag"
	"github.com/sadopc/pgreflect/internal/filter"
	"github.com/sadopc/pgreflect/internal/ident"
)

// Querier is the one-method query surface the discovery passes need.
// *pgx.Conn and *pgxpool.Pool both satisfy it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Selection states what the caller wants reflected. Exactly one of
// TargetTable, Mirror or Include should be set; all of them combine with
// an optional Exclude. An entirely empty selection reflects everything.
type Selection struct {
	// TargetTable names a single table, optionally schema-qualified,
	// optionally quoted. The build fails unless exactly one table results.
	TargetTable string

	// Mirror reflects the same set of tables and views another catalog
	// contains, bucketed under each object's target schema.
	Mirror *catalog.Catalog

	// Include is an explicit filter expression, passed through unchanged.
	Include *filter.Expression

	// Exclude removes matching objects from whatever Include selected.
	Exclude *filter.Expression
}

// ErrConsistency marks a discovery row referencing a schema or table the
// column pass never registered. It indicates a builder-ordering bug, not
// user error.
var ErrConsistency = errors.New("catalog consistency violation")

// TargetError reports that a requested single table resolved to zero or
// several tables. Matches holds every schema-qualified candidate found, so
// the caller can disambiguate.
type TargetError struct {
	Target  string
	Matches []string
}

func (e *TargetError) Error() string {
	if len(e.Matches) == 0 {
		return fmt.Sprintf("table %q not found in any schema", e.Target)
	}
	return fmt.Sprintf("table %q is ambiguous, found %d candidates: %s",
		e.Target, len(e.Matches), strings.Join(e.Matches, ", "))
}

// Fixed decode tables for pg_constraint single-character rule codes. A
// well-formed source cannot produce codes outside these maps; that is a
// precondition, not a runtime check.
var actionRules = map[string]string{
	"a": "NO ACTION",
	"r": "RESTRICT",
	"c": "CASCADE",
	"n": "SET NULL",
	"d": "SET DEFAULT",
}

var matchRules = map[string]string{
	"f": "FULL",
	"p": "PARTIAL",
	"s": "SIMPLE",
}

// varHeaderSize is the storage header PostgreSQL folds into atttypmod for
// variable-length types; subtracting it recovers the declared length.
const varHeaderSize = 4

func normalizeTypeMod(typmod int32) int32 {
	if typmod < 0 {
		return catalog.NoTypeMod
	}
	return typmod - varHeaderSize
}

// BuildCatalog reflects the database into a fresh catalog scoped by sel.
// Every call re-queries the live source; nothing is cached across calls.
func BuildCatalog(ctx context.Context, q Querier, dbName string, sel Selection, sink diag.Sink) (*catalog.Catalog, error) {
	if sink == nil {
		sink = diag.Discard()
	}

	include := sel.Include
	switch {
	case sel.TargetTable != "":
		var err error
		include, err = expressionForTable(ctx, q, sel.TargetTable)
		if err != nil {
			return nil, err
		}
	case sel.Mirror != nil:
		var err error
		include, err = filter.FromCatalog(sel.Mirror, func() (string, error) {
			return currentSchema(ctx, q)
		})
		if err != nil {
			return nil, err
		}
	}

	cat := catalog.New(dbName)

	if err := listColumns(ctx, q, cat, KindTable, include, sel.Exclude, sink); err != nil {
		return nil, err
	}
	if sel.TargetTable == "" {
		// Targeting one named table is a table operation; every other
		// selection covers views too.
		if err := listColumns(ctx, q, cat, KindView, include, sel.Exclude, sink); err != nil {
			return nil, err
		}
	}
	if err := listIndexes(ctx, q, cat, include, sel.Exclude, sink); err != nil {
		return nil, err
	}
	if err := listForeignKeys(ctx, q, cat, include, sel.Exclude, sink); err != nil {
		return nil, err
	}

	if sel.TargetTable != "" && cat.TableCount() != 1 {
		return nil, &TargetError{Target: sel.TargetTable, Matches: cat.TableNames()}
	}

	sink.Debugf("catalog %s: %d tables, %d views, %d indexes, %d foreign keys",
		cat.Name, cat.TableCount(), cat.ViewCount(), cat.IndexCount(), cat.ForeignKeyCount())
	return cat, nil
}

// expressionForTable builds the one-table include expression. An
// unqualified reference is resolved against the live source; when the name
// exists in several schemas every candidate is included, and the
// single-table invariant fails afterwards with the full list.
func expressionForTable(ctx context.Context, q Querier, ref string) (*filter.Expression, error) {
	schemaPart, tablePart := splitQualified(ref)
	e := filter.New()

	if schemaPart != "" {
		e.AddTable(ident.Unquote(schemaPart), tablePart)
		return e, nil
	}

	rels, err := relationOIDs(ctx, q, []string{ident.Unquote(tablePart)})
	if err != nil {
		return nil, err
	}
	if len(rels) == 0 {
		return nil, &TargetError{Target: ref}
	}
	seen := make(map[string]bool)
	for _, r := range rels {
		if seen[r.Schema] {
			continue
		}
		seen[r.Schema] = true
		e.AddTable(r.Schema, tablePart)
	}
	return e, nil
}

// splitQualified splits "schema.table" on the first dot outside quotes.
// An unqualified reference returns an empty schema.
func splitQualified(ref string) (schema, table string) {
	if strings.HasPrefix(ref, `"`) {
		if i := strings.Index(ref[1:], `"`); i >= 0 {
			end := i + 1
			if end+1 < len(ref) && ref[end+1] == '.' {
				return ref[:end+1], ref[end+2:]
			}
		}
		return "", ref
	}
	if i := strings.IndexByte(ref, '.'); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return "", ref
}

// listColumns runs the column pass for one relation kind, creating schemas
// and relations as rows arrive. Rows arrive ordered by schema, relation
// and ordinal position, so appending preserves column order.
func listColumns(ctx context.Context, q Querier, cat *catalog.Catalog, kind Kind, include, exclude *filter.Expression, sink diag.Sink) error {
	rows, err := q.Query(ctx, columnsSQL(kind, include, exclude))
	if err != nil {
		return fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var (
			nspname, relname, attname, typname string
			oid                                uint32
			typmod                             int32
			notNull                            bool
			dflt                               *string
		)
		if err := rows.Scan(&nspname, &relname, &oid, &attname, &typname, &typmod, &notNull, &dflt); err != nil {
			return fmt.Errorf("list columns scan: %w", err)
		}

		s := cat.EnsureSchema(nspname)
		var tbl *catalog.Table
		if kind == KindView {
			tbl = s.EnsureView(relname)
		} else {
			tbl = s.EnsureTable(relname)
		}
		tbl.OID = oid

		col := catalog.Column{
			Name:     attname,
			TypeName: typname,
			TypeMod:  normalizeTypeMod(typmod),
			Nullable: !notNull,
		}
		if dflt != nil {
			col.Default = *dflt
		}
		tbl.AddColumn(col)
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list columns rows: %w", err)
	}

	sink.Debugf("column pass (%s): %d rows", kind, n)
	return nil
}

// listIndexes runs the index pass. Schemas and tables must already exist
// from the column pass; a row referencing anything else is a consistency
// error. Attaching is keyed by index name, so a repeated pass refines
// rather than duplicates.
func listIndexes(ctx context.Context, q Querier, cat *catalog.Catalog, include, exclude *filter.Expression, sink diag.Sink) error {
	rows, err := q.Query(ctx, indexesSQL(include, exclude))
	if err != nil {
		return fmt.Errorf("list indexes: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var (
			nspname, relname, idxname, def string
			primary, unique                bool
			conname, condef                *string
		)
		if err := rows.Scan(&nspname, &relname, &idxname, &primary, &unique, &def, &conname, &condef); err != nil {
			return fmt.Errorf("list indexes scan: %w", err)
		}

		s := cat.Schema(nspname)
		if s == nil {
			return fmt.Errorf("%w: index %q references unregistered schema %q",
				ErrConsistency, idxname, nspname)
		}
		tbl := s.Table(relname)
		if tbl == nil {
			return fmt.Errorf("%w: index %q references unregistered table %s.%s",
				ErrConsistency, idxname, nspname, relname)
		}

		ix := &catalog.Index{
			Name:       idxname,
			Schema:     s,
			Table:      tbl,
			Primary:    primary,
			Unique:     unique,
			Definition: def,
		}
		if conname != nil {
			ix.ConstraintName = *conname
		}
		if condef != nil {
			ix.ConstraintDef = *condef
		}
		tbl.AttachIndex(ix)
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list indexes rows: %w", err)
	}

	sink.Debugf("index pass: %d rows", n)
	return nil
}

// listForeignKeys runs the foreign-key pass and resolves both endpoints
// against the catalog. A constraint with a missing endpoint was pruned by
// filtering: it is skipped with a notice, never an error.
func listForeignKeys(ctx context.Context, q Querier, cat *catalog.Catalog, include, exclude *filter.Expression, sink diag.Sink) error {
	rows, err := q.Query(ctx, foreignKeysSQL(include, exclude))
	if err != nil {
		return fmt.Errorf("list foreign keys: %w", err)
	}
	defer rows.Close()

	n, dropped := 0, 0
	for rows.Next() {
		var (
			conname, n1, c1, n2, c2     string
			localCols, refCols          *string
			updType, delType, matchType string
			deferrable, deferred        bool
			def                         string
		)
		if err := rows.Scan(&conname, &n1, &c1, &n2, &c2, &localCols, &refCols,
			&updType, &delType, &matchType, &deferrable, &deferred, &def); err != nil {
			return fmt.Errorf("list foreign keys scan: %w", err)
		}

		tbl := cat.Table(n1, c1)
		ref := cat.Table(n2, c2)
		if tbl == nil || ref == nil {
			missing := n1 + "." + c1
			if tbl != nil {
				missing = n2 + "." + c2
			}
			sink.Noticef("skipping foreign key %q: table %s is not in the catalog", conname, missing)
			dropped++
			continue
		}

		fk := &catalog.ForeignKey{
			Name:              conname,
			Table:             tbl,
			Columns:           splitColumnList(localCols),
			RefTable:          ref,
			RefColumns:        splitColumnList(refCols),
			UpdateRule:        actionRules[updType],
			DeleteRule:        actionRules[delType],
			MatchRule:         matchRules[matchType],
			Deferrable:        deferrable,
			InitiallyDeferred: deferred,
			Definition:        def,
		}
		tbl.ForeignKeys = append(tbl.ForeignKeys, fk)
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list foreign keys rows: %w", err)
	}

	sink.Debugf("foreign key pass: %d attached, %d dropped", n, dropped)
	return nil
}

// splitColumnList decodes the comma-joined column names the foreign-key
// query aggregates, preserving constraint order.
func splitColumnList(joined *string) []string {
	if joined == nil || *joined == "" {
		return nil
	}
	return strings.Split(*joined, ",")
}
