// Package filter builds the include/exclude expressions that scope catalog
// discovery, and compiles them into predicates the source evaluates itself.
//
// An Expression is an insertion-ordered mapping from schema name to a list
// of anchored name-match patterns: "any object in schema S whose name
// matches pattern P". Matching is pushed down into the source's regex
// operator rather than done client-side, so pattern order only affects the
// generated SQL text, which must still be deterministic.
package filter

import (
	"strings"

	"github.com/sadopc/pgreflect/internal/catalog"
	"github.com/sadopc/pgreflect/internal/ident"
)

// Expression is an ordered mapping from schema name to anchored patterns.
// The zero value is not usable; call New.
type Expression struct {
	schemas  []string
	patterns map[string][]string
}

// New returns an empty expression.
func New() *Expression {
	return &Expression{patterns: make(map[string][]string)}
}

// Add appends a pattern to the schema's list. The schema bucket is created
// on first use and keeps its insertion position afterwards.
func (e *Expression) Add(schema, pattern string) {
	if _, ok := e.patterns[schema]; !ok {
		e.schemas = append(e.schemas, schema)
	}
	e.patterns[schema] = append(e.patterns[schema], pattern)
}

// AddTable appends the anchored, unquoted pattern for a single table name.
func (e *Expression) AddTable(schema, table string) {
	e.Add(schema, TablePattern(table))
}

// Schemas returns the schema names in insertion order.
func (e *Expression) Schemas() []string {
	if e == nil {
		return nil
	}
	return e.schemas
}

// Patterns returns the pattern list for a schema, in insertion order.
func (e *Expression) Patterns(schema string) []string {
	if e == nil {
		return nil
	}
	return e.patterns[schema]
}

// Empty reports whether the expression contains no patterns. A nil
// expression is empty.
func (e *Expression) Empty() bool {
	return e == nil || len(e.schemas) == 0
}

// TablePattern returns the anchored match pattern for one table name,
// stripping identifier quoting first since catalog names are stored
// unquoted.
func TablePattern(table string) string {
	return "^" + ident.Unquote(table) + "$"
}

// FromCatalog mirrors an existing catalog into an expression: one anchored
// pattern per table and view, in catalog order, bucketed under the schema
// each object should land in. currentSchema supplies the fallback schema
// for objects with no explicit target; it is consulted lazily and at most
// once, so one live round trip covers the whole mirror pass.
func FromCatalog(cat *catalog.Catalog, currentSchema func() (string, error)) (*Expression, error) {
	e := New()
	var memo string

	target := func(s *catalog.Schema) (string, error) {
		if s.TargetName != "" {
			return s.TargetName, nil
		}
		if memo == "" {
			name, err := currentSchema()
			if err != nil {
				return "", err
			}
			memo = name
		}
		return memo, nil
	}

	for _, s := range cat.Schemas() {
		for _, t := range s.Tables() {
			dst, err := target(s)
			if err != nil {
				return nil, err
			}
			e.AddTable(dst, t.Name)
		}
		for _, v := range s.Views() {
			dst, err := target(s)
			if err != nil {
				return nil, err
			}
			e.AddTable(dst, v.Name)
		}
	}
	return e, nil
}

// Fragments compiles the expression into one atomic predicate per
// (schema, pattern) pair, in expression order:
//
//	schemaCol = '<schema>' AND nameCol ~ '<pattern>'
//
// The caller combines the atoms with OR and ANDs the disjunction into the
// rest of the query; for exclusion the whole disjunction is negated (AND
// NOT (...)), never the individual atoms.
func Fragments(e *Expression, schemaCol, nameCol string) []string {
	var frags []string
	for _, schema := range e.Schemas() {
		for _, pattern := range e.Patterns(schema) {
			frags = append(frags,
				schemaCol+" = "+quoteLiteral(schema)+" AND "+nameCol+" ~ "+quoteLiteral(pattern))
		}
	}
	return frags
}

// Disjunction joins compiled fragments with OR, each parenthesized.
// Returns "" for an empty list.
func Disjunction(frags []string) string {
	if len(frags) == 0 {
		return ""
	}
	return "(" + strings.Join(frags, ") OR (") + ")"
}

// quoteLiteral renders s as a SQL string literal, doubling embedded single
// quotes.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
