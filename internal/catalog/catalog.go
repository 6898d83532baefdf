// Package catalog holds the in-memory model of a reflected database:
// schemas, tables, views, columns, indexes and foreign keys.
//
// The model is built once per reflection pass and not mutated afterwards.
// All collections preserve insertion order, which follows the ORDER BY of
// the discovery queries and is significant downstream.
package catalog

// Catalog is the root container for everything discovered in one database.
type Catalog struct {
	// Name is the database this catalog was reflected from.
	Name string

	schemas []*Schema
	byName  map[string]*Schema
}

// New returns an empty catalog for the named database.
func New(name string) *Catalog {
	return &Catalog{
		Name:   name,
		byName: make(map[string]*Schema),
	}
}

// Schema returns the schema with the given name, or nil.
func (c *Catalog) Schema(name string) *Schema {
	return c.byName[name]
}

// EnsureSchema returns the schema with the given name, creating it at the
// end of the schema list if it does not exist yet.
func (c *Catalog) EnsureSchema(name string) *Schema {
	if s, ok := c.byName[name]; ok {
		return s
	}
	s := &Schema{
		Name:    name,
		Catalog: c,
		byName:  make(map[string]*Table),
	}
	c.schemas = append(c.schemas, s)
	c.byName[name] = s
	return s
}

// Schemas returns the schemas in insertion order.
func (c *Catalog) Schemas() []*Schema {
	return c.schemas
}

// Table looks up a table by schema and table name, or nil if either is
// missing. Views are not considered.
func (c *Catalog) Table(schemaName, tableName string) *Table {
	s := c.byName[schemaName]
	if s == nil {
		return nil
	}
	return s.Table(tableName)
}

// TableCount returns the number of tables across all schemas.
func (c *Catalog) TableCount() int {
	n := 0
	for _, s := range c.schemas {
		n += len(s.tables)
	}
	return n
}

// ViewCount returns the number of views across all schemas.
func (c *Catalog) ViewCount() int {
	n := 0
	for _, s := range c.schemas {
		n += len(s.views)
	}
	return n
}

// IndexCount returns the number of indexes across all tables.
func (c *Catalog) IndexCount() int {
	n := 0
	for _, s := range c.schemas {
		for _, t := range s.tables {
			n += len(t.indexes)
		}
	}
	return n
}

// ForeignKeyCount returns the number of foreign keys across all tables.
func (c *Catalog) ForeignKeyCount() int {
	n := 0
	for _, s := range c.schemas {
		for _, t := range s.tables {
			n += len(t.ForeignKeys)
		}
	}
	return n
}

// TableNames returns the schema-qualified names of all tables in catalog
// order.
func (c *Catalog) TableNames() []string {
	var names []string
	for _, s := range c.schemas {
		for _, t := range s.tables {
			names = append(names, t.QualifiedName())
		}
	}
	return names
}

// Schema is a namespace grouping tables and views within a catalog.
type Schema struct {
	Name string

	// TargetName is the schema the objects should land in at the
	// destination when this catalog is mirrored; empty when it does not
	// differ from Name or is unknown.
	TargetName string

	// Catalog is a back-reference to the owning catalog.
	Catalog *Catalog

	tables []*Table
	views  []*Table
	byName map[string]*Table
}

// Table returns the table with the given name, or nil. Views are not
// considered.
func (s *Schema) Table(name string) *Table {
	t := s.byName[name]
	if t == nil || t.IsView {
		return nil
	}
	return t
}

// EnsureTable returns the table with the given name, creating it if needed.
func (s *Schema) EnsureTable(name string) *Table {
	return s.ensure(name, false)
}

// EnsureView returns the view with the given name, creating it if needed.
func (s *Schema) EnsureView(name string) *Table {
	return s.ensure(name, true)
}

func (s *Schema) ensure(name string, view bool) *Table {
	if t, ok := s.byName[name]; ok {
		return t
	}
	t := &Table{
		Name:      name,
		Schema:    s,
		IsView:    view,
		idxByName: make(map[string]int),
	}
	if view {
		s.views = append(s.views, t)
	} else {
		s.tables = append(s.tables, t)
	}
	s.byName[name] = t
	return t
}

// Tables returns the schema's tables in insertion order.
func (s *Schema) Tables() []*Table { return s.tables }

// Views returns the schema's views in insertion order.
func (s *Schema) Views() []*Table { return s.views }

// Table is a discovered table or view. Column order follows the source's
// ordinal positions and must be preserved end to end.
type Table struct {
	Name string

	// Schema is a back-reference to the owning schema.
	Schema *Schema

	// OID is the source's object identifier for the relation, used to
	// correlate rows across separate discovery queries. Zero when unknown.
	OID uint32

	IsView bool

	Columns     []Column
	ForeignKeys []*ForeignKey

	indexes   []*Index
	idxByName map[string]int
}

// QualifiedName returns "schema.table".
func (t *Table) QualifiedName() string {
	return t.Schema.Name + "." + t.Name
}

// AddColumn appends a column; callers append in ordinal-position order.
func (t *Table) AddColumn(c Column) {
	t.Columns = append(t.Columns, c)
}

// AttachIndex adds an index to the table, keyed by index name. Attaching
// again under the same name replaces the earlier entry in place, keeping
// its position; this is used when a later pass refines an index.
func (t *Table) AttachIndex(ix *Index) {
	if i, ok := t.idxByName[ix.Name]; ok {
		t.indexes[i] = ix
		return
	}
	t.idxByName[ix.Name] = len(t.indexes)
	t.indexes = append(t.indexes, ix)
}

// Index returns the index with the given name, or nil.
func (t *Table) Index(name string) *Index {
	if i, ok := t.idxByName[name]; ok {
		return t.indexes[i]
	}
	return nil
}

// Indexes returns the table's indexes in attachment order.
func (t *Table) Indexes() []*Index { return t.indexes }

// NoTypeMod marks a column whose type carries no modifier.
const NoTypeMod = -1

// Column is a single table column.
type Column struct {
	Name string

	// TypeName is the declared type name as reported by the source.
	TypeName string

	// TypeMod is the type modifier (precision or length) with the
	// source's storage header already subtracted, or NoTypeMod.
	TypeMod int32

	Nullable bool

	// Default is the raw default-value expression text, empty when the
	// column has no default. It is not parsed further here.
	Default string
}

// Index is a discovered index, possibly backing a declared constraint.
type Index struct {
	Name string

	// Schema and Table are back-references to the owning objects.
	Schema *Schema
	Table  *Table

	Primary bool
	Unique  bool

	// Definition is the full CREATE INDEX text from the source.
	Definition string

	// ConstraintName and ConstraintDef are set only when the index backs
	// a declared constraint (primary key or unique).
	ConstraintName string
	ConstraintDef  string
}

// ForeignKey is a discovered foreign-key constraint. The referenced table
// is resolved by lookup against the catalog, never created implicitly.
type ForeignKey struct {
	Name string

	// Table is the referencing table.
	Table *Table

	// Columns are the referencing column names, in constraint order.
	Columns []string

	// RefTable is the referenced table.
	RefTable *Table

	// RefColumns are the referenced column names, in constraint order.
	RefColumns []string

	UpdateRule string
	DeleteRule string
	MatchRule  string

	Deferrable        bool
	InitiallyDeferred bool

	// Definition is the full constraint definition text from the source.
	Definition string
}
