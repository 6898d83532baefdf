package introspect

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sadopc/pgreflect/internal/catalog"
	"github.com/sadopc/pgreflect/internal/diag"
	"github.com/sadopc/pgreflect/internal/filter"
)

// fakeRows implements pgx.Rows over canned row values.
type fakeRows struct {
	rows [][]any
	i    int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.i < len(r.rows) {
		r.i++
		return true
	}
	return false
}

func (r *fakeRows) Values() ([]any, error) { return r.rows[r.i-1], nil }

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.i-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(row))
	}
	for j, d := range dest {
		if err := assign(d, row[j]); err != nil {
			return fmt.Errorf("scan column %d: %w", j, err)
		}
	}
	return nil
}

func assign(dest, src any) error {
	switch d := dest.(type) {
	case *string:
		v, ok := src.(string)
		if !ok {
			return fmt.Errorf("cannot assign %T to *string", src)
		}
		*d = v
	case **string:
		if src == nil {
			*d = nil
			return nil
		}
		v, ok := src.(string)
		if !ok {
			return fmt.Errorf("cannot assign %T to **string", src)
		}
		*d = &v
	case *uint32:
		v, ok := src.(uint32)
		if !ok {
			return fmt.Errorf("cannot assign %T to *uint32", src)
		}
		*d = v
	case *int32:
		v, ok := src.(int32)
		if !ok {
			return fmt.Errorf("cannot assign %T to *int32", src)
		}
		*d = v
	case *bool:
		v, ok := src.(bool)
		if !ok {
			return fmt.Errorf("cannot assign %T to *bool", src)
		}
		*d = v
	default:
		return fmt.Errorf("unsupported destination %T", dest)
	}
	return nil
}

// fakeQuerier records issued SQL and routes each query to a handler.
type fakeQuerier struct {
	queries []string
	handler func(sql string, args []any) ([][]any, error)
}

func (f *fakeQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.queries = append(f.queries, sql)
	rows, err := f.handler(sql, args)
	if err != nil {
		return nil, err
	}
	return &fakeRows{rows: rows}, nil
}

// queryKind classifies the SQL a builder issued, using markers unique to
// each query shape.
func queryKind(sql string) string {
	switch {
	case strings.Contains(sql, "current_schema()"):
		return "current_schema"
	case strings.Contains(sql, "ANY($1)"):
		return "relations"
	case strings.Contains(sql, "pg_get_indexdef"):
		return "indexes"
	case strings.Contains(sql, "contype = 'f'"):
		return "fkeys"
	case strings.Contains(sql, "pg_attrdef") && strings.Contains(sql, "relkind = 'v'"):
		return "columns_view"
	case strings.Contains(sql, "pg_attrdef"):
		return "columns_table"
	case strings.HasPrefix(sql, "SELECT n.nspname"):
		return "schemas"
	}
	return "unknown"
}

// route builds a handler from per-kind row sets; kinds with no entry
// return no rows.
func route(rowsByKind map[string][][]any) func(string, []any) ([][]any, error) {
	return func(sql string, _ []any) ([][]any, error) {
		return rowsByKind[queryKind(sql)], nil
	}
}

// Canned rows for a small two-table schema with one foreign key.
func ordersColumns() [][]any {
	return [][]any{
		{"public", "customers", uint32(16388), "id", "int8", int32(-1), true, nil},
		{"public", "customers", uint32(16388), "email", "varchar", int32(258), true, nil},
		{"public", "orders", uint32(16401), "id", "int8", int32(-1), true, nil},
		{"public", "orders", uint32(16401), "customer_id", "int8", int32(-1), false, nil},
		{"public", "orders", uint32(16401), "note", "varchar", int32(124), false, "''::character varying"},
	}
}

func ordersIndexes() [][]any {
	return [][]any{
		{"public", "customers", "customers_pkey", true, true,
			"CREATE UNIQUE INDEX customers_pkey ON public.customers USING btree (id)",
			"customers_pkey", "PRIMARY KEY (id)"},
		{"public", "orders", "orders_customer_idx", false, false,
			"CREATE INDEX orders_customer_idx ON public.orders USING btree (customer_id)",
			nil, nil},
		{"public", "orders", "orders_pkey", true, true,
			"CREATE UNIQUE INDEX orders_pkey ON public.orders USING btree (id)",
			"orders_pkey", "PRIMARY KEY (id)"},
	}
}

func ordersForeignKeys() [][]any {
	return [][]any{
		{"orders_customer_id_fkey", "public", "orders", "public", "customers",
			"customer_id", "id", "c", "n", "f", true, false,
			"FOREIGN KEY (customer_id) REFERENCES customers(id) ON UPDATE CASCADE ON DELETE SET NULL"},
	}
}

func TestBuildCatalog_FullPass(t *testing.T) {
	q := &fakeQuerier{handler: route(map[string][][]any{
		"columns_table": ordersColumns(),
		"indexes":       ordersIndexes(),
		"fkeys":         ordersForeignKeys(),
	})}
	var sink diag.Capture

	cat, err := BuildCatalog(context.Background(), q, "appdb", Selection{}, &sink)
	if err != nil {
		t.Fatalf("BuildCatalog: %v", err)
	}

	if got := cat.TableCount(); got != 2 {
		t.Fatalf("TableCount() = %d, want 2", got)
	}
	if got := cat.IndexCount(); got != 3 {
		t.Errorf("IndexCount() = %d, want 3", got)
	}
	if got := cat.ForeignKeyCount(); got != 1 {
		t.Errorf("ForeignKeyCount() = %d, want 1", got)
	}

	orders := cat.Table("public", "orders")
	if orders == nil {
		t.Fatal("public.orders missing from catalog")
	}
	if orders.OID != 16401 {
		t.Errorf("orders.OID = %d, want 16401", orders.OID)
	}

	wantCols := []string{"id", "customer_id", "note"}
	if len(orders.Columns) != len(wantCols) {
		t.Fatalf("len(orders.Columns) = %d, want %d", len(orders.Columns), len(wantCols))
	}
	for i, name := range wantCols {
		if orders.Columns[i].Name != name {
			t.Errorf("orders.Columns[%d].Name = %q, want %q", i, orders.Columns[i].Name, name)
		}
	}

	note := orders.Columns[2]
	if note.TypeMod != 120 {
		t.Errorf("note.TypeMod = %d, want 120 (124 minus header)", note.TypeMod)
	}
	if !note.Nullable {
		t.Error("note should be nullable (attnotnull = false)")
	}
	if note.Default != "''::character varying" {
		t.Errorf("note.Default = %q", note.Default)
	}
	if id := orders.Columns[0]; id.Nullable || id.TypeMod != catalog.NoTypeMod {
		t.Errorf("id column decoded wrong: nullable=%v typmod=%d", id.Nullable, id.TypeMod)
	}

	pkey := orders.Index("orders_pkey")
	if pkey == nil || !pkey.Primary || !pkey.Unique {
		t.Fatalf("orders_pkey decoded wrong: %+v", pkey)
	}
	if pkey.ConstraintName != "orders_pkey" || pkey.ConstraintDef != "PRIMARY KEY (id)" {
		t.Errorf("orders_pkey constraint = %q / %q", pkey.ConstraintName, pkey.ConstraintDef)
	}
	if plain := orders.Index("orders_customer_idx"); plain == nil || plain.ConstraintName != "" {
		t.Errorf("plain index should carry no constraint: %+v", plain)
	}

	if len(orders.ForeignKeys) != 1 {
		t.Fatalf("len(orders.ForeignKeys) = %d, want 1", len(orders.ForeignKeys))
	}
	fk := orders.ForeignKeys[0]
	if fk.RefTable != cat.Table("public", "customers") {
		t.Error("foreign key endpoint not resolved to the catalog's customers table")
	}
	if !reflect.DeepEqual(fk.Columns, []string{"customer_id"}) || !reflect.DeepEqual(fk.RefColumns, []string{"id"}) {
		t.Errorf("fk columns = %v -> %v", fk.Columns, fk.RefColumns)
	}
	if fk.UpdateRule != "CASCADE" || fk.DeleteRule != "SET NULL" || fk.MatchRule != "FULL" {
		t.Errorf("fk rules = %q/%q/%q", fk.UpdateRule, fk.DeleteRule, fk.MatchRule)
	}
	if !fk.Deferrable || fk.InitiallyDeferred {
		t.Errorf("fk deferrable flags = %v/%v", fk.Deferrable, fk.InitiallyDeferred)
	}

	if got := len(sink.Notices()); got != 0 {
		t.Errorf("unexpected notices: %v", sink.Notices())
	}
}

func TestBuildCatalog_ViewPassRuns(t *testing.T) {
	q := &fakeQuerier{handler: route(map[string][][]any{
		"columns_table": ordersColumns(),
		"columns_view": {
			{"public", "order_totals", uint32(16410), "total", "numeric", int32(-1), false, nil},
		},
	})}

	cat, err := BuildCatalog(context.Background(), q, "appdb", Selection{}, diag.Discard())
	if err != nil {
		t.Fatalf("BuildCatalog: %v", err)
	}
	if got := cat.ViewCount(); got != 1 {
		t.Errorf("ViewCount() = %d, want 1", got)
	}
	if cat.Schema("public").Views()[0].Name != "order_totals" {
		t.Error("view not registered under public")
	}
}

func TestBuildCatalog_DroppedForeignKey(t *testing.T) {
	// The exclude filter removed customers during the column pass; the
	// foreign-key row still arrives and must be dropped with one notice.
	excl := filter.New()
	excl.Add("public", "^customers$")

	cols := [][]any{
		{"public", "orders", uint32(16401), "id", "int8", int32(-1), true, nil},
		{"public", "orders", uint32(16401), "customer_id", "int8", int32(-1), false, nil},
	}
	q := &fakeQuerier{handler: route(map[string][][]any{
		"columns_table": cols,
		"fkeys":         ordersForeignKeys(),
	})}
	var sink diag.Capture

	cat, err := BuildCatalog(context.Background(), q, "appdb", Selection{Exclude: excl}, &sink)
	if err != nil {
		t.Fatalf("BuildCatalog: %v", err)
	}

	orders := cat.Table("public", "orders")
	if orders == nil {
		t.Fatal("public.orders missing")
	}
	if len(orders.ForeignKeys) != 0 {
		t.Errorf("orders has %d foreign keys, want 0", len(orders.ForeignKeys))
	}
	notices := sink.Notices()
	if len(notices) != 1 {
		t.Fatalf("got %d notices, want exactly 1: %v", len(notices), notices)
	}
	if !strings.Contains(notices[0], "orders_customer_id_fkey") {
		t.Errorf("notice does not name the constraint: %q", notices[0])
	}
}

func TestBuildCatalog_TargetTable_Qualified(t *testing.T) {
	cols := [][]any{
		{"public", "orders", uint32(16401), "id", "int8", int32(-1), true, nil},
	}
	q := &fakeQuerier{handler: route(map[string][][]any{
		"columns_table": cols,
	})}

	cat, err := BuildCatalog(context.Background(), q, "appdb",
		Selection{TargetTable: "public.orders"}, diag.Discard())
	if err != nil {
		t.Fatalf("BuildCatalog: %v", err)
	}
	if got := cat.TableCount(); got != 1 {
		t.Errorf("TableCount() = %d, want 1", got)
	}

	// Qualified references never hit the name-to-oid lookup, and a single
	// target never triggers a view pass.
	for _, sql := range q.queries {
		switch queryKind(sql) {
		case "relations":
			t.Error("qualified target issued a relation-oid lookup")
		case "columns_view":
			t.Error("single-table target issued a view pass")
		}
	}

	// The filter must be pushed down into the column query.
	var colSQL string
	for _, sql := range q.queries {
		if queryKind(sql) == "columns_table" {
			colSQL = sql
		}
	}
	if !strings.Contains(colSQL, `n.nspname = 'public' AND c.relname ~ '^orders$'`) {
		t.Errorf("column query missing pushed-down target predicate:\n%s", colSQL)
	}
}

func TestBuildCatalog_TargetTable_Ambiguous(t *testing.T) {
	cols := [][]any{
		{"public", "orders", uint32(16401), "id", "int8", int32(-1), true, nil},
		{"sales", "orders", uint32(16501), "id", "int8", int32(-1), true, nil},
	}
	q := &fakeQuerier{handler: route(map[string][][]any{
		"relations": {
			{"public", "orders", uint32(16401)},
			{"sales", "orders", uint32(16501)},
		},
		"columns_table": cols,
	})}

	_, err := BuildCatalog(context.Background(), q, "appdb",
		Selection{TargetTable: "orders"}, diag.Discard())

	var terr *TargetError
	if !errors.As(err, &terr) {
		t.Fatalf("error = %v, want *TargetError", err)
	}
	want := []string{"public.orders", "sales.orders"}
	if !reflect.DeepEqual(terr.Matches, want) {
		t.Errorf("Matches = %v, want %v", terr.Matches, want)
	}
	for _, name := range want {
		if !strings.Contains(terr.Error(), name) {
			t.Errorf("error message %q does not list %s", terr.Error(), name)
		}
	}
}

func TestBuildCatalog_TargetTable_NotFound(t *testing.T) {
	q := &fakeQuerier{handler: route(map[string][][]any{})}

	_, err := BuildCatalog(context.Background(), q, "appdb",
		Selection{TargetTable: "ghost"}, diag.Discard())

	var terr *TargetError
	if !errors.As(err, &terr) {
		t.Fatalf("error = %v, want *TargetError", err)
	}
	if len(terr.Matches) != 0 {
		t.Errorf("Matches = %v, want empty", terr.Matches)
	}
	if !strings.Contains(terr.Error(), "not found") {
		t.Errorf("error message = %q", terr.Error())
	}
}

func TestBuildCatalog_ExcludePushedDownNegated(t *testing.T) {
	excl := filter.New()
	excl.Add("public", "^customers$")

	q := &fakeQuerier{handler: route(map[string][][]any{})}
	if _, err := BuildCatalog(context.Background(), q, "appdb",
		Selection{Exclude: excl}, diag.Discard()); err != nil {
		t.Fatalf("BuildCatalog: %v", err)
	}

	found := false
	for _, sql := range q.queries {
		if queryKind(sql) == "columns_table" {
			found = true
			if !strings.Contains(sql, `AND NOT ((n.nspname = 'public' AND c.relname ~ '^customers$'))`) {
				t.Errorf("exclude not negated in column query:\n%s", sql)
			}
		}
	}
	if !found {
		t.Fatal("no column query issued")
	}
}

func TestBuildCatalog_MirrorResolvesCurrentSchemaOnce(t *testing.T) {
	mirror := catalog.New("srcdb")
	src := mirror.EnsureSchema("staging")
	src.EnsureTable("t1")
	src.EnsureTable("t2")

	q := &fakeQuerier{handler: route(map[string][][]any{
		"current_schema": {{"public"}},
	})}

	if _, err := BuildCatalog(context.Background(), q, "appdb",
		Selection{Mirror: mirror}, diag.Discard()); err != nil {
		t.Fatalf("BuildCatalog: %v", err)
	}

	calls := 0
	for _, sql := range q.queries {
		if queryKind(sql) == "current_schema" {
			calls++
		}
	}
	if calls != 1 {
		t.Errorf("current_schema queried %d times, want 1", calls)
	}

	for _, sql := range q.queries {
		if queryKind(sql) == "columns_table" {
			if !strings.Contains(sql, `n.nspname = 'public' AND c.relname ~ '^t1$'`) {
				t.Errorf("mirror filter not bucketed under current schema:\n%s", sql)
			}
		}
	}
}

func TestBuildCatalog_IndexConsistencyError(t *testing.T) {
	q := &fakeQuerier{handler: route(map[string][][]any{
		"columns_table": ordersColumns(),
		"indexes": {
			{"public", "phantom", "phantom_pkey", true, true,
				"CREATE UNIQUE INDEX phantom_pkey ON public.phantom USING btree (id)", nil, nil},
		},
	})}

	_, err := BuildCatalog(context.Background(), q, "appdb", Selection{}, diag.Discard())
	if !errors.Is(err, ErrConsistency) {
		t.Fatalf("error = %v, want ErrConsistency", err)
	}
	if !strings.Contains(err.Error(), "public.phantom") {
		t.Errorf("error does not name the offending table: %v", err)
	}
}

func TestBuildCatalog_QueryFailurePropagates(t *testing.T) {
	boom := errors.New("server closed the connection unexpectedly")
	q := &fakeQuerier{handler: func(sql string, _ []any) ([][]any, error) {
		if queryKind(sql) == "fkeys" {
			return nil, boom
		}
		return nil, nil
	}}

	_, err := BuildCatalog(context.Background(), q, "appdb", Selection{}, diag.Discard())
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want wrapped transport error", err)
	}
}

func TestActionAndMatchRules(t *testing.T) {
	actions := []struct{ code, want string }{
		{"a", "NO ACTION"},
		{"r", "RESTRICT"},
		{"c", "CASCADE"},
		{"n", "SET NULL"},
		{"d", "SET DEFAULT"},
	}
	for _, tt := range actions {
		if got := actionRules[tt.code]; got != tt.want {
			t.Errorf("actionRules[%q] = %q, want %q", tt.code, got, tt.want)
		}
	}

	matches := []struct{ code, want string }{
		{"f", "FULL"},
		{"p", "PARTIAL"},
		{"s", "SIMPLE"},
	}
	for _, tt := range matches {
		if got := matchRules[tt.code]; got != tt.want {
			t.Errorf("matchRules[%q] = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestSplitQualified(t *testing.T) {
	tests := []struct {
		in, schema, table string
	}{
		{"orders", "", "orders"},
		{"public.orders", "public", "orders"},
		{`"Sales".orders`, `"Sales"`, "orders"},
		{`"Sales"."Orders"`, `"Sales"`, `"Orders"`},
		{`"dotted.name"`, "", `"dotted.name"`},
	}
	for _, tt := range tests {
		schema, table := splitQualified(tt.in)
		if schema != tt.schema || table != tt.table {
			t.Errorf("splitQualified(%q) = (%q, %q), want (%q, %q)",
				tt.in, schema, table, tt.schema, tt.table)
		}
	}
}

func TestNormalizeTypeMod(t *testing.T) {
	tests := []struct {
		in   int32
		want int32
	}{
		{-1, catalog.NoTypeMod},
		{124, 120},
		{258, 254},
		{4, 0},
	}
	for _, tt := range tests {
		if got := normalizeTypeMod(tt.in); got != tt.want {
			t.Errorf("normalizeTypeMod(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestListSchemas(t *testing.T) {
	q := &fakeQuerier{handler: route(map[string][][]any{
		"schemas": {{"billing"}, {"public"}},
	})}

	got, err := ListSchemas(context.Background(), q)
	if err != nil {
		t.Fatalf("ListSchemas: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"billing", "public"}) {
		t.Errorf("ListSchemas() = %v", got)
	}
}
