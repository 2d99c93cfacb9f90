// Package schema implements the schema registry (C2): named Schemas
// holding TableDescriptors and views, with the lookup, add, drop and
// rename operations spec §3 describes.
//
// grounded on the teacher's Module/VirtualTable split (a table is either
// module-backed or, for a view, an aliased query) and dynajoe-tinydb's
// internal/metadata table-definition shape — a column-indexed descriptor
// addressed by name, not by a live back-pointer, so schema mutation never
// invalidates an object another package is holding onto (spec §9).
package schema

import (
	"sort"
	"strings"

	"github.com/Digithought/quereus-sub003/serr"
	"github.com/google/uuid"
)

// ColumnDef describes one column of a table.
type ColumnDef struct {
	Name     string
	TypeName string
	NotNull  bool
	Default  any
}

// Flags captures the boolean table attributes spec §3 names.
type Flags struct {
	Temporary   bool
	View        bool
	Strict      bool
	WithoutRowID bool
}

// CheckConstraint is a named boolean expression stored with the table
// descriptor; the expression itself is an opaque AST node supplied by the
// compiler's caller (schema doesn't depend on ast to avoid an import
// cycle). The compiler does not evaluate check constraints on writes.
type CheckConstraint struct {
	Name string
	Expr any
}

// IndexDescriptor records one CREATE INDEX declaration. Indexes are
// bookkeeping only here: BestIndex decisions come from a module's own
// knowledge of its storage layout (spec's virtual table model), not
// from this registry-level listing, so creating or dropping one never
// touches a connected module's actual access paths.
type IndexDescriptor struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
}

// TableDescriptor is the registry's record for one table or view.
type TableDescriptor struct {
	Name         string
	Columns      []ColumnDef
	columnIndex  map[string]int
	PrimaryKey   []int // column indices, empty => rowid table
	Checks       []CheckConstraint
	Indexes      []IndexDescriptor
	Flags        Flags
	ModuleName   string
	ModuleArgs   []string
	AuxData      any
	ViewQuery    any // opaque AST, set when Flags.View
	ChangeID     uuid.UUID
}

// AddColumn appends a new column (ALTER TABLE ... ADD COLUMN).
func (t *TableDescriptor) AddColumn(c ColumnDef) error {
	if t.ColumnIndex(c.Name) >= 0 {
		return serr.Newf("alter_table", serr.KindConstraint, "duplicate column name %q in table %q", c.Name, t.Name)
	}
	t.Columns = append(t.Columns, c)
	t.buildIndex()
	t.ChangeID = uuid.New()
	return nil
}

// DropColumn removes a column by name (ALTER TABLE ... DROP COLUMN);
// refused for a column that's part of the primary key, since that would
// silently change the table's identity semantics.
func (t *TableDescriptor) DropColumn(name string) error {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return serr.Newf("alter_table", serr.KindNotFound, "no such column: %s", name)
	}
	for _, pk := range t.PrimaryKey {
		if pk == idx {
			return serr.Newf("alter_table", serr.KindConstraint, "cannot drop primary key column %q", name)
		}
	}
	t.Columns = append(t.Columns[:idx], t.Columns[idx+1:]...)
	for i := range t.PrimaryKey {
		if t.PrimaryKey[i] > idx {
			t.PrimaryKey[i]--
		}
	}
	t.buildIndex()
	t.ChangeID = uuid.New()
	return nil
}

// RenameColumn renames a column in place (ALTER TABLE ... RENAME COLUMN).
func (t *TableDescriptor) RenameColumn(oldName, newName string) error {
	idx := t.ColumnIndex(oldName)
	if idx < 0 {
		return serr.Newf("alter_table", serr.KindNotFound, "no such column: %s", oldName)
	}
	if t.ColumnIndex(newName) >= 0 {
		return serr.Newf("alter_table", serr.KindConstraint, "duplicate column name %q in table %q", newName, t.Name)
	}
	t.Columns[idx].Name = newName
	t.buildIndex()
	t.ChangeID = uuid.New()
	return nil
}

// ColumnIndex returns the 0-based index of the named column, or -1 if no
// such column exists. Lookup is case-insensitive per spec §3.
func (t *TableDescriptor) ColumnIndex(name string) int {
	if i, ok := t.columnIndex[strings.ToLower(name)]; ok {
		return i
	}
	return -1
}

func (t *TableDescriptor) buildIndex() {
	t.columnIndex = make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		t.columnIndex[strings.ToLower(c.Name)] = i
	}
}

// IsRowIDTable reports whether rows are addressed by an implicit rowid
// rather than an explicit primary key.
func (t *TableDescriptor) IsRowIDTable() bool {
	return !t.Flags.WithoutRowID && len(t.PrimaryKey) == 0
}

// Schema is a named namespace of tables (spec's "main"/"temp" concept,
// generalized to any number of named schemas).
type Schema struct {
	Name   string
	tables map[string]*TableDescriptor
	order  []string // insertion order, for stable enumeration
}

func newSchema(name string) *Schema {
	return &Schema{Name: name, tables: make(map[string]*TableDescriptor)}
}

// Table looks up a table or view by name (case-insensitive).
func (s *Schema) Table(name string) (*TableDescriptor, bool) {
	t, ok := s.tables[strings.ToLower(name)]
	return t, ok
}

// Tables returns every table/view in this schema, in the order they were
// added.
func (s *Schema) Tables() []*TableDescriptor {
	out := make([]*TableDescriptor, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.tables[name])
	}
	return out
}

func (s *Schema) add(t *TableDescriptor) error {
	key := strings.ToLower(t.Name)
	if _, exists := s.tables[key]; exists {
		return serr.Newf("add_table", serr.KindConstraint, "table %q already exists", t.Name)
	}
	if err := validateTable(t); err != nil {
		return err
	}
	t.buildIndex()
	t.ChangeID = uuid.New()
	s.tables[key] = t
	s.order = append(s.order, key)
	return nil
}

func (s *Schema) drop(name string) error {
	key := strings.ToLower(name)
	if _, exists := s.tables[key]; !exists {
		return serr.Newf("drop_table", serr.KindNotFound, "no such table: %s", name)
	}
	delete(s.tables, key)
	for i, n := range s.order {
		if n == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Schema) rename(oldName, newName string) error {
	oldKey, newKey := strings.ToLower(oldName), strings.ToLower(newName)
	t, exists := s.tables[oldKey]
	if !exists {
		return serr.Newf("rename_table", serr.KindNotFound, "no such table: %s", oldName)
	}
	if _, clash := s.tables[newKey]; clash {
		return serr.Newf("rename_table", serr.KindConstraint, "table %q already exists", newName)
	}
	delete(s.tables, oldKey)
	t.Name = newName
	t.ChangeID = uuid.New()
	s.tables[newKey] = t
	for i, n := range s.order {
		if n == oldKey {
			s.order[i] = newKey
			break
		}
	}
	return nil
}

func validateTable(t *TableDescriptor) error {
	if t.Name == "" {
		return serr.Newf("add_table", serr.KindMisuse, "table name must not be empty")
	}
	if len(t.Columns) == 0 {
		return serr.Newf("add_table", serr.KindMisuse, "table %q must have at least one column", t.Name)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		lower := strings.ToLower(c.Name)
		if seen[lower] {
			return serr.Newf("add_table", serr.KindConstraint, "duplicate column name %q in table %q", c.Name, t.Name)
		}
		seen[lower] = true
	}
	for _, idx := range t.PrimaryKey {
		if idx < 0 || idx >= len(t.Columns) {
			return serr.Newf("add_table", serr.KindMisuse, "primary key column index %d out of range for table %q", idx, t.Name)
		}
	}
	if t.Flags.View && t.ViewQuery == nil {
		return serr.Newf("add_table", serr.KindMisuse, "view %q must carry a query", t.Name)
	}
	if !t.Flags.View && t.ModuleName == "" {
		return serr.Newf("add_table", serr.KindMisuse, "table %q must bind a module", t.Name)
	}
	return nil
}

// Registry owns every Schema in a Database (spec's "main"/"temp"
// generalized to N named schemas, plus a default virtual-table module
// name new tables bind to when CREATE TABLE doesn't name one explicitly).
type Registry struct {
	schemas           map[string]*Schema
	order             []string
	DefaultVTabModule string
	// DefaultVTabArgs are appended to a CREATE TABLE's own ModuleArgs
	// when the table doesn't name a module explicitly, set by the
	// "default_vtab_args" pragma the statement façade applies directly.
	DefaultVTabArgs []string
}

// NewRegistry creates a Registry pre-populated with a "main" schema.
func NewRegistry() *Registry {
	r := &Registry{schemas: make(map[string]*Schema)}
	r.addSchema("main")
	return r
}

func (r *Registry) addSchema(name string) *Schema {
	s := newSchema(name)
	key := strings.ToLower(name)
	r.schemas[key] = s
	r.order = append(r.order, key)
	return s
}

// GetSchema returns the named schema, creating it (spec: ATTACH-style
// growth) if it doesn't exist yet and create is true.
func (r *Registry) GetSchema(name string, create bool) (*Schema, error) {
	key := strings.ToLower(name)
	if s, ok := r.schemas[key]; ok {
		return s, nil
	}
	if !create {
		return nil, serr.Newf("get_schema", serr.KindNotFound, "no such schema: %s", name)
	}
	return r.addSchema(name), nil
}

// GetTable resolves "schema.table" or a bare "table" (searched across
// every schema in registration order, "main" first).
func (r *Registry) GetTable(qualifiedName string) (*TableDescriptor, error) {
	if dot := strings.IndexByte(qualifiedName, '.'); dot >= 0 {
		schemaName, tableName := qualifiedName[:dot], qualifiedName[dot+1:]
		s, err := r.GetSchema(schemaName, false)
		if err != nil {
			return nil, err
		}
		t, ok := s.Table(tableName)
		if !ok {
			return nil, serr.Newf("get_table", serr.KindNotFound, "no such table: %s", qualifiedName)
		}
		return t, nil
	}
	for _, key := range r.order {
		if t, ok := r.schemas[key].Table(qualifiedName); ok {
			return t, nil
		}
	}
	return nil, serr.Newf("get_table", serr.KindNotFound, "no such table: %s", qualifiedName)
}

// AddTable registers t in the named schema (default "main" if empty).
func (r *Registry) AddTable(schemaName string, t *TableDescriptor) error {
	if schemaName == "" {
		schemaName = "main"
	}
	if t.ModuleName == "" && !t.Flags.View {
		t.ModuleName = r.DefaultVTabModule
	}
	s, err := r.GetSchema(schemaName, true)
	if err != nil {
		return err
	}
	return s.add(t)
}

// DropTable removes a table or view, searching every schema if
// schemaName is empty.
func (r *Registry) DropTable(schemaName, tableName string) error {
	if schemaName != "" {
		s, err := r.GetSchema(schemaName, false)
		if err != nil {
			return err
		}
		return s.drop(tableName)
	}
	for _, key := range r.order {
		if _, ok := r.schemas[key].Table(tableName); ok {
			return r.schemas[key].drop(tableName)
		}
	}
	return serr.Newf("drop_table", serr.KindNotFound, "no such table: %s", tableName)
}

// AddView registers a view descriptor; viewQuery is an opaque AST node
// stored on the descriptor. The compiler does not expand views: a view
// has no connected virtual table, so a query reading from one fails to
// resolve.
func (r *Registry) AddView(schemaName, name string, columns []ColumnDef, viewQuery any) error {
	return r.AddTable(schemaName, &TableDescriptor{
		Name:    name,
		Columns: columns,
		Flags:   Flags{View: true},
		ViewQuery: viewQuery,
	})
}

// DropView is an alias for DropTable, named separately because spec §3
// lists it as a distinct operation (views and module-backed tables share
// one namespace, but the drop permission for each can differ upstream).
func (r *Registry) DropView(schemaName, name string) error {
	t, err := r.GetTable(qualify(schemaName, name))
	if err != nil {
		return err
	}
	if !t.Flags.View {
		return serr.Newf("drop_view", serr.KindMisuse, "%s is not a view", name)
	}
	return r.DropTable(schemaName, name)
}

// RenameTable renames a table or view in place, preserving its
// descriptor (columns, checks, module binding) and assigning a fresh
// ChangeID.
func (r *Registry) RenameTable(schemaName, oldName, newName string) error {
	if schemaName == "" {
		schemaName = "main"
	}
	s, err := r.GetSchema(schemaName, false)
	if err != nil {
		return err
	}
	return s.rename(oldName, newName)
}

// CreateIndex records idx against its target table, rejecting a
// duplicate name across the whole registry (index names share one
// namespace, same as SQLite).
func (r *Registry) CreateIndex(idx IndexDescriptor) error {
	if _, ok := r.FindIndex(idx.Name); ok {
		return serr.Newf("create_index", serr.KindConstraint, "index %q already exists", idx.Name)
	}
	td, err := r.GetTable(idx.Table)
	if err != nil {
		return err
	}
	td.Indexes = append(td.Indexes, idx)
	return nil
}

// FindIndex searches every table in every schema for an index named
// name, since DROP INDEX doesn't name its owning table.
func (r *Registry) FindIndex(name string) (*IndexDescriptor, bool) {
	lname := strings.ToLower(name)
	for _, key := range r.order {
		for _, td := range r.schemas[key].Tables() {
			for i := range td.Indexes {
				if strings.ToLower(td.Indexes[i].Name) == lname {
					return &td.Indexes[i], true
				}
			}
		}
	}
	return nil, false
}

// DropIndex removes the named index, wherever it lives.
func (r *Registry) DropIndex(name string) error {
	lname := strings.ToLower(name)
	for _, key := range r.order {
		for _, td := range r.schemas[key].Tables() {
			for i := range td.Indexes {
				if strings.ToLower(td.Indexes[i].Name) == lname {
					td.Indexes = append(td.Indexes[:i], td.Indexes[i+1:]...)
					return nil
				}
			}
		}
	}
	return serr.Newf("drop_index", serr.KindNotFound, "no such index: %s", name)
}

func qualify(schemaName, name string) string {
	if schemaName == "" {
		return name
	}
	return schemaName + "." + name
}

// SchemaNames returns every registered schema name in registration order.
func (r *Registry) SchemaNames() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	sort.Strings(out[1:]) // keep "main" first, sort the rest for determinism
	return out
}
