package compiler

import (
	"context"
	"strings"

	"github.com/Digithought/quereus-sub003/ast"
	"github.com/Digithought/quereus-sub003/schema"
	"github.com/Digithought/quereus-sub003/serr"
	"github.com/Digithought/quereus-sub003/vdbe"
	"github.com/Digithought/quereus-sub003/vtab"
)

func qualifiedName(schemaName, name string) string {
	if schemaName == "" {
		return name
	}
	return schemaName + "." + name
}

// compileCreateTable resolves the declared module (or the registry's
// DefaultVTabModule), connects a brand-new VirtualTable through it, and
// registers the resulting descriptor — AuxData holds the live handle
// vtableOf later reads back for every DML/SELECT against this table.
func (b *builder) compileCreateTable(s *ast.CreateTableStmt) error {
	b.readOnly = false
	if s.IfNotExists {
		if _, err := b.c.Schema.GetTable(qualifiedName(s.SchemaName, s.Name)); err == nil {
			return nil
		}
	}

	moduleName := s.ModuleName
	moduleArgs := s.ModuleArgs
	if moduleName == "" {
		moduleName = b.c.Schema.DefaultVTabModule
		moduleArgs = append(append([]string{}, moduleArgs...), b.c.Schema.DefaultVTabArgs...)
	}
	mod, ok := b.c.Modules[strings.ToLower(moduleName)]
	if !ok {
		return serr.Newf("compile", serr.KindCompile, "no such module: %s", moduleName)
	}

	cols := make([]schema.ColumnDef, len(s.Columns))
	modCols := make([]vtab.ModuleColumn, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = schema.ColumnDef{Name: c.Name, TypeName: c.TypeName, NotNull: c.NotNull, Default: c.Default}
		modCols[i] = vtab.ModuleColumn{Name: c.Name, TypeName: c.TypeName}
	}

	pk := make([]int, 0, len(s.PrimaryKey))
	for _, name := range s.PrimaryKey {
		idx := -1
		for i, c := range s.Columns {
			if strings.EqualFold(c.Name, name) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return serr.Newf("compile", serr.KindCompile, "no such column: %s", name)
		}
		pk = append(pk, idx)
	}

	checks := make([]schema.CheckConstraint, len(s.Checks))
	for i, c := range s.Checks {
		checks[i] = schema.CheckConstraint{Name: c.Name, Expr: c.Expr}
	}

	td := &schema.TableDescriptor{
		Name:       s.Name,
		Columns:    cols,
		PrimaryKey: pk,
		Checks:     checks,
		Flags:      schema.Flags{Temporary: s.Temporary, Strict: s.Strict, WithoutRowID: s.WithoutRowID},
		ModuleName: moduleName,
		ModuleArgs: moduleArgs,
	}

	createArgs := moduleArgs
	if len(s.PrimaryKey) > 0 {
		createArgs = append(append([]string{}, moduleArgs...), "pk="+strings.Join(s.PrimaryKey, ","))
	}
	vt, err := mod.Create(context.Background(), vtab.ModuleArgs{
		SchemaName: s.SchemaName,
		TableName:  s.Name,
		Columns:    modCols,
		Args:       createArgs,
	})
	if err != nil {
		return err
	}
	td.AuxData = vt

	if err := b.c.Schema.AddTable(s.SchemaName, td); err != nil {
		return err
	}
	b.emit(vdbe.Instruction{Op: vdbe.OpSchemaChange})
	return nil
}

// compileCreateIndex records an index descriptor against its target
// table. Indexes are bookkeeping in this engine (see
// schema.IndexDescriptor's doc comment) — BestIndex decisions come from
// the module's own knowledge of its storage, not from this listing —
// so there's no cursor work here beyond the schema-change marker.
func (b *builder) compileCreateIndex(s *ast.CreateIndexStmt) error {
	b.readOnly = false
	if s.IfNotExists {
		if _, ok := b.c.Schema.FindIndex(s.Name); ok {
			return nil
		}
	}
	if err := b.c.Schema.CreateIndex(schema.IndexDescriptor{
		Name:    s.Name,
		Table:   s.Table,
		Columns: s.Columns,
		Unique:  s.Unique,
	}); err != nil {
		return err
	}
	b.emit(vdbe.Instruction{Op: vdbe.OpSchemaChange})
	return nil
}

// compileCreateView registers a view descriptor carrying its SELECT as
// an opaque AST node (schema can't import ast); an explicit column list
// overrides the query's own projected names the same way a CTE's column
// list overrides its query's names in select.go's bindWith.
func (b *builder) compileCreateView(s *ast.CreateViewStmt) error {
	b.readOnly = false
	if s.IfNotExists {
		if _, err := b.c.Schema.GetTable(qualifiedName(s.SchemaName, s.Name)); err == nil {
			return nil
		}
	}

	var names []string
	if len(s.Columns) > 0 {
		names = s.Columns
	} else {
		if err := b.bindWith(s.Query); err != nil {
			return err
		}
		n, err := b.resultColumnNames(s.Query)
		b.popCTEFrameIfPushed(s.Query)
		if err != nil {
			return err
		}
		names = n
	}

	cols := make([]schema.ColumnDef, len(names))
	for i, n := range names {
		cols[i] = schema.ColumnDef{Name: n}
	}
	if err := b.c.Schema.AddView(s.SchemaName, s.Name, cols, s.Query); err != nil {
		return err
	}
	b.emit(vdbe.Instruction{Op: vdbe.OpSchemaChange})
	return nil
}

// compileDrop handles DROP TABLE/VIEW/INDEX; dropping a module-backed
// table also calls Destroy on its connected VirtualTable so the backing
// storage is released, not just the schema entry.
func (b *builder) compileDrop(s *ast.DropStmt) error {
	b.readOnly = false
	switch s.Kind {
	case ast.DropTable:
		td, err := b.c.Schema.GetTable(qualifiedName(s.SchemaName, s.Name))
		if err != nil {
			if s.IfExists {
				return nil
			}
			return err
		}
		if vt, ok := td.AuxData.(vtab.VirtualTable); ok {
			if err := vt.Destroy(context.Background()); err != nil {
				return err
			}
		}
		if err := b.c.Schema.DropTable(s.SchemaName, s.Name); err != nil {
			return err
		}
	case ast.DropView:
		if err := b.c.Schema.DropView(s.SchemaName, s.Name); err != nil {
			if s.IfExists {
				return nil
			}
			return err
		}
	case ast.DropIndex:
		if err := b.c.Schema.DropIndex(s.Name); err != nil {
			if s.IfExists {
				return nil
			}
			return err
		}
	}
	b.emit(vdbe.Instruction{Op: vdbe.OpSchemaInvalidate})
	return nil
}

// compileAlterTable compiles every ALTER TABLE action onto the target
// descriptor in place, preserving its ChangeID-bearing identity rather
// than dropping and re-adding it.
func (b *builder) compileAlterTable(s *ast.AlterTableStmt) error {
	b.readOnly = false
	td, err := b.c.Schema.GetTable(s.Table)
	if err != nil {
		return err
	}
	switch s.Action {
	case ast.AlterRenameTable:
		if err := b.c.Schema.RenameTable("", s.Table, s.NewName); err != nil {
			return err
		}
	case ast.AlterRenameColumn:
		if err := td.RenameColumn(s.Column, s.NewName); err != nil {
			return err
		}
	case ast.AlterAddColumn:
		c := s.ColumnSpec
		if err := td.AddColumn(schema.ColumnDef{Name: c.Name, TypeName: c.TypeName, NotNull: c.NotNull, Default: c.Default}); err != nil {
			return err
		}
	case ast.AlterDropColumn:
		if err := td.DropColumn(s.Column); err != nil {
			return err
		}
	}
	b.emit(vdbe.Instruction{Op: vdbe.OpSchemaChange})
	return nil
}
