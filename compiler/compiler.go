// Package compiler implements the AST → vdbe.Program compiler (C6):
// program-global cursor/register allocation, per-statement codegen
// driven by the query planner's per-table BestIndex result, and the
// structured compile errors the statement façade surfaces.
//
// grounded on dynajoe-tinydb's internal/virtualmachine/codegen.go
// (SelectInstructions/InsertInstructions/CreateTableInstructions, its
// whereClause short-circuit jump emission and forward-patched label
// addresses) adapted to this engine's opcode catalogue, frame model,
// and vtab-backed cursor scans instead of codegen's slice-backed rows.
package compiler

import (
	"github.com/Digithought/quereus-sub003/ast"
	"github.com/Digithought/quereus-sub003/functions"
	"github.com/Digithought/quereus-sub003/schema"
	"github.com/Digithought/quereus-sub003/serr"
	"github.com/Digithought/quereus-sub003/value"
	"github.com/Digithought/quereus-sub003/vdbe"
	"github.com/Digithought/quereus-sub003/vtab"
)

// Compiler turns one parsed statement into a vdbe.Program plus the
// cursor bindings a Machine needs to run it, against a given schema and
// function registry.
type Compiler struct {
	Schema    *schema.Registry
	Functions *functions.Registry
	Collation value.Collation

	// Modules resolves a CREATE TABLE ... USING <module> name (or the
	// registry's DefaultVTabModule when none is given) to the live
	// vtab.Module that connects/creates the backing VirtualTable. Keyed
	// lowercase; populated by whatever owns the Compiler (the statement
	// façade, C8) since schema/vtab can't hold this mapping themselves
	// without an import cycle.
	Modules map[string]vtab.Module
}

// New constructs a Compiler. collation may be nil, defaulting to
// value.Binary (spec's Non-goal caps collation support at binary).
func New(reg *schema.Registry, fns *functions.Registry, collation value.Collation, modules map[string]vtab.Module) *Compiler {
	if collation == nil {
		collation = value.Binary
	}
	return &Compiler{Schema: reg, Functions: fns, Collation: collation, Modules: modules}
}

// Compile compiles one statement, returning the program and the cursor
// bindings (parallel to program.CursorCount) a vdbe.Machine needs.
func (c *Compiler) Compile(stmt ast.Stmt, sql string) (*vdbe.Program, []vdbe.CursorBinding, error) {
	b := newBuilder(c, sql)
	if err := b.compileStmt(stmt); err != nil {
		return nil, nil, err
	}
	b.emit(vdbe.Instruction{Op: vdbe.OpHalt})
	return b.program(), b.bindings, nil
}

func (b *builder) compileStmt(stmt ast.Stmt) error {
	switch s := stmt.(type) {
	case *ast.SelectStmt:
		return b.compileTopSelect(s)
	case *ast.InsertStmt:
		return b.compileInsert(s)
	case *ast.UpdateStmt:
		return b.compileUpdate(s)
	case *ast.DeleteStmt:
		return b.compileDelete(s)
	case *ast.CreateTableStmt:
		return b.compileCreateTable(s)
	case *ast.CreateIndexStmt:
		return b.compileCreateIndex(s)
	case *ast.CreateViewStmt:
		return b.compileCreateView(s)
	case *ast.DropStmt:
		return b.compileDrop(s)
	case *ast.AlterTableStmt:
		return b.compileAlterTable(s)
	case *ast.BeginStmt:
		return b.compileBegin(s)
	case *ast.CommitStmt:
		return b.compileTxnAll(vdbe.OpVCommit, 0)
	case *ast.RollbackStmt:
		return b.compileRollback(s)
	case *ast.SavepointStmt:
		return b.compileSavepointLike(vdbe.OpVSavepoint, s.Name)
	case *ast.ReleaseStmt:
		return b.compileSavepointLike(vdbe.OpVRelease, s.Name)
	case *ast.PragmaStmt:
		return b.compilePragma(s)
	case *ast.ExplainStmt:
		return b.compileStmt(s.Target)
	default:
		return serr.Newf("compile", serr.KindCompile, "unsupported statement type %T", stmt)
	}
}

// vtableOf resolves a TableDescriptor's live vtab.VirtualTable handle.
// By convention the statement façade (C8) stores the connected instance
// in TableDescriptor.AuxData at CREATE TABLE / open time, since schema
// itself can't depend on vtab without an import cycle.
func vtableOf(td *schema.TableDescriptor) (vtab.VirtualTable, error) {
	vt, ok := td.AuxData.(vtab.VirtualTable)
	if !ok || vt == nil {
		return nil, serr.Newf("compile", serr.KindInternal, "table %q has no connected virtual table handle", td.Name)
	}
	return vt, nil
}
