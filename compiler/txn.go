package compiler

import (
	"hash/fnv"
	"strings"

	"github.com/Digithought/quereus-sub003/ast"
	"github.com/Digithought/quereus-sub003/vdbe"
	"github.com/Digithought/quereus-sub003/vtab"
)

// compileTxnAll emits one txn-control instruction per connected
// VirtualTable in the schema, so BEGIN/COMMIT/ROLLBACK notify every
// module that might participate in the transaction rather than just
// whatever happens to already have a cursor open in this program — a
// standalone "BEGIN" statement has no FROM clause of its own to open
// cursors from. arg carries OpVSavepoint/OpVRelease/OpVRollbackTo's
// savepoint id; it's ignored by vdbe's txnOp (ops.go) for the other ops.
func (b *builder) compileTxnAll(op vdbe.Opcode, arg int) error {
	for _, schemaName := range b.c.Schema.SchemaNames() {
		sch, err := b.c.Schema.GetSchema(schemaName, false)
		if err != nil {
			continue
		}
		for _, td := range sch.Tables() {
			vt, ok := td.AuxData.(vtab.VirtualTable)
			if !ok {
				continue
			}
			cursor := b.allocCursor(vdbe.CursorBinding{Table: vt})
			b.emit(vdbe.Instruction{Op: op, P1: cursor, P2: arg})
		}
	}
	return nil
}

// compileBegin starts a transaction on every connected table. The
// Deferred/Immediate/Exclusive locking-mode distinction SQLite's BEGIN
// makes has no counterpart in vtab.Transactional.Begin (it takes no
// mode argument), so those flags are accepted syntactically and
// otherwise have no effect here.
func (b *builder) compileBegin(s *ast.BeginStmt) error {
	return b.compileTxnAll(vdbe.OpVBegin, 0)
}

// compileRollback dispatches a plain ROLLBACK to every table, or a
// ROLLBACK TO <savepoint> as OpVRollbackTo keyed by that savepoint's id.
func (b *builder) compileRollback(s *ast.RollbackStmt) error {
	if s.ToSavepoint != "" {
		return b.compileSavepointLike(vdbe.OpVRollbackTo, s.ToSavepoint)
	}
	return b.compileTxnAll(vdbe.OpVRollback, 0)
}

// compileSavepointLike backs SAVEPOINT/RELEASE/ROLLBACK TO, all three
// of which key off a named savepoint rather than addressing the whole
// transaction. vtab.TwoPhaseCommitter takes an opaque int id rather
// than a name (spec §4.4); savepointID derives a stable one from the
// name so SAVEPOINT x / RELEASE x / ROLLBACK TO x agree on which frame
// they mean without the compiler needing any cross-statement state.
func (b *builder) compileSavepointLike(op vdbe.Opcode, name string) error {
	return b.compileTxnAll(op, savepointID(name))
}

func savepointID(name string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(name)))
	return int(h.Sum32())
}

// compilePragma accepts a PRAGMA without emitting any bytecode: this
// engine's PRAGMA settings (and query-form results) are owned and
// applied directly by the statement façade (C8) before a program would
// ever run, not by compiled instructions — Compile just needs to not
// reject the statement so prepare()/EXPLAIN work uniformly across every
// statement kind.
func (b *builder) compilePragma(s *ast.PragmaStmt) error {
	return nil
}
