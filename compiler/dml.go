package compiler

import (
	"strings"

	"github.com/Digithought/quereus-sub003/ast"
	"github.com/Digithought/quereus-sub003/schema"
	"github.com/Digithought/quereus-sub003/serr"
	"github.com/Digithought/quereus-sub003/vdbe"
)

// returningNames expands a RETURNING column list against a single
// tableRef, the same way resultColumnNames expands a SELECT list's "*"
// against a FROM scope.
func returningNames(tr *tableRef, cols []ast.ResultColumn) []string {
	var names []string
	for i, rc := range cols {
		if rc.Star {
			names = append(names, tr.columns...)
			continue
		}
		if rc.Alias != "" {
			names = append(names, rc.Alias)
		} else if col, ok := rc.Expr.(*ast.ColumnExpr); ok {
			names = append(names, col.Name)
		} else {
			names = append(names, "column"+itoa(i+1))
		}
	}
	return names
}

// insertColumnOrder maps an INSERT's (possibly empty) explicit column
// list onto target column indices; an empty list means every column in
// table-declaration order.
func insertColumnOrder(td *schema.TableDescriptor, explicit []string) ([]int, error) {
	if len(explicit) == 0 {
		idx := make([]int, len(td.Columns))
		for i := range idx {
			idx[i] = i
		}
		return idx, nil
	}
	idx := make([]int, len(explicit))
	for i, name := range explicit {
		ci := td.ColumnIndex(name)
		if ci < 0 {
			return nil, serr.Newf("compile", serr.KindCompile, "table %q has no column named %s", td.Name, name)
		}
		idx[i] = ci
	}
	return idx, nil
}

// emitColumnDefault fills dest with c's declared default, or NULL if it
// has none. CREATE TABLE stores a column's default expression as an
// opaque ast.Expr in ColumnDef.Default (schema can't import ast), so the
// compiler is the one place that type-asserts it back.
func (b *builder) emitColumnDefault(dest int, c schema.ColumnDef) error {
	if e, ok := c.Default.(ast.Expr); ok && e != nil {
		r, err := b.compileExpr(exprCtx{}, e)
		if err != nil {
			return err
		}
		b.emit(vdbe.Instruction{Op: vdbe.OpMove, P1: r, P2: dest})
		return nil
	}
	b.emit(vdbe.Instruction{Op: vdbe.OpLoadNull, P1: dest})
	return nil
}

// compileInsert compiles INSERT ... VALUES and INSERT ... SELECT alike:
// both ultimately hand one fully-populated, table-column-order row of
// registers per source row to emitRow.
func (b *builder) compileInsert(s *ast.InsertStmt) error {
	b.readOnly = false
	td, err := b.c.Schema.GetTable(s.Table)
	if err != nil {
		return serr.Newf("compile", serr.KindCompile, "no such table: %s", s.Table)
	}
	vt, err := vtableOf(td)
	if err != nil {
		return err
	}
	colIdx, err := insertColumnOrder(td, s.Columns)
	if err != nil {
		return err
	}

	cursor := b.allocCursor(vdbe.CursorBinding{Table: vt})
	b.emit(vdbe.Instruction{Op: vdbe.OpOpenWrite, P1: cursor})

	hasReturning := len(s.Returning) > 0
	if hasReturning {
		names := make([]string, len(td.Columns))
		for i, c := range td.Columns {
			names[i] = strings.ToLower(c.Name)
		}
		tr := &tableRef{columns: names}
		b.colNames = returningNames(tr, s.Returning)
	}

	emitRow := func(sourceRegs []int) error {
		if len(sourceRegs) != len(colIdx) {
			return serr.Newf("compile", serr.KindCompile, "table %q has %d columns in its target list but %d values were supplied", s.Table, len(colIdx), len(sourceRegs))
		}
		base := b.allocRegs(len(td.Columns))
		filled := make([]bool, len(td.Columns))
		for i, r := range sourceRegs {
			tcol := colIdx[i]
			b.emit(vdbe.Instruction{Op: vdbe.OpMove, P1: r, P2: base + tcol})
			filled[tcol] = true
		}
		for i, c := range td.Columns {
			if filled[i] {
				continue
			}
			if err := b.emitColumnDefault(base+i, c); err != nil {
				return err
			}
		}
		return b.emitVUpdateAndReturning(cursor, td, base, -1, s.OnConflict, s.Returning, hasReturning)
	}

	if s.Query != nil {
		if err := b.bindWith(s.Query); err != nil {
			return err
		}
		defer b.popCTEFrameIfPushed(s.Query)
		return b.compileOrderedOutput(s.Query, emitRow)
	}

	for _, row := range s.Values {
		regs := make([]int, len(row))
		for i, e := range row {
			r, err := b.compileExpr(exprCtx{}, e)
			if err != nil {
				return err
			}
			regs[i] = r
		}
		if err := emitRow(regs); err != nil {
			return err
		}
	}
	return nil
}

// emitVUpdateAndReturning emits the OpVUpdate for one insert/update (not
// delete, which has its own shape in compileDelete) and, if returning is
// non-empty, the row it projects — skipping rows a ConflictIgnore policy
// silently dropped (vUpdateOp reports those by leaving ResultReg NULL).
func (b *builder) emitVUpdateAndReturning(cursor int, td *schema.TableDescriptor, newBase, oldRowIDReg int, conflict ast.OnConflict, returning []ast.ResultColumn, hasReturning bool) error {
	spec := &vdbe.VUpdateSpec{ColumnCount: len(td.Columns), ResultReg: -1}
	if hasReturning {
		spec.ResultReg = b.allocReg()
	}
	b.emit(vdbe.Instruction{Op: vdbe.OpVUpdate, P1: cursor, P2: oldRowIDReg, P3: newBase, P4: spec, P5: byte(conflict)})
	if !hasReturning {
		return nil
	}

	ignored := b.allocReg()
	b.emit(vdbe.Instruction{Op: vdbe.OpIsNullOp, P1: spec.ResultReg, P2: ignored})
	skip := b.emit(vdbe.Instruction{Op: vdbe.OpIfTrue, P1: ignored})

	names := make([]string, len(td.Columns))
	for i, c := range td.Columns {
		names[i] = strings.ToLower(c.Name)
	}
	tr := &tableRef{columns: names, colBase: newBase, hasRowID: true, rowIDReg: spec.ResultReg}
	sc := &scope{sources: []*tableRef{tr}}
	regs, err := b.projectRow(exprCtx{sc: sc}, returning, sc)
	if err != nil {
		return err
	}
	b.emit(vdbe.Instruction{Op: vdbe.OpResultRow, P1: regs[0], P2: len(regs)})
	b.patchP2(skip, b.here())
	return nil
}

// compileUpdate compiles a single-table UPDATE: a full scan of the
// target (BestIndex-accelerated the same way a SELECT's FROM source is,
// then re-checked in full per emitFilterGuard's contract) rebuilding
// each surviving row's full column vector before handing it to the same
// OpVUpdate/RETURNING machinery INSERT uses.
func (b *builder) compileUpdate(s *ast.UpdateStmt) error {
	b.readOnly = false
	tr, sc, err := b.openWriteTarget(s.Table, s.Where)
	if err != nil {
		return err
	}
	td := tr.desc
	hasReturning := len(s.Returning) > 0
	if hasReturning {
		b.colNames = returningNames(tr, s.Returning)
	}

	loopStart, exitAddr := b.emitScanOpen(tr)
	b.loadSourceRow(tr)

	ec := exprCtx{sc: sc}
	skip, has, err := b.emitFilterGuard(ec, s.Where)
	if err != nil {
		return err
	}
	var continues []int
	if has {
		continues = append(continues, skip)
	}

	newBase := b.allocRegs(len(td.Columns))
	for i := range td.Columns {
		b.emit(vdbe.Instruction{Op: vdbe.OpMove, P1: tr.colBase + i, P2: newBase + i})
	}
	for _, set := range s.Set {
		ci := td.ColumnIndex(set.Column)
		if ci < 0 {
			return serr.Newf("compile", serr.KindCompile, "table %q has no column named %s", s.Table, set.Column)
		}
		r, err := b.compileExpr(ec, set.Value)
		if err != nil {
			return err
		}
		b.emit(vdbe.Instruction{Op: vdbe.OpMove, P1: r, P2: newBase + ci})
	}

	spec := &vdbe.VUpdateSpec{ColumnCount: len(td.Columns), ResultReg: -1}
	if hasReturning {
		spec.ResultReg = b.allocReg()
	}
	b.emit(vdbe.Instruction{Op: vdbe.OpVUpdate, P1: tr.cursor, P2: tr.rowIDReg, P3: newBase, P4: spec, P5: byte(s.OnConflict)})
	if hasReturning {
		ignored := b.allocReg()
		b.emit(vdbe.Instruction{Op: vdbe.OpIsNullOp, P1: spec.ResultReg, P2: ignored})
		ig := b.emit(vdbe.Instruction{Op: vdbe.OpIfTrue, P1: ignored})
		continues = append(continues, ig)

		retTr := &tableRef{columns: tr.columns, colBase: newBase, hasRowID: true, rowIDReg: tr.rowIDReg}
		retSc := &scope{sources: []*tableRef{retTr}}
		regs, err := b.projectRow(exprCtx{sc: retSc}, s.Returning, retSc)
		if err != nil {
			return err
		}
		b.emit(vdbe.Instruction{Op: vdbe.OpResultRow, P1: regs[0], P2: len(regs)})
	}

	cont := b.here()
	for _, addr := range continues {
		b.patchP2(addr, cont)
	}
	b.emitScanNext(tr, loopStart)
	b.patchP2(exitAddr, b.here())
	return nil
}

// compileDelete compiles a single-table DELETE: same full scan as
// UPDATE, RETURNING (when present) projecting the row's pre-delete
// values since nothing downstream of the scan changes them.
func (b *builder) compileDelete(s *ast.DeleteStmt) error {
	b.readOnly = false
	tr, sc, err := b.openWriteTarget(s.Table, s.Where)
	if err != nil {
		return err
	}
	hasReturning := len(s.Returning) > 0
	if hasReturning {
		b.colNames = returningNames(tr, s.Returning)
	}

	loopStart, exitAddr := b.emitScanOpen(tr)
	b.loadSourceRow(tr)

	ec := exprCtx{sc: sc}
	skip, has, err := b.emitFilterGuard(ec, s.Where)
	if err != nil {
		return err
	}
	var continues []int
	if has {
		continues = append(continues, skip)
	}

	spec := &vdbe.VUpdateSpec{ResultReg: -1}
	if hasReturning {
		spec.ResultReg = b.allocReg()
	}
	b.emit(vdbe.Instruction{Op: vdbe.OpVUpdate, P1: tr.cursor, P2: tr.rowIDReg, P3: -1, P4: spec, P5: byte(ast.ConflictAbort)})
	if hasReturning {
		ignored := b.allocReg()
		b.emit(vdbe.Instruction{Op: vdbe.OpIsNullOp, P1: spec.ResultReg, P2: ignored})
		ig := b.emit(vdbe.Instruction{Op: vdbe.OpIfTrue, P1: ignored})
		continues = append(continues, ig)

		regs, err := b.projectRow(ec, s.Returning, sc)
		if err != nil {
			return err
		}
		b.emit(vdbe.Instruction{Op: vdbe.OpResultRow, P1: regs[0], P2: len(regs)})
	}

	cont := b.here()
	for _, addr := range continues {
		b.patchP2(addr, cont)
	}
	b.emitScanNext(tr, loopStart)
	b.patchP2(exitAddr, b.here())
	return nil
}

// openWriteTarget resolves name as a real table, opens it for write
// (with BestIndex pushdown against where), and wraps it in a one-source
// scope so UPDATE/DELETE's WHERE and SET expressions can resolve
// columns exactly the way a SELECT's FROM source does.
func (b *builder) openWriteTarget(name string, where ast.Expr) (*tableRef, *scope, error) {
	td, err := b.c.Schema.GetTable(name)
	if err != nil {
		return nil, nil, serr.Newf("compile", serr.KindCompile, "no such table: %s", name)
	}
	vt, err := vtableOf(td)
	if err != nil {
		return nil, nil, err
	}
	cols := make([]string, len(td.Columns))
	for i, c := range td.Columns {
		cols[i] = strings.ToLower(c.Name)
	}
	cursor := b.allocCursor(vdbe.CursorBinding{Table: vt})
	tr := &tableRef{
		alias:    strings.ToLower(td.Name),
		columns:  cols,
		desc:     td,
		vtable:   vt,
		cursor:   cursor,
		hasRowID: true,
		colBase:  b.allocRegs(len(cols)),
	}
	tr.rowIDReg = b.allocReg()
	if err := b.openAndFilterWhere(tr, where, vdbe.OpOpenWrite); err != nil {
		return nil, nil, err
	}
	return tr, &scope{sources: []*tableRef{tr}}, nil
}
