package compiler

import (
	"context"
	"strings"

	"github.com/Digithought/quereus-sub003/ast"
	"github.com/Digithought/quereus-sub003/planner"
	"github.com/Digithought/quereus-sub003/serr"
	"github.com/Digithought/quereus-sub003/value"
	"github.com/Digithought/quereus-sub003/vdbe"
)

// rowSink receives one final projected row (after WHERE/GROUP BY/HAVING)
// as a list of registers; what happens to it (ResultRow, SorterInsert,
// accumulate into a CTE's working set) is the caller's decision.
type rowSink func(regs []int) error

// compileTopSelect is the entry point for a standalone SELECT statement:
// it resolves any WITH bindings, compiles the (possibly compound) query
// body applying ORDER BY/LIMIT/OFFSET, and streams the final rows out as
// ResultRow instructions.
func (b *builder) compileTopSelect(sel *ast.SelectStmt) error {
	if err := b.bindWith(sel); err != nil {
		return err
	}
	defer b.popCTEFrameIfPushed(sel)

	names, err := b.resultColumnNames(sel)
	if err != nil {
		return err
	}
	b.colNames = names

	return b.compileOrderedOutput(sel, func(regs []int) error {
		b.emit(vdbe.Instruction{Op: vdbe.OpResultRow, P1: regs[0], P2: len(regs)})
		return nil
	})
}

// bindWith pushes a CTE frame (if sel carries a WITH clause) and
// materializes each binding in order, so later CTEs and the main query
// body can reference earlier ones.
func (b *builder) bindWith(sel *ast.SelectStmt) error {
	if len(sel.With) == 0 {
		return nil
	}
	b.pushCTEFrame()
	for _, cte := range sel.With {
		var tr *tableRef
		var err error
		if cte.Recursive {
			tr, err = b.materializeRecursiveCTE(cte)
		} else {
			tr, err = b.materializeSubquery(cte.Query)
		}
		if err != nil {
			return err
		}
		if len(cte.Columns) == len(tr.columns) {
			cols := make([]string, len(cte.Columns))
			for i, c := range cte.Columns {
				cols[i] = strings.ToLower(c)
			}
			tr.columns = cols
		}
		b.bindCTE(cte.Name, tr)
	}
	return nil
}

func (b *builder) popCTEFrameIfPushed(sel *ast.SelectStmt) {
	if len(sel.With) > 0 {
		b.popCTEFrame()
	}
}

// compileOrderedOutput compiles sel's body (core or compound) and
// applies ORDER BY/LIMIT/OFFSET around it, calling out once per row that
// survives. ORDER BY forces a materialization pass through a sorter
// (simpler and always correct, versus trying to detect when a scan's
// natural order already satisfies it).
func (b *builder) compileOrderedOutput(sel *ast.SelectStmt, out rowSink) error {
	if len(sel.OrderBy) == 0 && sel.Limit == nil && sel.Offset == nil {
		return b.compileSelectBody(sel, out)
	}

	ncols, err := b.selectWidth(sel)
	if err != nil {
		return err
	}
	desc := make([]bool, len(sel.OrderBy))
	for i, t := range sel.OrderBy {
		desc[i] = t.Descending
	}
	sorter := b.allocSorter(desc)

	if err := b.compileSelectBody(sel, func(regs []int) error {
		var keyRegs []int
		ec := exprCtx{} // ORDER BY terms here reference only projected columns (by position, alias or column name), resolved below
		for _, t := range sel.OrderBy {
			r, err := b.orderKeyReg(ec, sel, t.Expr, regs)
			if err != nil {
				return err
			}
			keyRegs = append(keyRegs, r)
		}
		keyBase := b.allocRegs(len(keyRegs))
		for i, r := range keyRegs {
			b.emit(vdbe.Instruction{Op: vdbe.OpMove, P1: r, P2: keyBase + i})
		}
		b.emit(vdbe.Instruction{Op: vdbe.OpSorterInsert, P1: sorter, P2: keyBase, P3: len(keyRegs), P4: regs[0], P5: byte(ncols)})
		return nil
	}); err != nil {
		return err
	}

	b.emit(vdbe.Instruction{Op: vdbe.OpSorterSort, P1: sorter})
	return b.streamSorterWithLimit(sorter, ncols, sel.Limit, sel.Offset, out)
}

// orderKeyReg resolves an ORDER BY expression against the row just
// projected: a bare integer literal selects a 1-based projected column,
// and a column name selects the result column it names, by alias or as
// an unaliased column reference (a qualified name matches only an
// unaliased reference with the same qualifier). Any other expression,
// including a column not in the SELECT list, is a compile error.
func (b *builder) orderKeyReg(_ exprCtx, sel *ast.SelectStmt, e ast.Expr, regs []int) (int, error) {
	if lit, ok := e.(*ast.LiteralExpr); ok && lit.Value.Type() == value.TypeInteger {
		n := int(lit.Value.Int64())
		if n >= 1 && n <= len(regs) {
			return regs[n-1], nil
		}
	}
	if col, ok := e.(*ast.ColumnExpr); ok && col.Table == "" {
		for i, rc := range sel.Columns {
			if strings.EqualFold(rc.Alias, col.Name) {
				return regs[i], nil
			}
		}
	}
	if col, ok := e.(*ast.ColumnExpr); ok {
		for i, rc := range sel.Columns {
			rcCol, ok := rc.Expr.(*ast.ColumnExpr)
			if ok && rc.Alias == "" && strings.EqualFold(rcCol.Name, col.Name) &&
				(col.Table == "" || strings.EqualFold(rcCol.Table, col.Table)) {
				return regs[i], nil
			}
		}
	}
	return 0, serr.Newf("compile", serr.KindCompile, "ORDER BY expression must reference a result column in this compiler")
}

// streamSorterWithLimit scans sorter in its sorted order, applying
// OFFSET/LIMIT via plain register counters, calling out per surviving row.
func (b *builder) streamSorterWithLimit(sorter, ncols int, limitExpr, offsetExpr ast.Expr, out rowSink) error {
	var offsetReg, limitReg int
	hasOffset, hasLimit := offsetExpr != nil, limitExpr != nil
	ec := exprCtx{}
	if hasOffset {
		r, err := b.compileExpr(ec, offsetExpr)
		if err != nil {
			return err
		}
		offsetReg = r
	}
	if hasLimit {
		r, err := b.compileExpr(ec, limitExpr)
		if err != nil {
			return err
		}
		limitReg = r
	}

	loopStart := b.here()
	eofAddr := b.emit(vdbe.Instruction{Op: vdbe.OpSorterEof, P1: sorter})
	rowBase := b.allocRegs(ncols)
	b.emit(vdbe.Instruction{Op: vdbe.OpSorterData, P1: sorter, P2: rowBase, P3: ncols})

	nextAddr := func() {
		b.emit(vdbe.Instruction{Op: vdbe.OpSorterNext, P1: sorter, P2: loopStart})
	}

	if hasOffset {
		zero := b.loadConst(value.Integer(0))
		gt := b.allocReg()
		b.emit(vdbe.Instruction{Op: vdbe.OpGt, P1: offsetReg, P2: zero, P3: gt})
		skip := b.emit(vdbe.Instruction{Op: vdbe.OpIfFalse, P1: gt})
		one := b.loadConst(value.Integer(1))
		b.emit(vdbe.Instruction{Op: vdbe.OpSub, P1: offsetReg, P2: one, P3: offsetReg})
		nextAddr()
		b.patchP2(skip, b.here())
	}
	if hasLimit {
		zero := b.loadConst(value.Integer(0))
		le := b.allocReg()
		b.emit(vdbe.Instruction{Op: vdbe.OpLe, P1: limitReg, P2: zero, P3: le})
		doneAddr := b.emit(vdbe.Instruction{Op: vdbe.OpIfTrue, P1: le})
		one := b.loadConst(value.Integer(1))
		b.emit(vdbe.Instruction{Op: vdbe.OpSub, P1: limitReg, P2: one, P3: limitReg})
		regs := make([]int, ncols)
		for i := range regs {
			regs[i] = rowBase + i
		}
		if err := out(regs); err != nil {
			return err
		}
		nextAddr()
		exit := b.here()
		b.patchP2(eofAddr, exit)
		b.patchP2(doneAddr, exit)
		return nil
	}

	regs := make([]int, ncols)
	for i := range regs {
		regs[i] = rowBase + i
	}
	if err := out(regs); err != nil {
		return err
	}
	nextAddr()
	b.patchP2(eofAddr, b.here())
	return nil
}

// selectWidth returns the number of columns sel's body projects. It
// delegates to resultColumnNames rather than re-resolving the FROM
// scope itself. For a "*" projection resultColumnNames still resolves
// the FROM sources, so counting its width allocates a second set of
// cursor slots (and materializes any subquery source) alongside the
// ones the real compile pass allocates.
func (b *builder) selectWidth(sel *ast.SelectStmt) (int, error) {
	names, err := b.resultColumnNames(sel)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// resultColumnNames returns the output column names sel's projection
// produces, expanding "*"/"table.*" against the FROM scope.
func (b *builder) resultColumnNames(sel *ast.SelectStmt) ([]string, error) {
	if !hasStar(sel.Columns) {
		names := make([]string, len(sel.Columns))
		for i, rc := range sel.Columns {
			if rc.Alias != "" {
				names[i] = rc.Alias
			} else if col, ok := rc.Expr.(*ast.ColumnExpr); ok {
				names[i] = col.Name
			} else {
				names[i] = "column" + itoa(i+1)
			}
		}
		return names, nil
	}
	sc, err := b.buildSources(sel)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, rc := range sel.Columns {
		if rc.Star {
			if rc.Table != "" {
				if tr := sc.find(rc.Table); tr != nil {
					names = append(names, tr.columns...)
				}
				continue
			}
			for _, tr := range sc.sources {
				names = append(names, tr.columns...)
			}
			continue
		}
		if rc.Alias != "" {
			names = append(names, rc.Alias)
		} else if col, ok := rc.Expr.(*ast.ColumnExpr); ok {
			names = append(names, col.Name)
		} else {
			names = append(names, "column"+itoa(len(names)+1))
		}
	}
	return names, nil
}

func hasStar(cols []ast.ResultColumn) bool {
	for _, c := range cols {
		if c.Star {
			return true
		}
	}
	return false
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// compileSelectBody compiles sel's compound chain if present, otherwise
// its single core, calling out per output row. This does NOT apply
// sel's own ORDER BY/LIMIT (compileOrderedOutput's job); a compound's
// own OrderBy/Limit on the *outer* SelectStmt node still flow through
// compileOrderedOutput's caller since that's the node it was invoked on.
func (b *builder) compileSelectBody(sel *ast.SelectStmt, out rowSink) error {
	if sel.Compound == nil {
		return b.compileSelectCore(sel, out)
	}
	return b.compileCompound(sel, out)
}

// compileSelectCore compiles one SELECT's FROM/JOIN scan, WHERE filter,
// optional GROUP BY aggregation, HAVING filter, and projection, invoking
// out once per surviving, projected row.
func (b *builder) compileSelectCore(sel *ast.SelectStmt, out rowSink) error {
	sc, err := b.buildSources(sel)
	if err != nil {
		return err
	}

	if len(sel.GroupBy) > 0 || selectHasAggregate(b, sel) {
		return b.compileAggregateCore(sel, sc, out)
	}

	ec := exprCtx{sc: sc}
	return b.scanSources(sel, sc, func() error {
		skip, has, err := b.emitFilterGuard(ec, sel.Where)
		if err != nil {
			return err
		}
		regs, err := b.projectRow(ec, sel.Columns, sc)
		if err != nil {
			return err
		}
		if err := out(regs); err != nil {
			return err
		}
		if has {
			b.patchP2(skip, b.here())
		}
		return nil
	})
}

// emitFilterGuard compiles e (nil means "no filter") and emits an
// IfFalse that skips forward past whatever the caller emits next for a
// row that fails the filter; the caller must patch the returned address
// to the instruction right after its "row survived" codegen once that's
// known. SQL's three-valued logic means NULL and FALSE both fail a
// WHERE/HAVING/ON filter, which is exactly what IfFalse implements.
func (b *builder) emitFilterGuard(ec exprCtx, e ast.Expr) (skipAddr int, has bool, err error) {
	if e == nil {
		return 0, false, nil
	}
	r, err := b.compileExpr(ec, e)
	if err != nil {
		return 0, false, err
	}
	return b.emit(vdbe.Instruction{Op: vdbe.OpIfFalse, P1: r}), true, nil
}

// scanSources emits the nested-loop join over every resolved source in
// sc (outermost first) and invokes body once per combination whose ON
// clauses are satisfied (LEFT JOIN sides are null-padded when no inner
// row matches). body is responsible for any further WHERE/HAVING check
// and projection.
func (b *builder) scanSources(sel *ast.SelectStmt, sc *scope, body func() error) error {
	if len(sc.sources) == 0 {
		return body()
	}
	return b.emitJoinLevel(sel, sc, 0, body)
}

func (b *builder) emitJoinLevel(sel *ast.SelectStmt, sc *scope, idx int, body func() error) error {
	if idx == len(sc.sources) {
		return body()
	}
	tr := sc.sources[idx]

	if err := b.openAndFilter(sel, tr); err != nil {
		return err
	}

	isLeft := tr.joinType == ast.JoinLeft
	var matchedReg int
	if isLeft {
		matchedReg = b.allocReg()
		b.emit(vdbe.Instruction{Op: vdbe.OpLoadConst, P1: b.constant(value.Bool(false)), P2: matchedReg})
	}

	loopStart, exitAddr := b.emitScanOpen(tr)
	b.loadSourceRow(tr)

	ec := exprCtx{sc: sc}
	var onSkip int
	hasOn := tr.on != nil
	if hasOn {
		onReg, err := b.compileExpr(ec, tr.on)
		if err != nil {
			return err
		}
		onSkip = b.emit(vdbe.Instruction{Op: vdbe.OpIfFalse, P1: onReg})
	}
	if isLeft {
		b.emit(vdbe.Instruction{Op: vdbe.OpLoadConst, P1: b.constant(value.Bool(true)), P2: matchedReg})
	}
	if err := b.emitJoinLevel(sel, sc, idx+1, body); err != nil {
		return err
	}

	nextAddr := b.here()
	if hasOn {
		b.patchP2(onSkip, nextAddr)
	}
	b.emitScanNext(tr, loopStart)
	b.patchP2(exitAddr, b.here())

	if isLeft {
		skipNull := b.emit(vdbe.Instruction{Op: vdbe.OpIfTrue, P1: matchedReg})
		b.loadSourceRowNull(tr)
		if err := b.emitJoinLevel(sel, sc, idx+1, body); err != nil {
			return err
		}
		b.patchP2(skipNull, b.here())
	}
	return nil
}

// openAndFilter opens tr's cursor (or, for an ephemeral source, simply
// sorts its materialized rows) and issues its scan-acceleration plan.
// The compiler never trusts the plan's HandledNodes to skip a later
// WHERE re-check (see emitFilterGuard callers); BestIndex's pushdown is
// purely an optimization hint here, not a correctness dependency, which
// keeps join codegen a single straightforward pass instead of needing
// per-level partial-residue bookkeeping.
func (b *builder) openAndFilter(sel *ast.SelectStmt, tr *tableRef) error {
	return b.openAndFilterWhere(tr, sel.Where, vdbe.OpOpenRead)
}

// openAndFilterWhere is openAndFilter generalized over a bare WHERE
// expression (rather than a whole SelectStmt) and the open mode, so
// dml.go's single-table UPDATE/DELETE scans get the same BestIndex
// pushdown a SELECT's FROM source does.
func (b *builder) openAndFilterWhere(tr *tableRef, where ast.Expr, openOp vdbe.Opcode) error {
	if tr.ephemeral {
		return nil
	}
	b.emit(vdbe.Instruction{Op: openOp, P1: tr.cursor})

	plan, err := planner.Plan(context.Background(), tr.vtable, where, nil, columnResolverFor(tr))
	if err != nil {
		return err
	}

	maxArgv := 0
	for _, u := range plan.Output.Usage {
		if u.ArgvIndex > maxArgv {
			maxArgv = u.ArgvIndex
		}
	}
	var argBase int
	if maxArgv > 0 {
		argBase = b.allocRegs(maxArgv)
		for i := range plan.Output.Usage {
			u := plan.Output.Usage[i]
			if u.ArgvIndex <= 0 {
				continue
			}
			dest := argBase + u.ArgvIndex - 1
			ve := plan.ConstraintExprs[i]
			if ve == nil {
				b.emit(vdbe.Instruction{Op: vdbe.OpLoadNull, P1: dest})
				continue
			}
			r, err := b.compileExpr(exprCtx{}, ve)
			if err != nil {
				return err
			}
			b.emit(vdbe.Instruction{Op: vdbe.OpMove, P1: r, P2: dest})
		}
	}
	b.emit(vdbe.Instruction{Op: vdbe.OpVFilter, P1: tr.cursor, P2: plan.Output.IdxNum, P3: argBase, P4: plan.Output.IdxStr, P5: byte(maxArgv)})
	return nil
}

func columnResolverFor(tr *tableRef) planner.ColumnResolver {
	return func(name string) (int, bool) {
		lname := strings.ToLower(name)
		if lname == "rowid" || lname == "_rowid_" || lname == "oid" {
			if tr.hasRowID {
				return -1, true
			}
			return 0, false
		}
		idx := tr.columnIndex(lname)
		if idx < 0 {
			return 0, false
		}
		return idx, true
	}
}

func (b *builder) emitScanOpen(tr *tableRef) (loopStart, exitAddr int) {
	if tr.ephemeral {
		b.emit(vdbe.Instruction{Op: vdbe.OpSorterSort, P1: tr.sorter})
		loopStart = b.here()
		exitAddr = b.emit(vdbe.Instruction{Op: vdbe.OpSorterEof, P1: tr.sorter})
		return
	}
	loopStart = b.here()
	exitAddr = b.emit(vdbe.Instruction{Op: vdbe.OpRewind, P1: tr.cursor})
	return
}

func (b *builder) emitScanNext(tr *tableRef, loopStart int) {
	if tr.ephemeral {
		b.emit(vdbe.Instruction{Op: vdbe.OpSorterNext, P1: tr.sorter, P2: loopStart})
		return
	}
	b.emit(vdbe.Instruction{Op: vdbe.OpVNext, P1: tr.cursor, P2: loopStart})
}

func (b *builder) loadSourceRow(tr *tableRef) {
	if tr.ephemeral {
		b.emit(vdbe.Instruction{Op: vdbe.OpSorterData, P1: tr.sorter, P2: tr.colBase, P3: len(tr.columns)})
		return
	}
	for i := range tr.columns {
		b.emit(vdbe.Instruction{Op: vdbe.OpVColumn, P1: tr.cursor, P2: i, P3: tr.colBase + i})
	}
	if tr.hasRowID {
		b.emit(vdbe.Instruction{Op: vdbe.OpVRowID, P1: tr.cursor, P2: tr.rowIDReg})
	}
}

func (b *builder) loadSourceRowNull(tr *tableRef) {
	for i := range tr.columns {
		b.emit(vdbe.Instruction{Op: vdbe.OpLoadNull, P1: tr.colBase + i})
	}
	if tr.hasRowID {
		b.emit(vdbe.Instruction{Op: vdbe.OpLoadNull, P1: tr.rowIDReg})
	}
}

// projectRow compiles sel's result column list (expanding "*") into a
// contiguous register range and returns it.
func (b *builder) projectRow(ec exprCtx, cols []ast.ResultColumn, sc *scope) ([]int, error) {
	var regs []int
	for _, rc := range cols {
		if rc.Star {
			if rc.Table != "" {
				tr := sc.find(rc.Table)
				if tr == nil {
					return nil, serr.Newf("compile", serr.KindCompile, "no such table: %s", rc.Table)
				}
				for i := range tr.columns {
					regs = append(regs, tr.colBase+i)
				}
				continue
			}
			for _, tr := range sc.sources {
				for i := range tr.columns {
					regs = append(regs, tr.colBase+i)
				}
			}
			continue
		}
		r, err := b.compileExpr(ec, rc.Expr)
		if err != nil {
			return nil, err
		}
		regs = append(regs, r)
	}
	if len(regs) == 0 {
		return nil, serr.Newf("compile", serr.KindCompile, "SELECT produces no columns")
	}
	return b.packContiguous(regs), nil
}

// packContiguous copies a (possibly scattered) register list into one
// contiguous range, since ResultRow/SorterInsert both expect P1..P1+n-1.
func (b *builder) packContiguous(regs []int) []int {
	base := b.allocRegs(len(regs))
	for i, r := range regs {
		b.emit(vdbe.Instruction{Op: vdbe.OpMove, P1: r, P2: base + i})
	}
	out := make([]int, len(regs))
	for i := range out {
		out[i] = base + i
	}
	return out
}

// selectHasAggregate reports whether sel's SELECT list or HAVING
// references a registered aggregate function, which forces grouped
// (possibly whole-table, GROUP-BY-less) aggregation even without an
// explicit GROUP BY clause.
func selectHasAggregate(b *builder, sel *ast.SelectStmt) bool {
	found := false
	var walk func(e ast.Expr)
	walk = func(e ast.Expr) {
		if found || e == nil {
			return
		}
		if fn, ok := e.(*ast.FunctionExpr); ok {
			if _, ok := b.c.Functions.LookupAggregate(fn.Name, len(fn.Args)); ok && fn.Window == nil {
				found = true
				return
			}
			for _, a := range fn.Args {
				walk(a)
			}
			return
		}
		switch x := e.(type) {
		case *ast.BinaryExpr:
			walk(x.Left)
			walk(x.Right)
		case *ast.UnaryExpr:
			walk(x.X)
		case *ast.BetweenExpr:
			walk(x.X)
			walk(x.Low)
			walk(x.High)
		case *ast.InExpr:
			walk(x.X)
		case *ast.CastExpr:
			walk(x.X)
		case *ast.CollateExpr:
			walk(x.X)
		case *ast.CaseExpr:
			walk(x.Operand)
			for _, w := range x.Whens {
				walk(w.Cond)
				walk(w.Then)
			}
			walk(x.Else)
		}
	}
	for _, rc := range sel.Columns {
		walk(rc.Expr)
	}
	walk(sel.Having)
	return found
}

// compileAggregateCore compiles a GROUP BY (or whole-result, implicit
// single-group) aggregation: one scan emitting AggStep per row keyed by
// the GROUP BY values, followed by a second scan over the distinct
// group keys (collected via a sorter) emitting AggFinal/HAVING/projection.
func (b *builder) compileAggregateCore(sel *ast.SelectStmt, sc *scope, out rowSink) error {
	ec := exprCtx{sc: sc}

	groupRegs := make([]int, len(sel.GroupBy))
	groupSorter := b.allocSorter(nil)

	aggCalls := collectAggregateCalls(b, sel)
	aggSlotOf := make(map[ast.Expr]int, len(aggCalls))
	for i, e := range aggCalls {
		aggSlotOf[e] = i
	}

	if err := b.scanSources(sel, sc, func() error {
		for i, g := range sel.GroupBy {
			r, err := b.compileExpr(ec, g)
			if err != nil {
				return err
			}
			groupRegs[i] = r
		}
		keyBase := b.allocRegs(len(groupRegs))
		for i, r := range groupRegs {
			b.emit(vdbe.Instruction{Op: vdbe.OpMove, P1: r, P2: keyBase + i})
		}
		b.emit(vdbe.Instruction{Op: vdbe.OpSorterInsert, P1: groupSorter, P2: keyBase, P3: len(groupRegs), P4: keyBase, P5: byte(len(groupRegs))})

		for _, fnExpr := range aggCalls {
			if fnExpr.Distinct {
				return serr.Newf("compile", serr.KindCompile, "aggregate DISTINCT is not implemented by this compiler")
			}
			slot := aggSlotOf[fnExpr]
			fn, _ := b.c.Functions.LookupAggregate(fnExpr.Name, len(fnExpr.Args))
			var filterSkip int
			hasFilter := fnExpr.Filter != nil
			if hasFilter {
				fr, err := b.compileExpr(ec, fnExpr.Filter)
				if err != nil {
					return err
				}
				filterSkip = b.emit(vdbe.Instruction{Op: vdbe.OpIfFalse, P1: fr})
			}
			argRegs := make([]int, len(fnExpr.Args))
			for i, a := range fnExpr.Args {
				r, err := b.compileExpr(ec, a)
				if err != nil {
					return err
				}
				argRegs[i] = r
			}
			if fnExpr.Star {
				argRegs = []int{b.loadConst(value.Integer(1))}
			}
			argBase := b.allocRegs(len(argRegs))
			for i, r := range argRegs {
				b.emit(vdbe.Instruction{Op: vdbe.OpMove, P1: r, P2: argBase + i})
			}
			b.emit(vdbe.Instruction{Op: vdbe.OpAggStep,
				P1: argBase, P2: len(argRegs), P3: keyBase,
				P4: &vdbe.AggCall{Fn: fn, Slot: slot}, P5: byte(len(groupRegs))})
			if hasFilter {
				b.patchP2(filterSkip, b.here())
			}
		}
		return nil
	}); err != nil {
		return err
	}

	// second pass: one row per distinct group key, finalize aggregates,
	// evaluate HAVING/projection against them.
	b.emit(vdbe.Instruction{Op: vdbe.OpSorterSort, P1: groupSorter})
	loopStart := b.here()
	exitAddr := b.emit(vdbe.Instruction{Op: vdbe.OpSorterEof, P1: groupSorter})

	keyBase := b.allocRegs(len(groupRegs))
	b.emit(vdbe.Instruction{Op: vdbe.OpSorterData, P1: groupSorter, P2: keyBase, P3: len(groupRegs)})
	for i := range groupRegs {
		groupRegs[i] = keyBase + i
	}

	aggFinalReg := make(map[ast.Expr]int, len(aggCalls))
	for _, fnExpr := range aggCalls {
		slot := aggSlotOf[fnExpr]
		fn, _ := b.c.Functions.LookupAggregate(fnExpr.Name, len(fnExpr.Args))
		dest := b.allocReg()
		b.emit(vdbe.Instruction{Op: vdbe.OpAggFinal, P1: dest, P2: keyBase, P3: len(groupRegs),
			P4: &vdbe.AggCall{Fn: fn, Slot: slot}})
		aggFinalReg[fnExpr] = dest
	}

	aggEC := exprCtx{sc: sc, aggRegs: aggFinalReg}
	// a bare GROUP BY column reference in the projection resolves to
	// groupRegs positionally (it's no longer backed by a live source row
	// once we've moved to the per-group pass).
	groupExprReg := map[ast.Expr]int{}
	for i, g := range sel.GroupBy {
		groupExprReg[g] = groupRegs[i]
	}
	for e, r := range groupExprReg {
		aggEC.aggRegs[e] = r
	}

	havingSkip, hasHaving, err := b.emitFilterGuard(aggEC, sel.Having)
	if err != nil {
		return err
	}

	regs, err := b.projectRow(aggEC, sel.Columns, sc)
	if err != nil {
		return err
	}
	if err := out(regs); err != nil {
		return err
	}
	if hasHaving {
		b.patchP2(havingSkip, b.here())
	}
	b.emit(vdbe.Instruction{Op: vdbe.OpSorterNext, P1: groupSorter, P2: loopStart})
	b.patchP2(exitAddr, b.here())
	return nil
}

// collectAggregateCalls walks sel's SELECT list and HAVING clause
// collecting every aggregate FunctionExpr site in encounter order (used
// to assign each one a stable Slot for vdbe.AggCall).
func collectAggregateCalls(b *builder, sel *ast.SelectStmt) []*ast.FunctionExpr {
	var calls []*ast.FunctionExpr
	var walk func(e ast.Expr)
	walk = func(e ast.Expr) {
		if e == nil {
			return
		}
		if fn, ok := e.(*ast.FunctionExpr); ok {
			if _, ok := b.c.Functions.LookupAggregate(fn.Name, len(fn.Args)); ok && fn.Window == nil {
				calls = append(calls, fn)
				return
			}
			for _, a := range fn.Args {
				walk(a)
			}
			return
		}
		switch x := e.(type) {
		case *ast.BinaryExpr:
			walk(x.Left)
			walk(x.Right)
		case *ast.UnaryExpr:
			walk(x.X)
		case *ast.BetweenExpr:
			walk(x.X)
			walk(x.Low)
			walk(x.High)
		case *ast.InExpr:
			walk(x.X)
		case *ast.CastExpr:
			walk(x.X)
		case *ast.CollateExpr:
			walk(x.X)
		case *ast.CaseExpr:
			walk(x.Operand)
			for _, w := range x.Whens {
				walk(w.Cond)
				walk(w.Then)
			}
			walk(x.Else)
		}
	}
	for _, rc := range sel.Columns {
		walk(rc.Expr)
	}
	walk(sel.Having)
	return calls
}

// compoundArm is one member of a linearized UNION/UNION ALL/INTERSECT/
// EXCEPT chain; op names how this arm combines with everything before
// it (the first arm's op is unused, it's always the left-most source).
type compoundArm struct {
	op  ast.CompoundOp
	sel *ast.SelectStmt
}

// compileCompound compiles a UNION/UNION ALL/INTERSECT/EXCEPT chain by
// materializing every arm's rows into one shared sorter with an appended
// source-tag column, then scanning in sorted (fully-keyed, tag-last)
// order and applying each set operator's membership rule per distinct
// row group.
func (b *builder) compileCompound(sel *ast.SelectStmt, out rowSink) error {
	ncols, err := b.selectWidth(sel)
	if err != nil {
		return err
	}

	arms := []compoundArm{{sel: sel}}
	cur := sel
	for cur.Compound != nil {
		arms = append(arms, compoundArm{op: cur.Compound.Op, sel: cur.Compound.Right})
		cur = cur.Compound.Right
	}

	if allUnionAll(arms[1:]) {
		for _, a := range arms {
			base := a.sel
			if err := b.compileSelectCore(withoutCompound(base), out); err != nil {
				return err
			}
		}
		return nil
	}

	sorter := b.allocSorter(nil)
	for tag, a := range arms {
		core := withoutCompound(a.sel)
		if err := b.compileSelectCore(core, func(regs []int) error {
			keyBase := b.allocRegs(ncols + 1)
			for i, r := range regs {
				b.emit(vdbe.Instruction{Op: vdbe.OpMove, P1: r, P2: keyBase + i})
			}
			tagReg := b.loadConst(value.Integer(int64(tag)))
			b.emit(vdbe.Instruction{Op: vdbe.OpMove, P1: tagReg, P2: keyBase + ncols})
			b.emit(vdbe.Instruction{Op: vdbe.OpSorterInsert, P1: sorter, P2: keyBase, P3: ncols, P4: keyBase, P5: byte(ncols + 1)})
			return nil
		}); err != nil {
			return err
		}
	}

	return b.scanCompoundSorter(sorter, ncols, arms, out)
}

func allUnionAll(rest []compoundArm) bool {
	for _, a := range rest {
		if a.op != ast.CompoundUnionAll {
			return false
		}
	}
	return true
}

func withoutCompound(sel *ast.SelectStmt) *ast.SelectStmt {
	clone := *sel
	clone.Compound = nil
	return &clone
}

// scanCompoundSorter walks the tagged, fully-sorted rows (sorted by
// value columns only, so every row sharing a value-key is adjacent
// regardless of which arm produced it) and, for each maximal run of
// equal-key rows, records which arms contributed at least one row to
// that key before deciding whether the group survives: UNION/UNION ALL
// ORs an arm's presence in, INTERSECT ANDs it, EXCEPT ANDs in its
// absence. This has to operate on the whole group at once rather than
// row by row, since a single row only tells you about one arm, not
// whether the key was also produced (or excluded) by every other arm in
// the chain.
func (b *builder) scanCompoundSorter(sorter, ncols int, arms []compoundArm, out rowSink) error {
	nArms := len(arms)
	groupTag := make([]int, nArms)
	for i := range groupTag {
		groupTag[i] = b.allocReg()
	}
	prevKeyBase := b.allocRegs(ncols)
	first := b.allocReg()
	b.emit(vdbe.Instruction{Op: vdbe.OpLoadConst, P1: b.constant(value.Bool(true)), P2: first})

	resetGroup := func() {
		for _, r := range groupTag {
			b.emit(vdbe.Instruction{Op: vdbe.OpLoadConst, P1: b.constant(value.Bool(false)), P2: r})
		}
	}

	var finalizeErr error
	finalize := func() {
		emit := groupTag[0]
		for i := 1; i < nArms; i++ {
			switch arms[i].op {
			case ast.CompoundIntersect:
				nv := b.allocReg()
				b.emit(vdbe.Instruction{Op: vdbe.OpAnd, P1: emit, P2: groupTag[i], P3: nv})
				emit = nv
			case ast.CompoundExcept:
				nt := b.allocReg()
				b.emit(vdbe.Instruction{Op: vdbe.OpNot, P1: groupTag[i], P2: nt})
				nv := b.allocReg()
				b.emit(vdbe.Instruction{Op: vdbe.OpAnd, P1: emit, P2: nt, P3: nv})
				emit = nv
			default: // CompoundUnion, CompoundUnionAll
				nv := b.allocReg()
				b.emit(vdbe.Instruction{Op: vdbe.OpOr, P1: emit, P2: groupTag[i], P3: nv})
				emit = nv
			}
		}
		skip := b.emit(vdbe.Instruction{Op: vdbe.OpIfFalse, P1: emit})
		regs := make([]int, ncols)
		for i := range regs {
			regs[i] = prevKeyBase + i
		}
		if err := out(regs); err != nil {
			finalizeErr = err
		}
		b.patchP2(skip, b.here())
	}

	loopStart := b.here()
	exitAddr := b.emit(vdbe.Instruction{Op: vdbe.OpSorterEof, P1: sorter})
	rowBase := b.allocRegs(ncols + 1)
	b.emit(vdbe.Instruction{Op: vdbe.OpSorterData, P1: sorter, P2: rowBase, P3: ncols + 1})
	tagReg := rowBase + ncols

	same := b.allocReg()
	b.emit(vdbe.Instruction{Op: vdbe.OpLoadConst, P1: b.constant(value.Bool(true)), P2: same})
	for i := 0; i < ncols; i++ {
		eq := b.allocReg()
		b.emit(vdbe.Instruction{Op: vdbe.OpEq, P1: rowBase + i, P2: prevKeyBase + i, P3: eq})
		b.emit(vdbe.Instruction{Op: vdbe.OpAnd, P1: same, P2: eq, P3: same})
	}
	notFirst := b.allocReg()
	b.emit(vdbe.Instruction{Op: vdbe.OpNot, P1: first, P2: notFirst})
	b.emit(vdbe.Instruction{Op: vdbe.OpAnd, P1: same, P2: notFirst, P3: same})

	sameJump := b.emit(vdbe.Instruction{Op: vdbe.OpIfTrue, P1: same})
	skipFinalize := b.emit(vdbe.Instruction{Op: vdbe.OpIfTrue, P1: first})
	finalize()
	if finalizeErr != nil {
		return finalizeErr
	}
	b.patchP2(skipFinalize, b.here())
	resetGroup()
	for i := 0; i < ncols; i++ {
		b.emit(vdbe.Instruction{Op: vdbe.OpMove, P1: rowBase + i, P2: prevKeyBase + i})
	}
	b.emit(vdbe.Instruction{Op: vdbe.OpLoadConst, P1: b.constant(value.Bool(false)), P2: first})
	b.patchP2(sameJump, b.here())

	for i := 0; i < nArms; i++ {
		tagVal := b.loadConst(value.Integer(int64(i)))
		isTag := b.allocReg()
		b.emit(vdbe.Instruction{Op: vdbe.OpEq, P1: tagReg, P2: tagVal, P3: isTag})
		b.emit(vdbe.Instruction{Op: vdbe.OpOr, P1: groupTag[i], P2: isTag, P3: groupTag[i]})
	}

	b.emit(vdbe.Instruction{Op: vdbe.OpSorterNext, P1: sorter, P2: loopStart})
	b.patchP2(exitAddr, b.here())

	skipLast := b.emit(vdbe.Instruction{Op: vdbe.OpIfTrue, P1: first})
	finalize()
	if finalizeErr != nil {
		return finalizeErr
	}
	b.patchP2(skipLast, b.here())
	return nil
}

// materializeSubquery compiles sel once into a fresh ephemeral sorter
// and returns the tableRef a FROM clause, IN(subquery), EXISTS, or
// scalar subquery can scan/read from. Since the row order inside the
// sorter isn't meaningful until something sorts it (callers that need
// presentation order emit their own SorterSort first), this just needs
// to insert every projected row once.
func (b *builder) materializeSubquery(sel *ast.SelectStmt) (*tableRef, error) {
	if err := b.bindWith(sel); err != nil {
		return nil, err
	}
	defer b.popCTEFrameIfPushed(sel)

	names, err := b.resultColumnNames(sel)
	if err != nil {
		return nil, err
	}
	ncols := len(names)
	sorter := b.allocSorter(nil)

	if err := b.compileOrderedOutput(sel, func(regs []int) error {
		keyBase := b.allocRegs(ncols)
		for i, r := range regs {
			b.emit(vdbe.Instruction{Op: vdbe.OpMove, P1: r, P2: keyBase + i})
		}
		b.emit(vdbe.Instruction{Op: vdbe.OpSorterInsert, P1: sorter, P2: keyBase, P3: 0, P4: keyBase, P5: byte(ncols)})
		return nil
	}); err != nil {
		return nil, err
	}

	cols := make([]string, ncols)
	for i, n := range names {
		cols[i] = strings.ToLower(n)
	}
	tr := &tableRef{
		alias:     "",
		columns:   cols,
		ephemeral: true,
		sorter:    sorter,
		colBase:   b.allocRegs(ncols),
	}
	return tr, nil
}

// materializeRecursiveCTE evaluates a WITH RECURSIVE binding to a true
// fixed point using two ephemeral sorters ping-ponging the current
// round's frontier, plus one accumulator sorter holding every row
// produced so far (the tableRef other statements scan). cte.Query must
// be a two-armed compound (base-case UNION [ALL] recursive-term) whose
// recursive term's FROM references the CTE's own name as one source.
func (b *builder) materializeRecursiveCTE(cte ast.CTE) (*tableRef, error) {
	sel := cte.Query
	if sel.Compound == nil {
		return b.materializeSubquery(sel)
	}
	base := withoutCompound(sel)
	recursive := sel.Compound.Right

	names, err := b.resultColumnNames(base)
	if err != nil {
		return nil, err
	}
	ncols := len(names)

	accum := b.allocSorter(nil)
	frontA := b.allocSorter(nil)
	frontB := b.allocSorter(nil)

	insertInto := func(sorterIdx int, regs []int) {
		keyBase := b.allocRegs(ncols)
		for i, r := range regs {
			b.emit(vdbe.Instruction{Op: vdbe.OpMove, P1: r, P2: keyBase + i})
		}
		b.emit(vdbe.Instruction{Op: vdbe.OpSorterInsert, P1: sorterIdx, P2: keyBase, P3: 0, P4: keyBase, P5: byte(ncols)})
	}

	if err := b.compileSelectCore(base, func(regs []int) error {
		insertInto(accum, regs)
		insertInto(frontA, regs)
		return nil
	}); err != nil {
		return nil, err
	}

	selfRef := &tableRef{
		ephemeral: true,
		columns:   lowerAll(names),
		colBase:   b.allocRegs(ncols),
	}
	b.bindCTE(cte.Name, selfRef)

	anyInserted := b.allocReg()

	emitRound := func(frontierSorter, outSorter int) (int, error) {
		selfRef.sorter = frontierSorter
		b.emit(vdbe.Instruction{Op: vdbe.OpSorterClear, P1: outSorter})
		b.emit(vdbe.Instruction{Op: vdbe.OpLoadConst, P1: b.constant(value.Bool(false)), P2: anyInserted})

		if err := b.compileSelectCore(recursive, func(regs []int) error {
			insertInto(accum, regs)
			insertInto(outSorter, regs)
			b.emit(vdbe.Instruction{Op: vdbe.OpLoadConst, P1: b.constant(value.Bool(true)), P2: anyInserted})
			return nil
		}); err != nil {
			return 0, err
		}
		cont := b.emit(vdbe.Instruction{Op: vdbe.OpIfTrue, P1: anyInserted})
		return cont, nil
	}

	// Two rounds ping-pong, each picking up where the other's output
	// left off; whichever round last inserted a new row loops back to
	// the other round rather than falling through, so the fixed point
	// keeps expanding for as many rounds as it takes to go dry, not just
	// one ping-pong cycle.
	roundAStart := b.here()
	roundAJump, err := emitRound(frontA, frontB)
	if err != nil {
		return nil, err
	}
	roundBStart := b.here()
	roundBJump, err := emitRound(frontB, frontA)
	if err != nil {
		return nil, err
	}
	b.patchP2(roundAJump, roundBStart)
	b.patchP2(roundBJump, roundAStart)

	tr := &tableRef{
		alias:     strings.ToLower(cte.Name),
		columns:   lowerAll(names),
		ephemeral: true,
		sorter:    accum,
		colBase:   b.allocRegs(ncols),
	}
	return tr, nil
}

func lowerAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToLower(s)
	}
	return out
}
