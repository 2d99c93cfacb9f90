package vdbe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Digithought/quereus-sub003/serr"
	"github.com/Digithought/quereus-sub003/value"
	"github.com/Digithought/quereus-sub003/vtab"
)

// binaryOp evaluates an arithmetic/logic/text binary instruction:
// P1=left register, P2=right register, P3=destination register.
// Arithmetic and comparison propagate NULL per spec §4.1's three-valued
// logic: if either operand is NULL, the result is NULL (logic AND/OR
// follow the SQL short-circuit NULL rules instead, handled below).
func (m *Machine) binaryOp(instr Instruction) error {
	left, right := m.reg(instr.P1), m.reg(instr.P2)

	switch instr.Op {
	case OpAnd:
		m.setReg(instr.P3, andThreeVL(left, right))
		return nil
	case OpOr:
		m.setReg(instr.P3, orThreeVL(left, right))
		return nil
	}

	if left.IsNull() || right.IsNull() {
		m.setReg(instr.P3, value.Null)
		return nil
	}

	switch instr.Op {
	case OpEq:
		m.setReg(instr.P3, value.Bool(value.Compare(left, right, m.collation) == value.Equal))
	case OpNe:
		m.setReg(instr.P3, value.Bool(value.Compare(left, right, m.collation) != value.Equal))
	case OpLt:
		m.setReg(instr.P3, value.Bool(value.Compare(left, right, m.collation) == value.Less))
	case OpLe:
		m.setReg(instr.P3, value.Bool(value.Compare(left, right, m.collation) != value.Greater))
	case OpGt:
		m.setReg(instr.P3, value.Bool(value.Compare(left, right, m.collation) == value.Greater))
	case OpGe:
		m.setReg(instr.P3, value.Bool(value.Compare(left, right, m.collation) != value.Less))
	case OpConcat:
		m.setReg(instr.P3, value.Text(left.String()+right.String()))
	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		return m.arith(instr.Op, left, right, instr.P3)
	case OpBitAnd, OpBitOr, OpShl, OpShr:
		return m.bitwise(instr.Op, left, right, instr.P3)
	default:
		return serr.Newf("vdbe", serr.KindInternal, "not a binary opcode: %s", instr.Op)
	}
	return nil
}

// andThreeVL/orThreeVL implement SQL's three-valued AND/OR: FALSE
// short-circuits AND to FALSE even with a NULL operand, and TRUE
// short-circuits OR to TRUE even with a NULL operand; otherwise any
// NULL operand makes the result NULL.
func andThreeVL(a, b value.Value) value.Value {
	if (!a.IsNull() && !value.IsTrue(a)) || (!b.IsNull() && !value.IsTrue(b)) {
		return value.Bool(false)
	}
	if a.IsNull() || b.IsNull() {
		return value.Null
	}
	return value.Bool(true)
}

func orThreeVL(a, b value.Value) value.Value {
	if (!a.IsNull() && value.IsTrue(a)) || (!b.IsNull() && value.IsTrue(b)) {
		return value.Bool(true)
	}
	if a.IsNull() || b.IsNull() {
		return value.Null
	}
	return value.Bool(false)
}

func (m *Machine) arith(op Opcode, left, right value.Value, dest int) error {
	bothInt := (left.Type() == value.TypeInteger || left.Type() == value.TypeBool) &&
		(right.Type() == value.TypeInteger || right.Type() == value.TypeBool)
	if bothInt && op != OpDiv {
		li, ri := left.Int64(), right.Int64()
		switch op {
		case OpAdd:
			m.setReg(dest, value.Integer(li+ri))
		case OpSub:
			m.setReg(dest, value.Integer(li-ri))
		case OpMul:
			m.setReg(dest, value.Integer(li*ri))
		case OpMod:
			if ri == 0 {
				m.setReg(dest, value.Null)
				return nil
			}
			m.setReg(dest, value.Integer(li%ri))
		}
		return nil
	}
	lf, rf := toFloat(left), toFloat(right)
	switch op {
	case OpAdd:
		m.setReg(dest, value.Real(lf+rf))
	case OpSub:
		m.setReg(dest, value.Real(lf-rf))
	case OpMul:
		m.setReg(dest, value.Real(lf*rf))
	case OpDiv:
		if rf == 0 {
			m.setReg(dest, value.Null)
			return nil
		}
		m.setReg(dest, value.Real(lf/rf))
	case OpMod:
		if rf == 0 {
			m.setReg(dest, value.Null)
			return nil
		}
		m.setReg(dest, value.Real(math.Mod(lf, rf)))
	}
	return nil
}

func toFloat(v value.Value) float64 {
	switch v.Type() {
	case value.TypeInteger, value.TypeBool:
		return float64(v.Int64())
	case value.TypeReal:
		return v.Float64()
	default:
		return 0
	}
}

func (m *Machine) bitwise(op Opcode, left, right value.Value, dest int) error {
	li, ri := left.Int64(), right.Int64()
	switch op {
	case OpBitAnd:
		m.setReg(dest, value.Integer(li&ri))
	case OpBitOr:
		m.setReg(dest, value.Integer(li|ri))
	case OpShl:
		m.setReg(dest, value.Integer(li<<uint(ri)))
	case OpShr:
		m.setReg(dest, value.Integer(li>>uint(ri)))
	}
	return nil
}

func (m *Machine) negOp(instr Instruction) error {
	v := m.reg(instr.P1)
	switch v.Type() {
	case value.TypeInteger:
		m.setReg(instr.P2, value.Integer(-v.Int64()))
	case value.TypeReal:
		m.setReg(instr.P2, value.Real(-v.Float64()))
	case value.TypeNull:
		m.setReg(instr.P2, value.Null)
	default:
		m.setReg(instr.P2, value.Real(-toFloat(v)))
	}
	return nil
}

func (m *Machine) bitNotOp(instr Instruction) error {
	v := m.reg(instr.P1)
	if v.IsNull() {
		m.setReg(instr.P2, value.Null)
		return nil
	}
	m.setReg(instr.P2, value.Integer(^v.Int64()))
	return nil
}

func (m *Machine) castOp(instr Instruction) error {
	v := m.reg(instr.P1)
	typeName, _ := instr.P4.(string)
	aff := value.AffinityFromTypeName(typeName)
	m.setReg(instr.P2, value.ApplyAffinity(v, aff))
	return nil
}

// ScalarFunc is the Go function a compiled OpFunction instruction
// invokes; the functions package registers builtins of this shape and
// the compiler resolves them by name at compile time.
type ScalarFunc func(ctx context.Context, args []value.Value) (value.Value, error)

func (m *Machine) functionOp(ctx context.Context, instr Instruction) error {
	fn, ok := instr.P4.(ScalarFunc)
	if !ok {
		return serr.Newf("vdbe", serr.KindInternal, "OpFunction P4 is not a ScalarFunc")
	}
	argStart, argCount := instr.P1, instr.P2
	args := make([]value.Value, argCount)
	for i := 0; i < argCount; i++ {
		args[i] = m.reg(argStart + i)
	}
	result, err := fn(ctx, args)
	if err != nil {
		return err
	}
	m.setReg(instr.P3, result)
	return nil
}

// AggFunc is the Step/Final pair behind an aggregate or window function
// (functions package provides these; vdbe only ever calls through them).
// Inverse is non-nil only for window-capable aggregates (e.g. sum/count/
// avg) that can remove a row leaving the frame rather than recompute it;
// nil means the compiler must fall back to a full frame recompute.
type AggFunc struct {
	Init    func() any
	Step    func(acc any, args []value.Value) (any, error)
	Final   func(acc any) (value.Value, error)
	Inverse func(acc any, args []value.Value) (any, error)
}

// AggCall is OpAggStep/OpAggFinal's P4 payload: the function plus a
// compiler-assigned slot distinguishing this call site from any other
// aggregate call sharing the same group-by values (e.g. two aggregate
// expressions, SUM(x) and COUNT(*), in the same query would otherwise
// collide on an identical group key).
type AggCall struct {
	Fn   *AggFunc
	Slot int
}

type aggState struct {
	fn  *AggFunc
	acc any
}

func aggGroupKey(slot int, vals []value.Value) string {
	var sb strings.Builder
	for _, v := range vals {
		sb.WriteByte(byte(v.Type()))
		sb.WriteString(v.String())
		sb.WriteByte('|')
	}
	return fmt.Sprintf("%d:%s", slot, sb.String())
}

// aggStepOp accumulates one row into the aggregate bound to the group
// key formed from P3..P3+groupKeyCount-1 (groupKeyCount in P5); P1/P2
// is the argument register range and P4 the AggCall.
func (m *Machine) aggStepOp(ctx context.Context, instr Instruction) error {
	call, ok := instr.P4.(*AggCall)
	if !ok {
		return serr.Newf("vdbe", serr.KindInternal, "OpAggStep P4 is not an AggCall")
	}
	groupKeyCount := int(instr.P5)
	groupVals := make([]value.Value, groupKeyCount)
	for i := 0; i < groupKeyCount; i++ {
		groupVals[i] = m.reg(instr.P3 + i)
	}
	key := aggGroupKey(call.Slot, groupVals)

	st, ok := m.aggs[key]
	if !ok {
		st = &aggState{fn: call.Fn, acc: call.Fn.Init()}
		m.aggs[key] = st
	}

	argStart, argCount := instr.P1, instr.P2
	args := make([]value.Value, argCount)
	for i := 0; i < argCount; i++ {
		args[i] = m.reg(argStart + i)
	}
	acc, err := call.Fn.Step(st.acc, args)
	if err != nil {
		return err
	}
	st.acc = acc
	return nil
}

// aggFinalOp finalizes the aggregate for the group key in
// P2..P2+P3-1, writing the result to P1.
func (m *Machine) aggFinalOp(ctx context.Context, instr Instruction) error {
	call, ok := instr.P4.(*AggCall)
	if !ok {
		return serr.Newf("vdbe", serr.KindInternal, "OpAggFinal P4 is not an AggCall")
	}
	groupKeyCount := instr.P3
	groupVals := make([]value.Value, groupKeyCount)
	for i := 0; i < groupKeyCount; i++ {
		groupVals[i] = m.reg(instr.P2 + i)
	}
	key := aggGroupKey(call.Slot, groupVals)
	st, ok := m.aggs[key]
	if !ok {
		st = &aggState{fn: call.Fn, acc: call.Fn.Init()}
	}
	result, err := call.Fn.Final(st.acc)
	if err != nil {
		return err
	}
	m.setReg(instr.P1, result)
	return nil
}

func (m *Machine) openOp(ctx context.Context, instr Instruction) error {
	idx := instr.P1
	if idx < 0 || idx >= len(m.cursors) {
		return serr.Newf("vdbe", serr.KindInternal, "cursor index %d out of range", idx)
	}
	c, err := m.cursors[idx].binding.Table.Open(ctx)
	if err != nil {
		return err
	}
	m.cursors[idx].cursor = c
	m.cursors[idx].open = true
	return nil
}

func (m *Machine) vFilterOp(ctx context.Context, instr Instruction) error {
	cs := &m.cursors[instr.P1]
	idxStr, _ := instr.P4.(string)
	argCount := int(instr.P5)
	args := make([]value.Value, argCount)
	for i := 0; i < argCount; i++ {
		args[i] = m.reg(instr.P3 + i)
	}
	return cs.cursor.Filter(ctx, instr.P2, idxStr, args)
}

// rewindOp tests the cursor's current Eof state right after Filter and
// jumps to P2 (the loop's exit address) if there is nothing to scan;
// otherwise execution falls into the loop body.
func (m *Machine) rewindOp(instr Instruction) (int, bool, error) {
	cs := &m.cursors[instr.P1]
	if cs.cursor.Eof() {
		m.pc = instr.P2
		return 0, false, nil
	}
	return 1, false, nil
}

// vNextOp advances the cursor and jumps back to the loop body start
// (P2) if a row remains, falling through to exit the loop at Eof.
func (m *Machine) vNextOp(ctx context.Context, instr Instruction) error {
	cs := &m.cursors[instr.P1]
	if err := cs.cursor.Next(ctx); err != nil {
		return err
	}
	if !cs.cursor.Eof() {
		m.pc = instr.P2 - 1 // step() adds 1 after this returns
	}
	return nil
}

func (m *Machine) vColumnOp(ctx context.Context, instr Instruction) error {
	cs := &m.cursors[instr.P1]
	v, err := cs.cursor.Column(ctx, instr.P2)
	if err != nil {
		return err
	}
	m.setReg(instr.P3, v)
	return nil
}

func (m *Machine) vRowIDOp(ctx context.Context, instr Instruction) error {
	cs := &m.cursors[instr.P1]
	id, err := cs.cursor.RowID(ctx)
	if err != nil {
		return err
	}
	m.setReg(instr.P2, value.Integer(id))
	return nil
}

// VUpdateSpec is OpVUpdate's P4 payload: the new-values column count and,
// optionally, a register to receive the rowid Update reports back (the
// assigned rowid on insert, unchanged on update) so a RETURNING clause
// or an AUTOINCREMENT read-back can see it; ResultReg < 0 means unused.
type VUpdateSpec struct {
	ColumnCount int
	ResultReg   int
}

// vUpdateOp implements INSERT/UPDATE/DELETE via the table's single
// Update calling convention (spec §4.3): P1=cursor index, P2=register
// holding the old rowid (or -1 if none/insert), P3=register range start
// for new column values (or -1 if this is a delete), P4=*VUpdateSpec,
// P5=ConflictPolicy.
func (m *Machine) vUpdateOp(ctx context.Context, instr Instruction) error {
	cs := &m.cursors[instr.P1]
	wt, ok := cs.binding.Table.(vtab.WriteableVirtualTable)
	if !ok {
		return serr.Newf("update", serr.KindReadonly, "table does not support writes")
	}
	var oldRowID *int64
	if instr.P2 >= 0 {
		id := m.reg(instr.P2).Int64()
		oldRowID = &id
	}
	spec, _ := instr.P4.(*VUpdateSpec)
	var newValues []value.Value
	if instr.P3 >= 0 && spec != nil {
		newValues = make([]value.Value, spec.ColumnCount)
		for i := 0; i < spec.ColumnCount; i++ {
			newValues[i] = m.reg(instr.P3 + i)
		}
	}
	updateCtx := vtab.WithConflictPolicy(ctx, vtab.ConflictPolicy(instr.P5))
	newRowID, err := wt.Update(updateCtx, oldRowID, newValues)
	if err != nil {
		if errors.Is(err, vtab.ErrIgnored) {
			if spec != nil && spec.ResultReg >= 0 {
				m.setReg(spec.ResultReg, value.Null)
			}
			return nil
		}
		return err
	}
	if spec != nil && spec.ResultReg >= 0 {
		m.setReg(spec.ResultReg, value.Integer(newRowID))
	}
	return nil
}

func (m *Machine) closeOp(ctx context.Context, instr Instruction) error {
	cs := &m.cursors[instr.P1]
	if cs.cursor != nil {
		err := cs.cursor.Close(ctx)
		cs.cursor = nil
		cs.open = false
		return err
	}
	return nil
}

// sorterInsertOp appends one row to the ephemeral sorter used for an
// ORDER BY (or GROUP BY/window partition) the scanned table's BestIndex
// didn't report as consumed: P1=sorter index, P2=key register start,
// P3=key count, P4=row register start, P5=row value count. The sort
// directions come from the sorter's OpSorterOpen P4 ([]bool, one per
// key column).
func (m *Machine) sorterInsertOp(instr Instruction) error {
	if instr.P1 < 0 || instr.P1 >= len(m.sorters) {
		return serr.Newf("vdbe", serr.KindInternal, "sorter index %d out of range", instr.P1)
	}
	s := m.sorters[instr.P1]
	key := make([]value.Value, instr.P3)
	for i := 0; i < instr.P3; i++ {
		key[i] = m.reg(instr.P2 + i)
	}
	rowStart, _ := instr.P4.(int)
	rowCount := int(instr.P5)
	row := make([]value.Value, rowCount)
	for i := 0; i < rowCount; i++ {
		row[i] = m.reg(rowStart + i)
	}
	s.rows = append(s.rows, sorterRow{key: key, row: row})
	return nil
}

// SorterOpenSpec is OpSorterOpen's P4 payload: sort direction per key
// column. A nil/empty Desc sorts every key column ascending.
type SorterOpenSpec struct {
	Desc []bool
}

// sorterClearOp empties a sorter in place without reassigning its slot,
// so a runtime loop (recursive CTE fixed-point expansion) can reuse the
// same sorter index across rounds instead of growing a fresh one each
// time OpSorterOpen would otherwise append.
func (m *Machine) sorterClearOp(instr Instruction) error {
	if instr.P1 < 0 || instr.P1 >= len(m.sorters) {
		return serr.Newf("vdbe", serr.KindInternal, "sorter index %d out of range", instr.P1)
	}
	s := m.sorters[instr.P1]
	s.rows = s.rows[:0]
	s.pos = 0
	return nil
}

func (m *Machine) sorterSortOp(instr Instruction) error {
	if instr.P1 < 0 || instr.P1 >= len(m.sorters) {
		return serr.Newf("vdbe", serr.KindInternal, "sorter index %d out of range", instr.P1)
	}
	s := m.sorters[instr.P1]
	collation := m.collation
	sort.SliceStable(s.rows, func(i, j int) bool {
		a, b := s.rows[i].key, s.rows[j].key
		for k := 0; k < len(a) && k < len(b); k++ {
			c := value.Compare(a[k], b[k], collation)
			if c == value.Equal {
				continue
			}
			desc := k < len(s.desc) && s.desc[k]
			if desc {
				return c == value.Greater
			}
			return c == value.Less
		}
		return false
	})
	s.pos = 0
	return nil
}

// sorterEofOp jumps to P2 when the sorter is exhausted, mirroring
// rewindOp's role for a cursor scan.
func (m *Machine) sorterEofOp(instr Instruction) (int, bool, error) {
	if instr.P1 < 0 || instr.P1 >= len(m.sorters) {
		return 0, false, serr.Newf("vdbe", serr.KindInternal, "sorter index %d out of range", instr.P1)
	}
	s := m.sorters[instr.P1]
	if s.pos >= len(s.rows) {
		m.pc = instr.P2
		return 0, false, nil
	}
	return 1, false, nil
}

// sorterNextOp advances the sorter's cursor and jumps back to the loop
// body start (P2) if a row remains, mirroring vNextOp.
func (m *Machine) sorterNextOp(instr Instruction) error {
	if instr.P1 < 0 || instr.P1 >= len(m.sorters) {
		return serr.Newf("vdbe", serr.KindInternal, "sorter index %d out of range", instr.P1)
	}
	s := m.sorters[instr.P1]
	s.pos++
	if s.pos < len(s.rows) {
		m.pc = instr.P2 - 1 // step() adds 1 after this returns
	}
	return nil
}

// sorterDataOp copies the current sorted row into P2..P2+P3-1.
func (m *Machine) sorterDataOp(instr Instruction) error {
	if instr.P1 < 0 || instr.P1 >= len(m.sorters) {
		return serr.Newf("vdbe", serr.KindInternal, "sorter index %d out of range", instr.P1)
	}
	s := m.sorters[instr.P1]
	if s.pos >= len(s.rows) {
		return serr.Newf("vdbe", serr.KindInternal, "SorterData called past end of sorter")
	}
	row := s.rows[s.pos].row
	for i, v := range row {
		m.setReg(instr.P2+i, v)
	}
	return nil
}

func (m *Machine) txnOp(ctx context.Context, instr Instruction) error {
	cs := &m.cursors[instr.P1]
	txr, ok := cs.binding.Table.(vtab.Transactional)
	if !ok {
		return nil
	}
	switch instr.Op {
	case OpVBegin:
		return txr.Begin(ctx)
	case OpVCommit:
		return txr.Commit(ctx)
	case OpVRollback:
		return txr.Rollback(ctx)
	case OpVSavepoint, OpVRelease, OpVRollbackTo:
		tp, ok := txr.(vtab.TwoPhaseCommitter)
		if !ok {
			return nil
		}
		switch instr.Op {
		case OpVSavepoint:
			return tp.Savepoint(ctx, instr.P2)
		case OpVRelease:
			return tp.Release(ctx, instr.P2)
		case OpVRollbackTo:
			return tp.RollbackTo(ctx, instr.P2)
		}
	}
	return nil
}
