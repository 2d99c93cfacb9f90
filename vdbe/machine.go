package vdbe

import (
	"context"
	"errors"

	"github.com/Digithought/quereus-sub003/logging"
	"github.com/Digithought/quereus-sub003/serr"
	"github.com/Digithought/quereus-sub003/value"
	"github.com/Digithought/quereus-sub003/vtab"
	"github.com/google/uuid"
)

// CursorBinding tells the machine which virtual table a given cursor
// slot reads or writes; the compiler fills this in at compile time from
// the schema registry, one entry per distinct table reference.
type CursorBinding struct {
	Table vtab.VirtualTable
}

type cursorState struct {
	binding CursorBinding
	cursor  vtab.VirtualCursor
	open    bool
}

type sorterState struct {
	rows []sorterRow
	pos  int
	desc []bool
}

type sorterRow struct {
	key []value.Value
	row []value.Value
}

type frameMark struct {
	savedFramePtr int
	savedLen      int
}

// Machine executes one compiled Program. It is not safe for concurrent
// use; the statement façade creates one Machine per prepared statement.
type Machine struct {
	Program *Program
	ID      uuid.UUID
	logger  logging.L

	registers []value.Value
	framePtr  int
	frames    []frameMark
	calls     []int // return PCs for Subroutine/Return

	pc       int
	halted   bool
	params   []value.Value
	cursors  []cursorState
	sorters  []*sorterState
	aggs     map[string]*aggState

	collation value.Collation

	resultRow []value.Value
	err       error
}

// NewMachine constructs a Machine ready to run p with the given bound
// parameter values (1-based index 1..ParamCount).
func NewMachine(p *Program, params []value.Value, cursorBindings []CursorBinding, collation value.Collation, logger logging.L) *Machine {
	logger = logging.Default(logger)
	if collation == nil {
		collation = value.Binary
	}
	m := &Machine{
		Program:   p,
		ID:        uuid.New(),
		logger:    logger,
		registers: make([]value.Value, p.FrameSize),
		params:    params,
		collation: collation,
		aggs:      make(map[string]*aggState),
	}
	m.cursors = make([]cursorState, len(cursorBindings))
	for i, b := range cursorBindings {
		m.cursors[i] = cursorState{binding: b}
	}
	for i := range m.registers {
		m.registers[i] = value.Null
	}
	return m
}

// Reset rewinds the machine to run the same program again (Statement.Reset).
func (m *Machine) Reset(params []value.Value) {
	m.registers = make([]value.Value, m.Program.FrameSize)
	for i := range m.registers {
		m.registers[i] = value.Null
	}
	m.framePtr = 0
	m.frames = nil
	m.calls = nil
	m.pc = 0
	m.halted = false
	m.params = params
	m.resultRow = nil
	m.err = nil
	m.aggs = make(map[string]*aggState)
	for i := range m.cursors {
		m.cursors[i].cursor = nil
		m.cursors[i].open = false
	}
	m.sorters = nil
}

// Close closes every still-open cursor, implementing the "reset/finalize
// closes all cursors" contract the statement façade relies on; errors
// from individual cursors are joined rather than stopping at the first.
func (m *Machine) Close(ctx context.Context) error {
	var errs []error
	for i := range m.cursors {
		cs := &m.cursors[i]
		if cs.cursor != nil {
			if err := cs.cursor.Close(ctx); err != nil {
				errs = append(errs, err)
			}
			cs.cursor = nil
			cs.open = false
		}
	}
	return errors.Join(errs...)
}

// Row returns the most recent ResultRow's values.
func (m *Machine) Row() []value.Value { return m.resultRow }

// Halted reports whether the program has run to completion.
func (m *Machine) Halted() bool { return m.halted }

func (m *Machine) reg(i int) value.Value {
	idx := m.framePtr + i
	if idx < 0 || idx >= len(m.registers) {
		return value.Null
	}
	return m.registers[idx]
}

func (m *Machine) setReg(i int, v value.Value) {
	idx := m.framePtr + i
	for idx >= len(m.registers) {
		m.registers = append(m.registers, value.Null)
	}
	if idx < 0 {
		return
	}
	m.registers[idx] = v
}

func (m *Machine) constant(i int) value.Value {
	if i < 0 || i >= len(m.Program.Constants) {
		return value.Null
	}
	v, _ := m.Program.Constants[i].(value.Value)
	return v
}

func (m *Machine) param(i int) value.Value {
	if i < 1 || i > len(m.params) {
		return value.Null
	}
	return m.params[i-1]
}

// Run executes instructions until the program halts or emits a result
// row, implementing the suspend/resume model the statement façade's
// Step drives: each call to Run picks up exactly where the previous one
// left off.
func (m *Machine) Run(ctx context.Context) (hasRow bool, err error) {
	if m.halted {
		return false, nil
	}
	for {
		if m.pc < 0 || m.pc >= len(m.Program.Instructions) {
			m.halted = true
			return false, nil
		}
		instr := m.Program.Instructions[m.pc]
		advance, hasRow, err := m.step(ctx, instr)
		if err != nil {
			m.halted = true
			m.err = err
			return false, err
		}
		if hasRow {
			m.pc += advance
			return true, nil
		}
		if m.halted {
			return false, nil
		}
		m.pc += advance
	}
}

// step executes one instruction, returning the pc delta to apply
// (instructions that jump set pc themselves and return delta 0).
func (m *Machine) step(ctx context.Context, instr Instruction) (delta int, hasRow bool, err error) {
	switch instr.Op {
	case OpNoop:
		return 1, false, nil
	case OpGoto:
		m.pc = instr.P1
		return 0, false, nil
	case OpIfTrue:
		if value.IsTrue(m.reg(instr.P1)) {
			m.pc = instr.P2
			return 0, false, nil
		}
		return 1, false, nil
	case OpIfFalse:
		if !value.IsTrue(m.reg(instr.P1)) {
			m.pc = instr.P2
			return 0, false, nil
		}
		return 1, false, nil
	case OpHalt:
		m.halted = true
		return 0, false, nil

	case OpFrameEnter:
		m.frames = append(m.frames, frameMark{savedFramePtr: m.framePtr, savedLen: len(m.registers)})
		m.framePtr = len(m.registers)
		for i := 0; i < instr.P1; i++ {
			m.registers = append(m.registers, value.Null)
		}
		return 1, false, nil
	case OpFrameLeave:
		if len(m.frames) == 0 {
			return 0, false, serr.Newf("vdbe", serr.KindInternal, "FrameLeave with no matching FrameEnter")
		}
		f := m.frames[len(m.frames)-1]
		m.frames = m.frames[:len(m.frames)-1]
		m.registers = m.registers[:f.savedLen]
		m.framePtr = f.savedFramePtr
		return 1, false, nil
	case OpSubroutine:
		m.calls = append(m.calls, m.pc+1)
		m.pc = instr.P1
		return 0, false, nil
	case OpReturn:
		if len(m.calls) == 0 {
			return 0, false, serr.Newf("vdbe", serr.KindInternal, "Return with no matching Subroutine call")
		}
		ret := m.calls[len(m.calls)-1]
		m.calls = m.calls[:len(m.calls)-1]
		m.pc = ret
		return 0, false, nil
	case OpPush:
		m.registers = append(m.registers, m.reg(instr.P1))
		return 1, false, nil
	case OpStackPop:
		if len(m.registers) > 0 {
			m.registers = m.registers[:len(m.registers)-1]
		}
		return 1, false, nil

	case OpLoadConst:
		m.setReg(instr.P2, m.constant(instr.P1))
		return 1, false, nil
	case OpLoadNull:
		m.setReg(instr.P1, value.Null)
		return 1, false, nil
	case OpLoadParam:
		m.setReg(instr.P2, m.param(instr.P1))
		return 1, false, nil
	case OpMove, OpCopy:
		m.setReg(instr.P2, m.reg(instr.P1))
		return 1, false, nil

	case OpAnd, OpOr, OpEq, OpNe, OpLt, OpLe, OpGt, OpGe,
		OpAdd, OpSub, OpMul, OpDiv, OpMod, OpConcat,
		OpBitAnd, OpBitOr, OpShl, OpShr:
		return 1, false, m.binaryOp(instr)
	case OpNot:
		m.setReg(instr.P2, value.Bool(!value.IsTrue(m.reg(instr.P1))))
		return 1, false, nil
	case OpNeg:
		return 1, false, m.negOp(instr)
	case OpBitNot:
		return 1, false, m.bitNotOp(instr)
	case OpIsNullOp:
		m.setReg(instr.P2, value.Bool(m.reg(instr.P1).IsNull()))
		return 1, false, nil
	case OpIsNotNullOp:
		m.setReg(instr.P2, value.Bool(!m.reg(instr.P1).IsNull()))
		return 1, false, nil
	case OpCast:
		return 1, false, m.castOp(instr)
	case OpCollate:
		// collation is a compile-time binding in this implementation
		// (it selects the Collation func used by later comparisons in
		// the same expression tree); at runtime it is a pass-through copy.
		m.setReg(instr.P2, m.reg(instr.P1))
		return 1, false, nil

	case OpFunction:
		return 1, false, m.functionOp(ctx, instr)
	case OpAggStep:
		return 1, false, m.aggStepOp(ctx, instr)
	case OpAggFinal:
		return 1, false, m.aggFinalOp(ctx, instr)
	case OpAggReset:
		m.aggs = make(map[string]*aggState)
		return 1, false, nil

	case OpOpenRead, OpOpenWrite:
		return 1, false, m.openOp(ctx, instr)
	case OpVFilter:
		return 1, false, m.vFilterOp(ctx, instr)
	case OpVNext:
		return 1, false, m.vNextOp(ctx, instr)
	case OpVColumn:
		return 1, false, m.vColumnOp(ctx, instr)
	case OpVRowID:
		return 1, false, m.vRowIDOp(ctx, instr)
	case OpVUpdate:
		return 1, false, m.vUpdateOp(ctx, instr)
	case OpClose:
		return 1, false, m.closeOp(ctx, instr)
	case OpRewind:
		return m.rewindOp(instr)

	case OpSorterOpen:
		st := &sorterState{}
		if spec, ok := instr.P4.(SorterOpenSpec); ok {
			st.desc = spec.Desc
		}
		m.sorters = append(m.sorters, st)
		return 1, false, nil
	case OpSorterInsert:
		return 1, false, m.sorterInsertOp(instr)
	case OpSorterSort:
		return 1, false, m.sorterSortOp(instr)
	case OpSorterNext:
		return 1, false, m.sorterNextOp(instr)
	case OpSorterData:
		return 1, false, m.sorterDataOp(instr)
	case OpSorterEof:
		return m.sorterEofOp(instr)
	case OpSorterClear:
		return 1, false, m.sorterClearOp(instr)

	case OpResultRow:
		m.loadResultRow(instr)
		return 1, true, nil

	case OpVBegin, OpVCommit, OpVRollback, OpVSavepoint, OpVRelease, OpVRollbackTo:
		return 1, false, m.txnOp(ctx, instr)
	case OpSchemaInvalidate, OpSchemaChange:
		return 1, false, nil

	default:
		return 0, false, serr.Newf("vdbe", serr.KindInternal, "unimplemented opcode %s", instr.Op)
	}
}

func (m *Machine) loadResultRow(instr Instruction) {
	n := instr.P2
	row := make([]value.Value, n)
	for i := 0; i < n; i++ {
		row[i] = m.reg(instr.P1 + i)
	}
	m.resultRow = row
}
