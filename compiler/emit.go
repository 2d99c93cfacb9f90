package compiler

import (
	"fmt"
	"strings"

	"github.com/Digithought/quereus-sub003/value"
	"github.com/Digithought/quereus-sub003/vdbe"
)

// builder accumulates one compiled Program: the instruction stream,
// constant pool, and every allocator (register, cursor, sorter) a
// statement's codegen draws from. One builder compiles exactly one
// top-level statement; nested SELECTs (subqueries, CTEs) share the same
// builder so cursor and register numbering stays program-global, per
// spec §4.6's "cursor allocation is program-global" rule.
type builder struct {
	c   *Compiler
	sql string

	instr     []vdbe.Instruction
	constants []any
	constIdx  map[string]int

	cursorN  int
	bindings []vdbe.CursorBinding

	sorterN int

	nextReg int

	paramNames map[string]int
	paramCount int

	colNames []string
	readOnly bool

	// ctes stacks the WITH-bindings visible at the current nesting
	// level; compileWith pushes one frame per SELECT that carries a
	// WITH clause and pops it once that SELECT (and everything nested
	// inside it) is compiled, so a CTE's name resolves inside its own
	// statement and any subquery nested within it, but not past it.
	ctes []map[string]*tableRef
}

// lookupCTE searches the cte stack innermost-first.
func (b *builder) lookupCTE(name string) *tableRef {
	name = strings.ToLower(name)
	for i := len(b.ctes) - 1; i >= 0; i-- {
		if tr, ok := b.ctes[i][name]; ok {
			return tr
		}
	}
	return nil
}

func (b *builder) pushCTEFrame() { b.ctes = append(b.ctes, map[string]*tableRef{}) }
func (b *builder) popCTEFrame()  { b.ctes = b.ctes[:len(b.ctes)-1] }
func (b *builder) bindCTE(name string, tr *tableRef) {
	b.ctes[len(b.ctes)-1][strings.ToLower(name)] = tr
}

func newBuilder(c *Compiler, sql string) *builder {
	return &builder{
		c:          c,
		sql:        sql,
		constIdx:   map[string]int{},
		paramNames: map[string]int{},
		readOnly:   true,
	}
}

func (b *builder) program() *vdbe.Program {
	return &vdbe.Program{
		Instructions: b.instr,
		Constants:    b.constants,
		ParamNames:   b.paramNames,
		ParamCount:   b.paramCount,
		ColumnNames:  b.colNames,
		CursorCount:  b.cursorN,
		FrameSize:    b.nextReg,
		ReadOnly:     b.readOnly,
		SQL:          b.sql,
	}
}

// emit appends an instruction and returns its address.
func (b *builder) emit(i vdbe.Instruction) int {
	b.instr = append(b.instr, i)
	return len(b.instr) - 1
}

// here returns the address the next emit call will land at.
func (b *builder) here() int { return len(b.instr) }

// patchP2 backfills a forward jump target once it's known (the usual
// case: Rewind/SorterEof's loop-exit address, IfTrue/IfFalse's skip
// target — those all read their jump target from P2).
func (b *builder) patchP2(addr, target int) { b.instr[addr].P2 = target }

// patchP1 backfills an OpGoto's target, which (unlike the conditional
// jumps) reads P1.
func (b *builder) patchP1(addr, target int) { b.instr[addr].P1 = target }

func (b *builder) allocReg() int {
	r := b.nextReg
	b.nextReg++
	return r
}

func (b *builder) allocRegs(n int) int {
	base := b.nextReg
	b.nextReg += n
	return base
}

func (b *builder) allocCursor(binding vdbe.CursorBinding) int {
	idx := b.cursorN
	b.cursorN++
	b.bindings = append(b.bindings, binding)
	return idx
}

func (b *builder) allocSorter(desc []bool) int {
	idx := b.sorterN
	b.sorterN++
	b.emit(vdbe.Instruction{Op: vdbe.OpSorterOpen, P1: idx, P4: vdbe.SorterOpenSpec{Desc: desc}})
	return idx
}

// constant interns v into the constant pool, reusing an existing slot
// for an identical literal so repeated use of e.g. a small integer
// doesn't grow the pool unboundedly.
func (b *builder) constant(v value.Value) int {
	key := fmt.Sprintf("%d:%s", v.Type(), v.String())
	if i, ok := b.constIdx[key]; ok {
		return i
	}
	idx := len(b.constants)
	b.constants = append(b.constants, v)
	b.constIdx[key] = idx
	return idx
}

// loadConst emits a LoadConst into a freshly allocated register.
func (b *builder) loadConst(v value.Value) int {
	dest := b.allocReg()
	b.emit(vdbe.Instruction{Op: vdbe.OpLoadConst, P1: b.constant(v), P2: dest})
	return dest
}

// bindParam records a parameter's (name, index) and grows ParamCount to
// cover it; ast's parser assigns Index sequentially across the whole
// statement, so the compiler only needs to track the high-water mark.
func (b *builder) bindParam(name string, index int) {
	if index > b.paramCount {
		b.paramCount = index
	}
	if name != "" {
		b.paramNames[name] = index
	}
}
