package vdbe

import "fmt"

// Program is the compiler's (C6) output: an immutable instruction
// stream plus the metadata the runtime and statement façade need to
// drive it.
type Program struct {
	Instructions []Instruction
	Constants    []any // literal pool, indexed by OpLoadConst.P1
	ParamNames   map[string]int // named parameter -> 1-based bind index
	ParamCount   int
	ColumnNames  []string // result-row column names, for Statement.ColumnName
	CursorCount  int
	FrameSize    int // register slots per call frame
	ReadOnly     bool
	SQL          string // original source text, for diagnostics
}

// InstructionView is a formatted instruction, used by EXPLAIN.
type InstructionView struct {
	Addr int
	Op   string
	P1   int
	P2   int
	P3   int
	P4   string
	P5   byte
}

// Explain formats every instruction for display (the supplementary
// EXPLAIN feature), following the teacher's Instructions.String()-style
// opcode dump seen in dynajoe-tinydb's codegen.
func (p *Program) Explain() []InstructionView {
	out := make([]InstructionView, len(p.Instructions))
	for i, instr := range p.Instructions {
		out[i] = InstructionView{
			Addr: i,
			Op:   instr.Op.String(),
			P1:   instr.P1,
			P2:   instr.P2,
			P3:   instr.P3,
			P4:   fmt.Sprintf("%v", instr.P4),
			P5:   instr.P5,
		}
	}
	return out
}

func (p *Program) String() string {
	s := ""
	for _, v := range p.Explain() {
		s += fmt.Sprintf("%-4d %-16s p1=%-4d p2=%-4d p3=%-4d p4=%-8s p5=%d\n", v.Addr, v.Op, v.P1, v.P2, v.P3, v.P4, v.P5)
	}
	return s
}
