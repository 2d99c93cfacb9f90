// Package vdbe implements the register-machine bytecode runtime (C7):
// the opcode catalogue, a Program (immutable instruction array plus
// constant pool and metadata), a register/frame stack with subroutine
// discipline, and Machine.Run's suspend/resume execution loop that
// yields one row at a time to the statement façade.
//
// grounded on dynajoe-tinydb's internal/virtualmachine/codegen.go
// (program/Instruction/Op0-Op4/label-and-backpatch emission) for the
// instruction/program shape, and the teacher's Context
// (ResultInt/ResultText/ResultError/...) and AggregateContext
// (Data/SetData) for the FunctionContext/aggregate-context surface.
package vdbe

// Opcode identifies one VDBE instruction (spec §7's opcode catalogue,
// grouped the way the catalogue documents them: control, frame, data,
// register, logic, arithmetic/bit/text, function/aggregate, cursor,
// transaction/schema).
type Opcode int

const (
	// control
	OpNoop Opcode = iota
	OpGoto
	OpIfTrue
	OpIfFalse
	OpHalt

	// frame / subroutine
	OpFrameEnter
	OpFrameLeave
	OpSubroutine
	OpReturn
	OpPush
	OpStackPop

	// data / register movement
	OpLoadConst
	OpLoadNull
	OpLoadParam
	OpMove
	OpCopy

	// logic
	OpAnd
	OpOr
	OpNot
	OpIsNullOp
	OpIsNotNullOp
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe

	// arithmetic / bitwise / text
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpConcat
	OpBitAnd
	OpBitOr
	OpShl
	OpShr
	OpBitNot
	OpNeg
	OpCast
	OpCollate

	// function / aggregate
	OpFunction
	OpAggStep
	OpAggFinal
	OpAggReset

	// cursor
	OpOpenRead
	OpOpenWrite
	OpVFilter
	OpVNext
	OpVColumn
	OpVRowID
	OpVUpdate
	OpClose
	OpRewind
	OpSorterOpen
	OpSorterInsert
	OpSorterSort
	OpSorterNext
	OpSorterData
	OpSorterEof
	OpSorterClear

	// result row
	OpResultRow

	// transaction / schema
	OpVBegin
	OpVCommit
	OpVRollback
	OpVSavepoint
	OpVRelease
	OpVRollbackTo
	OpSchemaInvalidate
	OpSchemaChange
)

func (op Opcode) String() string {
	names := [...]string{
		"Noop", "Goto", "IfTrue", "IfFalse", "Halt",
		"FrameEnter", "FrameLeave", "Subroutine", "Return", "Push", "StackPop",
		"LoadConst", "LoadNull", "LoadParam", "Move", "Copy",
		"And", "Or", "Not", "IsNull", "IsNotNull", "Eq", "Ne", "Lt", "Le", "Gt", "Ge",
		"Add", "Sub", "Mul", "Div", "Mod", "Concat", "BitAnd", "BitOr", "Shl", "Shr", "BitNot", "Neg", "Cast", "Collate",
		"Function", "AggStep", "AggFinal", "AggReset",
		"OpenRead", "OpenWrite", "VFilter", "VNext", "VColumn", "VRowID", "VUpdate", "Close", "Rewind",
		"SorterOpen", "SorterInsert", "SorterSort", "SorterNext", "SorterData", "SorterEof", "SorterClear",
		"ResultRow",
		"VBegin", "VCommit", "VRollback", "VSavepoint", "VRelease", "VRollbackTo",
		"SchemaInvalidate", "SchemaChange",
	}
	if int(op) >= 0 && int(op) < len(names) {
		return names[op]
	}
	return "Unknown"
}

// Instruction is one bytecode instruction: an opcode plus up to three
// integer operands, an optional "P4" payload (constants, names, AST
// nodes — whatever the opcode needs that doesn't fit in an int), and a
// P5 flag byte for small per-instruction modifiers (e.g. conflict
// policy on OpVUpdate).
type Instruction struct {
	Op Opcode
	P1 int
	P2 int
	P3 int
	P4 any
	P5 byte
}
