package database

import (
	"context"
	"reflect"

	"github.com/Digithought/quereus-sub003/serr"
	"github.com/Digithought/quereus-sub003/value"
	"github.com/Digithought/quereus-sub003/vdbe"
	"github.com/google/uuid"
)

// Statement is a compiled, steppable program bound to the Database that
// prepared it (spec §4.8): bind by index or name, step until
// ROW/DONE/error, read the current row as a slice or by column name,
// reset, finalize.
//
// grounded on the teacher's Stmt (stmt.go): BindInt64/BindText/... by
// position, SetInt64/SetText/... by name via a bindNames lookup,
// Step/Reset/Finalize/Readonly keep the same names and meaning, adapted
// from sqlite3_stmt's C calling convention to vdbe.Machine's Go one.
type Statement struct {
	db      *Database
	id      uuid.UUID
	program *vdbe.Program
	binding []vdbe.CursorBinding
	machine *vdbe.Machine

	params    []value.Value
	byName    map[string]int
	finalized bool
	lockHeld  bool
}

func newStatement(d *Database, prog *vdbe.Program, bindings []vdbe.CursorBinding) *Statement {
	return &Statement{
		db:      d,
		id:      uuid.New(),
		program: prog,
		binding: bindings,
		params:  make([]value.Value, prog.ParamCount),
		byName:  prog.ParamNames,
	}
}

// ID returns the UUID tagging this Statement, used for log correlation
// (SPEC_FULL's ambient "Identifiers" section).
func (s *Statement) ID() uuid.UUID { return s.id }

// SQL returns the statement's original source text.
func (s *Statement) SQL() string { return s.program.SQL }

// Readonly reports whether this statement makes no direct changes to
// database content, mirroring the teacher's Stmt.Readonly.
func (s *Statement) Readonly() bool { return s.program.ReadOnly }

// ColumnCount returns the number of columns in the statement's result
// row shape (zero for a statement with no ResultRow, e.g. DDL).
func (s *Statement) ColumnCount() int { return len(s.program.ColumnNames) }

// ColumnName returns the name of the i'th result column.
func (s *Statement) ColumnName(i int) string {
	if i < 0 || i >= len(s.program.ColumnNames) {
		return ""
	}
	return s.program.ColumnNames[i]
}

// ColumnIndex returns the index of the named result column, or -1.
func (s *Statement) ColumnIndex(name string) int {
	for i, n := range s.program.ColumnNames {
		if n == name {
			return i
		}
	}
	return -1
}

// BindParamCount reports the number of distinct parameters in the
// statement.
func (s *Statement) BindParamCount() int { return s.program.ParamCount }

func (s *Statement) checkLive() error {
	if s.finalized {
		return serr.Newf("stmt", serr.KindMisuse, "statement already finalized")
	}
	return nil
}

// Bind binds value to the 1-based positional parameter param.
func (s *Statement) Bind(param int, v value.Value) error {
	if err := s.checkLive(); err != nil {
		return err
	}
	if param < 1 || param > len(s.params) {
		return serr.Newf("stmt", serr.KindRange, "parameter index %d out of range [1,%d]", param, len(s.params))
	}
	s.params[param-1] = v
	return nil
}

// BindNamed binds value to the named parameter, given without its ':'
// prefix as the parser records it ("v" for ":v").
func (s *Statement) BindNamed(name string, v value.Value) error {
	if err := s.checkLive(); err != nil {
		return err
	}
	idx, ok := s.byName[name]
	if !ok {
		return serr.Newf("stmt", serr.KindRange, "no such parameter: %s", name)
	}
	return s.Bind(idx, v)
}

// BindInt64 binds an INTEGER to a positional parameter.
func (s *Statement) BindInt64(param int, v int64) error { return s.Bind(param, value.Integer(v)) }

// BindFloat binds a REAL to a positional parameter.
func (s *Statement) BindFloat(param int, v float64) error { return s.Bind(param, value.Real(v)) }

// BindText binds a TEXT value to a positional parameter.
func (s *Statement) BindText(param int, v string) error { return s.Bind(param, value.Text(v)) }

// BindBlob binds a BLOB value to a positional parameter.
func (s *Statement) BindBlob(param int, v []byte) error { return s.Bind(param, value.Blob(v)) }

// BindBool binds a BOOL value to a positional parameter.
func (s *Statement) BindBool(param int, v bool) error { return s.Bind(param, value.Bool(v)) }

// BindNull binds a NULL to a positional parameter.
func (s *Statement) BindNull(param int) error { return s.Bind(param, value.Null) }

// BindAny binds a native Go value to a positional parameter, following
// the teacher's Conn.Exec reflect-based dispatch so Database.Exec's
// variadic args can bind without the caller constructing value.Values.
func (s *Statement) BindAny(param int, arg any) error {
	if arg == nil {
		return s.BindNull(param)
	}
	switch v := arg.(type) {
	case value.Value:
		return s.Bind(param, v)
	case []byte:
		return s.BindBlob(param, v)
	}
	rv := reflect.ValueOf(arg)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return s.BindInt64(param, rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return s.BindInt64(param, int64(rv.Uint()))
	case reflect.Float32, reflect.Float64:
		return s.BindFloat(param, rv.Float())
	case reflect.String:
		return s.BindText(param, rv.String())
	case reflect.Bool:
		return s.BindBool(param, rv.Bool())
	default:
		return serr.Newf("stmt", serr.KindMisuse, "cannot bind value of type %T", arg)
	}
}

// ClearBindings resets every bound parameter back to NULL, retaining the
// parameter slots themselves.
func (s *Statement) ClearBindings() error {
	if err := s.checkLive(); err != nil {
		return err
	}
	for i := range s.params {
		s.params[i] = value.Null
	}
	return nil
}

func (s *Statement) ensureMachine() {
	if s.machine == nil {
		s.machine = vdbe.NewMachine(s.program, s.params, s.binding, s.db.collation, s.db.logger)
	}
}

// Step advances the statement one row at a time; rowReturned is true
// while a ResultRow is available, false once the program reaches Halt.
func (s *Statement) Step(ctx context.Context) (rowReturned bool, err error) {
	if err := s.checkLive(); err != nil {
		return false, err
	}
	s.ensureMachine()
	if !s.lockHeld && !s.program.ReadOnly {
		if err := s.db.lockWriter(ctx); err != nil {
			return false, err
		}
		s.lockHeld = true
	}
	hasRow, err := s.machine.Run(ctx)
	if !hasRow {
		s.releaseWriterLock()
	}
	return hasRow, err
}

func (s *Statement) releaseWriterLock() {
	if s.lockHeld {
		s.db.unlockWriter()
		s.lockHeld = false
	}
}

// Row returns the most recently stepped result row.
func (s *Statement) Row() []value.Value {
	if s.machine == nil {
		return nil
	}
	return s.machine.Row()
}

// Reset rewinds the statement so it can be stepped again from the
// start, closing every cursor it opened (spec §5: "reset aborts the
// current VDBE by discarding state and closing cursors"). Bound
// parameter values are retained, matching the teacher's Stmt.Reset.
func (s *Statement) Reset(ctx context.Context) error {
	if err := s.checkLive(); err != nil {
		return err
	}
	if s.machine != nil {
		if err := s.machine.Close(ctx); err != nil {
			s.releaseWriterLock()
			return err
		}
		s.machine.Reset(s.params)
	}
	s.releaseWriterLock()
	return nil
}

// Finalize closes every cursor the statement opened and marks it
// unusable; any later call other than Finalize itself returns a
// KindMisuse error.
func (s *Statement) Finalize(ctx context.Context) error {
	if s.finalized {
		return nil
	}
	s.finalized = true
	s.releaseWriterLock()
	if s.machine != nil {
		return s.machine.Close(ctx)
	}
	return nil
}

// Run steps the statement to completion, discarding any result rows —
// the convenience spec §4.8 names for INSERT/UPDATE/DELETE/DDL callers
// that don't want a row.
func (s *Statement) Run(ctx context.Context) (int, error) {
	n := 0
	for {
		hasRow, err := s.Step(ctx)
		if err != nil {
			return n, err
		}
		if !hasRow {
			return n, nil
		}
		n++
	}
}

// Get steps once and returns the first row, or nil if the statement
// produced none.
func (s *Statement) Get(ctx context.Context) ([]value.Value, error) {
	hasRow, err := s.Step(ctx)
	if err != nil {
		return nil, err
	}
	if !hasRow {
		return nil, nil
	}
	row := append([]value.Value{}, s.Row()...)
	// Drain the remainder so the statement's writer lock (if any) is
	// released even when the caller only wanted the first row.
	for {
		hasRow, err := s.Step(ctx)
		if err != nil {
			return row, err
		}
		if !hasRow {
			return row, nil
		}
	}
}

// All steps the statement to completion, materializing every row.
func (s *Statement) All(ctx context.Context) ([][]value.Value, error) {
	var rows [][]value.Value
	for {
		hasRow, err := s.Step(ctx)
		if err != nil {
			return rows, err
		}
		if !hasRow {
			return rows, nil
		}
		rows = append(rows, append([]value.Value{}, s.Row()...))
	}
}
