// Package vtab defines the virtual table protocol (C3): the capability
// interfaces a storage backend implements, and the BestIndex contract
// the query planner drives it with.
//
// adapted from the teacher's vtab.go/virtual_table.go almost one-to-one
// in shape — same interface split, same field names — with the cgo
// trampolines removed: there is no foreign runtime to cross into here,
// so Module.Connect/Create return plain Go values directly instead of
// being invoked from an x_create/x_connect C callback.
package vtab

import (
	"context"
	"errors"

	"github.com/Digithought/quereus-sub003/value"
)

// ErrIgnored is the sentinel a WriteableVirtualTable's Update returns to
// report a write silently dropped under ConflictIgnore (spec §4.3/§4.6's
// "OR IGNORE") rather than an actual failure; callers should treat it as
// "zero rows affected", not an error to surface.
var ErrIgnored = errors.New("vtab: row ignored under conflict policy")

// Module is the minimal capability a storage backend must implement to
// back a CREATE TABLE ... USING <module> declaration (spec §3).
type Module interface {
	// Connect binds an existing table instance (schema already known,
	// e.g. reopening a database) to a live VirtualTable.
	Connect(ctx context.Context, args ModuleArgs) (VirtualTable, error)
	// Create initializes a brand new table instance (CREATE TABLE) and
	// returns the same VirtualTable Connect would for it thereafter.
	Create(ctx context.Context, args ModuleArgs) (VirtualTable, error)
}

// StatefulModule is implemented by modules that need to release module
// level resources when every table bound to them is dropped.
type StatefulModule interface {
	Module
	Destroy(ctx context.Context) error
}

// ModuleArgs is what CREATE TABLE ... USING passes to a module: the
// declared column list and any trailing module arguments.
type ModuleArgs struct {
	SchemaName string
	TableName  string
	Columns    []ModuleColumn
	Args       []string
}

// ModuleColumn is a column as declared at CREATE TABLE time.
type ModuleColumn struct {
	Name     string
	TypeName string
}

// VirtualTable is a connected table instance capable of being scanned.
type VirtualTable interface {
	BestIndex(ctx context.Context, in *IndexInfoInput) (*IndexInfoOutput, error)
	Open(ctx context.Context) (VirtualCursor, error)
	Disconnect(ctx context.Context) error
	// Destroy drops the underlying storage (DROP TABLE), distinct from
	// Disconnect which only releases the in-process handle.
	Destroy(ctx context.Context) error
}

// WriteableVirtualTable is implemented by tables that accept INSERT,
// UPDATE and DELETE. Update implements the single calling convention
// spec §4.3 describes, mirroring the teacher's x_update_tramp:
//   - oldRowID == nil                     -> insert newValues, return new rowid
//   - newValues == nil                    -> delete oldRowID
//   - oldRowID != nil && newValues != nil  -> update (or replace, if the
//     rowid embedded in newValues differs from *oldRowID)
type WriteableVirtualTable interface {
	VirtualTable
	Update(ctx context.Context, oldRowID *int64, newValues []value.Value) (newRowID int64, err error)
}

// Transactional is implemented by tables participating in the engine's
// transaction protocol (spec §4.4).
type Transactional interface {
	Begin(ctx context.Context) error
	Sync(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TwoPhaseCommitter extends Transactional with savepoint support.
type TwoPhaseCommitter interface {
	Transactional
	Savepoint(ctx context.Context, id int) error
	Release(ctx context.Context, id int) error
	RollbackTo(ctx context.Context, id int) error
}

// OverloadableVirtualTable lets a table claim it can execute a scalar
// function more efficiently than the engine's default (e.g. pushing a
// MATCH down to an index); the memory table declines every overload
// (spec §3's FindFunction hook, kept only so the interface has a real
// implementor).
type OverloadableVirtualTable interface {
	VirtualTable
	FindFunction(ctx context.Context, name string, numArgs int) (overload any, ok bool)
}

// ConflictPolicy is the conflict-resolution tag the compiler attaches to
// an INSERT/UPDATE's context before calling Update, per the ON
// CONFLICT / OR clause spec §4.3 and §4.6 describe. It travels via the
// context rather than as a Update parameter so the WriteableVirtualTable
// signature stays the single update calling convention the teacher's
// x_update_tramp models.
type ConflictPolicy int

const (
	ConflictAbort ConflictPolicy = iota
	ConflictIgnore
	ConflictReplace
	ConflictFail
	ConflictRollback
)

type conflictPolicyKey struct{}

// WithConflictPolicy attaches a ConflictPolicy to ctx for the duration of
// one Update call.
func WithConflictPolicy(ctx context.Context, policy ConflictPolicy) context.Context {
	return context.WithValue(ctx, conflictPolicyKey{}, policy)
}

// ConflictPolicyFrom reads back the ConflictPolicy attached by
// WithConflictPolicy, defaulting to ConflictAbort.
func ConflictPolicyFrom(ctx context.Context) ConflictPolicy {
	if p, ok := ctx.Value(conflictPolicyKey{}).(ConflictPolicy); ok {
		return p
	}
	return ConflictAbort
}

// VirtualCursor iterates the rows a BestIndex-selected scan produces.
type VirtualCursor interface {
	Filter(ctx context.Context, idxNum int, idxStr string, args []value.Value) error
	Next(ctx context.Context) error
	Eof() bool
	Column(ctx context.Context, col int) (value.Value, error)
	RowID(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}

// ConstraintOp is the comparison operator of one WHERE-clause constraint
// presented to BestIndex.
type ConstraintOp int

const (
	OpEQ ConstraintOp = iota
	OpGT
	OpLE
	OpLT
	OpGE
	OpMatch
	OpLike
	OpGlob
	OpRegexp
	OpNE
	OpIsNot
	OpIsNotNull
	OpIsNull
	OpIs
	OpLimit
	OpOffset
)

// ScanFlag annotates an IndexInfoOutput with hints about the chosen scan.
type ScanFlag int

const (
	ScanFlagNone   ScanFlag = 0
	ScanFlagUnique ScanFlag = 1 << 0
)

// IndexConstraint is one term of the WHERE clause the planner has
// identified as potentially usable by this table's index.
type IndexConstraint struct {
	ColumnIndex int // -1 selects rowid
	Op          ConstraintOp
	Usable      bool
}

// OrderBy is one ORDER BY term the planner is asking the table whether
// it can satisfy without a separate sort.
type OrderBy struct {
	ColumnIndex int
	Descending  bool
}

// IndexInfoInput is what the planner hands BestIndex: the candidate
// constraints and ordering terms for one cursor's scan (spec §5).
type IndexInfoInput struct {
	Constraints  []IndexConstraint
	OrderBy      []OrderBy
	ColumnUsed   uint64 // bitmask, bit 63 = rowid
}

// ConstraintUsage tells the planner how BestIndex intends to use one
// input constraint: at which bound position in the call to Filter it
// will be supplied as an argument, and whether the table will still
// double-check it itself (Omit == false).
type ConstraintUsage struct {
	ArgvIndex int // 1-based position in Filter's args; 0 = unused
	Omit      bool
}

// IndexInfoOutput is BestIndex's response.
type IndexInfoOutput struct {
	Usage             []ConstraintUsage // parallel to IndexInfoInput.Constraints
	IdxNum            int
	IdxStr            string
	OrderByConsumed   bool
	EstimatedCost     float64
	EstimatedRows     int64
	Flags             ScanFlag
}
