package memtable

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/Digithought/quereus-sub003/logging"
	"github.com/Digithought/quereus-sub003/serr"
	"github.com/Digithought/quereus-sub003/value"
	"github.com/Digithought/quereus-sub003/vtab"
)

// ErrIgnored is returned by Table.Update when a write was silently
// dropped under ConflictIgnore (spec §4.3/§4.6's "OR IGNORE"); it is not
// a failure and callers should treat it as "zero rows affected". Aliased
// to vtab.ErrIgnored so the compiled VUpdate opcode can recognize it
// regardless of which module produced it.
var ErrIgnored = vtab.ErrIgnored

// Every row is stored keyed by its rowid, the cursor-assigned row
// identity the virtual table protocol's Update calling convention
// addresses rows by (spec §4.3) — this holds even for tables that also
// declare an explicit primary key, mirroring how SQLite gives every
// virtual table row a rowid regardless of its declared key. A declared
// primary key is enforced as a uniqueness constraint over the rowid-keyed
// store rather than as a second storage key, which keeps one ordered
// store instead of two that would need to stay in sync.
type updateEntry struct {
	rowID int64
	row   Row
}

// txnState holds everything mutated inside an open transaction, applied
// to the committed store only on Commit (spec §4.4).
type txnState struct {
	inserts   map[int64]Row
	updates   map[int64]updateEntry
	deletes   map[int64]bool
	nextRowID int64
}

func newTxnState(nextRowID int64) *txnState {
	return &txnState{
		inserts:   make(map[int64]Row),
		updates:   make(map[int64]updateEntry),
		deletes:   make(map[int64]bool),
		nextRowID: nextRowID,
	}
}

func (s *txnState) clone() *txnState {
	cp := newTxnState(s.nextRowID)
	for k, v := range s.inserts {
		cp.inserts[k] = v
	}
	for k, v := range s.updates {
		cp.updates[k] = v
	}
	for k, v := range s.deletes {
		cp.deletes[k] = v
	}
	return cp
}

type savepointFrame struct {
	id       int
	snapshot *txnState
}

// Table is the memtable VirtualTable: a rowid-ordered store plus the
// pending transaction buffers and savepoint stack spec §4.4 describes.
type Table struct {
	name      string
	columns   []vtab.ModuleColumn
	pk        []int // declared primary-key column indices; empty => none
	collation value.Collation
	logger    logging.L

	mu         sync.Mutex
	store      *btree // keyed by Key{Integer(rowid)}
	nextRowID  int64
	txn        *txnState
	savepoints []savepointFrame
}

func rowIDKey(rowID int64) Key { return Key{value.Integer(rowID)} }

func (t *Table) pkValues(row Row) Row {
	if len(t.pk) == 0 {
		return nil
	}
	pk := make(Row, len(t.pk))
	for i, col := range t.pk {
		pk[i] = row[col]
	}
	return pk
}

func (t *Table) pkEqual(a, b Row) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if value.Compare(a[i], b[i], t.collation) != value.Equal {
			return false
		}
	}
	return true
}

// BestIndex offers a rowid point lookup when the WHERE clause supplies a
// usable rowid equality constraint; otherwise a full scan. Declared
// primary-key columns aren't separately indexed by this reference store
// (see the uniqueness-over-rowid note above), so an EQ constraint on a PK
// column alone doesn't earn a point lookup here — only on rowid itself.
func (t *Table) BestIndex(ctx context.Context, in *vtab.IndexInfoInput) (*vtab.IndexInfoOutput, error) {
	usage := make([]vtab.ConstraintUsage, len(in.Constraints))
	rows := float64(t.rowCountLocked())
	out := &vtab.IndexInfoOutput{Usage: usage, EstimatedRows: int64(rows), OrderByConsumed: orderedByRowIDAscending(in.OrderBy)}

	for ci, c := range in.Constraints {
		if c.Usable && c.Op == vtab.OpEQ && c.ColumnIndex == -1 {
			usage[ci] = vtab.ConstraintUsage{ArgvIndex: 1, Omit: true}
			out.IdxNum = 1
			out.EstimatedCost = 1
			out.Flags = vtab.ScanFlagUnique
			return out, nil
		}
	}
	out.IdxNum = 0
	out.EstimatedCost = rows + 1
	return out, nil
}

// orderedByRowIDAscending reports whether orderBy is exactly "ORDER BY
// rowid" with no descending term — the one ordering this module's scan
// (both the full scan and the rowid point lookup, both walking the
// underlying btree's Ascending iteration) actually produces for free.
// A declared primary key is enforced as a uniqueness constraint over
// this rowid-keyed store, not a second storage key (see the type's
// doc comment), so an ascending rowid scan says nothing about PK order
// beyond accidental insertion order — only rowid itself can be claimed
// here.
func orderedByRowIDAscending(orderBy []vtab.OrderBy) bool {
	return len(orderBy) == 1 && orderBy[0].ColumnIndex == -1 && !orderBy[0].Descending
}

func (t *Table) rowCountLocked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.Len()
}

func (t *Table) Open(ctx context.Context) (vtab.VirtualCursor, error) {
	return &Cursor{table: t}, nil
}

func (t *Table) Disconnect(ctx context.Context) error { return nil }

func (t *Table) Destroy(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.store = newBTree(t.collation)
	t.txn = nil
	t.savepoints = nil
	return nil
}

// FindFunction declines every overload (spec §3's optional hook, kept so
// the interface has a real implementor).
func (t *Table) FindFunction(ctx context.Context, name string, numArgs int) (any, bool) {
	return nil, false
}

// rowEntry is a materialized (rowid, row) pair for cursor iteration.
type rowEntry struct {
	rowID int64
	row   Row
}

// snapshot returns the merged (committed + pending) rowid-ordered row
// list visible to a scan started right now. The reference implementation
// materializes the whole view up front rather than lazily merging, which
// is fine at the scale this module targets and keeps Cursor simple.
func (t *Table) snapshot() []rowEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []rowEntry
	t.store.Ascending(func(key Key, row Row) bool {
		rowID := key[0].Int64()
		if t.txn != nil {
			if t.txn.deletes[rowID] {
				return true
			}
			if u, ok := t.txn.updates[rowID]; ok {
				out = append(out, rowEntry{rowID: u.rowID, row: u.row})
				return true
			}
		}
		out = append(out, rowEntry{rowID: rowID, row: row})
		return true
	})
	if t.txn != nil {
		for rowID, row := range t.txn.inserts {
			out = append(out, rowEntry{rowID: rowID, row: row})
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].rowID < out[j-1].rowID; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func (t *Table) rowByRowIDLocked(rowID int64) (Row, bool) {
	if t.txn != nil {
		if t.txn.deletes[rowID] {
			return nil, false
		}
		if row, ok := t.txn.inserts[rowID]; ok {
			return row, true
		}
		if u, ok := t.txn.updates[rowID]; ok {
			return u.row, true
		}
	}
	return t.store.Get(rowIDKey(rowID))
}

// pkCollisionLocked reports whether some row other than excludeRowID
// already carries the same primary-key values as row.
func (t *Table) pkCollisionLocked(row Row, excludeRowID int64) (int64, bool) {
	if len(t.pk) == 0 {
		return 0, false
	}
	pk := t.pkValues(row)
	for _, e := range t.snapshotNoLock() {
		if e.rowID == excludeRowID {
			continue
		}
		if t.pkEqual(t.pkValues(e.row), pk) {
			return e.rowID, true
		}
	}
	return 0, false
}

// snapshotNoLock is snapshot's body without re-acquiring t.mu; only call
// while t.mu is already held.
func (t *Table) snapshotNoLock() []rowEntry {
	var out []rowEntry
	t.store.Ascending(func(key Key, row Row) bool {
		rowID := key[0].Int64()
		if t.txn != nil {
			if t.txn.deletes[rowID] {
				return true
			}
			if u, ok := t.txn.updates[rowID]; ok {
				out = append(out, rowEntry{rowID: u.rowID, row: u.row})
				return true
			}
		}
		out = append(out, rowEntry{rowID: rowID, row: row})
		return true
	})
	if t.txn != nil {
		for rowID, row := range t.txn.inserts {
			out = append(out, rowEntry{rowID: rowID, row: row})
		}
	}
	return out
}

// Update implements the single calling convention (spec §4.3):
// oldRowID == nil -> insert; newValues == nil -> delete; both set ->
// update (rowid never changes once assigned in this store, so "replace"
// degenerates to update-in-place keyed by the same rowid). A write made
// with no transaction open goes straight to the committed store (spec
// §4.4: "either insert directly (no txn) or append to pending_inserts"),
// matching every bare INSERT/UPDATE/DELETE the compiler emits — the
// compiler never wraps DML in an implicit BEGIN/COMMIT, so this is the
// common path, not just a fallback.
func (t *Table) Update(ctx context.Context, oldRowID *int64, newValues []value.Value) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	policy := vtab.ConflictPolicyFrom(ctx)

	switch {
	case newValues == nil:
		return 0, t.deleteLocked(*oldRowID)
	case oldRowID == nil:
		return t.insertLocked(newValues, policy)
	default:
		return t.updateLocked(*oldRowID, newValues, policy)
	}
}

func (t *Table) insertLocked(row Row, policy vtab.ConflictPolicy) (int64, error) {
	var rowID int64
	if t.txn != nil {
		rowID = t.txn.nextRowID
		t.txn.nextRowID++
	} else {
		rowID = t.nextRowID
		t.nextRowID++
	}

	if collideID, ok := t.pkCollisionLocked(row, rowID); ok {
		switch policy {
		case vtab.ConflictIgnore:
			return 0, ErrIgnored
		case vtab.ConflictReplace:
			if err := t.deleteLocked(collideID); err != nil {
				return 0, err
			}
		default:
			return 0, serr.Newf("insert", serr.KindConstraint, "duplicate primary key in table %s", t.name)
		}
	}
	if t.txn != nil {
		t.txn.inserts[rowID] = row
	} else {
		t.store.Set(rowIDKey(rowID), row)
	}
	return rowID, nil
}

func (t *Table) deleteLocked(rowID int64) error {
	if _, ok := t.rowByRowIDLocked(rowID); !ok {
		return serr.Newf("delete", serr.KindNotFound, "no such rowid %d in table %s", rowID, t.name)
	}
	if t.txn == nil {
		t.store.Delete(rowIDKey(rowID))
		return nil
	}
	if _, ok := t.txn.inserts[rowID]; ok {
		delete(t.txn.inserts, rowID)
		return nil
	}
	delete(t.txn.updates, rowID)
	t.txn.deletes[rowID] = true
	return nil
}

func (t *Table) updateLocked(rowID int64, newValues Row, policy vtab.ConflictPolicy) (int64, error) {
	if _, ok := t.rowByRowIDLocked(rowID); !ok {
		return 0, serr.Newf("update", serr.KindNotFound, "no such rowid %d in table %s", rowID, t.name)
	}
	if collideID, ok := t.pkCollisionLocked(newValues, rowID); ok {
		switch policy {
		case vtab.ConflictIgnore:
			return 0, ErrIgnored
		case vtab.ConflictReplace:
			if err := t.deleteLocked(collideID); err != nil {
				return 0, err
			}
		default:
			return 0, serr.Newf("update", serr.KindConstraint, "duplicate primary key in table %s", t.name)
		}
	}

	if t.txn == nil {
		t.store.Set(rowIDKey(rowID), newValues)
		return rowID, nil
	}
	if _, ok := t.txn.inserts[rowID]; ok {
		t.txn.inserts[rowID] = newValues
		return rowID, nil
	}
	t.txn.updates[rowID] = updateEntry{rowID: rowID, row: newValues}
	return rowID, nil
}

func (t *Table) Begin(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.txn != nil {
		return serr.Newf("begin", serr.KindMisuse, "transaction already open on table %s", t.name)
	}
	t.txn = newTxnState(t.nextRowID)
	t.logger.Logf("DEBUG memtable: begin on %s", t.name)
	return nil
}

func (t *Table) Sync(ctx context.Context) error { return nil }

// Commit applies the transaction's buffered writes to the committed
// store. Per spec §4.4 this is best-effort: a failure applying one
// buffered write is logged and aggregated, but does not stop the rest
// from being applied.
func (t *Table) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.txn == nil {
		return serr.Newf("commit", serr.KindMisuse, "no open transaction on table %s", t.name)
	}

	var merr *multierror.Error
	for rowID := range t.txn.deletes {
		if !t.store.Delete(rowIDKey(rowID)) {
			merr = multierror.Append(merr, fmt.Errorf("commit: stale delete for rowid %d in table %s", rowID, t.name))
		}
	}
	for rowID, u := range t.txn.updates {
		t.store.Set(rowIDKey(rowID), u.row)
	}
	for rowID, row := range t.txn.inserts {
		t.store.Set(rowIDKey(rowID), row)
	}

	t.nextRowID = t.txn.nextRowID
	t.txn = nil
	t.savepoints = nil

	if merr.ErrorOrNil() != nil {
		t.logger.Logf("WARN memtable: commit on %s completed with errors: %v", t.name, merr)
	}
	return nil
}

func (t *Table) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.txn = nil
	t.savepoints = nil
	t.logger.Logf("DEBUG memtable: rollback on %s", t.name)
	return nil
}

func (t *Table) Savepoint(ctx context.Context, id int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.txn == nil {
		return serr.Newf("savepoint", serr.KindMisuse, "savepoint outside a transaction on table %s", t.name)
	}
	t.savepoints = append(t.savepoints, savepointFrame{id: id, snapshot: t.txn.clone()})
	return nil
}

func (t *Table) Release(ctx context.Context, id int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.findSavepointLocked(id)
	if idx < 0 {
		return serr.Newf("release", serr.KindNotFound, "no such savepoint %d on table %s", id, t.name)
	}
	t.savepoints = t.savepoints[:idx]
	return nil
}

func (t *Table) RollbackTo(ctx context.Context, id int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.findSavepointLocked(id)
	if idx < 0 {
		return serr.Newf("rollback_to", serr.KindNotFound, "no such savepoint %d on table %s", id, t.name)
	}
	t.txn = t.savepoints[idx].snapshot.clone()
	t.savepoints = t.savepoints[:idx+1]
	return nil
}

func (t *Table) findSavepointLocked(id int) int {
	for i := len(t.savepoints) - 1; i >= 0; i-- {
		if t.savepoints[i].id == id {
			return i
		}
	}
	return -1
}
