package memtable

import (
	"context"
	"testing"

	"github.com/Digithought/quereus-sub003/value"
	"github.com/Digithought/quereus-sub003/vtab"
)

func newTestTable(t *testing.T, pkArgs ...string) *Table {
	t.Helper()
	m := NewModule()
	vt, err := m.Create(context.Background(), vtab.ModuleArgs{
		SchemaName: "main",
		TableName:  "widgets",
		Columns: []vtab.ModuleColumn{
			{Name: "id", TypeName: "INTEGER"},
			{Name: "label", TypeName: "TEXT"},
		},
		Args: pkArgs,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return vt.(*Table)
}

func insertRow(t *testing.T, tbl *Table, ctx context.Context, row Row) int64 {
	t.Helper()
	rowID, err := tbl.Update(ctx, nil, row)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return rowID
}

func TestInsertVisibleWithinTransaction(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t)
	if err := tbl.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	rowID := insertRow(t, tbl, ctx, Row{value.Integer(1), value.Text("a")})

	cur, _ := tbl.Open(ctx)
	if err := cur.Filter(ctx, 0, "", nil); err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if cur.Eof() {
		t.Fatalf("expected the uncommitted insert to be visible within the same transaction")
	}
	got, _ := cur.RowID(ctx)
	if got != rowID {
		t.Fatalf("RowID = %d, want %d", got, rowID)
	}
}

func TestCommitPersistsRows(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t)
	_ = tbl.Begin(ctx)
	insertRow(t, tbl, ctx, Row{value.Integer(1), value.Text("a")})
	if err := tbl.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	cur, _ := tbl.Open(ctx)
	_ = cur.Filter(ctx, 0, "", nil)
	count := 0
	for !cur.Eof() {
		count++
		_ = cur.Next(ctx)
	}
	if count != 1 {
		t.Fatalf("row count after commit = %d, want 1", count)
	}
}

func TestRollbackDiscardsRows(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t)
	_ = tbl.Begin(ctx)
	insertRow(t, tbl, ctx, Row{value.Integer(1), value.Text("a")})
	if err := tbl.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	_ = tbl.Begin(ctx)
	cur, _ := tbl.Open(ctx)
	_ = cur.Filter(ctx, 0, "", nil)
	if !cur.Eof() {
		t.Fatalf("expected no rows after rollback")
	}
}

func TestSavepointRollbackTo(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t)
	_ = tbl.Begin(ctx)
	insertRow(t, tbl, ctx, Row{value.Integer(1), value.Text("a")})
	if err := tbl.Savepoint(ctx, 1); err != nil {
		t.Fatalf("Savepoint: %v", err)
	}
	insertRow(t, tbl, ctx, Row{value.Integer(2), value.Text("b")})

	cur, _ := tbl.Open(ctx)
	_ = cur.Filter(ctx, 0, "", nil)
	count := 0
	for !cur.Eof() {
		count++
		_ = cur.Next(ctx)
	}
	if count != 2 {
		t.Fatalf("row count before rollback_to = %d, want 2", count)
	}

	if err := tbl.RollbackTo(ctx, 1); err != nil {
		t.Fatalf("RollbackTo: %v", err)
	}
	cur2, _ := tbl.Open(ctx)
	_ = cur2.Filter(ctx, 0, "", nil)
	count = 0
	for !cur2.Eof() {
		count++
		_ = cur2.Next(ctx)
	}
	if count != 1 {
		t.Fatalf("row count after rollback_to = %d, want 1", count)
	}
}

func TestDeleteThenReinsertSamePrimaryKeyWithinOneTransaction(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t, "pk=id")
	_ = tbl.Begin(ctx)
	rowID := insertRow(t, tbl, ctx, Row{value.Integer(1), value.Text("a")})
	if err := tbl.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	_ = tbl.Begin(ctx)
	if _, err := tbl.Update(ctx, &rowID, nil); err != nil {
		t.Fatalf("delete: %v", err)
	}
	newID := insertRow(t, tbl, ctx, Row{value.Integer(1), value.Text("a-again")})
	if err := tbl.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if newID == rowID {
		t.Fatalf("reinsert should receive a fresh rowid, not reuse %d", rowID)
	}
}

func TestPrimaryKeyUniquenessEnforced(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t, "pk=id")
	_ = tbl.Begin(ctx)
	insertRow(t, tbl, ctx, Row{value.Integer(1), value.Text("a")})
	_, err := tbl.Update(ctx, nil, Row{value.Integer(1), value.Text("dup")})
	if err == nil {
		t.Fatalf("expected a primary-key uniqueness violation")
	}
}

func TestPrimaryKeyConflictIgnore(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t, "pk=id")
	_ = tbl.Begin(ctx)
	insertRow(t, tbl, ctx, Row{value.Integer(1), value.Text("a")})
	_, err := tbl.Update(vtab.WithConflictPolicy(ctx, vtab.ConflictIgnore), nil, Row{value.Integer(1), value.Text("dup")})
	if err != ErrIgnored {
		t.Fatalf("expected ErrIgnored, got %v", err)
	}
}

func TestBestIndexOffersRowIDPointLookup(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t)
	_ = tbl.Begin(ctx)
	insertRow(t, tbl, ctx, Row{value.Integer(1), value.Text("a")})
	_ = tbl.Commit(ctx)

	out, err := tbl.BestIndex(ctx, &vtab.IndexInfoInput{
		Constraints: []vtab.IndexConstraint{{ColumnIndex: -1, Op: vtab.OpEQ, Usable: true}},
	})
	if err != nil {
		t.Fatalf("BestIndex: %v", err)
	}
	if out.IdxNum != 1 {
		t.Fatalf("IdxNum = %d, want 1 (point lookup)", out.IdxNum)
	}
	if !out.Usage[0].Omit {
		t.Fatalf("expected the rowid constraint to be marked Omit")
	}
}

// TestWriteOutsideTransactionAppliesDirectly covers spec §4.4's "either
// insert directly (no txn) or append to pending_inserts" — a bare
// INSERT/UPDATE/DELETE with no surrounding BEGIN/COMMIT (exactly what
// the compiler emits for ordinary DML) must land straight in the
// committed store and be visible immediately, not be rejected.
func TestWriteOutsideTransactionAppliesDirectly(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t)
	rowID := insertRow(t, tbl, ctx, Row{value.Integer(1), value.Text("a")})

	cur, _ := tbl.Open(ctx)
	if err := cur.Filter(ctx, 0, "", nil); err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if cur.Eof() {
		t.Fatalf("expected the committed-store insert to be visible outside any transaction")
	}
	got, _ := cur.RowID(ctx)
	if got != rowID {
		t.Fatalf("RowID = %d, want %d", got, rowID)
	}

	newRowID := rowID
	if _, err := tbl.Update(ctx, &newRowID, Row{value.Integer(1), value.Text("b")}); err != nil {
		t.Fatalf("update outside transaction: %v", err)
	}
	cur2, _ := tbl.Open(ctx)
	_ = cur2.Filter(ctx, 0, "", nil)
	label, err := cur2.Column(ctx, 1)
	if err != nil {
		t.Fatalf("Column: %v", err)
	}
	if label.RawText() != "b" {
		t.Fatalf("label = %q, want %q after update outside transaction", label.RawText(), "b")
	}

	if _, err := tbl.Update(ctx, &newRowID, nil); err != nil {
		t.Fatalf("delete outside transaction: %v", err)
	}
	cur3, _ := tbl.Open(ctx)
	_ = cur3.Filter(ctx, 0, "", nil)
	if !cur3.Eof() {
		t.Fatalf("expected no rows after delete outside transaction")
	}
}

func TestBestIndexConsumesAscendingRowIDOrder(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t)
	insertRow(t, tbl, ctx, Row{value.Integer(1), value.Text("a")})

	out, err := tbl.BestIndex(ctx, &vtab.IndexInfoInput{
		OrderBy: []vtab.OrderBy{{ColumnIndex: -1, Descending: false}},
	})
	if err != nil {
		t.Fatalf("BestIndex: %v", err)
	}
	if !out.OrderByConsumed {
		t.Fatalf("expected OrderByConsumed for ORDER BY rowid ascending, matching the scan's own order")
	}
}

func TestBestIndexDoesNotClaimDescendingRowIDOrder(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t)
	insertRow(t, tbl, ctx, Row{value.Integer(1), value.Text("a")})

	out, err := tbl.BestIndex(ctx, &vtab.IndexInfoInput{
		OrderBy: []vtab.OrderBy{{ColumnIndex: -1, Descending: true}},
	})
	if err != nil {
		t.Fatalf("BestIndex: %v", err)
	}
	if out.OrderByConsumed {
		t.Fatalf("scan only ever walks rowid ascending; it must not claim to satisfy a descending ORDER BY")
	}
}

func TestBestIndexDoesNotClaimPrimaryKeyColumnOrder(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t, "pk=id")
	insertRow(t, tbl, ctx, Row{value.Integer(1), value.Text("a")})

	// ORDER BY on a declared PK column (index 0) is not the same as
	// ORDER BY rowid in this rowid-keyed store: the PK is enforced only
	// as a uniqueness constraint over the rowid-keyed rows, so a
	// rowid-ascending scan says nothing about PK order beyond accidental
	// insertion order.
	out, err := tbl.BestIndex(ctx, &vtab.IndexInfoInput{
		OrderBy: []vtab.OrderBy{{ColumnIndex: 0, Descending: false}},
	})
	if err != nil {
		t.Fatalf("BestIndex: %v", err)
	}
	if out.OrderByConsumed {
		t.Fatalf("ORDER BY on a declared PK column must not be claimed as consumed by a rowid-ordered scan")
	}
}
