package compiler

import (
	"context"
	"testing"

	"github.com/Digithought/quereus-sub003/functions"
	"github.com/Digithought/quereus-sub003/memtable"
	"github.com/Digithought/quereus-sub003/schema"
	"github.com/Digithought/quereus-sub003/sqlparser"
	"github.com/Digithought/quereus-sub003/value"
	"github.com/Digithought/quereus-sub003/vdbe"
	"github.com/Digithought/quereus-sub003/vtab"
)

// testFixture wires a Registry with one memtable-backed "widgets" table
// (id INTEGER PRIMARY KEY, label TEXT, qty INTEGER) and a Compiler ready
// to compile against it.
type testFixture struct {
	reg *schema.Registry
	mod *memtable.Module
	c   *Compiler
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	reg := schema.NewRegistry()
	reg.DefaultVTabModule = "memtable"
	mod := memtable.NewModule()
	modules := map[string]vtab.Module{"memtable": mod}
	c := New(reg, functions.NewRegistry(), nil, modules)

	parseOne(t, c, `CREATE TABLE widgets (id INTEGER, label TEXT, qty INTEGER, PRIMARY KEY (id))`)
	return &testFixture{reg: reg, mod: mod, c: c}
}

func parseOne(t *testing.T, c *Compiler, sql string) (*vdbe.Program, []vdbe.CursorBinding) {
	t.Helper()
	stmts, err := sqlparser.NewParser(sql).ParseStatements()
	if err != nil {
		t.Fatalf("parse %q: %v", sql, err)
	}
	if len(stmts) != 1 {
		t.Fatalf("parse %q: want 1 statement, got %d", sql, len(stmts))
	}
	prog, bindings, err := c.Compile(stmts[0], sql)
	if err != nil {
		t.Fatalf("compile %q: %v", sql, err)
	}
	return prog, bindings
}

func runAll(t *testing.T, prog *vdbe.Program, bindings []vdbe.CursorBinding) [][]value.Value {
	t.Helper()
	m := vdbe.NewMachine(prog, nil, bindings, value.Binary, nil)
	var rows [][]value.Value
	for {
		hasRow, err := m.Run(context.Background())
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if !hasRow {
			break
		}
		rows = append(rows, append([]value.Value{}, m.Row()...))
	}
	return rows
}

func insertRows(t *testing.T, f *testFixture, rows ...string) {
	t.Helper()
	for _, sql := range rows {
		prog, bindings := parseOne(t, f.c, sql)
		runAll(t, prog, bindings)
	}
}

func TestCompileCreateTableConnectsModule(t *testing.T) {
	f := newFixture(t)
	td, err := f.reg.GetTable("widgets")
	if err != nil {
		t.Fatalf("GetTable: %v", err)
	}
	if _, ok := td.AuxData.(vtab.VirtualTable); !ok {
		t.Fatalf("expected AuxData to hold a connected VirtualTable, got %T", td.AuxData)
	}
	if len(td.Columns) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(td.Columns))
	}
}

func TestCompileCreateTableIfNotExists(t *testing.T) {
	f := newFixture(t)
	prog, bindings := parseOne(t, f.c, `CREATE TABLE IF NOT EXISTS widgets (id INTEGER)`)
	runAll(t, prog, bindings)
	td, _ := f.reg.GetTable("widgets")
	if len(td.Columns) != 3 {
		t.Fatalf("IF NOT EXISTS should have been a no-op, got %d columns", len(td.Columns))
	}
}

func TestCompileInsertValuesAndSelect(t *testing.T) {
	f := newFixture(t)
	insertRows(t, f,
		`INSERT INTO widgets (id, label, qty) VALUES (1, 'a', 10)`,
		`INSERT INTO widgets (id, label, qty) VALUES (2, 'b', 20)`,
	)

	prog, bindings := parseOne(t, f.c, `SELECT id, label, qty FROM widgets ORDER BY id`)
	rows := runAll(t, prog, bindings)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0][0].Int64() != 1 || rows[0][1].RawText() != "a" || rows[0][2].Int64() != 10 {
		t.Fatalf("unexpected first row: %v", rows[0])
	}
	if rows[1][0].Int64() != 2 || rows[1][1].RawText() != "b" || rows[1][2].Int64() != 20 {
		t.Fatalf("unexpected second row: %v", rows[1])
	}
}

func TestCompileInsertMissingColumnUsesDefaultNull(t *testing.T) {
	f := newFixture(t)
	insertRows(t, f, `INSERT INTO widgets (id, label) VALUES (1, 'a')`)

	prog, bindings := parseOne(t, f.c, `SELECT qty FROM widgets WHERE id = 1`)
	rows := runAll(t, prog, bindings)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if !rows[0][0].IsNull() {
		t.Fatalf("expected NULL qty, got %v", rows[0][0])
	}
}

func TestCompileInsertReturning(t *testing.T) {
	f := newFixture(t)
	prog, bindings := parseOne(t, f.c, `INSERT INTO widgets (id, label, qty) VALUES (7, 'z', 1) RETURNING id, label`)
	rows := runAll(t, prog, bindings)
	if len(rows) != 1 {
		t.Fatalf("expected 1 returned row, got %d", len(rows))
	}
	if rows[0][0].Int64() != 7 || rows[0][1].RawText() != "z" {
		t.Fatalf("unexpected returning row: %v", rows[0])
	}
}

func TestCompileInsertSelect(t *testing.T) {
	f := newFixture(t)
	insertRows(t, f, `INSERT INTO widgets (id, label, qty) VALUES (1, 'a', 10)`)

	prog, bindings := parseOne(t, f.c, `INSERT INTO widgets (id, label, qty) SELECT id + 100, label, qty FROM widgets`)
	runAll(t, prog, bindings)

	prog2, bindings2 := parseOne(t, f.c, `SELECT id FROM widgets ORDER BY id`)
	rows := runAll(t, prog2, bindings2)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows after INSERT...SELECT, got %d", len(rows))
	}
	if rows[1][0].Int64() != 101 {
		t.Fatalf("expected copied row id 101, got %v", rows[1][0])
	}
}

func TestCompileUpdateWhereAndReturning(t *testing.T) {
	f := newFixture(t)
	insertRows(t, f,
		`INSERT INTO widgets (id, label, qty) VALUES (1, 'a', 10)`,
		`INSERT INTO widgets (id, label, qty) VALUES (2, 'b', 20)`,
	)

	prog, bindings := parseOne(t, f.c, `UPDATE widgets SET qty = qty + 1 WHERE id = 1 RETURNING id, qty`)
	rows := runAll(t, prog, bindings)
	if len(rows) != 1 {
		t.Fatalf("expected 1 returned row, got %d", len(rows))
	}
	if rows[0][0].Int64() != 1 || rows[0][1].Int64() != 11 {
		t.Fatalf("unexpected returning row: %v", rows[0])
	}

	prog2, bindings2 := parseOne(t, f.c, `SELECT qty FROM widgets WHERE id = 2`)
	unchanged := runAll(t, prog2, bindings2)
	if unchanged[0][0].Int64() != 20 {
		t.Fatalf("expected row 2 unchanged, got %v", unchanged[0][0])
	}
}

func TestCompileDeleteWhereAndReturning(t *testing.T) {
	f := newFixture(t)
	insertRows(t, f,
		`INSERT INTO widgets (id, label, qty) VALUES (1, 'a', 10)`,
		`INSERT INTO widgets (id, label, qty) VALUES (2, 'b', 20)`,
	)

	prog, bindings := parseOne(t, f.c, `DELETE FROM widgets WHERE id = 1 RETURNING id`)
	rows := runAll(t, prog, bindings)
	if len(rows) != 1 || rows[0][0].Int64() != 1 {
		t.Fatalf("unexpected delete-returning rows: %v", rows)
	}

	prog2, bindings2 := parseOne(t, f.c, `SELECT id FROM widgets`)
	remaining := runAll(t, prog2, bindings2)
	if len(remaining) != 1 || remaining[0][0].Int64() != 2 {
		t.Fatalf("expected only id=2 left, got %v", remaining)
	}
}

func TestCompileInsertOnConflictIgnoreSkipsReturning(t *testing.T) {
	f := newFixture(t)
	insertRows(t, f, `INSERT INTO widgets (id, label, qty) VALUES (1, 'a', 10)`)

	// memtable.Update returns vtab.ErrIgnored for a duplicate primary key
	// under ConflictIgnore; emitVUpdateAndReturning must then suppress
	// the RETURNING row for that statement rather than erroring.
	prog, bindings := parseOne(t, f.c, `INSERT OR IGNORE INTO widgets (id, label, qty) VALUES (1, 'dup', 99) RETURNING id`)
	rows := runAll(t, prog, bindings)
	if len(rows) != 0 {
		t.Fatalf("expected the conflicting row to be silently dropped, got %v", rows)
	}

	prog2, bindings2 := parseOne(t, f.c, `SELECT qty FROM widgets WHERE id = 1`)
	unchanged := runAll(t, prog2, bindings2)
	if unchanged[0][0].Int64() != 10 {
		t.Fatalf("expected original row untouched, got %v", unchanged[0][0])
	}
}

func TestCompileAlterTableAddRenameDropColumn(t *testing.T) {
	f := newFixture(t)
	prog, bindings := parseOne(t, f.c, `ALTER TABLE widgets ADD COLUMN note TEXT`)
	runAll(t, prog, bindings)

	prog2, bindings2 := parseOne(t, f.c, `ALTER TABLE widgets RENAME COLUMN note TO remark`)
	runAll(t, prog2, bindings2)

	td, _ := f.reg.GetTable("widgets")
	if td.ColumnIndex("remark") < 0 {
		t.Fatalf("expected renamed column 'remark' to exist")
	}

	prog3, bindings3 := parseOne(t, f.c, `ALTER TABLE widgets DROP COLUMN remark`)
	runAll(t, prog3, bindings3)
	td, _ = f.reg.GetTable("widgets")
	if td.ColumnIndex("remark") >= 0 {
		t.Fatalf("expected column 'remark' to be gone after DROP COLUMN")
	}
}

func TestCompileAlterTableRenameTable(t *testing.T) {
	f := newFixture(t)
	prog, bindings := parseOne(t, f.c, `ALTER TABLE widgets RENAME TO gadgets`)
	runAll(t, prog, bindings)
	if _, err := f.reg.GetTable("gadgets"); err != nil {
		t.Fatalf("expected renamed table 'gadgets' to exist: %v", err)
	}
	if _, err := f.reg.GetTable("widgets"); err == nil {
		t.Fatalf("expected 'widgets' to no longer resolve after rename")
	}
}

func TestCompileCreateAndDropIndex(t *testing.T) {
	f := newFixture(t)
	prog, bindings := parseOne(t, f.c, `CREATE INDEX widgets_label_idx ON widgets (label)`)
	runAll(t, prog, bindings)
	if _, ok := f.reg.FindIndex("widgets_label_idx"); !ok {
		t.Fatalf("expected index to be registered")
	}

	prog2, bindings2 := parseOne(t, f.c, `DROP INDEX widgets_label_idx`)
	runAll(t, prog2, bindings2)
	if _, ok := f.reg.FindIndex("widgets_label_idx"); ok {
		t.Fatalf("expected index to be gone after DROP INDEX")
	}
}

func TestCompileCreateViewDerivesColumnNames(t *testing.T) {
	f := newFixture(t)
	insertRows(t, f, `INSERT INTO widgets (id, label, qty) VALUES (1, 'a', 10)`)

	prog, bindings := parseOne(t, f.c, `CREATE VIEW labels AS SELECT id, label FROM widgets`)
	runAll(t, prog, bindings)

	td, err := f.reg.GetTable("labels")
	if err != nil {
		t.Fatalf("GetTable(labels): %v", err)
	}
	if len(td.Columns) != 2 || td.Columns[0].Name != "id" || td.Columns[1].Name != "label" {
		t.Fatalf("unexpected derived view columns: %+v", td.Columns)
	}
}

func TestCompileDropTableDestroysVirtualTable(t *testing.T) {
	f := newFixture(t)
	prog, bindings := parseOne(t, f.c, `DROP TABLE widgets`)
	runAll(t, prog, bindings)
	if _, err := f.reg.GetTable("widgets"); err == nil {
		t.Fatalf("expected widgets to be gone after DROP TABLE")
	}
}

func TestCompileDropTableIfExistsNoError(t *testing.T) {
	f := newFixture(t)
	prog, bindings := parseOne(t, f.c, `DROP TABLE IF EXISTS no_such_table`)
	runAll(t, prog, bindings)
}

func TestCompileTransactionControlPerTable(t *testing.T) {
	f := newFixture(t)
	for _, sql := range []string{`BEGIN`, `SAVEPOINT s1`, `RELEASE s1`, `COMMIT`} {
		prog, bindings := parseOne(t, f.c, sql)
		runAll(t, prog, bindings)
	}
}

func TestCompileRollbackToSavepoint(t *testing.T) {
	f := newFixture(t)
	begin, bb := parseOne(t, f.c, `BEGIN`)
	runAll(t, begin, bb)
	sp, sb := parseOne(t, f.c, `SAVEPOINT s1`)
	runAll(t, sp, sb)

	insertRows(t, f, `INSERT INTO widgets (id, label, qty) VALUES (1, 'a', 10)`)

	rollback, rb := parseOne(t, f.c, `ROLLBACK TO s1`)
	runAll(t, rollback, rb)

	prog, bindings := parseOne(t, f.c, `SELECT id FROM widgets`)
	rows := runAll(t, prog, bindings)
	if len(rows) != 0 {
		t.Fatalf("expected the insert to be rolled back to the savepoint, got %v", rows)
	}

	commit, cb := parseOne(t, f.c, `COMMIT`)
	runAll(t, commit, cb)
}

func TestCompilePragmaIsANoOp(t *testing.T) {
	f := newFixture(t)
	prog, bindings := parseOne(t, f.c, `PRAGMA table_info(widgets)`)
	if len(prog.Instructions) != 1 || prog.Instructions[0].Op != vdbe.OpHalt {
		t.Fatalf("expected PRAGMA to compile to a single Halt, got %+v", prog.Instructions)
	}
	runAll(t, prog, bindings)
}

func TestCompileJoinAndGroupBy(t *testing.T) {
	f := newFixture(t)
	insertRows(t, f,
		`INSERT INTO widgets (id, label, qty) VALUES (1, 'a', 10)`,
		`INSERT INTO widgets (id, label, qty) VALUES (2, 'a', 5)`,
		`INSERT INTO widgets (id, label, qty) VALUES (3, 'b', 7)`,
	)

	prog, bindings := parseOne(t, f.c, `SELECT label, SUM(qty) FROM widgets GROUP BY label ORDER BY label`)
	rows := runAll(t, prog, bindings)
	if len(rows) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(rows))
	}
	if rows[0][0].RawText() != "a" || rows[0][1].Int64() != 15 {
		t.Fatalf("unexpected group 'a': %v", rows[0])
	}
	if rows[1][0].RawText() != "b" || rows[1][1].Int64() != 7 {
		t.Fatalf("unexpected group 'b': %v", rows[1])
	}
}

func TestCompileSelfJoin(t *testing.T) {
	f := newFixture(t)
	insertRows(t, f,
		`INSERT INTO widgets (id, label, qty) VALUES (1, 'a', 10)`,
		`INSERT INTO widgets (id, label, qty) VALUES (2, 'a', 20)`,
	)

	prog, bindings := parseOne(t, f.c, `SELECT w1.id, w2.id FROM widgets w1 JOIN widgets w2 ON w1.label = w2.label AND w1.id < w2.id`)
	rows := runAll(t, prog, bindings)
	if len(rows) != 1 {
		t.Fatalf("expected exactly 1 self-join pair, got %d: %v", len(rows), rows)
	}
	if rows[0][0].Int64() != 1 || rows[0][1].Int64() != 2 {
		t.Fatalf("unexpected pair: %v", rows[0])
	}
}
