package sqlparser

import (
	"testing"

	"github.com/Digithought/quereus-sub003/ast"
)

func parseOne(t *testing.T, src string) ast.Stmt {
	t.Helper()
	stmts, err := NewParser(src).ParseStatements()
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	if len(stmts) != 1 {
		t.Fatalf("parse %q: want 1 statement, got %d", src, len(stmts))
	}
	return stmts[0]
}

func TestLexerKeywordsAndOperators(t *testing.T) {
	lex := NewLexer("SELECT a.b, 1.5e2 FROM t WHERE x <> 3 AND y <= 4 OR z || 'q'")
	var got []Type
	for {
		tok := lex.Next()
		if tok.Type == EOF {
			break
		}
		got = append(got, tok.Type)
	}
	want := []Type{SELECT, IDENT, DOT, IDENT, COMMA, NUMBER, FROM, IDENT, WHERE,
		IDENT, NEQ, NUMBER, AND, IDENT, LE, NUMBER, OR, IDENT, CONCAT, STRING}
	if len(got) != len(want) {
		t.Fatalf("token count = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestLexerStringEscapesDoubledQuote(t *testing.T) {
	lex := NewLexer(`'it''s'`)
	tok := lex.Next()
	if tok.Type != STRING || tok.Literal != "it's" {
		t.Fatalf("got %+v, want STRING \"it's\"", tok)
	}
}

func TestLexerLineComment(t *testing.T) {
	lex := NewLexer("1 -- comment\n+ 2")
	types := []Type{NUMBER, PLUS, NUMBER, EOF}
	for _, want := range types {
		if tok := lex.Next(); tok.Type != want {
			t.Fatalf("got %s, want %s", tok.Type, want)
		}
	}
}

func TestParseSimpleSelect(t *testing.T) {
	stmt := parseOne(t, "SELECT id, name FROM users WHERE id = 1")
	sel, ok := stmt.(*ast.SelectStmt)
	if !ok {
		t.Fatalf("got %T, want *ast.SelectStmt", stmt)
	}
	if len(sel.Columns) != 2 || sel.Columns[0].Expr.(*ast.ColumnExpr).Name != "id" {
		t.Fatalf("columns = %+v", sel.Columns)
	}
	if len(sel.From) != 1 || sel.From[0].Table != "users" {
		t.Fatalf("from = %+v", sel.From)
	}
	where, ok := sel.Where.(*ast.BinaryExpr)
	if !ok || where.Op != ast.OpEq {
		t.Fatalf("where = %+v", sel.Where)
	}
}

func TestParseSelectStarAndQualifiedStar(t *testing.T) {
	stmt := parseOne(t, "SELECT *, u.* FROM users u")
	sel := stmt.(*ast.SelectStmt)
	if !sel.Columns[0].Star || sel.Columns[0].Table != "" {
		t.Fatalf("col0 = %+v", sel.Columns[0])
	}
	if !sel.Columns[1].Star || sel.Columns[1].Table != "u" {
		t.Fatalf("col1 = %+v", sel.Columns[1])
	}
	if sel.From[0].Alias != "u" {
		t.Fatalf("alias = %q", sel.From[0].Alias)
	}
}

func TestParseOperatorPrecedence(t *testing.T) {
	// 1 + 2 * 3 = 7 should parse as 1 + (2 * 3) = 7, i.e. the top-level
	// comparison's left side is a BinaryExpr(OpAdd) whose right is
	// BinaryExpr(OpMul).
	stmt := parseOne(t, "SELECT 1 + 2 * 3 = 7")
	sel := stmt.(*ast.SelectStmt)
	cmp := sel.Columns[0].Expr.(*ast.BinaryExpr)
	if cmp.Op != ast.OpEq {
		t.Fatalf("top op = %v, want OpEq", cmp.Op)
	}
	add := cmp.Left.(*ast.BinaryExpr)
	if add.Op != ast.OpAdd {
		t.Fatalf("left op = %v, want OpAdd", add.Op)
	}
	mul := add.Right.(*ast.BinaryExpr)
	if mul.Op != ast.OpMul {
		t.Fatalf("add.Right op = %v, want OpMul", mul.Op)
	}
}

func TestParseAndBindsTighterThanOr(t *testing.T) {
	stmt := parseOne(t, "SELECT 1 WHERE a = 1 OR b = 2 AND c = 3")
	sel := stmt.(*ast.SelectStmt)
	or := sel.Where.(*ast.BinaryExpr)
	if or.Op != ast.OpOr {
		t.Fatalf("top op = %v, want OpOr", or.Op)
	}
	and := or.Right.(*ast.BinaryExpr)
	if and.Op != ast.OpAnd {
		t.Fatalf("right op = %v, want OpAnd", and.Op)
	}
}

func TestParseNotBindsLooserThanComparisonTighterThanAnd(t *testing.T) {
	// NOT a = 1 AND b = 2  =>  (NOT (a = 1)) AND (b = 2)
	stmt := parseOne(t, "SELECT 1 WHERE NOT a = 1 AND b = 2")
	sel := stmt.(*ast.SelectStmt)
	and := sel.Where.(*ast.BinaryExpr)
	if and.Op != ast.OpAnd {
		t.Fatalf("top op = %v, want OpAnd", and.Op)
	}
	not := and.Left.(*ast.UnaryExpr)
	if not.Op != ast.OpNot {
		t.Fatalf("left op = %v, want OpNot", not.Op)
	}
	if _, ok := not.X.(*ast.BinaryExpr); !ok {
		t.Fatalf("NOT operand = %T, want *ast.BinaryExpr", not.X)
	}
}

func TestParseBetweenAndNotBetween(t *testing.T) {
	stmt := parseOne(t, "SELECT 1 WHERE x BETWEEN 1 AND 10")
	sel := stmt.(*ast.SelectStmt)
	between := sel.Where.(*ast.BetweenExpr)
	if between.Negate {
		t.Fatalf("expected non-negated BETWEEN")
	}

	stmt = parseOne(t, "SELECT 1 WHERE x NOT BETWEEN 1 AND 10")
	sel = stmt.(*ast.SelectStmt)
	between = sel.Where.(*ast.BetweenExpr)
	if !between.Negate {
		t.Fatalf("expected negated BETWEEN")
	}
}

func TestParseInListAndInSubquery(t *testing.T) {
	stmt := parseOne(t, "SELECT 1 WHERE x IN (1, 2, 3)")
	in := stmt.(*ast.SelectStmt).Where.(*ast.InExpr)
	if len(in.List) != 3 || in.Subquery != nil {
		t.Fatalf("in = %+v", in)
	}

	stmt = parseOne(t, "SELECT 1 WHERE x NOT IN (SELECT id FROM t)")
	in = stmt.(*ast.SelectStmt).Where.(*ast.InExpr)
	if in.Subquery == nil || !in.Negate {
		t.Fatalf("in = %+v", in)
	}
}

func TestParseFunctionCallWithDistinctAndStar(t *testing.T) {
	stmt := parseOne(t, "SELECT count(*), count(DISTINCT x), upper(name) FROM t")
	sel := stmt.(*ast.SelectStmt)
	countStar := sel.Columns[0].Expr.(*ast.FunctionExpr)
	if !countStar.Star || countStar.Name != "count" {
		t.Fatalf("count(*) = %+v", countStar)
	}
	countDistinct := sel.Columns[1].Expr.(*ast.FunctionExpr)
	if !countDistinct.Distinct || len(countDistinct.Args) != 1 {
		t.Fatalf("count(DISTINCT x) = %+v", countDistinct)
	}
	upper := sel.Columns[2].Expr.(*ast.FunctionExpr)
	if upper.Name != "upper" || len(upper.Args) != 1 {
		t.Fatalf("upper(name) = %+v", upper)
	}
}

func TestParseWindowFunctionOverClause(t *testing.T) {
	stmt := parseOne(t, "SELECT sum(x) OVER (PARTITION BY g ORDER BY y ROWS BETWEEN 1 PRECEDING AND CURRENT ROW) FROM t")
	sel := stmt.(*ast.SelectStmt)
	fn := sel.Columns[0].Expr.(*ast.FunctionExpr)
	if fn.Window == nil {
		t.Fatalf("expected a window spec")
	}
	if len(fn.Window.PartitionBy) != 1 || len(fn.Window.OrderBy) != 1 {
		t.Fatalf("window = %+v", fn.Window)
	}
	if fn.Window.FrameStart == nil || *fn.Window.FrameStart != -1 {
		t.Fatalf("frame start = %v, want -1", fn.Window.FrameStart)
	}
	if fn.Window.FrameEnd == nil || *fn.Window.FrameEnd != 0 {
		t.Fatalf("frame end = %v, want 0", fn.Window.FrameEnd)
	}
}

func TestParseCaseExpr(t *testing.T) {
	stmt := parseOne(t, "SELECT CASE x WHEN 1 THEN 'a' WHEN 2 THEN 'b' ELSE 'c' END FROM t")
	sel := stmt.(*ast.SelectStmt)
	ce := sel.Columns[0].Expr.(*ast.CaseExpr)
	if ce.Operand == nil || len(ce.Whens) != 2 || ce.Else == nil {
		t.Fatalf("case = %+v", ce)
	}
}

func TestParseCastExpr(t *testing.T) {
	stmt := parseOne(t, "SELECT CAST(x AS INTEGER) FROM t")
	sel := stmt.(*ast.SelectStmt)
	cast := sel.Columns[0].Expr.(*ast.CastExpr)
	if cast.TypeName != "INTEGER" {
		t.Fatalf("cast type = %q", cast.TypeName)
	}
}

func TestParseNamedAndPositionalParameters(t *testing.T) {
	stmt := parseOne(t, "SELECT 1 WHERE a = :v AND b = ?")
	sel := stmt.(*ast.SelectStmt)
	and := sel.Where.(*ast.BinaryExpr)
	left := and.Left.(*ast.BinaryExpr).Right.(*ast.ParameterExpr)
	right := and.Right.(*ast.BinaryExpr).Right.(*ast.ParameterExpr)
	if left.Name != "v" || left.Index != 1 {
		t.Fatalf("named param = %+v", left)
	}
	if right.Name != "" || right.Index != 2 {
		t.Fatalf("positional param = %+v", right)
	}
}

func TestParseJoinWithOn(t *testing.T) {
	stmt := parseOne(t, "SELECT 1 FROM a LEFT JOIN b ON a.id = b.a_id")
	sel := stmt.(*ast.SelectStmt)
	if len(sel.Joins) != 1 || sel.Joins[0].Type != ast.JoinLeft {
		t.Fatalf("joins = %+v", sel.Joins)
	}
	if sel.Joins[0].Left.Table != "a" || sel.Joins[0].Right.Table != "b" {
		t.Fatalf("join sources = %+v", sel.Joins[0])
	}
	if sel.Joins[0].On == nil {
		t.Fatalf("expected ON clause")
	}
}

func TestParseOrderByLimitOffset(t *testing.T) {
	stmt := parseOne(t, "SELECT 1 FROM t ORDER BY a DESC, b LIMIT 10 OFFSET 5")
	sel := stmt.(*ast.SelectStmt)
	if len(sel.OrderBy) != 2 || !sel.OrderBy[0].Descending || sel.OrderBy[1].Descending {
		t.Fatalf("order by = %+v", sel.OrderBy)
	}
	if sel.Limit == nil || sel.Offset == nil {
		t.Fatalf("limit/offset = %v / %v", sel.Limit, sel.Offset)
	}
}

func TestParseUnionChain(t *testing.T) {
	stmt := parseOne(t, "SELECT a FROM t1 UNION SELECT b FROM t2 UNION ALL SELECT c FROM t3")
	sel := stmt.(*ast.SelectStmt)
	if sel.Compound == nil || sel.Compound.Op != ast.CompoundUnion {
		t.Fatalf("first compound = %+v", sel.Compound)
	}
	second := sel.Compound.Right
	if second.Compound == nil || second.Compound.Op != ast.CompoundUnionAll {
		t.Fatalf("second compound = %+v", second.Compound)
	}
}

func TestParseWithRecursiveCTE(t *testing.T) {
	stmt := parseOne(t, "WITH RECURSIVE t(n) AS (SELECT 1) SELECT n FROM t")
	sel := stmt.(*ast.SelectStmt)
	if len(sel.With) != 1 || !sel.With[0].Recursive || sel.With[0].Name != "t" {
		t.Fatalf("with = %+v", sel.With)
	}
}

func TestParseInsertValuesWithConflictAndReturning(t *testing.T) {
	stmt := parseOne(t, "INSERT OR IGNORE INTO t (id, name) VALUES (1, 'a'), (2, 'b') RETURNING id")
	ins := stmt.(*ast.InsertStmt)
	if ins.Table != "t" || ins.OnConflict != ast.ConflictIgnore {
		t.Fatalf("insert = %+v", ins)
	}
	if len(ins.Columns) != 2 || len(ins.Values) != 2 {
		t.Fatalf("insert shape = %+v", ins)
	}
	if len(ins.Returning) != 1 {
		t.Fatalf("returning = %+v", ins.Returning)
	}
}

func TestParseInsertFromSelect(t *testing.T) {
	stmt := parseOne(t, "INSERT INTO t SELECT * FROM other")
	ins := stmt.(*ast.InsertStmt)
	if ins.Query == nil || ins.Values != nil {
		t.Fatalf("insert = %+v", ins)
	}
}

func TestParseUpdateWithWhereAndConflict(t *testing.T) {
	stmt := parseOne(t, "UPDATE OR REPLACE t SET a = 1, b = a + 1 WHERE id = 5")
	upd := stmt.(*ast.UpdateStmt)
	if upd.OnConflict != ast.ConflictReplace || len(upd.Set) != 2 {
		t.Fatalf("update = %+v", upd)
	}
	if upd.Where == nil {
		t.Fatalf("expected WHERE clause")
	}
}

func TestParseDelete(t *testing.T) {
	stmt := parseOne(t, "DELETE FROM t WHERE id = 1 RETURNING id")
	del := stmt.(*ast.DeleteStmt)
	if del.Table != "t" || del.Where == nil || len(del.Returning) != 1 {
		t.Fatalf("delete = %+v", del)
	}
}

func TestParseCreateTableWithConstraints(t *testing.T) {
	stmt := parseOne(t, `CREATE TABLE IF NOT EXISTS t (
		id INTEGER NOT NULL,
		name TEXT DEFAULT 'x',
		PRIMARY KEY (id),
		CHECK (id > 0)
	) STRICT`)
	ct := stmt.(*ast.CreateTableStmt)
	if !ct.IfNotExists || ct.Name != "t" || !ct.Strict {
		t.Fatalf("create table = %+v", ct)
	}
	if len(ct.Columns) != 2 || !ct.Columns[0].NotNull {
		t.Fatalf("columns = %+v", ct.Columns)
	}
	if len(ct.PrimaryKey) != 1 || ct.PrimaryKey[0] != "id" {
		t.Fatalf("primary key = %+v", ct.PrimaryKey)
	}
	if len(ct.Checks) != 1 {
		t.Fatalf("checks = %+v", ct.Checks)
	}
}

func TestParseCreateVirtualTableUsingModule(t *testing.T) {
	stmt := parseOne(t, "CREATE TABLE t USING memtable(id, name)")
	ct := stmt.(*ast.CreateTableStmt)
	if ct.ModuleName != "memtable" || len(ct.ModuleArgs) != 2 {
		t.Fatalf("create table = %+v", ct)
	}
}

func TestParseCreateIndexUnique(t *testing.T) {
	stmt := parseOne(t, "CREATE UNIQUE INDEX idx_t_name ON t (name)")
	ci := stmt.(*ast.CreateIndexStmt)
	if !ci.Unique || ci.Table != "t" || len(ci.Columns) != 1 {
		t.Fatalf("create index = %+v", ci)
	}
}

func TestParseDropTableIfExists(t *testing.T) {
	stmt := parseOne(t, "DROP TABLE IF EXISTS t")
	drop := stmt.(*ast.DropStmt)
	if drop.Kind != ast.DropTable || !drop.IfExists || drop.Name != "t" {
		t.Fatalf("drop = %+v", drop)
	}
}

func TestParseAlterTableRenameAndAddColumn(t *testing.T) {
	stmt := parseOne(t, "ALTER TABLE t RENAME TO t2")
	alt := stmt.(*ast.AlterTableStmt)
	if alt.Action != ast.AlterRenameTable || alt.NewName != "t2" {
		t.Fatalf("alter = %+v", alt)
	}

	stmt = parseOne(t, "ALTER TABLE t ADD COLUMN age INTEGER")
	alt = stmt.(*ast.AlterTableStmt)
	if alt.Action != ast.AlterAddColumn || alt.ColumnSpec.Name != "age" {
		t.Fatalf("alter = %+v", alt)
	}
}

func TestParseTransactionStatements(t *testing.T) {
	if _, ok := parseOne(t, "BEGIN DEFERRED TRANSACTION").(*ast.BeginStmt); !ok {
		t.Fatalf("expected *ast.BeginStmt")
	}
	if _, ok := parseOne(t, "COMMIT").(*ast.CommitStmt); !ok {
		t.Fatalf("expected *ast.CommitStmt")
	}
	rb := parseOne(t, "ROLLBACK TO SAVEPOINT sp1").(*ast.RollbackStmt)
	if rb.ToSavepoint != "sp1" {
		t.Fatalf("rollback = %+v", rb)
	}
	sp := parseOne(t, "SAVEPOINT sp1").(*ast.SavepointStmt)
	if sp.Name != "sp1" {
		t.Fatalf("savepoint = %+v", sp)
	}
	rel := parseOne(t, "RELEASE sp1").(*ast.ReleaseStmt)
	if rel.Name != "sp1" {
		t.Fatalf("release = %+v", rel)
	}
}

func TestParsePragma(t *testing.T) {
	pr := parseOne(t, "PRAGMA foreign_keys = 1").(*ast.PragmaStmt)
	if pr.Name != "foreign_keys" || pr.Value == nil {
		t.Fatalf("pragma = %+v", pr)
	}
}

func TestParseExplainQueryPlan(t *testing.T) {
	ex := parseOne(t, "EXPLAIN QUERY PLAN SELECT 1").(*ast.ExplainStmt)
	if _, ok := ex.Target.(*ast.SelectStmt); !ok {
		t.Fatalf("explain target = %T", ex.Target)
	}
}

func TestParseMultipleStatementsSeparatedBySemicolons(t *testing.T) {
	stmts, err := NewParser("SELECT 1; SELECT 2;").ParseStatements()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(stmts) != 2 {
		t.Fatalf("got %d statements, want 2", len(stmts))
	}
}

func TestParseErrorOnUnexpectedToken(t *testing.T) {
	_, err := NewParser("SELECT FROM").ParseStatements()
	if err == nil {
		t.Fatalf("expected a parse error")
	}
}
