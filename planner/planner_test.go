package planner

import (
	"context"
	"testing"

	"github.com/Digithought/quereus-sub003/ast"
	"github.com/Digithought/quereus-sub003/value"
	"github.com/Digithought/quereus-sub003/vtab"
)

// fakeTable is a minimal vtab.VirtualTable whose BestIndex records the
// IndexInfoInput it was handed and marks every EQ constraint it sees as
// consumed, for planner-side assertions.
type fakeTable struct {
	lastInput *vtab.IndexInfoInput
}

func (f *fakeTable) BestIndex(ctx context.Context, in *vtab.IndexInfoInput) (*vtab.IndexInfoOutput, error) {
	f.lastInput = in
	usage := make([]vtab.ConstraintUsage, len(in.Constraints))
	for i, c := range in.Constraints {
		if c.Op == vtab.OpEQ {
			usage[i] = vtab.ConstraintUsage{ArgvIndex: i + 1, Omit: true}
		}
	}
	return &vtab.IndexInfoOutput{Usage: usage, OrderByConsumed: true}, nil
}
func (f *fakeTable) Open(ctx context.Context) (vtab.VirtualCursor, error) { return nil, nil }
func (f *fakeTable) Disconnect(ctx context.Context) error                { return nil }
func (f *fakeTable) Destroy(ctx context.Context) error                   { return nil }

func col(name string) *ast.ColumnExpr    { return &ast.ColumnExpr{Name: name} }
func lit(i int64) *ast.LiteralExpr       { return &ast.LiteralExpr{Value: value.Integer(i)} }
func resolverFor(cols ...string) ColumnResolver {
	idx := map[string]int{}
	for i, c := range cols {
		idx[c] = i
	}
	return func(name string) (int, bool) {
		i, ok := idx[name]
		return i, ok
	}
}

func TestPlanFlattensAndDoesNotCrossOr(t *testing.T) {
	where := &ast.BinaryExpr{
		Op: ast.OpAnd,
		Left: &ast.BinaryExpr{Op: ast.OpEq, Left: col("id"), Right: lit(5)},
		Right: &ast.BinaryExpr{
			Op:    ast.OpOr,
			Left:  &ast.BinaryExpr{Op: ast.OpEq, Left: col("label"), Right: lit(1)},
			Right: &ast.BinaryExpr{Op: ast.OpEq, Left: col("label"), Right: lit(2)},
		},
	}
	tbl := &fakeTable{}
	plan, err := Plan(context.Background(), tbl, where, nil, resolverFor("id", "label"))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Input.Constraints) != 1 {
		t.Fatalf("expected exactly 1 constraint (the OR subtree must not be split), got %d", len(plan.Input.Constraints))
	}
	if plan.Input.Constraints[0].ColumnIndex != 0 {
		t.Fatalf("expected the id=5 constraint, got column %d", plan.Input.Constraints[0].ColumnIndex)
	}
}

func TestPlanExpandsBetween(t *testing.T) {
	where := &ast.BetweenExpr{X: col("id"), Low: lit(1), High: lit(10)}
	tbl := &fakeTable{}
	plan, err := Plan(context.Background(), tbl, where, nil, resolverFor("id"))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Input.Constraints) != 2 {
		t.Fatalf("expected BETWEEN to expand to 2 constraints, got %d", len(plan.Input.Constraints))
	}
	if plan.Input.Constraints[0].Op != vtab.OpGE || plan.Input.Constraints[1].Op != vtab.OpLE {
		t.Fatalf("expected GE then LE, got %v then %v", plan.Input.Constraints[0].Op, plan.Input.Constraints[1].Op)
	}
}

func TestPlanExpandsInList(t *testing.T) {
	where := &ast.InExpr{X: col("id"), List: []ast.Expr{lit(1), lit(2), lit(3)}}
	tbl := &fakeTable{}
	plan, err := Plan(context.Background(), tbl, where, nil, resolverFor("id"))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Input.Constraints) != 3 {
		t.Fatalf("expected IN-list to expand to 3 EQ constraints, got %d", len(plan.Input.Constraints))
	}
	for _, c := range plan.Input.Constraints {
		if c.Op != vtab.OpEQ {
			t.Fatalf("expected all expanded IN constraints to be EQ, got %v", c.Op)
		}
	}
}

func TestPlanHandledNodesMarksConsumedPredicate(t *testing.T) {
	eq := &ast.BinaryExpr{Op: ast.OpEq, Left: col("id"), Right: lit(5)}
	tbl := &fakeTable{}
	plan, err := Plan(context.Background(), tbl, eq, nil, resolverFor("id"))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !plan.HandledNodes[eq] {
		t.Fatalf("expected the EQ predicate to be marked handled since BestIndex set Omit")
	}
}

func TestPlanColumnUsedBitmask(t *testing.T) {
	where := &ast.BinaryExpr{Op: ast.OpEq, Left: col("label"), Right: lit(1)}
	tbl := &fakeTable{}
	plan, err := Plan(context.Background(), tbl, where, nil, resolverFor("id", "label"))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.Input.ColumnUsed != 1<<1 {
		t.Fatalf("ColumnUsed = %b, want bit 1 set for the label column", plan.Input.ColumnUsed)
	}
}

func TestPlanOrderByNotConsumedWhenUnresolvable(t *testing.T) {
	tbl := &fakeTable{}
	order := []ast.OrderByTerm{{Expr: &ast.FunctionExpr{Name: "random"}}}
	plan, err := Plan(context.Background(), tbl, nil, order, resolverFor("id"))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.Output.OrderByConsumed {
		t.Fatalf("ORDER BY on an unresolvable expression must not be reported consumed")
	}
}
