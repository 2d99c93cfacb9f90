// Package planner builds a vtab.IndexInfoInput from a WHERE/ORDER BY
// expression tree for one cursor and drives that table's BestIndex
// (C5): constraint extraction that never crosses an OR, BETWEEN/IN
// expansion, handled-node tracking, a column-usage bitmask, and
// ORDER BY-consumption bookkeeping.
//
// grounded on dynajoe-tinydb's internal/virtualmachine/codegen.go
// whereClause/logicalGrouper (AND/OR term flattening before constraint
// emission) adapted to feed vtab.IndexInfoInput/IndexInfoOutput instead
// of emitting bytecode directly.
package planner

import (
	"context"

	"github.com/Digithought/quereus-sub003/ast"
	"github.com/Digithought/quereus-sub003/vtab"
)

// ColumnResolver maps a bare column name to its index in the scanned
// table (or -1 for rowid); the compiler supplies this since only it
// knows which table a cursor's alias refers to.
type ColumnResolver func(name string) (index int, ok bool)

// Result is the result of planning one cursor's scan: the IndexInfoOutput
// BestIndex chose, the constraints it consumed (by predicate AST node,
// so the compiler can skip recompiling them as WHERE residue), and
// whether the planner's ORDER BY terms were fully consumed.
type Result struct {
	Output          *vtab.IndexInfoOutput
	Input           *vtab.IndexInfoInput
	HandledNodes    map[ast.Node]bool
	ConstraintExprs []ast.Expr // value expr for each constraint, parallel to Input.Constraints
}

// Plan extracts constraints and ordering terms for one table's scan from
// a WHERE expression (may be nil) and an ORDER BY list (may be empty),
// then invokes table.BestIndex.
func Plan(ctx context.Context, table vtab.VirtualTable, where ast.Expr, orderBy []ast.OrderByTerm, resolve ColumnResolver) (*Result, error) {
	var constraints []vtab.IndexConstraint
	var valueExprs []ast.Expr
	var predicates []ast.Node
	var columnUsed uint64

	extractConstraints(where, resolve, &constraints, &valueExprs, &predicates, &columnUsed)

	obTerms, obOk := extractOrderBy(orderBy, resolve)

	input := &vtab.IndexInfoInput{
		Constraints: constraints,
		OrderBy:     obTerms,
		ColumnUsed:  columnUsed,
	}

	out, err := table.BestIndex(ctx, input)
	if err != nil {
		return nil, err
	}
	if !obOk {
		out.OrderByConsumed = false
	}

	handled := make(map[ast.Node]bool)
	for i, u := range out.Usage {
		if u.Omit && predicates[i] != nil {
			handled[predicates[i]] = true
		}
	}

	return &Result{Output: out, Input: input, HandledNodes: handled, ConstraintExprs: valueExprs}, nil
}

// extractConstraints walks the WHERE tree, flattening AND at the top
// level (never crossing OR — an OR subtree is left whole as residue,
// per spec §5) and expanding BETWEEN into two constraints and IN-lists
// into N equality constraints. IN against a subquery is never pushed
// down; only IN-lists of literals/parameters are. predicates is parallel
// to out/valueExprs and records the original predicate node each
// constraint came from, for later marking as handled.
func extractConstraints(e ast.Expr, resolve ColumnResolver, out *[]vtab.IndexConstraint, valueExprs *[]ast.Expr, predicates *[]ast.Node, columnUsed *uint64) {
	if e == nil {
		return
	}
	if and, ok := e.(*ast.BinaryExpr); ok && and.Op == ast.OpAnd {
		extractConstraints(and.Left, resolve, out, valueExprs, predicates, columnUsed)
		extractConstraints(and.Right, resolve, out, valueExprs, predicates, columnUsed)
		return
	}

	switch n := e.(type) {
	case *ast.BinaryExpr:
		if op, ok := binaryConstraintOp(n.Op); ok {
			if col, lit, ok := columnAndLiteral(n.Left, n.Right, resolve); ok {
				markUsed(columnUsed, col)
				*out = append(*out, vtab.IndexConstraint{ColumnIndex: col, Op: op, Usable: true})
				*valueExprs = append(*valueExprs, lit)
				*predicates = append(*predicates, n)
				return
			}
		}
	case *ast.BetweenExpr:
		if col, ok := resolveColumn(n.X, resolve); ok {
			markUsed(columnUsed, col)
			*out = append(*out, vtab.IndexConstraint{ColumnIndex: col, Op: vtab.OpGE, Usable: true})
			*valueExprs = append(*valueExprs, n.Low)
			*predicates = append(*predicates, n)
			*out = append(*out, vtab.IndexConstraint{ColumnIndex: col, Op: vtab.OpLE, Usable: true})
			*valueExprs = append(*valueExprs, n.High)
			*predicates = append(*predicates, n)
			return
		}
	case *ast.InExpr:
		if col, ok := resolveColumn(n.X, resolve); ok && len(n.List) > 0 {
			markUsed(columnUsed, col)
			for _, item := range n.List {
				*out = append(*out, vtab.IndexConstraint{ColumnIndex: col, Op: vtab.OpEQ, Usable: true})
				*valueExprs = append(*valueExprs, item)
				*predicates = append(*predicates, n)
			}
			return
		}
	case *ast.UnaryExpr:
		if n.Op == ast.OpIsNull || n.Op == ast.OpIsNotNull {
			if col, ok := resolveColumn(n.X, resolve); ok {
				markUsed(columnUsed, col)
				op := vtab.OpIsNull
				if n.Op == ast.OpIsNotNull {
					op = vtab.OpIsNotNull
				}
				*out = append(*out, vtab.IndexConstraint{ColumnIndex: col, Op: op, Usable: true})
				*valueExprs = append(*valueExprs, nil)
				*predicates = append(*predicates, n)
				return
			}
		}
	}
	// Anything else (an OR subtree, a function call, a non-column-vs-
	// literal comparison) is left as WHERE residue: the planner records
	// no constraint for it, and it stays unhandled.
}

func markUsed(mask *uint64, col int) {
	if col == -1 {
		*mask |= 1 << 63
		return
	}
	if col >= 0 && col < 63 {
		*mask |= 1 << uint(col)
	}
}

func binaryConstraintOp(op ast.BinaryOp) (vtab.ConstraintOp, bool) {
	switch op {
	case ast.OpEq:
		return vtab.OpEQ, true
	case ast.OpNe:
		return vtab.OpNE, true
	case ast.OpLt:
		return vtab.OpLT, true
	case ast.OpLe:
		return vtab.OpLE, true
	case ast.OpGt:
		return vtab.OpGT, true
	case ast.OpGe:
		return vtab.OpGE, true
	default:
		return 0, false
	}
}

// columnAndLiteral recognizes "column OP literal" or "literal OP column"
// shapes. A "column OP column" comparison (such as a cross-table join
// condition) is not pushed down: it returns not-ok and stays WHERE
// residue for the compiler to evaluate in bytecode.
func columnAndLiteral(left, right ast.Expr, resolve ColumnResolver) (int, ast.Expr, bool) {
	if col, ok := resolveColumn(left, resolve); ok && !isColumnRef(right) {
		return col, right, true
	}
	if col, ok := resolveColumn(right, resolve); ok && !isColumnRef(left) {
		return col, left, true
	}
	return 0, nil, false
}

func isColumnRef(e ast.Expr) bool {
	_, ok := e.(*ast.ColumnExpr)
	return ok
}

func resolveColumn(e ast.Expr, resolve ColumnResolver) (int, bool) {
	col, ok := e.(*ast.ColumnExpr)
	if !ok {
		return 0, false
	}
	return resolve(col.Name)
}

// extractOrderBy converts an ORDER BY clause to vtab.OrderBy terms if and
// only if every term resolves to a column of the scanned table (mixed
// ORDER BY across tables can't be pushed down to a single cursor).
func extractOrderBy(orderBy []ast.OrderByTerm, resolve ColumnResolver) ([]vtab.OrderBy, bool) {
	if len(orderBy) == 0 {
		return nil, false
	}
	out := make([]vtab.OrderBy, 0, len(orderBy))
	for _, term := range orderBy {
		col, ok := resolveColumn(term.Expr, resolve)
		if !ok {
			return nil, false
		}
		out = append(out, vtab.OrderBy{ColumnIndex: col, Descending: term.Descending})
	}
	return out, true
}
