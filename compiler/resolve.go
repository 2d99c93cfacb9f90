package compiler

import (
	"strings"

	"github.com/Digithought/quereus-sub003/ast"
	"github.com/Digithought/quereus-sub003/schema"
	"github.com/Digithought/quereus-sub003/serr"
	"github.com/Digithought/quereus-sub003/vdbe"
	"github.com/Digithought/quereus-sub003/vtab"
)

// tableRef is one resolved FROM-clause source: a real table scanned
// through a cursor over its vtab.VirtualTable, or a materialized
// subquery/CTE scanned through an ephemeral sorter that's already been
// populated by compiling its own SELECT once, ahead of the enclosing
// scan. Either way the current row's columns live in a contiguous
// register range starting at colBase once the source has been
// positioned (VColumn'd or SorterData'd).
type tableRef struct {
	alias   string
	columns []string // lowercased, resolution order == column order

	desc   *schema.TableDescriptor // nil when ephemeral
	vtable vtab.VirtualTable       // nil when ephemeral
	cursor int                     // valid when !ephemeral

	ephemeral bool
	sorter    int // valid when ephemeral

	colBase  int
	hasRowID bool
	rowIDReg int // valid once the row is loaded, when hasRowID

	joinType ast.JoinType
	on       ast.Expr
}

func (tr *tableRef) columnIndex(name string) int {
	name = strings.ToLower(name)
	for i, c := range tr.columns {
		if c == name {
			return i
		}
	}
	return -1
}

// scope is the ordered set of tableRefs visible while compiling one
// SELECT core or a DML statement's single target; FROM-clause order
// doubles as nested-loop join order (outermost first).
type scope struct {
	sources []*tableRef
}

func (s *scope) add(tr *tableRef) { s.sources = append(s.sources, tr) }

func (s *scope) find(alias string) *tableRef {
	alias = strings.ToLower(alias)
	for _, tr := range s.sources {
		if tr.alias == alias {
			return tr
		}
	}
	return nil
}

// resolveColumn finds (source, column-index) for a possibly-qualified
// name. An unqualified name must be unambiguous across every source
// currently in scope.
func (s *scope) resolveColumn(table, name string) (*tableRef, int, error) {
	if table != "" {
		tr := s.find(table)
		if tr == nil {
			return nil, -1, serr.Newf("compile", serr.KindCompile, "no such table: %s", table)
		}
		idx := tr.columnIndex(name)
		if idx < 0 {
			return nil, -1, serr.Newf("compile", serr.KindCompile, "no such column: %s.%s", table, name)
		}
		return tr, idx, nil
	}
	var found *tableRef
	foundIdx := -1
	for _, tr := range s.sources {
		idx := tr.columnIndex(name)
		if idx >= 0 {
			if found != nil {
				return nil, -1, serr.Newf("compile", serr.KindCompile, "ambiguous column name: %s", name)
			}
			found, foundIdx = tr, idx
		}
	}
	if found == nil {
		return nil, -1, serr.Newf("compile", serr.KindCompile, "no such column: %s", name)
	}
	return found, foundIdx, nil
}

// resolveRowID resolves a bare "rowid"/"_rowid_"/"oid" reference or a
// table-qualified one; unqualified it must name exactly one rowid
// table in scope.
func (s *scope) resolveRowID(table string) (*tableRef, error) {
	if table != "" {
		tr := s.find(table)
		if tr == nil {
			return nil, serr.Newf("compile", serr.KindCompile, "no such table: %s", table)
		}
		if !tr.hasRowID {
			return nil, serr.Newf("compile", serr.KindCompile, "table %q has no rowid", table)
		}
		return tr, nil
	}
	var found *tableRef
	for _, tr := range s.sources {
		if tr.hasRowID {
			if found != nil {
				return nil, serr.Newf("compile", serr.KindCompile, "ambiguous rowid reference")
			}
			found = tr
		}
	}
	if found == nil {
		return nil, serr.Newf("compile", serr.KindCompile, "no rowid table in scope")
	}
	return found, nil
}

// fromItem is one linear FROM-clause entry after flattening. The
// parser leaves comma-joined sources in SelectStmt.From and records one
// ast.Join per JOIN keyword. Only each Join's new (Right) source is read
// here (Left repeats a source already listed), so the true scan order is
// simply From followed by each Joins[i].Right in order; joinType/on describe
// how this entry attaches to everything scanned before it.
type fromItem struct {
	src      ast.FromSource
	joinType ast.JoinType
	on       ast.Expr
}

func linearizeFrom(sel *ast.SelectStmt) []fromItem {
	items := make([]fromItem, 0, len(sel.From)+len(sel.Joins))
	for _, f := range sel.From {
		items = append(items, fromItem{src: f})
	}
	for _, j := range sel.Joins {
		items = append(items, fromItem{src: j.Right, joinType: j.Type, on: j.On})
	}
	return items
}

// resolveSource turns one FROM-clause item into a tableRef: a CTE
// reference, a table reference (with its BestIndex-backed cursor
// opened), or a subquery (materialized into a fresh ephemeral sorter).
// It does not emit any scan code (Rewind/VFilter/SorterSort) — that's
// select.go's job once every source's identity and columns are known.
func (b *builder) resolveSource(item fromItem) (*tableRef, error) {
	f := item.src
	alias := strings.ToLower(f.Alias)

	if f.Subquery != nil {
		tr, err := b.materializeSubquery(f.Subquery)
		if err != nil {
			return nil, err
		}
		if alias == "" {
			alias = strings.ToLower(f.Table)
		}
		tr.alias = alias
		tr.joinType, tr.on = item.joinType, item.on
		return tr, nil
	}

	if cte := b.lookupCTE(f.Table); cte != nil {
		// Every FROM reference to a materialized CTE gets its own
		// register window even though it shares the CTE's sorter, so two
		// references to the same CTE in one FROM (a CTE self-join)
		// don't clobber each other's current-row registers.
		clone := *cte
		if alias != "" {
			clone.alias = alias
		}
		clone.colBase = b.allocRegs(len(cte.columns))
		if clone.hasRowID {
			clone.rowIDReg = b.allocReg()
		}
		clone.joinType, clone.on = item.joinType, item.on
		return &clone, nil
	}

	td, err := b.c.Schema.GetTable(f.Table)
	if err != nil {
		return nil, serr.Newf("compile", serr.KindCompile, "no such table: %s", f.Table)
	}
	vt, err := vtableOf(td)
	if err != nil {
		return nil, err
	}
	if alias == "" {
		alias = strings.ToLower(td.Name)
	}
	cols := make([]string, len(td.Columns))
	for i, c := range td.Columns {
		cols[i] = strings.ToLower(c.Name)
	}
	cursor := b.allocCursor(vdbe.CursorBinding{Table: vt})
	hasRowID := td.IsRowIDTable()
	tr := &tableRef{
		alias:    alias,
		columns:  cols,
		desc:     td,
		vtable:   vt,
		cursor:   cursor,
		hasRowID: hasRowID,
		colBase:  b.allocRegs(len(cols)),
		joinType: item.joinType,
		on:       item.on,
	}
	if hasRowID {
		tr.rowIDReg = b.allocReg()
	}
	return tr, nil
}

// buildSources resolves every FROM/JOIN entry of sel in order, pushing
// each into a fresh scope as it goes so later entries (and their ON
// clauses) can reference earlier aliases.
func (b *builder) buildSources(sel *ast.SelectStmt) (*scope, error) {
	sc := &scope{}
	for _, item := range linearizeFrom(sel) {
		tr, err := b.resolveSource(item)
		if err != nil {
			return nil, err
		}
		sc.add(tr)
	}
	return sc, nil
}
