package memtable

import (
	"context"

	"github.com/Digithought/quereus-sub003/serr"
	"github.com/Digithought/quereus-sub003/value"
)

// Cursor is the memtable vtab.VirtualCursor: a position into a
// snapshot materialized at Filter time.
type Cursor struct {
	table *Table
	rows  []rowEntry
	pos   int
}

// Filter starts a new scan. idxNum 1 means the single rowid-equality
// lookup BestIndex offered, with args[0] the rowid; idxNum 0 is a full
// scan of the merged committed+pending view.
func (c *Cursor) Filter(ctx context.Context, idxNum int, idxStr string, args []value.Value) error {
	if idxNum == 1 {
		rowID := args[0].Int64()
		c.table.mu.Lock()
		row, ok := c.table.rowByRowIDLocked(rowID)
		c.table.mu.Unlock()
		if ok {
			c.rows = []rowEntry{{rowID: rowID, row: row}}
		} else {
			c.rows = nil
		}
		c.pos = 0
		return nil
	}
	c.rows = c.table.snapshot()
	c.pos = 0
	return nil
}

func (c *Cursor) Next(ctx context.Context) error {
	c.pos++
	return nil
}

func (c *Cursor) Eof() bool { return c.pos >= len(c.rows) }

func (c *Cursor) Column(ctx context.Context, col int) (value.Value, error) {
	if c.Eof() {
		return value.Null, serr.Newf("column", serr.KindMisuse, "cursor is at eof")
	}
	row := c.rows[c.pos].row
	if col < 0 || col >= len(row) {
		return value.Null, serr.Newf("column", serr.KindRange, "column index %d out of range", col)
	}
	return row[col], nil
}

func (c *Cursor) RowID(ctx context.Context) (int64, error) {
	if c.Eof() {
		return 0, serr.Newf("rowid", serr.KindMisuse, "cursor is at eof")
	}
	return c.rows[c.pos].rowID, nil
}

func (c *Cursor) Close(ctx context.Context) error { return nil }
