// ordered storage backing the memory table: a sorted slice keyed by the
// row's rowid (a declared primary key is enforced by the table's own
// collision check, not used as the storage key). A real balanced tree wasn't warranted
// at the scale this reference module targets — insert/delete pay an
// O(n) shift, which is the same bound a B-tree's node rebalancing costs
// in practice for anything short of very large tables, and a sorted
// slice keeps the iteration and range-scan code trivial to read.
package memtable

import (
	"sort"

	"github.com/Digithought/quereus-sub003/value"
)

// Row is one stored record: every column's value, in table column order.
type Row []value.Value

// Key is the ordered tuple a row is addressed and sorted by; the table
// stores every row under a single-element rowid key.
type Key []value.Value

func compareKeys(a, b Key, collation value.Collation) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		switch value.Compare(a[i], b[i], collation) {
		case value.Less:
			return -1
		case value.Greater:
			return 1
		}
	}
	return len(a) - len(b)
}

type entry struct {
	key Key
	row Row
}

// btree is the ordered store: entries is always sorted ascending by key.
type btree struct {
	entries   []entry
	collation value.Collation
}

func newBTree(collation value.Collation) *btree {
	if collation == nil {
		collation = value.Binary
	}
	return &btree{collation: collation}
}

func (t *btree) search(key Key) (int, bool) {
	i := sort.Search(len(t.entries), func(i int) bool {
		return compareKeys(t.entries[i].key, key, t.collation) >= 0
	})
	if i < len(t.entries) && compareKeys(t.entries[i].key, key, t.collation) == 0 {
		return i, true
	}
	return i, false
}

func (t *btree) Get(key Key) (Row, bool) {
	i, found := t.search(key)
	if !found {
		return nil, false
	}
	return t.entries[i].row, true
}

func (t *btree) Insert(key Key, row Row) bool {
	i, found := t.search(key)
	if found {
		return false
	}
	t.entries = append(t.entries, entry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = entry{key: key, row: row}
	return true
}

func (t *btree) Set(key Key, row Row) {
	i, found := t.search(key)
	if found {
		t.entries[i].row = row
		return
	}
	t.entries = append(t.entries, entry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = entry{key: key, row: row}
}

func (t *btree) Delete(key Key) bool {
	i, found := t.search(key)
	if !found {
		return false
	}
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	return true
}

func (t *btree) Len() int { return len(t.entries) }

// Ascending calls fn for every entry in key order, stopping early if fn
// returns false.
func (t *btree) Ascending(fn func(key Key, row Row) bool) {
	for _, e := range t.entries {
		if !fn(e.key, e.row) {
			return
		}
	}
}

// clone makes a deep-enough copy for savepoint snapshots: the entry
// slice is copied (so later inserts/deletes on the live tree don't
// alias it), but individual Row slices are treated as immutable once
// stored and so are shared rather than copied.
func (t *btree) clone() *btree {
	cp := &btree{collation: t.collation, entries: make([]entry, len(t.entries))}
	copy(cp.entries, t.entries)
	return cp
}
