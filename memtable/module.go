// Package memtable is the reference virtual-table module (C4): an
// ordered-key in-memory store with transaction buffers and a savepoint
// stack, implementing vtab.Module/WriteableVirtualTable/
// TwoPhaseCommitter/OverloadableVirtualTable.
//
// grounded on the teacher's _examples/csv/csv.go CsvModule/
// CsvVirtualTable/CsvCursor split (Connect/Create/BestIndex/Open/
// Filter/Next/Eof/Column texture) for structure, and on the
// MVCC-style pending-buffer pattern used by in-memory transactional
// stores for the txn semantics (pendingInserts/pendingUpdates/
// pendingDeletes merged over a committed snapshot at read time).
package memtable

import (
	"context"
	"strings"
	"sync"

	"github.com/Digithought/quereus-sub003/logging"
	"github.com/Digithought/quereus-sub003/serr"
	"github.com/Digithought/quereus-sub003/value"
	"github.com/Digithought/quereus-sub003/vtab"
)

// Option configures a Module at construction, following the teacher's
// ModuleOptions + opts ...func(*ModuleOptions) idiom.
type Option func(*moduleOptions)

type moduleOptions struct {
	logger    logging.L
	collation value.Collation
}

// WithLogger attaches a logger; defaults to logging.NoOp.
func WithLogger(l logging.L) Option {
	return func(o *moduleOptions) { o.logger = l }
}

// WithCollation overrides the default BINARY key-ordering collation.
func WithCollation(c value.Collation) Option {
	return func(o *moduleOptions) { o.collation = c }
}

// Module is the memtable vtab.Module/vtab.StatefulModule implementation.
// One Module instance can back any number of tables.
type Module struct {
	logger    logging.L
	collation value.Collation

	mu     sync.Mutex
	tables map[string]*Table
}

// NewModule constructs a memtable Module.
func NewModule(opts ...Option) *Module {
	o := &moduleOptions{logger: logging.NoOp, collation: value.Binary}
	for _, opt := range opts {
		opt(o)
	}
	return &Module{logger: o.logger, collation: o.collation, tables: make(map[string]*Table)}
}

// Create initializes a brand new table instance (CREATE TABLE ... USING
// memtable(...)). Module args (vtab.ModuleArgs.Args) may contain a single
// "pk=<col>[,<col>...]" entry naming the primary-key columns by name; a
// table with no such entry is a rowid table.
func (m *Module) Create(ctx context.Context, args vtab.ModuleArgs) (vtab.VirtualTable, error) {
	return m.connect(args, true)
}

// Connect binds an already-declared table instance to a live VirtualTable.
func (m *Module) Connect(ctx context.Context, args vtab.ModuleArgs) (vtab.VirtualTable, error) {
	return m.connect(args, false)
}

func (m *Module) connect(args vtab.ModuleArgs, fresh bool) (*Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(args.SchemaName + "." + args.TableName)
	if existing, ok := m.tables[key]; ok && !fresh {
		return existing, nil
	}

	pk, err := parsePrimaryKey(args)
	if err != nil {
		return nil, err
	}

	t := &Table{
		name:      args.TableName,
		columns:   args.Columns,
		pk:        pk,
		collation: m.collation,
		logger:    m.logger,
		store:     newBTree(m.collation),
		nextRowID: 1,
	}
	m.tables[key] = t
	return t, nil
}

// Destroy releases module-wide state; individual tables are dropped via
// Table.Destroy.
func (m *Module) Destroy(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables = make(map[string]*Table)
	return nil
}

func parsePrimaryKey(args vtab.ModuleArgs) ([]int, error) {
	for _, a := range args.Args {
		if !strings.HasPrefix(strings.ToLower(a), "pk=") {
			continue
		}
		names := strings.Split(a[len("pk="):], ",")
		idx := make([]int, 0, len(names))
		for _, n := range names {
			n = strings.TrimSpace(n)
			col := columnIndex(args.Columns, n)
			if col < 0 {
				return nil, serr.Newf("create_table", serr.KindMisuse, "primary key column %q not found in %s", n, args.TableName)
			}
			idx = append(idx, col)
		}
		return idx, nil
	}
	return nil, nil
}

func columnIndex(cols []vtab.ModuleColumn, name string) int {
	for i, c := range cols {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}
