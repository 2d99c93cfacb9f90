package conformance

import (
	"context"

	"github.com/Digithought/quereus-sub003/database"
	"github.com/Digithought/quereus-sub003/memtable"
)

// runOnEngine executes setup then each query against a fresh Database
// backed by the memtable module, returning each query's rows rendered
// with value.Value.String() for comparison against the oracle.
func runOnEngine(ctx context.Context, f fixture) ([][][]string, error) {
	db := database.Open(
		database.WithModule("memtable", memtable.NewModule()),
		database.WithDefaultModule("memtable"),
	)
	for _, sql := range f.setup {
		if err := db.Exec(ctx, sql); err != nil {
			return nil, err
		}
	}

	results := make([][][]string, len(f.queries))
	for i, sql := range f.queries {
		stmt, err := db.Prepare(sql)
		if err != nil {
			return nil, err
		}
		rows, err := stmt.All(ctx)
		if err != nil {
			stmt.Finalize(ctx)
			return nil, err
		}
		if err := stmt.Finalize(ctx); err != nil {
			return nil, err
		}
		out := make([][]string, len(rows))
		for r, row := range rows {
			cells := make([]string, len(row))
			for c, v := range row {
				cells[c] = v.String()
			}
			out[r] = cells
		}
		results[i] = out
	}
	return results, nil
}
