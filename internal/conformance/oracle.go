package conformance

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
)

// runOnOracle executes setup then each query against a throwaway SQLite
// file opened through driverName (registered by the build-tagged
// harness_*.go that imports the actual driver), normalizing rows the
// same way runOnEngine does so the two result sets compare directly.
func runOnOracle(driverName string, f fixture) ([][][]string, error) {
	dir, err := os.MkdirTemp("", "conformance-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	db, err := sql.Open(driverName, filepath.Join(dir, "oracle.db"))
	if err != nil {
		return nil, err
	}
	defer db.Close()

	for _, stmt := range f.setup {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("oracle setup %q: %w", stmt, err)
		}
	}

	results := make([][][]string, len(f.queries))
	for i, q := range f.queries {
		rows, err := db.Query(q)
		if err != nil {
			return nil, fmt.Errorf("oracle query %q: %w", q, err)
		}
		cols, err := rows.Columns()
		if err != nil {
			rows.Close()
			return nil, err
		}
		var out [][]string
		for rows.Next() {
			vals := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for j := range vals {
				ptrs[j] = &vals[j]
			}
			if err := rows.Scan(ptrs...); err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, normalizeRow(vals))
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
		results[i] = out
	}
	return results, nil
}

// normalizeRow renders oracle-scanned values the same way
// value.Value.String() renders this engine's own values, so the two
// result sets can be compared with a plain reflect.DeepEqual.
func normalizeRow(vals []any) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		switch t := v.(type) {
		case nil:
			out[i] = "NULL"
		case int64:
			out[i] = fmt.Sprintf("%d", t)
		case float64:
			out[i] = fmt.Sprintf("%g", t)
		case string:
			out[i] = t
		case []byte:
			out[i] = fmt.Sprintf("x'%x'", t)
		default:
			out[i] = fmt.Sprintf("%v", t)
		}
	}
	return out
}
