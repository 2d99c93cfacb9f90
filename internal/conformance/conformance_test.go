//go:build conformance || conformance_cgo

package conformance

import (
	"context"
	"reflect"
	"testing"
)

// TestFixturesAgreeWithOracle runs every fixture's queries against both
// this engine and the real SQLite oracle (selected by build tag) and
// fails if their result sets diverge, following
// FocuswithJustin-JuniperBible's comparison_test.go compareResults
// pattern of diffing two drivers row for row.
func TestFixturesAgreeWithOracle(t *testing.T) {
	ctx := context.Background()
	for _, f := range fixtures {
		f := f
		t.Run(f.name, func(t *testing.T) {
			engineRows, err := runOnEngine(ctx, f)
			if err != nil {
				t.Fatalf("engine: %v", err)
			}
			oracleRows, err := runOnOracle(oracleDriverName, f)
			if err != nil {
				t.Fatalf("oracle (%s): %v", oracleDriverName, err)
			}
			for i, q := range f.queries {
				if !reflect.DeepEqual(engineRows[i], oracleRows[i]) {
					t.Errorf("query %q diverged:\n  engine: %v\n  oracle: %v", q, engineRows[i], oracleRows[i])
				}
			}
		})
	}
}
