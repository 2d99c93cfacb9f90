package vtab

import "testing"

func TestConstraintOpDistinct(t *testing.T) {
	seen := map[ConstraintOp]bool{}
	ops := []ConstraintOp{OpEQ, OpGT, OpLE, OpLT, OpGE, OpMatch, OpLike, OpGlob,
		OpRegexp, OpNE, OpIsNot, OpIsNotNull, OpIsNull, OpIs, OpLimit, OpOffset}
	for _, op := range ops {
		if seen[op] {
			t.Fatalf("ConstraintOp values must be distinct, duplicate %d", op)
		}
		seen[op] = true
	}
}

func TestScanFlagUniqueIsABit(t *testing.T) {
	if ScanFlagUnique&(ScanFlagUnique-1) != 0 {
		t.Fatalf("ScanFlagUnique must be a single bit, got %d", ScanFlagUnique)
	}
	if ScanFlagNone != 0 {
		t.Fatalf("ScanFlagNone must be zero")
	}
}
