package functions

import (
	"context"
	"testing"

	"github.com/Digithought/quereus-sub003/value"
)

func TestScalarUpperLower(t *testing.T) {
	r := NewRegistry()
	upper, ok := r.LookupScalar("UPPER", 1)
	if !ok {
		t.Fatalf("expected upper to be registered")
	}
	v, err := upper(context.Background(), []value.Value{value.Text("abc")})
	if err != nil || v.RawText() != "ABC" {
		t.Fatalf("upper(abc) = %v, %v", v, err)
	}
}

func TestScalarCoalesceReturnsFirstNonNull(t *testing.T) {
	r := NewRegistry()
	fn, ok := r.LookupScalar("coalesce", 3)
	if !ok {
		t.Fatalf("expected coalesce to be registered for variadic arity")
	}
	v, err := fn(context.Background(), []value.Value{value.Null, value.Null, value.Integer(7)})
	if err != nil || v.Int64() != 7 {
		t.Fatalf("coalesce = %v, %v", v, err)
	}
}

func TestScalarLookupMissesOnArityMismatch(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.LookupScalar("upper", 2); ok {
		t.Fatalf("expected upper/2 to miss: upper is fixed-arity 1")
	}
}

func TestAggregateCountIgnoresNull(t *testing.T) {
	r := NewRegistry()
	fn, ok := r.LookupAggregate("count", 1)
	if !ok {
		t.Fatalf("expected count to be registered")
	}
	acc := fn.Init()
	for _, v := range []value.Value{value.Integer(1), value.Null, value.Integer(2)} {
		var err error
		acc, err = fn.Step(acc, []value.Value{v})
		if err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	result, err := fn.Final(acc)
	if err != nil || result.Int64() != 2 {
		t.Fatalf("count = %v, %v, want 2", result, err)
	}
}

func TestAggregateSumSwitchesToRealOnFloatInput(t *testing.T) {
	r := NewRegistry()
	fn, _ := r.LookupAggregate("sum", 1)
	acc := fn.Init()
	acc, _ = fn.Step(acc, []value.Value{value.Integer(1)})
	acc, _ = fn.Step(acc, []value.Value{value.Real(2.5)})
	result, err := fn.Final(acc)
	if err != nil {
		t.Fatalf("final: %v", err)
	}
	if result.Type() != value.TypeReal || result.Float64() != 3.5 {
		t.Fatalf("sum = %v, want 3.5 (REAL)", result)
	}
}

func TestAggregateSumEmptyGroupIsNull(t *testing.T) {
	r := NewRegistry()
	fn, _ := r.LookupAggregate("sum", 1)
	acc := fn.Init()
	result, err := fn.Final(acc)
	if err != nil || !result.IsNull() {
		t.Fatalf("sum of no rows = %v, %v, want NULL", result, err)
	}
}

func TestAggregateSumInverseRemovesContribution(t *testing.T) {
	r := NewRegistry()
	fn, _ := r.LookupAggregate("sum", 1)
	acc := fn.Init()
	acc, _ = fn.Step(acc, []value.Value{value.Integer(5)})
	acc, _ = fn.Step(acc, []value.Value{value.Integer(10)})
	acc, _ = fn.Inverse(acc, []value.Value{value.Integer(5)})
	result, _ := fn.Final(acc)
	if result.Int64() != 10 {
		t.Fatalf("sum after inverse = %v, want 10", result)
	}
}

func TestAggregateMinMax(t *testing.T) {
	r := NewRegistry()
	min, _ := r.LookupAggregate("min", 1)
	max, _ := r.LookupAggregate("max", 1)
	vals := []value.Value{value.Integer(5), value.Integer(1), value.Integer(9)}

	minAcc, maxAcc := min.Init(), max.Init()
	for _, v := range vals {
		minAcc, _ = min.Step(minAcc, []value.Value{v})
		maxAcc, _ = max.Step(maxAcc, []value.Value{v})
	}
	minResult, _ := min.Final(minAcc)
	maxResult, _ := max.Final(maxAcc)
	if minResult.Int64() != 1 || maxResult.Int64() != 9 {
		t.Fatalf("min=%v max=%v, want 1 and 9", minResult, maxResult)
	}
}

func TestAggregateMaxHasNoInverse(t *testing.T) {
	r := NewRegistry()
	max, _ := r.LookupAggregate("max", 1)
	if max.Inverse != nil {
		t.Fatalf("max() should not be window-invertible")
	}
}
