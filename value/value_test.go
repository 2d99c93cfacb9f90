package value

import "testing"

func TestCompareStorageClassOrdering(t *testing.T) {
	vals := []Value{Null, Integer(5), Text("x"), Blob([]byte("x"))}
	for i := 0; i < len(vals); i++ {
		for j := i + 1; j < len(vals); j++ {
			if got := Compare(vals[i], vals[j], Binary); got != Less {
				t.Fatalf("Compare(%v, %v) = %v, want Less", vals[i], vals[j], got)
			}
		}
	}
}

func TestCompareNumeric(t *testing.T) {
	cases := []struct {
		a, b Value
		want Ordering
	}{
		{Integer(1), Integer(2), Less},
		{Integer(2), Integer(2), Equal},
		{Integer(3), Integer(2), Greater},
		{Real(1.5), Integer(2), Less},
		{Integer(2), Real(1.5), Greater},
		{Bool(true), Integer(1), Equal},
		{Bool(false), Integer(0), Equal},
		{Bool(true), Integer(2), Less},
	}
	for _, c := range cases {
		if got := Compare(c.a, c.b, Binary); got != c.want {
			t.Errorf("Compare(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestCompareText(t *testing.T) {
	if got := Compare(Text("abc"), Text("abd"), Binary); got != Less {
		t.Fatalf("Compare(abc, abd) = %v, want Less", got)
	}
	if got := Compare(Text("abc"), Text("abc"), Binary); got != Equal {
		t.Fatalf("Compare(abc, abc) = %v, want Equal", got)
	}
}

func TestCompareBlob(t *testing.T) {
	if got := Compare(Blob([]byte{1, 2}), Blob([]byte{1, 2, 3}), Binary); got != Less {
		t.Fatalf("Compare(short, long) = %v, want Less", got)
	}
}

func TestIsTrue(t *testing.T) {
	cases := []struct {
		v    Value
		want bool
	}{
		{Null, false},
		{Integer(0), false},
		{Integer(1), true},
		{Real(0), false},
		{Real(0.5), true},
		{Text(""), false},
		{Text("0"), false},
		{Text("0.0"), true},
		{Text("hello"), true},
		{Blob([]byte{1}), false},
		{Bool(true), true},
		{Bool(false), false},
	}
	for _, c := range cases {
		if got := IsTrue(c.v); got != c.want {
			t.Errorf("IsTrue(%v) = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestEqual3VL(t *testing.T) {
	if _, isNull := Equal3VL(Null, Null, Binary); !isNull {
		t.Fatalf("NULL = NULL should be unknown")
	}
	if _, isNull := Equal3VL(Null, Integer(1), Binary); !isNull {
		t.Fatalf("NULL = 1 should be unknown")
	}
	if result, isNull := Equal3VL(Integer(1), Integer(1), Binary); isNull || !result {
		t.Fatalf("1 = 1 should be true, got result=%v isNull=%v", result, isNull)
	}
	if result, isNull := Equal3VL(Integer(1), Integer(2), Binary); isNull || result {
		t.Fatalf("1 = 2 should be false, got result=%v isNull=%v", result, isNull)
	}
}

func TestApplyAffinityNumericFromText(t *testing.T) {
	if got := ApplyAffinity(Text("42"), AffinityNumeric); got.Type() != TypeInteger || got.Int64() != 42 {
		t.Fatalf("ApplyAffinity(NUMERIC, '42') = %v, want integer 42", got)
	}
	if got := ApplyAffinity(Text("3.5"), AffinityNumeric); got.Type() != TypeReal || got.Float64() != 3.5 {
		t.Fatalf("ApplyAffinity(NUMERIC, '3.5') = %v, want real 3.5", got)
	}
	if got := ApplyAffinity(Text("abc"), AffinityNumeric); got.Type() != TypeText {
		t.Fatalf("ApplyAffinity(NUMERIC, 'abc') = %v, want unchanged text", got)
	}
}

func TestApplyAffinityText(t *testing.T) {
	if got := ApplyAffinity(Integer(7), AffinityText); got.Type() != TypeText || got.RawText() != "7" {
		t.Fatalf("ApplyAffinity(TEXT, 7) = %v, want text '7'", got)
	}
	blob := Blob([]byte("x"))
	if got := ApplyAffinity(blob, AffinityText); got.Type() != TypeBlob {
		t.Fatalf("ApplyAffinity(TEXT, blob) should leave BLOB untouched, got %v", got)
	}
}

func TestApplyAffinityBlob(t *testing.T) {
	if got := ApplyAffinity(Text("x"), AffinityBlob); got.Type() != TypeBlob {
		t.Fatalf("ApplyAffinity(BLOB, 'x') = %v, want blob", got)
	}
	if got := ApplyAffinity(Integer(1), AffinityBlob); got.Type() != TypeInteger {
		t.Fatalf("ApplyAffinity(BLOB, 1) should leave non-text untouched, got %v", got)
	}
}

func TestApplyAffinityIntegerReal(t *testing.T) {
	if got := ApplyAffinity(Real(2.0), AffinityInteger); got.Type() != TypeInteger || got.Int64() != 2 {
		t.Fatalf("ApplyAffinity(INTEGER, 2.0) = %v, want integer 2", got)
	}
	if got := ApplyAffinity(Real(2.5), AffinityInteger); got.Type() != TypeReal {
		t.Fatalf("ApplyAffinity(INTEGER, 2.5) should leave non-exact real untouched, got %v", got)
	}
	if got := ApplyAffinity(Integer(3), AffinityReal); got.Type() != TypeReal || got.Float64() != 3.0 {
		t.Fatalf("ApplyAffinity(REAL, 3) = %v, want real 3.0", got)
	}
}

func TestApplyAffinityNone(t *testing.T) {
	v := Text("keep me")
	if got := ApplyAffinity(v, AffinityNone); got.RawText() != v.RawText() {
		t.Fatalf("ApplyAffinity(NONE) must be identity")
	}
}

func TestAffinityFromTypeName(t *testing.T) {
	cases := map[string]Affinity{
		"INTEGER":         AffinityInteger,
		"VARCHAR(255)":    AffinityText,
		"CHAR(1)":         AffinityText,
		"BLOB":            AffinityBlob,
		"":                AffinityBlob,
		"DOUBLE":          AffinityReal,
		"FLOAT":           AffinityReal,
		"NUMERIC(10,2)":   AffinityNumeric,
		"BOOLEAN":         AffinityNumeric,
	}
	for typeName, want := range cases {
		if got := AffinityFromTypeName(typeName); got != want {
			t.Errorf("AffinityFromTypeName(%q) = %v, want %v", typeName, got, want)
		}
	}
}
