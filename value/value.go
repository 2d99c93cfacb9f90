// Package value implements the tagged SQL value union (C1 of the design):
// NULL, INTEGER, REAL, TEXT, BLOB and BOOL, along with the storage-class
// ordered comparator and affinity coercion rules used throughout the
// compiler, planner, VDBE runtime and memory table.
//
// adapted from the Value/ColumnType split in go.riyazali.net/sqlite's
// value.go and func.go, minus the cgo sqlite3_value* plumbing.
package value

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Type is the storage class of a Value.
type Type int

const (
	TypeNull Type = iota
	TypeInteger
	TypeReal
	TypeText
	TypeBlob
	TypeBool
)

func (t Type) String() string {
	switch t {
	case TypeNull:
		return "NULL"
	case TypeInteger:
		return "INTEGER"
	case TypeReal:
		return "REAL"
	case TypeText:
		return "TEXT"
	case TypeBlob:
		return "BLOB"
	case TypeBool:
		return "BOOL"
	default:
		return "UNKNOWN"
	}
}

// Value is an SQL value: exactly one of its fields is meaningful,
// selected by Type.
type Value struct {
	typ  Type
	i    int64
	r    float64
	text string
	blob []byte
	b    bool
}

// Null is the canonical NULL value.
var Null = Value{typ: TypeNull}

func Integer(i int64) Value          { return Value{typ: TypeInteger, i: i} }
func Real(r float64) Value           { return Value{typ: TypeReal, r: r} }
func Text(s string) Value            { return Value{typ: TypeText, text: s} }
func Blob(b []byte) Value            { return Value{typ: TypeBlob, blob: b} }
func Bool(b bool) Value              { return Value{typ: TypeBool, b: b} }
func (v Value) Type() Type           { return v.typ }
func (v Value) IsNull() bool         { return v.typ == TypeNull }

// Int64 returns the value's integer representation; meaningful only for
// TypeInteger and TypeBool values.
func (v Value) Int64() int64 {
	if v.typ == TypeBool {
		if v.b {
			return 1
		}
		return 0
	}
	return v.i
}

// Float64 returns the value's real representation; meaningful only for
// TypeReal values.
func (v Value) Float64() float64 { return v.r }

// RawText returns the value's text representation; meaningful only for
// TypeText values.
func (v Value) RawText() string { return v.text }

// RawBlob returns the value's byte representation; meaningful only for
// TypeBlob values.
func (v Value) RawBlob() []byte { return v.blob }

// RawBool returns the value's boolean representation; meaningful only for
// TypeBool values.
func (v Value) RawBool() bool { return v.b }

// String renders the value for diagnostics (EXPLAIN output, error
// messages); it is not a SQL-standard textual cast — use ApplyAffinity
// with AffinityText for that.
func (v Value) String() string {
	switch v.typ {
	case TypeNull:
		return "NULL"
	case TypeInteger:
		return strconv.FormatInt(v.i, 10)
	case TypeReal:
		return strconv.FormatFloat(v.r, 'g', -1, 64)
	case TypeText:
		return v.text
	case TypeBlob:
		return fmt.Sprintf("x'%x'", v.blob)
	case TypeBool:
		return strconv.FormatBool(v.b)
	default:
		return "?"
	}
}

// class orders storage classes per spec §3: NULL < Numeric < TEXT < BLOB.
func (t Type) class() int {
	switch t {
	case TypeNull:
		return 0
	case TypeInteger, TypeReal, TypeBool:
		return 1
	case TypeText:
		return 2
	case TypeBlob:
		return 3
	default:
		return 4
	}
}

func (v Value) isNumeric() bool {
	return v.typ == TypeInteger || v.typ == TypeReal || v.typ == TypeBool
}

func (v Value) numeric() float64 {
	switch v.typ {
	case TypeInteger:
		return float64(v.i)
	case TypeReal:
		return v.r
	case TypeBool:
		if v.b {
			return 1
		}
		return 0
	}
	return 0
}

// isIntegral reports whether the numeric value carries no fractional part
// and thus can be compared exactly as an int64 rather than promoted to
// float64 (which would lose precision for large integers).
func (v Value) isIntegral() bool {
	return v.typ == TypeInteger || v.typ == TypeBool
}

// Collation compares two TEXT values. BINARY is the only collation this
// engine ships by default (spec §1 Non-goals); named collations registered
// through database.RegisterCollation implement the same signature.
type Collation func(a, b string) int

// Binary is the default collation: lexicographic on code units.
func Binary(a, b string) int { return strings.Compare(a, b) }

// Ordering mirrors the classic three-way comparator result.
type Ordering int

const (
	Less    Ordering = -1
	Equal   Ordering = 0
	Greater Ordering = 1
)

// Compare orders two values per spec §3/§4.1: NULL < Numeric < TEXT < BLOB;
// within Numeric, integers/reals compare numerically (bool coerces to 0/1);
// TEXT compares via collation; BLOB compares lexicographically on bytes.
//
// Compare does not implement SQL's three-valued NULL=NULL-is-unknown
// semantics — that belongs to the expression evaluator (Eq/Ne opcodes);
// this is the *ordering* comparator used by indexes, B-tree keys and
// ORDER BY, where NULL must have a definite position.
func Compare(a, b Value, collation Collation) Ordering {
	ca, cb := a.typ.class(), b.typ.class()
	if ca != cb {
		if ca < cb {
			return Less
		}
		return Greater
	}

	switch ca {
	case 0: // both NULL
		return Equal
	case 1: // numeric
		if a.isIntegral() && b.isIntegral() {
			ai, bi := a.Int64(), b.Int64()
			switch {
			case ai < bi:
				return Less
			case ai > bi:
				return Greater
			default:
				return Equal
			}
		}
		af, bf := a.numeric(), b.numeric()
		switch {
		case af < bf:
			return Less
		case af > bf:
			return Greater
		default:
			return Equal
		}
	case 2: // text
		if collation == nil {
			collation = Binary
		}
		c := collation(a.text, b.text)
		switch {
		case c < 0:
			return Less
		case c > 0:
			return Greater
		default:
			return Equal
		}
	case 3: // blob
		return Ordering(clampCmp(bytes.Compare(a.blob, b.blob)))
	default:
		return Equal
	}
}

func clampCmp(c int) int {
	if c < 0 {
		return -1
	}
	if c > 0 {
		return 1
	}
	return 0
}

// IsTrue implements truthiness per spec §4.1: NULL is false, empty text or
// the text "0" is false, numeric zero is false, BLOB is always false, else
// true.
func IsTrue(v Value) bool {
	switch v.typ {
	case TypeNull:
		return false
	case TypeBlob:
		return false
	case TypeBool:
		return v.b
	case TypeInteger:
		return v.i != 0
	case TypeReal:
		return v.r != 0 && !math.IsNaN(v.r)
	case TypeText:
		if v.text == "" || v.text == "0" {
			return false
		}
		return true
	default:
		return false
	}
}

// Equal3VL reports value identity under the three-valued logic semantics for
// `=`: NULL compared against anything (including NULL) is unknown rather
// than true, surfaced here as isNull=true alongside result, as the VDBE's
// Eq/Ne opcodes need.
func Equal3VL(a, b Value, collation Collation) (result bool, isNull bool) {
	if a.IsNull() || b.IsNull() {
		return false, true
	}
	return Compare(a, b, collation) == Equal, false
}
