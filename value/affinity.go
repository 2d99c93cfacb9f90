package value

import "strconv"

// Affinity is a per-column coercion hint (spec §3/§4.1).
type Affinity int

const (
	AffinityNone Affinity = iota
	AffinityNumeric
	AffinityInteger
	AffinityReal
	AffinityText
	AffinityBlob
)

func (a Affinity) String() string {
	switch a {
	case AffinityNumeric:
		return "NUMERIC"
	case AffinityInteger:
		return "INTEGER"
	case AffinityReal:
		return "REAL"
	case AffinityText:
		return "TEXT"
	case AffinityBlob:
		return "BLOB"
	default:
		return "NONE"
	}
}

// AffinityFromTypeName maps a declared column type name to an affinity
// following SQLite's well known rules, reduced to the subset this engine's
// schema registry cares about: a CHAR/CLOB/TEXT-containing name is TEXT, a
// BLOB-containing (or empty) name is BLOB, a DOUBLE/FLOA/REAL-containing
// name is REAL, an INT-containing name is INTEGER, else NUMERIC.
func AffinityFromTypeName(typeName string) Affinity {
	upper := make([]byte, len(typeName))
	for i := 0; i < len(typeName); i++ {
		c := typeName[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper[i] = c
	}
	s := string(upper)

	contains := func(sub string) bool {
		return len(s) >= len(sub) && indexOf(s, sub) >= 0
	}

	switch {
	case contains("INT"):
		return AffinityInteger
	case contains("CHAR"), contains("CLOB"), contains("TEXT"):
		return AffinityText
	case s == "":
		return AffinityBlob
	case contains("BLOB"):
		return AffinityBlob
	case contains("REAL"), contains("FLOA"), contains("DOUB"):
		return AffinityReal
	default:
		return AffinityNumeric
	}
}

func indexOf(s, sub string) int {
	n, m := len(s), len(sub)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}

// ApplyAffinity coerces v per the column affinity aff. Coercion is pure: it
// never mutates v, and it never discards information when the coercion is
// impossible — in that case the original value is returned unchanged
// (spec §4.1).
func ApplyAffinity(v Value, aff Affinity) Value {
	switch aff {
	case AffinityNone:
		return v
	case AffinityText:
		return applyText(v)
	case AffinityBlob:
		return applyBlob(v)
	case AffinityInteger:
		return applyIntegerOrReal(v, true)
	case AffinityReal:
		return applyIntegerOrReal(v, false)
	case AffinityNumeric:
		return applyNumeric(v)
	default:
		return v
	}
}

func applyText(v Value) Value {
	switch v.typ {
	case TypeText, TypeBlob, TypeNull:
		return v
	default:
		return Text(v.String())
	}
}

func applyBlob(v Value) Value {
	if v.typ == TypeText {
		return Blob([]byte(v.text))
	}
	return v
}

// applyIntegerOrReal implements both INTEGER and REAL affinity: numeric
// text is parsed; an integer value under REAL affinity is converted;
// anything that doesn't parse cleanly is left untouched.
func applyIntegerOrReal(v Value, wantInt bool) Value {
	switch v.typ {
	case TypeInteger:
		if wantInt {
			return v
		}
		return Real(float64(v.i))
	case TypeReal:
		if !wantInt {
			return v
		}
		if i, ok := exactInt(v.r); ok {
			return Integer(i)
		}
		return v
	case TypeText:
		if i, err := strconv.ParseInt(v.text, 10, 64); err == nil {
			if wantInt {
				return Integer(i)
			}
			return Real(float64(i))
		}
		if f, err := strconv.ParseFloat(v.text, 64); err == nil {
			if wantInt {
				if i, ok := exactInt(f); ok {
					return Integer(i)
				}
				return v
			}
			return Real(f)
		}
		return v
	default:
		return v
	}
}

func applyNumeric(v Value) Value {
	switch v.typ {
	case TypeInteger, TypeReal, TypeBool:
		return v
	case TypeText:
		if i, err := strconv.ParseInt(v.text, 10, 64); err == nil {
			return Integer(i)
		}
		if f, err := strconv.ParseFloat(v.text, 64); err == nil {
			return Real(f)
		}
		return v
	default:
		return v
	}
}

func exactInt(f float64) (int64, bool) {
	i := int64(f)
	if float64(i) == f {
		return i, true
	}
	return 0, false
}
