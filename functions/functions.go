// Package functions is the built-in scalar/aggregate/window function
// registry the compiler resolves names against at compile time. Each
// entry produces the plain-Go-func shapes vdbe executes
// (vdbe.ScalarFunc, *vdbe.AggFunc); this package is the only place
// those shapes get real bodies, which keeps vdbe itself free of a
// dependency on any particular function's logic.
//
// grounded on the teacher's per-function extension files
// (_examples/sum/sum.go's Args/Deterministic/Step/Final/Inverse/Value
// split, _examples/upper/upper.go's Args/Deterministic/Apply split) —
// reimplemented as a name-keyed registry instead of per-file
// sqlite.Register(...) init() calls, since this engine has no
// extension-loading boundary to register across.
package functions

import (
	"context"
	"math"
	"strings"

	"github.com/Digithought/quereus-sub003/serr"
	"github.com/Digithought/quereus-sub003/value"
	"github.com/Digithought/quereus-sub003/vdbe"
)

// Scalar describes one built-in scalar function before it's bound into
// a vdbe.ScalarFunc; Args is the fixed arity (-1 means variadic).
type Scalar struct {
	Name          string
	Args          int
	Deterministic bool
	Apply         vdbe.ScalarFunc
}

// Aggregate describes one built-in aggregate/window function; a non-nil
// Fn.Inverse marks it as sliding-frame capable.
type Aggregate struct {
	Name          string
	Args          int
	Deterministic bool
	Fn            *vdbe.AggFunc
}

// Registry resolves a function name (case-insensitive) plus arg count
// to its scalar or aggregate implementation.
type Registry struct {
	scalars    map[string]Scalar
	aggregates map[string]Aggregate
}

// NewRegistry builds a Registry pre-populated with the built-in set.
func NewRegistry() *Registry {
	r := &Registry{scalars: make(map[string]Scalar), aggregates: make(map[string]Aggregate)}
	for _, s := range builtinScalars() {
		r.RegisterScalar(s)
	}
	for _, a := range builtinAggregates() {
		r.RegisterAggregate(a)
	}
	return r
}

// RegisterScalar adds (or replaces) a scalar function, letting
// database.RegisterFunction extend the built-in set (spec §8's
// extension point).
func (r *Registry) RegisterScalar(s Scalar) {
	r.scalars[strings.ToLower(s.Name)] = s
}

// RegisterAggregate adds (or replaces) an aggregate/window function.
func (r *Registry) RegisterAggregate(a Aggregate) {
	r.aggregates[strings.ToLower(a.Name)] = a
}

// LookupScalar finds a scalar function by name and arg count.
func (r *Registry) LookupScalar(name string, numArgs int) (vdbe.ScalarFunc, bool) {
	s, ok := r.scalars[strings.ToLower(name)]
	if !ok || (s.Args >= 0 && s.Args != numArgs) {
		return nil, false
	}
	return s.Apply, true
}

// LookupAggregate finds an aggregate/window function by name and arg count.
func (r *Registry) LookupAggregate(name string, numArgs int) (*vdbe.AggFunc, bool) {
	a, ok := r.aggregates[strings.ToLower(name)]
	if !ok || (a.Args >= 0 && a.Args != numArgs) {
		return nil, false
	}
	return a.Fn, true
}

// defaultScalars holds the base built-in set; other files in this
// package (e.g. pattern.go's LIKE/GLOB/REGEXP) append to it from an
// init() so NewRegistry picks them up without a second registration path.
var defaultScalars []Scalar

func builtinScalars() []Scalar {
	return append([]Scalar{
		{Name: "upper", Args: 1, Deterministic: true, Apply: scalarUpper},
		{Name: "lower", Args: 1, Deterministic: true, Apply: scalarLower},
		{Name: "length", Args: 1, Deterministic: true, Apply: scalarLength},
		{Name: "coalesce", Args: -1, Deterministic: true, Apply: scalarCoalesce},
		{Name: "abs", Args: 1, Deterministic: true, Apply: scalarAbs},
		{Name: "typeof", Args: 1, Deterministic: true, Apply: scalarTypeof},
		{Name: "ifnull", Args: 2, Deterministic: true, Apply: scalarCoalesce},
	}, defaultScalars...)
}

func scalarUpper(ctx context.Context, args []value.Value) (value.Value, error) {
	if args[0].IsNull() {
		return value.Null, nil
	}
	return value.Text(strings.ToUpper(args[0].String())), nil
}

func scalarLower(ctx context.Context, args []value.Value) (value.Value, error) {
	if args[0].IsNull() {
		return value.Null, nil
	}
	return value.Text(strings.ToLower(args[0].String())), nil
}

func scalarLength(ctx context.Context, args []value.Value) (value.Value, error) {
	v := args[0]
	switch v.Type() {
	case value.TypeNull:
		return value.Null, nil
	case value.TypeBlob:
		return value.Integer(int64(len(v.RawBlob()))), nil
	default:
		return value.Integer(int64(len([]rune(v.String())))), nil
	}
}

func scalarCoalesce(ctx context.Context, args []value.Value) (value.Value, error) {
	for _, a := range args {
		if !a.IsNull() {
			return a, nil
		}
	}
	return value.Null, nil
}

func scalarAbs(ctx context.Context, args []value.Value) (value.Value, error) {
	v := args[0]
	switch v.Type() {
	case value.TypeNull:
		return value.Null, nil
	case value.TypeInteger:
		n := v.Int64()
		if n < 0 {
			n = -n
		}
		return value.Integer(n), nil
	case value.TypeReal:
		return value.Real(math.Abs(v.Float64())), nil
	default:
		return value.Null, serr.Newf("abs", serr.KindType, "abs() requires a numeric argument")
	}
}

func scalarTypeof(ctx context.Context, args []value.Value) (value.Value, error) {
	return value.Text(strings.ToLower(args[0].Type().String())), nil
}

func builtinAggregates() []Aggregate {
	return []Aggregate{
		{Name: "count", Args: -1, Deterministic: true, Fn: countAgg()},
		{Name: "sum", Args: 1, Deterministic: true, Fn: sumAgg()},
		{Name: "avg", Args: 1, Deterministic: true, Fn: avgAgg()},
		{Name: "min", Args: 1, Deterministic: true, Fn: minAgg()},
		{Name: "max", Args: 1, Deterministic: true, Fn: maxAgg()},
	}
}

// countAcc tracks rows seen; count(*) is modeled by the compiler
// passing a non-NULL sentinel argument, so Step never needs to special
// case a zero-arg call.
type countAcc struct{ n int64 }

func countAgg() *vdbe.AggFunc {
	return &vdbe.AggFunc{
		Init: func() any { return &countAcc{} },
		Step: func(acc any, args []value.Value) (any, error) {
			a := acc.(*countAcc)
			if len(args) == 0 || !args[0].IsNull() {
				a.n++
			}
			return a, nil
		},
		Final: func(acc any) (value.Value, error) {
			return value.Integer(acc.(*countAcc).n), nil
		},
		Inverse: func(acc any, args []value.Value) (any, error) {
			a := acc.(*countAcc)
			if len(args) == 0 || !args[0].IsNull() {
				a.n--
			}
			return a, nil
		},
	}
}

// sumAcc mirrors the teacher's SumContext: integer accumulation until a
// REAL operand forces a switch to floating-point, matching SQLite's
// sum() aggregate behavior the teacher's own sum.go adapts from.
type sumAcc struct {
	iSum   int64
	rSum   float64
	approx bool
	count  int64
}

func sumAgg() *vdbe.AggFunc {
	return &vdbe.AggFunc{
		Init: func() any { return &sumAcc{} },
		Step: func(acc any, args []value.Value) (any, error) {
			a := acc.(*sumAcc)
			v := args[0]
			if v.IsNull() {
				return a, nil
			}
			a.count++
			if v.Type() == value.TypeReal {
				a.approx = true
				a.rSum += v.Float64()
			} else {
				a.iSum += v.Int64()
			}
			return a, nil
		},
		Final: func(acc any) (value.Value, error) {
			a := acc.(*sumAcc)
			if a.count == 0 {
				return value.Null, nil
			}
			if a.approx {
				return value.Real(a.rSum + float64(a.iSum)), nil
			}
			return value.Integer(a.iSum), nil
		},
		Inverse: func(acc any, args []value.Value) (any, error) {
			a := acc.(*sumAcc)
			v := args[0]
			if v.IsNull() {
				return a, nil
			}
			a.count--
			if v.Type() == value.TypeReal {
				a.rSum -= v.Float64()
			} else {
				a.iSum -= v.Int64()
			}
			return a, nil
		},
	}
}

func avgAgg() *vdbe.AggFunc {
	sum := sumAgg()
	return &vdbe.AggFunc{
		Init: func() any { return &sumAcc{} },
		Step: sum.Step,
		Final: func(acc any) (value.Value, error) {
			a := acc.(*sumAcc)
			if a.count == 0 {
				return value.Null, nil
			}
			total := a.rSum + float64(a.iSum)
			return value.Real(total / float64(a.count)), nil
		},
		Inverse: sum.Inverse,
	}
}

type minMaxAcc struct {
	val value.Value
	set bool
}

func minAgg() *vdbe.AggFunc { return minMaxAgg(value.Less) }
func maxAgg() *vdbe.AggFunc { return minMaxAgg(value.Greater) }

// minMaxAgg builds min()/max() parameterized on which comparator
// result replaces the running extreme; neither is window-invertible
// (removing a row from the frame can't tell you the new extreme
// without rescanning), so Inverse is left nil.
func minMaxAgg(keep value.Ordering) *vdbe.AggFunc {
	return &vdbe.AggFunc{
		Init: func() any { return &minMaxAcc{} },
		Step: func(acc any, args []value.Value) (any, error) {
			a := acc.(*minMaxAcc)
			v := args[0]
			if v.IsNull() {
				return a, nil
			}
			if !a.set || value.Compare(v, a.val, value.Binary) == keep {
				a.val = v
				a.set = true
			}
			return a, nil
		},
		Final: func(acc any) (value.Value, error) {
			a := acc.(*minMaxAcc)
			if !a.set {
				return value.Null, nil
			}
			return a.val, nil
		},
	}
}
