// Package logging threads a single github.com/go-pkgz/lgr logger through
// database, memtable and vdbe, defaulting to a no-op so the engine is
// silent unless a caller opts in.
//
// grounded on umputun-spot's use of lgr across its executor/runner
// packages: a logger is accepted once at construction and passed down
// by value, never looked up from a global.
package logging

import "github.com/go-pkgz/lgr"

// L is the logger type used throughout the engine; it's an alias so
// callers never need to import go-pkgz/lgr directly just to pass one in.
type L = lgr.L

// NoOp is the default logger: every call is a no-op.
var NoOp L = lgr.NoOp

// Default returns l, or NoOp if l is nil — call this at the top of any
// constructor that accepts an optional logger.
func Default(l L) L {
	if l == nil {
		return NoOp
	}
	return l
}
