package serr

import (
	"errors"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	e := New("compile", KindCompile, errors.New("unexpected token"))
	want := "compile: compile: unexpected token"
	if got := e.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestErrorAtLocation(t *testing.T) {
	e := New("parse", KindParse, errors.New("bad token")).At(Location{Line: 2, Column: 5})
	want := "parse: parse (2:5): bad token"
	if got := e.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	e := New("op", KindRuntime, cause)
	if !errors.Is(e, cause) {
		t.Fatalf("errors.Is(e, cause) = false, want true")
	}
}

func TestIsAndKindOf(t *testing.T) {
	e := New("op", KindNotFound, errors.New("missing"))
	if !Is(e, KindNotFound) {
		t.Fatalf("Is(e, KindNotFound) = false, want true")
	}
	if Is(e, KindRange) {
		t.Fatalf("Is(e, KindRange) = true, want false")
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Fatalf("KindOf(plain error) should default to KindInternal")
	}
	if KindOf(e) != KindNotFound {
		t.Fatalf("KindOf(e) = %v, want KindNotFound", KindOf(e))
	}
}

func TestWithStatusDoesNotMutateReceiver(t *testing.T) {
	e := New("op", KindConstraint, errors.New("dup"))
	orig := e.Status
	e2 := e.WithStatus(42)
	if e.Status != orig {
		t.Fatalf("WithStatus mutated the receiver")
	}
	if e2.Status != 42 {
		t.Fatalf("WithStatus(42).Status = %d, want 42", e2.Status)
	}
}
