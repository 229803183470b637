package dispatch

import (
	"errors"
	"sync/atomic"
	"testing"
)

// obj is a receiver whose type identity is the value itself.
type obj TypeID

func (o obj) TypeIdentity() TypeID { return TypeID(o) }

const (
	typeA obj = 0x10000
	typeB obj = 0x21040
	typeC obj = 0x32080
	typeD obj = 0x430c0
	typeE obj = 0x54100

	tokK1 Token = 7
	tokK2 Token = 8
)

var errNoMethod = errors.New("no method")

// targetFor is the method every (type, token) pair resolves to in tests.
func targetFor(typ TypeID, tok Token) Target {
	return Target(0x5000_0000 + uint64(typ)<<4 + uint64(tok))
}

type fakeResolver struct {
	calls   atomic.Int64
	failFor TypeID
}

func (f *fakeResolver) Resolve(typ TypeID, tok Token) (Target, error) {
	f.calls.Add(1)
	if f.failFor != 0 && typ == f.failFor {
		return 0, errNoMethod
	}
	return targetFor(typ, tok), nil
}

func newTestCache(t testing.TB, opts Options) (*DispatchCache, *fakeResolver) {
	t.Helper()
	r := &fakeResolver{}
	c, err := New(r, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, r
}

func withThreshold(n int) Options {
	opts := DefaultOptions()
	opts.PromotionThreshold = n
	return opts
}

func mustCall(t testing.TB, c *DispatchCache, cell *Cell, recv Object) Target {
	t.Helper()
	target, err := c.Call(cell, recv)
	if err != nil {
		t.Fatalf("Call(%#x): %v", uintptr(recv.TypeIdentity()), err)
	}
	if want := targetFor(recv.TypeIdentity(), cell.Token()); target != want {
		t.Fatalf("Call(%#x) = %#x, want %#x", uintptr(recv.TypeIdentity()), uintptr(target), uintptr(want))
	}
	return target
}

func mustEmit(t testing.TB, c *DispatchCache, tok Token) *Cell {
	t.Helper()
	cell, err := c.EmitIndirectionCell(tok)
	if err != nil {
		t.Fatalf("EmitIndirectionCell: %v", err)
	}
	return cell
}

// expectConsistencyPanic fails the test unless fn panics with a
// *ConsistencyError.
func expectConsistencyPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a consistency panic")
		}
		if _, ok := r.(*ConsistencyError); !ok {
			t.Fatalf("panic value = %T (%v), want *ConsistencyError", r, r)
		}
	}()
	fn()
}
