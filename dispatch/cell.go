package dispatch

import "sync/atomic"

// Cell is a call site's indirection cell: one word holding the address the
// site jumps through. The JIT owns the cell; this package only rewrites its
// contents, always with a single atomic store of a fully built address.
type Cell struct {
	target atomic.Uintptr
	token  Token
}

// Load returns the address the call site currently jumps to.
func (c *Cell) Load() uintptr {
	return c.target.Load()
}

// Token returns the method slot this call site invokes.
func (c *Cell) Token() Token {
	return c.token
}

func (c *Cell) store(addr uintptr) {
	c.target.Store(addr)
}

// swap rewrites the cell only if it still holds old, so a thread working
// from a stale view cannot undo a newer rewrite.
func (c *Cell) swap(old, addr uintptr) bool {
	return c.target.CompareAndSwap(old, addr)
}
