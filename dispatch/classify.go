package dispatch

import (
	"fmt"
	"sync/atomic"
)

// Classify reports which kind of stub owns addr. Any address inside a
// published stub classifies as that stub's kind; every other address,
// including counter slots and resolved method targets, is StubUnknown.
// It never faults, whatever addr is.
func (c *DispatchCache) Classify(addr uintptr) StubKind {
	s, _, ok := c.heap.stubAt(addr)
	if !ok {
		return StubUnknown
	}
	return s.kind()
}

// EntryPointAt reports which entry point addr names, or EntryNone when addr
// is inside a stub but not at an entry, or outside every stub.
func (c *DispatchCache) EntryPointAt(addr uintptr) EntryPoint {
	s, off, ok := c.heap.stubAt(addr)
	if !ok {
		return EntryNone
	}
	return entryAt(s.kind(), off)
}

// StubInfo is a decoded view of one stub for debuggers and profilers.
// Fields that do not apply to Kind are zero.
type StubInfo struct {
	Kind    StubKind
	Base    uintptr
	Size    int
	Entries []uintptr

	Token         Token
	ResolveTarget uintptr

	ExpectedType TypeID
	Impl         Target
	FailTarget   uintptr

	HashedToken uint64
	CacheTable  uintptr
	Counter     int32
}

// Describe decodes the stub owning addr.
func (c *DispatchCache) Describe(addr uintptr) (StubInfo, error) {
	s, _, ok := c.heap.stubAt(addr)
	if !ok {
		return StubInfo{}, fmt.Errorf("%w: %#x", ErrUnknownStub, addr)
	}
	return c.describe(s), nil
}

func (c *DispatchCache) describe(s stubRef) StubInfo {
	info := StubInfo{
		Kind: s.kind(),
		Base: s.base(),
		Size: s.size(),
	}
	for _, off := range entryOffsets(s.kind()) {
		info.Entries = append(info.Entries, s.base()+uintptr(off))
	}
	switch s.kind() {
	case StubLookup:
		ls := lookupStub{s}
		info.Token = ls.token()
		info.ResolveTarget = ls.resolveTarget()
	case StubDispatch:
		ds := dispatchStub{s}
		info.ExpectedType = ds.expected()
		info.Impl = ds.impl()
		info.FailTarget = ds.failTarget()
	case StubResolve:
		rs := resolveStub{s}
		info.Token = rs.token()
		info.HashedToken = rs.hashedToken()
		info.CacheTable = rs.cacheTable()
		info.ResolveTarget = rs.resolveTarget()
		if p, ok := c.heap.counterAt(rs.counterAddr()); ok {
			info.Counter = atomic.LoadInt32(p)
		}
	}
	return info
}

// Stubs lists every published stub in region order.
func (c *DispatchCache) Stubs() []StubInfo {
	var out []StubInfo
	c.heap.walk(func(s stubRef) {
		out = append(out, c.describe(s))
	})
	return out
}
