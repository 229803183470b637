package dispatch

import "sync/atomic"

// stubRef is a typed handle onto a published stub slot.
type stubRef struct {
	r   *region
	off int
}

func (s stubRef) kind() StubKind {
	return s.r.kind
}

func (s stubRef) base() uintptr {
	return s.r.addr(s.off)
}

func (s stubRef) size() int {
	return s.r.slotSize
}

func (s stubRef) field(off int) uint64 {
	return s.r.word(s.off + off)
}

// lookupStub is the bootstrap state of a call site. It holds no cached
// data and always transfers to the resolver.
type lookupStub struct{ stubRef }

func (s lookupStub) entry() uintptr         { return s.base() + lookupEntryOff }
func (s lookupStub) resolveTarget() uintptr { return uintptr(s.field(lookupResolveTargetOff)) }
func (s lookupStub) token() Token           { return Token(s.field(lookupTokenOff)) }

// dispatchStub is the monomorphic fast path: one type compare, then a jump
// to impl-target on a match or fail-target otherwise.
type dispatchStub struct{ stubRef }

func (s dispatchStub) entry() uintptr      { return s.base() + dispatchEntryOff }
func (s dispatchStub) expected() TypeID    { return TypeID(s.field(dispatchExpectedOff)) }
func (s dispatchStub) impl() Target        { return Target(s.field(dispatchImplOff)) }
func (s dispatchStub) failTarget() uintptr { return uintptr(s.field(dispatchFailOff)) }

// resolveStub is shared by every call site of one token. It probes the
// resolve cache table and owns the token's miss counter.
type resolveStub struct{ stubRef }

func (s resolveStub) failEntry() uintptr     { return s.base() + resolveFailEntryOff }
func (s resolveStub) resolveEntry() uintptr  { return s.base() + resolveEntryOff }
func (s resolveStub) slowEntry() uintptr     { return s.base() + resolveSlowEntryOff }
func (s resolveStub) counterAddr() uintptr   { return uintptr(s.field(resolveCounterOff)) }
func (s resolveStub) token() Token           { return Token(s.field(resolveTokenOff)) }
func (s resolveStub) hashedToken() uint64    { return s.field(resolveHashedTokenOff) }
func (s resolveStub) cacheTable() uintptr    { return uintptr(s.field(resolveCacheTableOff)) }
func (s resolveStub) resolveTarget() uintptr { return uintptr(s.field(resolveResolveTargetOff)) }

func (h *stubHeap) newLookupStub(resolveTarget uintptr, token Token) (lookupStub, error) {
	r, off, err := h.allocate(StubLookup)
	if err != nil {
		return lookupStub{}, err
	}
	r.setWord(off+lookupResolveTargetOff, uint64(resolveTarget))
	r.setWord(off+lookupTokenOff, uint64(token))
	r.publish(off, headerFor(StubLookup))
	return lookupStub{stubRef{r: r, off: off}}, nil
}

func (h *stubHeap) newDispatchStub(expected TypeID, impl Target, fail uintptr) (dispatchStub, error) {
	r, off, err := h.allocate(StubDispatch)
	if err != nil {
		return dispatchStub{}, err
	}
	r.setWord(off+dispatchExpectedOff, uint64(expected))
	r.setWord(off+dispatchImplOff, uint64(impl))
	r.setWord(off+dispatchFailOff, uint64(fail))
	r.publish(off, headerFor(StubDispatch))
	return dispatchStub{stubRef{r: r, off: off}}, nil
}

// newResolveStub allocates the token's counter slot, seeds it with the
// promotion threshold, then builds the stub that points at it.
func (h *stubHeap) newResolveStub(token Token, hashed uint64, table, resolveTarget uintptr, threshold int32) (resolveStub, error) {
	cr, coff, err := h.allocate(stubCounter)
	if err != nil {
		return resolveStub{}, err
	}
	atomic.StoreInt32(cr.counter(coff), threshold)

	r, off, err := h.allocate(StubResolve)
	if err != nil {
		return resolveStub{}, err
	}
	r.setWord(off+resolveCounterOff, uint64(cr.addr(coff)))
	r.setWord(off+resolveTokenOff, uint64(token))
	r.setWord(off+resolveHashedTokenOff, hashed)
	r.setWord(off+resolveCacheTableOff, uint64(table))
	r.setWord(off+resolveResolveTargetOff, uint64(resolveTarget))
	r.publish(off, headerFor(StubResolve))
	return resolveStub{stubRef{r: r, off: off}}, nil
}
