package dispatch

import "sync/atomic"

// maxHops bounds how many stub transfers one call can make. The longest
// legal path is dispatch -> resolve.fail -> resolve -> resolve.slow.
const maxHops = 8

// missFlags records how a call reached the slow path.
type missFlags struct {
	fromDispatch bool // entered through a Dispatch stub's fail-target
	backpatch    bool // the token's miss counter went negative on the way
}

// Call runs one invocation of the call site: it follows cell into whatever
// stub it currently names, exactly as the site's indirect jump would, and
// returns the method target the call lands on.
func (c *DispatchCache) Call(cell *Cell, recv Object) (Target, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	entered := cell.Load()
	return c.execute(cell, entered, recv.TypeIdentity())
}

func (c *DispatchCache) execute(cell *Cell, entered uintptr, typ TypeID) (Target, error) {
	pc := entered
	var flags missFlags
	for hop := 0; hop < maxHops; hop++ {
		s, off, ok := c.heap.stubAt(pc)
		if !ok {
			if pc == 0 || pc == c.workerPC {
				fatal(&ConsistencyError{Op: "call", Addr: pc, Steps: hop, Detail: "cell does not hold a code address"})
			}
			// Not a stub: the cell was patched straight to a method.
			return Target(pc), nil
		}

		switch s.kind() {
		case StubLookup:
			ls := lookupStub{s}
			c.checkEntry(s, off, EntryLookup)
			c.checkWorker(ls.resolveTarget(), pc)
			return c.onCacheMiss(cell, entered, typ, ls.token(), pc, flags)

		case StubDispatch:
			ds := dispatchStub{s}
			c.checkEntry(s, off, EntryDispatch)
			if ds.expected() == typ {
				c.stats.dispatchHits.Add(1)
				return ds.impl(), nil
			}
			c.stats.dispatchMisses.Add(1)
			flags.fromDispatch = true
			pc = ds.failTarget()

		case StubResolve:
			rs := resolveStub{s}
			if rs.token() != cell.token {
				fatal(&ConsistencyError{Op: "call", Addr: pc, Steps: hop, Detail: "resolve stub token does not match call site"})
			}
			switch entryAt(StubResolve, off) {
			case EntryResolveFail:
				if c.decrement(rs) < 0 {
					flags.backpatch = true
					c.promote(cell, entered, rs)
				}
				pc = rs.resolveEntry()

			case EntryResolve:
				if rs.cacheTable() != c.table.address() {
					fatal(&ConsistencyError{Op: "call", Addr: pc, Steps: hop, Detail: "resolve stub bound to a different cache table"})
				}
				if target, ok := c.table.lookup(typ, rs.token(), rs.hashedToken()); ok {
					c.stats.cacheHits.Add(1)
					return target, nil
				}
				c.stats.cacheMisses.Add(1)
				pc = rs.slowEntry()

			case EntryResolveSlow:
				c.checkWorker(rs.resolveTarget(), pc)
				return c.onCacheMiss(cell, entered, typ, rs.token(), pc, flags)

			default:
				fatal(&ConsistencyError{Op: "call", Addr: pc, Steps: hop, Detail: "resolve stub entered between entry points"})
			}
		}
	}
	fatal(&ConsistencyError{Op: "call", Addr: entered, Steps: maxHops, Detail: "stub transfer loop"})
	return 0, nil
}

func (c *DispatchCache) checkEntry(s stubRef, off int, want EntryPoint) {
	if entryAt(s.kind(), off) != want {
		fatal(&ConsistencyError{Op: "call", Addr: s.base() + uintptr(off), Detail: s.kind().String() + " stub entered between entry points"})
	}
}

func (c *DispatchCache) checkWorker(target, pc uintptr) {
	if target != c.workerPC {
		fatal(&ConsistencyError{Op: "call", Addr: pc, Detail: "stub resolve-target is not this cache's resolver"})
	}
}

// decrement lowers the token's miss counter and returns the new value. The
// counter saturates once negative. Lost decrements under contention only
// shift when promotion happens.
func (c *DispatchCache) decrement(rs resolveStub) int32 {
	p, ok := c.heap.counterAt(rs.counterAddr())
	if !ok {
		fatal(&ConsistencyError{Op: "counter", Addr: rs.counterAddr(), Detail: "resolve stub counter is not a counter slot"})
	}
	if v := atomic.LoadInt32(p); v < 0 {
		return v
	}
	return atomic.AddInt32(p, -1)
}

// MissCounter reports the remaining misses token may absorb before its
// call sites are promoted.
func (c *DispatchCache) MissCounter(token Token) (int32, bool) {
	rs, ok := c.lookupResolveStub(token)
	if !ok {
		return 0, false
	}
	p, ok := c.heap.counterAt(rs.counterAddr())
	if !ok {
		return 0, false
	}
	return atomic.LoadInt32(p), true
}

// ResolveUncached resolves without touching the cache or any cell. It is
// the fallback for call sites that could not get a cell at all.
func (c *DispatchCache) ResolveUncached(token Token, recv Object) (Target, error) {
	c.stats.resolverCalls.Add(1)
	return c.resolver.Resolve(recv.TypeIdentity(), token)
}
