package dispatch

import "fmt"

// Call site states and the rewrites between them:
//
//	Lookup   --first resolution-------------------> Dispatch
//	Dispatch --slow-path miss, counter >= 0--------> Dispatch (new type)
//	Dispatch --fail entry drives counter below 0---> Resolved-Direct
//
// Resolved-Direct is terminal. Each rewrite is one atomic word store; no
// lock is held. Stale rewrites lose a CompareAndSwap against the value the
// call originally entered through.

// OnCacheMiss is the resolver entry used by stubs: origin is the address
// of the Lookup stub entry or Resolve stub slow entry that gave up. It
// resolves (typ, token), records the result in the cache table and
// rewrites cell as the promotion protocol requires.
func (c *DispatchCache) OnCacheMiss(cell *Cell, typ TypeID, token Token, origin uintptr) (Target, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	s, off, ok := c.heap.stubAt(origin)
	if !ok {
		return 0, fmt.Errorf("%w: miss origin %#x", ErrUnknownStub, origin)
	}
	entered := cell.Load()
	var flags missFlags
	switch entryAt(s.kind(), off) {
	case EntryLookup:
	case EntryResolveSlow:
		if d, _, ok := c.heap.stubAt(entered); ok && d.kind() == StubDispatch {
			flags.fromDispatch = true
			if v, ok := c.MissCounter(token); ok && v < 0 {
				flags.backpatch = true
			}
		}
	default:
		return 0, fmt.Errorf("dispatch: miss origin %#x is %s, not a resolver entry", origin, entryAt(s.kind(), off))
	}
	target, err := c.onCacheMiss(cell, entered, typ, token, origin, flags)
	if err != nil || !flags.backpatch {
		return target, err
	}
	// The token is exhausted: a Dispatch site that misses is promoted.
	if rs, err := c.resolveStubFor(token); err == nil {
		c.promote(cell, entered, rs)
	} else {
		c.oomFallback(token, err)
	}
	return target, nil
}

func (c *DispatchCache) onCacheMiss(cell *Cell, entered uintptr, typ TypeID, token Token, origin uintptr, flags missFlags) (Target, error) {
	c.stats.resolverCalls.Add(1)
	target, err := c.resolver.Resolve(typ, token)
	if err != nil {
		log.Warningf("resolving token %d for type %#x: %v", token, typ, err)
		return 0, fmt.Errorf("dispatch: resolving token %d for type %#x: %w", token, typ, err)
	}

	// A site left on its Lookup stub by an allocation failure resolves the
	// same pair on every call; only the first result is cached.
	hashed := hashToken(token)
	if _, ok := c.table.lookup(typ, token, hashed); !ok {
		if !c.table.insert(typ, token, hashed, target) {
			c.stats.cacheFull.Add(1)
		}
	}

	s, _, _ := c.heap.stubAt(origin)
	switch {
	case s.r != nil && s.kind() == StubLookup:
		c.specialize(cell, entered, typ, token, target, false)
	case flags.fromDispatch && !flags.backpatch:
		c.specialize(cell, entered, typ, token, target, true)
	}
	return target, nil
}

// specialize installs a fresh Dispatch stub for (typ, target). Running out
// of stub memory is not an error for the call: the target is still
// correct, the site just keeps its current stub.
func (c *DispatchCache) specialize(cell *Cell, entered uintptr, typ TypeID, token Token, target Target, again bool) {
	rs, err := c.resolveStubFor(token)
	if err != nil {
		c.oomFallback(token, err)
		return
	}
	ds, err := c.heap.newDispatchStub(typ, target, rs.failEntry())
	if err != nil {
		c.oomFallback(token, err)
		return
	}
	if !cell.swap(entered, ds.entry()) {
		// Another thread rewrote the cell first; ds floats unreferenced.
		c.stats.lostRewrites.Add(1)
		return
	}
	if again {
		c.stats.respecializations.Add(1)
	}
	log.Debugf("token %d: cell -> dispatch stub %#x (type %#x)", token, ds.base(), typ)
}

// promote rewrites a site that missed in its Dispatch stub to jump straight
// to the Resolve stub from now on.
func (c *DispatchCache) promote(cell *Cell, entered uintptr, rs resolveStub) {
	if entered == rs.resolveEntry() {
		return
	}
	if !cell.swap(entered, rs.resolveEntry()) {
		c.stats.lostRewrites.Add(1)
		return
	}
	c.stats.promotions.Add(1)
	log.Infof("token %d: call site promoted to resolve stub %#x", rs.token(), rs.base())
}

func (c *DispatchCache) oomFallback(token Token, err error) {
	c.stats.oomFallbacks.Add(1)
	log.Warningf("token %d: resolving without caching a stub: %v", token, err)
}
