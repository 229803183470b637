package dispatch

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// cacheEntry is one (type, token) -> target mapping. Once linked into a
// bucket it is never written again and never unlinked.
type cacheEntry struct {
	typ    TypeID
	token  Token
	target Target
	next   *cacheEntry
}

const entryChunkSize = 256

// entryChunk is a slab of cache entries handed out with a bump index.
type entryChunk struct {
	used  atomic.Int32
	items [entryChunkSize]cacheEntry
}

// entryArena allocates cache entries in chunks. Chunks are kept alive by
// the entries linked into the table; nothing is reclaimed while the table
// is reachable.
type entryArena struct {
	mu  sync.Mutex
	cur atomic.Pointer[entryChunk]
}

func (a *entryArena) alloc() *cacheEntry {
	for {
		c := a.cur.Load()
		if c != nil {
			i := c.used.Add(1) - 1
			if i < entryChunkSize {
				return &c.items[i]
			}
		}
		a.mu.Lock()
		if a.cur.Load() == c {
			a.cur.Store(new(entryChunk))
		}
		a.mu.Unlock()
	}
}

// resolveCacheTable is the process-wide (type, token) -> target hash table.
// Buckets are singly linked chains; writers prepend with CAS, readers walk
// without locks.
type resolveCacheTable struct {
	mask       uint64
	buckets    []atomic.Pointer[cacheEntry]
	arena      entryArena
	entries    atomic.Int64
	maxEntries int64
}

func newResolveCacheTable(bits uint, maxEntries int) *resolveCacheTable {
	size := 1 << bits
	return &resolveCacheTable{
		mask:       uint64(size - 1),
		buckets:    make([]atomic.Pointer[cacheEntry], size),
		maxEntries: int64(maxEntries),
	}
}

// address identifies this table inside Resolve stubs.
func (t *resolveCacheTable) address() uintptr {
	return uintptr(unsafe.Pointer(&t.buckets[0]))
}

// hashToken spreads a token over the bucket space once, at Resolve stub
// creation; the stub stores the result.
func hashToken(token Token) uint64 {
	const goldenRatio = 0x9E3779B97F4A7C15
	return (uint64(token) * goldenRatio) >> 32
}

// bucketIndex is (type + (type >> 12)) ^ hashedToken, masked.
func bucketIndex(typ TypeID, hashedToken, mask uint64) uint64 {
	t := uint64(typ)
	return ((t + (t >> 12)) ^ hashedToken) & mask
}

// lookup walks one chain head-first. A walk that takes more steps than
// there are entries in the table has found a cycle.
func (t *resolveCacheTable) lookup(typ TypeID, token Token, hashedToken uint64) (Target, bool) {
	b := bucketIndex(typ, hashedToken, t.mask)
	e := t.buckets[b].Load()
	limit := t.entries.Load()
	steps := int64(0)
	for ; e != nil; e = e.next {
		steps++
		if steps > limit {
			fatal(&ConsistencyError{
				Op:     "cache lookup",
				Addr:   uintptr(unsafe.Pointer(e)),
				Bucket: int(b),
				Steps:  int(steps),
				Detail: "chain longer than table population",
			})
		}
		if e.typ == typ && e.token == token {
			return e.target, true
		}
	}
	return 0, false
}

// insert prepends a new entry. It reports false when the table is full;
// the caller still has a correct target, it just will not be cached.
func (t *resolveCacheTable) insert(typ TypeID, token Token, hashedToken uint64, target Target) bool {
	if t.maxEntries > 0 && t.entries.Load() >= t.maxEntries {
		return false
	}
	e := t.arena.alloc()
	e.typ = typ
	e.token = token
	e.target = target

	// Count before publishing so a concurrent walk never sees a chain
	// longer than the population it read.
	t.entries.Add(1)
	head := &t.buckets[bucketIndex(typ, hashedToken, t.mask)]
	for {
		old := head.Load()
		e.next = old
		if head.CompareAndSwap(old, e) {
			return true
		}
	}
}

// chain copies up to limit entries of bucket b, head first.
func (t *resolveCacheTable) chain(b int, limit int) []ChainEntry {
	if b < 0 || b >= len(t.buckets) {
		return nil
	}
	var out []ChainEntry
	for e := t.buckets[b].Load(); e != nil && len(out) < limit; e = e.next {
		out = append(out, ChainEntry{Type: e.typ, Token: e.token, Target: e.target})
	}
	return out
}

// occupancy returns the number of non-empty buckets and the longest chain.
func (t *resolveCacheTable) occupancy() (used int, longest int) {
	for i := range t.buckets {
		n := 0
		e := t.buckets[i].Load()
		// Inserts count before they publish, so a population read after the
		// head bounds every chain reachable from it.
		limit := t.entries.Load()
		for ; e != nil; e = e.next {
			n++
			if int64(n) > limit {
				fatal(&ConsistencyError{Op: "cache occupancy", Bucket: i, Steps: n, Detail: "chain longer than table population"})
			}
		}
		if n > 0 {
			used++
		}
		if n > longest {
			longest = n
		}
	}
	return used, longest
}

// ChainEntry is an inspection copy of one cache entry.
type ChainEntry struct {
	Type   TypeID
	Token  Token
	Target Target
}
