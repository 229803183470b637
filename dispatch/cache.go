package dispatch

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/google/uuid"
	"github.com/launix-de/NonLockingReadMap"
)

const (
	// DefaultPromotionThreshold is the number of Dispatch stub misses a token
	// absorbs before its call sites are promoted to the Resolve stub.
	DefaultPromotionThreshold = 100

	// DefaultCacheBits sizes the resolve cache table at 4096 buckets.
	DefaultCacheBits = 12

	// DefaultRegionSize is the size of each mapped stub region.
	DefaultRegionSize = 64 << 10

	maxCacheBits = 24
)

// Options configures a DispatchCache.
type Options struct {
	PromotionThreshold int   // PROMOTION_THRESHOLD
	CacheBits          uint  // CACHE_MASK is 1<<CacheBits - 1
	MaxCacheEntries    int   // 0 means unbounded
	RegionSize         int   // bytes per stub region, rounded up to a page
	MaxHeapBytes       int64 // 0 means unbounded
}

// DefaultOptions returns the tuning used when no configuration is given.
func DefaultOptions() Options {
	return Options{
		PromotionThreshold: DefaultPromotionThreshold,
		CacheBits:          DefaultCacheBits,
		RegionSize:         DefaultRegionSize,
	}
}

func (o Options) validate() error {
	if o.PromotionThreshold < 0 || o.PromotionThreshold > 1<<30 {
		return fmt.Errorf("dispatch: promotion threshold %d out of range", o.PromotionThreshold)
	}
	if o.CacheBits == 0 || o.CacheBits > maxCacheBits {
		return fmt.Errorf("dispatch: cache bits %d out of range 1..%d", o.CacheBits, maxCacheBits)
	}
	if o.MaxCacheEntries < 0 || o.RegionSize < 0 || o.MaxHeapBytes < 0 {
		return errors.New("dispatch: negative limit")
	}
	return nil
}

// resolveStubRef indexes a token's Resolve stub by token.
type resolveStubRef struct {
	token Token
	addr  uintptr
}

func (e resolveStubRef) GetKey() Token {
	return e.token
}

func (e resolveStubRef) ComputeSize() uint {
	return resolveStubSize
}

type counters struct {
	resolverCalls     atomic.Uint64
	dispatchHits      atomic.Uint64
	dispatchMisses    atomic.Uint64
	cacheHits         atomic.Uint64
	cacheMisses       atomic.Uint64
	promotions        atomic.Uint64
	respecializations atomic.Uint64
	oomFallbacks      atomic.Uint64
	cacheFull         atomic.Uint64
	lostRewrites      atomic.Uint64
}

// DispatchCache owns every piece of shared dispatch state: the stub heap,
// the resolve cache table and the per-token Resolve stubs. It is explicitly
// constructed and explicitly closed; nothing here lives in package globals.
type DispatchCache struct {
	id       uuid.UUID
	opts     Options
	resolver Resolver

	heap  *stubHeap
	table *resolveCacheTable

	resolveMu    sync.Mutex // serialises Resolve stub creation only
	resolveStubs NonLockingReadMap.NonLockingReadMap[resolveStubRef, Token]

	// worker is the address stubs jump to when they need the resolver. It
	// lies outside every stub region, so it classifies as unknown.
	worker   *byte
	workerPC uintptr
	stats    counters
	closed   atomic.Bool
}

// New creates a dispatch cache backed by resolver.
func New(resolver Resolver, opts Options) (*DispatchCache, error) {
	if resolver == nil {
		return nil, errors.New("dispatch: nil resolver")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	c := &DispatchCache{
		id:           uuid.New(),
		opts:         opts,
		resolver:     resolver,
		heap:         newStubHeap(opts.RegionSize, opts.MaxHeapBytes),
		table:        newResolveCacheTable(opts.CacheBits, opts.MaxCacheEntries),
		resolveStubs: NonLockingReadMap.New[resolveStubRef, Token](),
		worker:       new(byte),
	}
	c.workerPC = uintptr(unsafe.Pointer(c.worker))
	log.Debugf("dispatch cache %s: threshold=%d buckets=%d", c.id, opts.PromotionThreshold, len(c.table.buckets))
	return c, nil
}

// ID identifies this cache instance in snapshots and logs.
func (c *DispatchCache) ID() uuid.UUID {
	return c.id
}

// Options returns the options the cache was built with.
func (c *DispatchCache) Options() Options {
	return c.opts
}

// Close releases every stub region. No thread may be executing a call site
// or classifying an address while Close runs, or afterwards.
func (c *DispatchCache) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	log.Infof("closing dispatch cache %s", c.id)
	return c.heap.close()
}

// EmitIndirectionCell builds the cell for a freshly compiled call site. The
// cell starts at a new Lookup stub for token.
func (c *DispatchCache) EmitIndirectionCell(token Token) (*Cell, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	ls, err := c.heap.newLookupStub(c.workerPC, token)
	if err != nil {
		return nil, fmt.Errorf("dispatch: emitting cell for token %d: %w", token, err)
	}
	cell := &Cell{token: token}
	cell.store(ls.entry())
	log.Debugf("cell for token %d -> lookup stub %#x", token, ls.base())
	return cell, nil
}

// PatchDirect points cell straight at a resolved target, bypassing every
// stub. Used when the caller has proven the site can only reach target.
func (c *DispatchCache) PatchDirect(cell *Cell, target Target) {
	cell.store(uintptr(target))
}

// resolveStubFor returns the token's Resolve stub, creating it on first use.
func (c *DispatchCache) resolveStubFor(token Token) (resolveStub, error) {
	if rs, ok := c.lookupResolveStub(token); ok {
		return rs, nil
	}

	c.resolveMu.Lock()
	defer c.resolveMu.Unlock()

	if rs, ok := c.lookupResolveStub(token); ok {
		return rs, nil
	}
	rs, err := c.heap.newResolveStub(token, hashToken(token), c.table.address(), c.workerPC, int32(c.opts.PromotionThreshold))
	if err != nil {
		return resolveStub{}, err
	}
	c.resolveStubs.Set(&resolveStubRef{token: token, addr: rs.base()})
	log.Debugf("resolve stub for token %d at %#x", token, rs.base())
	return rs, nil
}

func (c *DispatchCache) lookupResolveStub(token Token) (resolveStub, bool) {
	ref := c.resolveStubs.Get(token)
	if ref == nil {
		return resolveStub{}, false
	}
	s, _, ok := c.heap.stubAt(ref.addr)
	if !ok || s.kind() != StubResolve {
		fatal(&ConsistencyError{Op: "resolve stub registry", Addr: ref.addr, Detail: "registered address is not a resolve stub"})
	}
	return resolveStub{s}, true
}

// ResolveStubEntry returns the Resolve entry of token's Resolve stub, the
// address a promoted call site jumps to.
func (c *DispatchCache) ResolveStubEntry(token Token) (uintptr, bool) {
	rs, ok := c.lookupResolveStub(token)
	if !ok {
		return 0, false
	}
	return rs.resolveEntry(), true
}

// Stats is a point-in-time view of the cache's counters.
type Stats struct {
	ResolverCalls     uint64
	DispatchHits      uint64
	DispatchMisses    uint64
	CacheHits         uint64
	CacheMisses       uint64
	Promotions        uint64
	Respecializations uint64
	OOMFallbacks      uint64
	CacheFull         uint64
	LostRewrites      uint64

	LookupStubs   int64
	DispatchStubs int64
	ResolveStubs  int64
	CacheEntries  int64
	HeapBytes     int64

	BucketsUsed  int
	LongestChain int
	HitRate      float64 // fast-path plus cache hits over all calls, percent
}

// Stats gathers the current counters. Bucket occupancy walks every chain,
// so this is not for hot paths.
func (c *DispatchCache) Stats() Stats {
	s := Stats{
		ResolverCalls:     c.stats.resolverCalls.Load(),
		DispatchHits:      c.stats.dispatchHits.Load(),
		DispatchMisses:    c.stats.dispatchMisses.Load(),
		CacheHits:         c.stats.cacheHits.Load(),
		CacheMisses:       c.stats.cacheMisses.Load(),
		Promotions:        c.stats.promotions.Load(),
		Respecializations: c.stats.respecializations.Load(),
		OOMFallbacks:      c.stats.oomFallbacks.Load(),
		CacheFull:         c.stats.cacheFull.Load(),
		LostRewrites:      c.stats.lostRewrites.Load(),
		LookupStubs:       c.heap.allocated(StubLookup),
		DispatchStubs:     c.heap.allocated(StubDispatch),
		ResolveStubs:      c.heap.allocated(StubResolve),
		CacheEntries:      c.table.entries.Load(),
		HeapBytes:         c.heap.mappedBytes(),
	}
	s.BucketsUsed, s.LongestChain = c.table.occupancy()

	hits := s.DispatchHits + s.CacheHits
	total := hits + s.ResolverCalls
	if total > 0 {
		s.HitRate = float64(hits) * 100 / float64(total)
	}
	return s
}
