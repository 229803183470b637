package dispatch

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/launix-de/NonLockingReadMap"
)

// region is one mapped block of fixed-size slots of a single kind.
// Slots are handed out with an atomic bump pointer; next may overshoot the
// end of mem once the region is full.
type region struct {
	kind     StubKind
	base     uintptr
	mem      []byte
	slotSize int
	next     atomic.Int64
}

// used returns how many bytes of the region have been handed out.
func (r *region) used() int {
	n := int(r.next.Load())
	if n > len(r.mem) {
		n = len(r.mem) - len(r.mem)%r.slotSize
	}
	return n
}

// regionRef is the index entry for a region, keyed by base address.
type regionRef struct {
	base uintptr
	r    *region
}

func (e regionRef) GetKey() uintptr {
	return e.base
}

func (e regionRef) ComputeSize() uint {
	return uint(len(e.r.mem))
}

// stubHeap allocates stub slots. Slots are never freed individually; the
// whole heap is released by close once no thread can be executing stubs.
type stubHeap struct {
	mu         sync.Mutex // guards growth and owned
	regionSize int
	maxBytes   int64

	mapped  atomic.Int64
	current [numStubKinds]atomic.Pointer[region]
	regions NonLockingReadMap.NonLockingReadMap[regionRef, uintptr]
	owned   []*region

	counts [numStubKinds]atomic.Int64
	closed atomic.Bool
}

func newStubHeap(regionSize int, maxBytes int64) *stubHeap {
	page := pageSize()
	if regionSize < page {
		regionSize = page
	}
	regionSize = (regionSize + page - 1) &^ (page - 1)
	return &stubHeap{
		regionSize: regionSize,
		maxBytes:   maxBytes,
		regions:    NonLockingReadMap.New[regionRef, uintptr](),
	}
}

// allocate reserves one zeroed slot of the given kind. The slot is not
// visible to the classifier until its header is published.
func (h *stubHeap) allocate(kind StubKind) (*region, int, error) {
	size := slotSize(kind)
	for {
		if h.closed.Load() {
			return nil, 0, ErrClosed
		}
		r := h.current[kind].Load()
		if r != nil {
			off := int(r.next.Add(int64(size))) - size
			if off+size <= len(r.mem) {
				h.counts[kind].Add(1)
				return r, off, nil
			}
		}
		if err := h.grow(kind, r); err != nil {
			return nil, 0, err
		}
	}
}

// grow maps a new region for kind unless another thread already replaced
// the exhausted region seen by the caller.
func (h *stubHeap) grow(kind StubKind, seen *region) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed.Load() {
		return ErrClosed
	}
	if h.current[kind].Load() != seen {
		return nil
	}
	if h.maxBytes > 0 && h.mapped.Load()+int64(h.regionSize) > h.maxBytes {
		log.Warningf("stub heap limit reached (%d bytes) allocating %s region", h.maxBytes, kind)
		return ErrOutOfMemory
	}

	mem, err := mapRegion(h.regionSize)
	if err != nil {
		log.Warningf("mapping %s region failed: %v", kind, err)
		return fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	}

	r := &region{
		kind:     kind,
		base:     baseOf(mem),
		mem:      mem,
		slotSize: slotSize(kind),
	}
	h.owned = append(h.owned, r)
	h.mapped.Add(int64(len(mem)))
	// Index before handing out slots so every address we return can be located.
	h.regions.Set(&regionRef{base: r.base, r: r})
	h.current[kind].Store(r)

	log.Infof("mapped %s region at %#x (%d bytes, %d regions total)", kind, r.base, len(mem), len(h.owned))
	return nil
}

// locate finds the region containing addr. It never faults on foreign
// addresses.
func (h *stubHeap) locate(addr uintptr) (*region, int, bool) {
	if h.closed.Load() {
		return nil, 0, false
	}
	refs := h.regions.GetAll()
	i := sort.Search(len(refs), func(i int) bool {
		return (*refs[i]).base > addr
	}) - 1
	if i < 0 {
		return nil, 0, false
	}
	r := (*refs[i]).r
	if addr >= r.base+uintptr(len(r.mem)) {
		return nil, 0, false
	}
	return r, int(addr - r.base), true
}

// stubAt returns the published stub containing addr and addr's offset
// within it.
func (h *stubHeap) stubAt(addr uintptr) (stubRef, int, bool) {
	r, off, ok := h.locate(addr)
	if !ok || r.kind == stubCounter {
		return stubRef{}, 0, false
	}
	slot := off - off%r.slotSize
	if slot+r.slotSize > r.used() {
		return stubRef{}, 0, false
	}
	if r.header(slot) != headerFor(r.kind) {
		return stubRef{}, 0, false
	}
	return stubRef{r: r, off: slot}, off - slot, true
}

// counterAt resolves a counter address stored in a Resolve stub.
func (h *stubHeap) counterAt(addr uintptr) (*int32, bool) {
	r, off, ok := h.locate(addr)
	if !ok || r.kind != stubCounter || off%counterSlotSize != 0 || off >= r.used() {
		return nil, false
	}
	return r.counter(off), true
}

// walk calls fn for every published stub, region by region.
func (h *stubHeap) walk(fn func(stubRef)) {
	if h.closed.Load() {
		return
	}
	for _, ref := range h.regions.GetAll() {
		r := (*ref).r
		if r.kind == stubCounter {
			continue
		}
		used := r.used()
		for off := 0; off+r.slotSize <= used; off += r.slotSize {
			if r.header(off) == headerFor(r.kind) {
				fn(stubRef{r: r, off: off})
			}
		}
	}
}

func (h *stubHeap) allocated(kind StubKind) int64 {
	return h.counts[kind].Load()
}

func (h *stubHeap) mappedBytes() int64 {
	return h.mapped.Load()
}

// close unmaps every region. The caller guarantees quiescence: no thread
// may be executing or classifying stubs.
func (h *stubHeap) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed.Swap(true) {
		return nil
	}
	var firstErr error
	for _, r := range h.owned {
		h.regions.Remove(r.base)
		if err := unmapRegion(r.mem); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for i := range h.current {
		h.current[i].Store(nil)
	}
	h.owned = nil
	h.mapped.Store(0)
	return firstErr
}
