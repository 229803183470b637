package dispatch

import (
	"errors"
	"testing"
	"unsafe"
)

func TestOptionsValidation(t *testing.T) {
	r := &fakeResolver{}
	bad := []Options{
		{PromotionThreshold: -1, CacheBits: 12},
		{PromotionThreshold: 10, CacheBits: 0},
		{PromotionThreshold: 10, CacheBits: maxCacheBits + 1},
		{PromotionThreshold: 10, CacheBits: 12, MaxHeapBytes: -1},
	}
	for i, opts := range bad {
		if _, err := New(r, opts); err == nil {
			t.Errorf("options %d: expected error", i)
		}
	}
	if _, err := New(nil, DefaultOptions()); err == nil {
		t.Error("nil resolver accepted")
	}
}

func TestHeapRegionGrowth(t *testing.T) {
	opts := DefaultOptions()
	opts.RegionSize = pageSize()
	c, _ := newTestCache(t, opts)

	n := 3*pageSize()/lookupStubSize + 5
	cells := make([]*Cell, n)
	for i := range cells {
		cells[i] = mustEmit(t, c, Token(i))
	}
	for i, cell := range cells {
		if got := c.Classify(cell.Load()); got != StubLookup {
			t.Fatalf("cell %d classifies as %s", i, got)
		}
		if cell.Load()%8 != 0 {
			t.Fatalf("cell %d entry %#x is not word aligned", i, cell.Load())
		}
	}
	st := c.Stats()
	if st.LookupStubs != int64(n) {
		t.Errorf("LookupStubs = %d, want %d", st.LookupStubs, n)
	}
	if st.HeapBytes < int64(4*pageSize()) {
		t.Errorf("HeapBytes = %d, want at least four regions", st.HeapBytes)
	}
}

func TestClassifyRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, withThreshold(0))
	cell := mustEmit(t, c, tokK1)
	mustCall(t, c, cell, typeA) // lookup -> dispatch, creates the resolve stub
	mustEmit(t, c, tokK2)

	seen := map[StubKind]int{}
	for _, info := range c.Stubs() {
		seen[info.Kind]++
		for addr := info.Base; addr < info.Base+uintptr(info.Size); addr++ {
			if got := c.Classify(addr); got != info.Kind {
				t.Fatalf("Classify(%#x) = %s inside %s stub at %#x", addr, got, info.Kind, info.Base)
			}
		}
		for _, e := range info.Entries {
			if c.EntryPointAt(e) == EntryNone {
				t.Errorf("%s entry %#x not recognised as an entry point", info.Kind, e)
			}
			if got := c.Classify(e); got != info.Kind {
				t.Errorf("Classify(entry %#x) = %s, want %s", e, got, info.Kind)
			}
		}
	}
	for _, k := range []StubKind{StubLookup, StubDispatch, StubResolve} {
		if seen[k] == 0 {
			t.Errorf("no %s stub produced", k)
		}
	}
}

func TestClassifyForeignAddresses(t *testing.T) {
	c, _ := newTestCache(t, DefaultOptions())
	cell := mustEmit(t, c, tokK1)
	mustCall(t, c, cell, typeA)

	local := 42
	foreign := []uintptr{
		0,
		1,
		^uintptr(0),
		uintptr(unsafe.Pointer(&local)),
		uintptr(targetFor(TypeID(typeA), tokK1)),
		c.workerPC,
	}
	for _, addr := range foreign {
		if got := c.Classify(addr); got != StubUnknown {
			t.Errorf("Classify(%#x) = %s, want unknown", addr, got)
		}
		if _, err := c.Describe(addr); !errors.Is(err, ErrUnknownStub) {
			t.Errorf("Describe(%#x) error = %v, want ErrUnknownStub", addr, err)
		}
	}

	// The slot after the only lookup stub is mapped but never published.
	ls, _, ok := c.heap.stubAt(mustEmit(t, c, tokK2).Load())
	if !ok {
		t.Fatal("fresh lookup stub not found")
	}
	if got := c.Classify(ls.base() + lookupStubSize); got != StubUnknown {
		t.Errorf("unpublished slot classifies as %s", got)
	}

	// Counter slots are data, not stubs.
	rs, ok := c.lookupResolveStub(tokK1)
	if !ok {
		t.Fatal("no resolve stub for token")
	}
	if got := c.Classify(rs.counterAddr()); got != StubUnknown {
		t.Errorf("counter slot classifies as %s", got)
	}
}

func TestEntryPoints(t *testing.T) {
	c, _ := newTestCache(t, DefaultOptions())
	cell := mustEmit(t, c, tokK1)
	if got := c.EntryPointAt(cell.Load()); got != EntryLookup {
		t.Errorf("fresh cell entry = %s, want lookup", got)
	}
	mustCall(t, c, cell, typeA)
	if got := c.EntryPointAt(cell.Load()); got != EntryDispatch {
		t.Errorf("specialised cell entry = %s, want dispatch", got)
	}

	rs, _ := c.lookupResolveStub(tokK1)
	want := map[uintptr]EntryPoint{
		rs.failEntry():    EntryResolveFail,
		rs.resolveEntry(): EntryResolve,
		rs.slowEntry():    EntryResolveSlow,
		rs.base():         EntryNone,
		rs.base() + 24:    EntryNone,
	}
	for addr, e := range want {
		if got := c.EntryPointAt(addr); got != e {
			t.Errorf("EntryPointAt(%#x) = %s, want %s", addr, got, e)
		}
	}
}

func TestDescribeStubs(t *testing.T) {
	c, _ := newTestCache(t, withThreshold(5))
	cell := mustEmit(t, c, tokK1)

	info, err := c.Describe(cell.Load())
	if err != nil {
		t.Fatalf("Describe lookup: %v", err)
	}
	if info.Kind != StubLookup || info.Token != tokK1 || info.ResolveTarget != c.workerPC {
		t.Errorf("lookup stub = %+v", info)
	}

	mustCall(t, c, cell, typeA)
	info, err = c.Describe(cell.Load())
	if err != nil {
		t.Fatalf("Describe dispatch: %v", err)
	}
	if info.Kind != StubDispatch || info.ExpectedType != TypeID(typeA) || info.Impl != targetFor(TypeID(typeA), tokK1) {
		t.Errorf("dispatch stub = %+v", info)
	}

	rinfo, err := c.Describe(info.FailTarget)
	if err != nil {
		t.Fatalf("Describe fail target: %v", err)
	}
	if rinfo.Kind != StubResolve || rinfo.Token != tokK1 || rinfo.Counter != 5 {
		t.Errorf("resolve stub = %+v", rinfo)
	}
	if rinfo.HashedToken != hashToken(tokK1) || rinfo.CacheTable != c.table.address() {
		t.Errorf("resolve stub hash/table = %#x/%#x", rinfo.HashedToken, rinfo.CacheTable)
	}
	if len(rinfo.Entries) != 3 || rinfo.Entries[0] != info.FailTarget {
		t.Errorf("resolve entries = %#x, fail target %#x", rinfo.Entries, info.FailTarget)
	}
}

func TestEmitOutOfMemory(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxHeapBytes = 1
	c, r := newTestCache(t, opts)

	_, err := c.EmitIndirectionCell(tokK1)
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("EmitIndirectionCell error = %v, want ErrOutOfMemory", err)
	}

	target, err := c.ResolveUncached(tokK1, typeA)
	if err != nil || target != targetFor(TypeID(typeA), tokK1) {
		t.Errorf("ResolveUncached = %#x, %v", uintptr(target), err)
	}
	if r.calls.Load() != 1 {
		t.Errorf("resolver calls = %d, want 1", r.calls.Load())
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	c, err := New(&fakeResolver{}, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	cell := mustEmit(t, c, tokK1)
	mustCall(t, c, cell, typeA)
	addr := cell.Load()

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if got := c.Classify(addr); got != StubUnknown {
		t.Errorf("Classify after Close = %s", got)
	}
	if _, err := c.Call(cell, typeA); !errors.Is(err, ErrClosed) {
		t.Errorf("Call after Close error = %v", err)
	}
	if _, err := c.EmitIndirectionCell(tokK2); !errors.Is(err, ErrClosed) {
		t.Errorf("Emit after Close error = %v", err)
	}
	if len(c.Stubs()) != 0 {
		t.Error("Stubs after Close not empty")
	}
}
