// Package snapshot captures the state of a dispatch cache for debuggers
// and profilers and encodes it as canonical CBOR.
package snapshot

import (
	"time"

	"github.com/chazu/vcall/dispatch"
)

// Snapshot is a point-in-time record of one dispatch cache. Addresses are
// only meaningful inside the process that took it.
type Snapshot struct {
	CacheID string  `cbor:"1,keyasint"`
	TakenAt int64   `cbor:"2,keyasint"` // unix nanoseconds
	Options Options `cbor:"3,keyasint"`
	Stats   Stats   `cbor:"4,keyasint"`
	Stubs   []Stub  `cbor:"5,keyasint,omitempty"`
	Buckets []Chain `cbor:"6,keyasint,omitempty"`
	Cells   []Cell  `cbor:"7,keyasint,omitempty"`
}

// Options mirrors dispatch.Options.
type Options struct {
	PromotionThreshold int   `cbor:"1,keyasint"`
	CacheBits          uint  `cbor:"2,keyasint"`
	MaxCacheEntries    int   `cbor:"3,keyasint"`
	RegionSize         int   `cbor:"4,keyasint"`
	MaxHeapBytes       int64 `cbor:"5,keyasint"`
}

// Stats mirrors dispatch.Stats.
type Stats struct {
	ResolverCalls     uint64  `cbor:"1,keyasint"`
	DispatchHits      uint64  `cbor:"2,keyasint"`
	DispatchMisses    uint64  `cbor:"3,keyasint"`
	CacheHits         uint64  `cbor:"4,keyasint"`
	CacheMisses       uint64  `cbor:"5,keyasint"`
	Promotions        uint64  `cbor:"6,keyasint"`
	Respecializations uint64  `cbor:"7,keyasint"`
	OOMFallbacks      uint64  `cbor:"8,keyasint"`
	LookupStubs       int64   `cbor:"9,keyasint"`
	DispatchStubs     int64   `cbor:"10,keyasint"`
	ResolveStubs      int64   `cbor:"11,keyasint"`
	CacheEntries      int64   `cbor:"12,keyasint"`
	HeapBytes         int64   `cbor:"13,keyasint"`
	BucketsUsed       int     `cbor:"14,keyasint"`
	LongestChain      int     `cbor:"15,keyasint"`
	HitRate           float64 `cbor:"16,keyasint"`
	CacheFull         uint64  `cbor:"17,keyasint"`
	LostRewrites      uint64  `cbor:"18,keyasint"`
}

// Stub is one decoded stub.
type Stub struct {
	Kind          string   `cbor:"1,keyasint"`
	Base          uint64   `cbor:"2,keyasint"`
	Size          int      `cbor:"3,keyasint"`
	Entries       []uint64 `cbor:"4,keyasint"`
	Token         uint64   `cbor:"5,keyasint,omitempty"`
	ExpectedType  uint64   `cbor:"6,keyasint,omitempty"`
	Impl          uint64   `cbor:"7,keyasint,omitempty"`
	FailTarget    uint64   `cbor:"8,keyasint,omitempty"`
	HashedToken   uint64   `cbor:"9,keyasint,omitempty"`
	Counter       int32    `cbor:"10,keyasint,omitempty"`
	ResolveTarget uint64   `cbor:"11,keyasint,omitempty"`
}

// Chain is the content of one non-empty cache bucket, newest first.
type Chain struct {
	Bucket  int     `cbor:"1,keyasint"`
	Entries []Entry `cbor:"2,keyasint"`
}

// Entry is one resolve cache entry.
type Entry struct {
	Type   uint64 `cbor:"1,keyasint"`
	Token  uint64 `cbor:"2,keyasint"`
	Target uint64 `cbor:"3,keyasint"`
}

// Cell is the state of one call site.
type Cell struct {
	Name   string `cbor:"1,keyasint,omitempty"`
	Token  uint64 `cbor:"2,keyasint"`
	Target uint64 `cbor:"3,keyasint"`
	State  string `cbor:"4,keyasint"`
}

// NamedCell labels a call site for a snapshot.
type NamedCell struct {
	Name string
	Cell *dispatch.Cell
}

// maxChain caps how many entries of one bucket are recorded.
const maxChain = 1024

// Take records the cache, every non-empty bucket and the given call sites.
func Take(c *dispatch.DispatchCache, cells []NamedCell) *Snapshot {
	opts := c.Options()
	st := c.Stats()
	s := &Snapshot{
		CacheID: c.ID().String(),
		TakenAt: time.Now().UnixNano(),
		Options: Options{
			PromotionThreshold: opts.PromotionThreshold,
			CacheBits:          opts.CacheBits,
			MaxCacheEntries:    opts.MaxCacheEntries,
			RegionSize:         opts.RegionSize,
			MaxHeapBytes:       opts.MaxHeapBytes,
		},
		Stats: Stats{
			ResolverCalls:     st.ResolverCalls,
			DispatchHits:      st.DispatchHits,
			DispatchMisses:    st.DispatchMisses,
			CacheHits:         st.CacheHits,
			CacheMisses:       st.CacheMisses,
			Promotions:        st.Promotions,
			Respecializations: st.Respecializations,
			OOMFallbacks:      st.OOMFallbacks,
			LookupStubs:       st.LookupStubs,
			DispatchStubs:     st.DispatchStubs,
			ResolveStubs:      st.ResolveStubs,
			CacheEntries:      st.CacheEntries,
			HeapBytes:         st.HeapBytes,
			BucketsUsed:       st.BucketsUsed,
			LongestChain:      st.LongestChain,
			HitRate:           st.HitRate,
			CacheFull:         st.CacheFull,
			LostRewrites:      st.LostRewrites,
		},
	}

	for _, info := range c.Stubs() {
		stub := Stub{
			Kind:          info.Kind.String(),
			Base:          uint64(info.Base),
			Size:          info.Size,
			Token:         uint64(info.Token),
			ExpectedType:  uint64(info.ExpectedType),
			Impl:          uint64(info.Impl),
			FailTarget:    uint64(info.FailTarget),
			HashedToken:   info.HashedToken,
			Counter:       info.Counter,
			ResolveTarget: uint64(info.ResolveTarget),
		}
		for _, e := range info.Entries {
			stub.Entries = append(stub.Entries, uint64(e))
		}
		s.Stubs = append(s.Stubs, stub)
	}

	for b := 0; b < c.BucketCount(); b++ {
		entries := c.Chain(b, maxChain)
		if len(entries) == 0 {
			continue
		}
		chain := Chain{Bucket: b}
		for _, e := range entries {
			chain.Entries = append(chain.Entries, Entry{
				Type:   uint64(e.Type),
				Token:  uint64(e.Token),
				Target: uint64(e.Target),
			})
		}
		s.Buckets = append(s.Buckets, chain)
	}

	for _, nc := range cells {
		s.Cells = append(s.Cells, Cell{
			Name:   nc.Name,
			Token:  uint64(nc.Cell.Token()),
			Target: uint64(nc.Cell.Load()),
			State:  c.CellState(nc.Cell).String(),
		})
	}
	return s
}

// CountStubs returns how many stubs of the given kind the snapshot holds.
func (s *Snapshot) CountStubs(kind dispatch.StubKind) int {
	n := 0
	for _, st := range s.Stubs {
		if st.Kind == kind.String() {
			n++
		}
	}
	return n
}
