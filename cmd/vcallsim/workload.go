package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/chazu/vcall/dispatch"
	"github.com/chazu/vcall/snapshot"
	"github.com/chazu/vcall/typesys"
)

// site is one compiled call site: a cell plus the receivers it will see.
type site struct {
	name      string
	cell      *dispatch.Cell
	receivers []*typesys.Instance
}

type workload struct {
	classes *typesys.ClassTable
	cache   *dispatch.DispatchCache
	sites   []*site
	wrong   uint64
	mu      sync.Mutex
}

// newWorkload builds a Shape hierarchy where every subclass overrides
// #area and inherits #describe, then emits the requested call sites.
func newWorkload(classes *typesys.ClassTable, cache *dispatch.DispatchCache, types, monoSites, polySites int) (*workload, error) {
	if types < 1 {
		return nil, fmt.Errorf("need at least one receiver type")
	}
	shape := classes.MustDefine("Shape", nil)
	classes.AddMethod(shape, "describe", func(recv *typesys.Instance) any {
		return "a " + recv.Class().Name
	})

	var instances []*typesys.Instance
	for i := 0; i < types; i++ {
		name := fmt.Sprintf("Shape%d", i)
		cls := classes.MustDefine(name, shape)
		sides := i + 3
		classes.AddMethod(cls, "area", func(recv *typesys.Instance) any {
			return sides
		})
		instances = append(instances, typesys.NewInstance(cls))
	}

	w := &workload{classes: classes, cache: cache}
	area := classes.Selectors.Intern("area")
	describe := classes.Selectors.Intern("describe")

	for i := 0; i < monoSites; i++ {
		tok := area
		if i%2 == 1 {
			tok = describe
		}
		cell, err := cache.EmitIndirectionCell(tok)
		if err != nil {
			return nil, err
		}
		w.sites = append(w.sites, &site{
			name:      fmt.Sprintf("mono%d", i),
			cell:      cell,
			receivers: []*typesys.Instance{instances[i%len(instances)]},
		})
	}
	for i := 0; i < polySites; i++ {
		tok := area
		if i%2 == 1 {
			tok = describe
		}
		cell, err := cache.EmitIndirectionCell(tok)
		if err != nil {
			return nil, err
		}
		w.sites = append(w.sites, &site{
			name:      fmt.Sprintf("poly%d", i),
			cell:      cell,
			receivers: instances,
		})
	}
	return w, nil
}

// run executes calls on every goroutine, round-robin over sites, and checks
// each landing target against a full lookup.
func (w *workload) run(threads, calls int) error {
	var wg sync.WaitGroup
	errs := make(chan error, threads)

	for t := 0; t < threads; t++ {
		wg.Add(1)
		go func(t int) {
			defer wg.Done()
			for n := 0; n < calls; n++ {
				s := w.sites[(n+t)%len(w.sites)]
				recv := s.receivers[(n/len(w.sites)+t)%len(s.receivers)]
				target, err := w.cache.Call(s.cell, recv)
				if err != nil {
					errs <- fmt.Errorf("%s: %w", s.name, err)
					return
				}
				want, err := w.classes.FindMethod(recv.TypeIdentity(), s.cell.Token())
				if err == nil && want.Entry() != target {
					w.mu.Lock()
					w.wrong++
					w.mu.Unlock()
				}
			}
		}(t)
	}
	wg.Wait()
	close(errs)
	return <-errs
}

func (w *workload) namedCells() []snapshot.NamedCell {
	var out []snapshot.NamedCell
	for _, s := range w.sites {
		out = append(out, snapshot.NamedCell{Name: s.name, Cell: s.cell})
	}
	return out
}

func (w *workload) cells() []*dispatch.Cell {
	var out []*dispatch.Cell
	for _, s := range w.sites {
		out = append(out, s.cell)
	}
	return out
}

func printReport(out io.Writer, cache *dispatch.DispatchCache, w *workload, classes *typesys.ClassTable) {
	st := cache.Stats()
	cs := cache.CollectCellStats(w.cells())

	fmt.Fprintf(out, "Call sites: %d (lookup %d, dispatch %d, resolve %d, direct %d)\n",
		cs.Total, cs.Lookup, cs.Dispatch, cs.Resolve, cs.Direct)
	fmt.Fprintf(out, "Monomorphic rate: %.1f%%\n", cs.MonomorphicRate)
	fmt.Fprintf(out, "Dispatch hits/misses: %d/%d\n", st.DispatchHits, st.DispatchMisses)
	fmt.Fprintf(out, "Cache hits/misses: %d/%d\n", st.CacheHits, st.CacheMisses)
	fmt.Fprintf(out, "Resolver calls: %d (class table resolutions %d)\n", st.ResolverCalls, classes.Resolutions())
	fmt.Fprintf(out, "Promotions: %d, re-specializations: %d, lost rewrites: %d\n", st.Promotions, st.Respecializations, st.LostRewrites)
	fmt.Fprintf(out, "Stubs: lookup %d, dispatch %d, resolve %d (%d bytes mapped)\n",
		st.LookupStubs, st.DispatchStubs, st.ResolveStubs, st.HeapBytes)
	fmt.Fprintf(out, "Cache entries: %d in %d buckets (longest chain %d)\n", st.CacheEntries, st.BucketsUsed, st.LongestChain)
	fmt.Fprintf(out, "Hit rate: %.2f%%\n", st.HitRate)
	if w.wrong > 0 {
		fmt.Fprintf(out, "WRONG TARGETS: %d\n", w.wrong)
	}
}
