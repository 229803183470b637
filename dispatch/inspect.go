package dispatch

// BucketCount returns the number of buckets in the resolve cache table.
func (c *DispatchCache) BucketCount() int {
	return len(c.table.buckets)
}

// Bucket returns the bucket index a (type, token) pair hashes to.
func (c *DispatchCache) Bucket(typ TypeID, token Token) int {
	return int(bucketIndex(typ, hashToken(token), c.table.mask))
}

// Chain copies up to limit entries of a bucket, newest first.
func (c *DispatchCache) Chain(bucket, limit int) []ChainEntry {
	return c.table.chain(bucket, limit)
}

// Lookup probes the resolve cache table the way a Resolve stub does,
// without counting a hit or miss.
func (c *DispatchCache) Lookup(typ TypeID, token Token) (Target, bool) {
	return c.table.lookup(typ, token, hashToken(token))
}

// CellState is where a call site currently jumps.
type CellState uint8

const (
	CellLookup   CellState = iota // bootstrap, never resolved
	CellDispatch                  // monomorphic Dispatch stub
	CellResolve                   // promoted to the Resolve stub
	CellDirect                    // patched straight to a method
)

func (s CellState) String() string {
	switch s {
	case CellLookup:
		return "lookup"
	case CellDispatch:
		return "dispatch"
	case CellResolve:
		return "resolve"
	case CellDirect:
		return "direct"
	}
	return "invalid"
}

// CellState classifies the current contents of cell.
func (c *DispatchCache) CellState(cell *Cell) CellState {
	switch c.Classify(cell.Load()) {
	case StubLookup:
		return CellLookup
	case StubDispatch:
		return CellDispatch
	case StubResolve:
		return CellResolve
	}
	return CellDirect
}

// CellStats aggregates the states of a set of call sites.
type CellStats struct {
	Total           int
	Lookup          int
	Dispatch        int
	Resolve         int
	Direct          int
	MonomorphicRate float64 // Dispatch sites over resolved sites, percent
}

// CollectCellStats classifies every cell in cells.
func (c *DispatchCache) CollectCellStats(cells []*Cell) CellStats {
	var stats CellStats
	for _, cell := range cells {
		stats.Total++
		switch c.CellState(cell) {
		case CellLookup:
			stats.Lookup++
		case CellDispatch:
			stats.Dispatch++
		case CellResolve:
			stats.Resolve++
		case CellDirect:
			stats.Direct++
		}
	}
	resolved := stats.Total - stats.Lookup
	if resolved > 0 {
		stats.MonomorphicRate = float64(stats.Dispatch) * 100 / float64(resolved)
	}
	return stats
}
