package dispatch

// Stub layouts. Every stub starts with a 32-bit header word that is
// published last with an atomic store; a slot whose header does not match
// its region's kind is not a stub (yet). Fields are little-endian 64-bit
// words. Entry points are addresses inside the stub, so a stub can be
// entered at more than one place and the classifier can tell them apart.
//
// Lookup stub (32 bytes)
//
//	+0   header
//	+8   resolve-target        <- lookup entry
//	+16  token
//	+24  reserved
//
// Dispatch stub (32 bytes)
//
//	+0   header
//	+8   expected-type         <- dispatch entry
//	+16  impl-target
//	+24  fail-target
//
// Resolve stub (64 bytes)
//
//	+0   header
//	+8   counter-address       <- fail entry
//	+16  token                 <- resolve entry
//	+24  hashed-token
//	+32  cache-table-address
//	+40  resolve-target        <- slow entry
//	+48  reserved (2 words)
//
// Counter slot (8 bytes, data only, no header)
//
//	+0   int32 miss counter
//	+4   reserved
const (
	stubMagic  uint32 = 0x56430000
	headerSize        = 8

	lookupStubSize   = 32
	dispatchStubSize = 32
	resolveStubSize  = 64
	counterSlotSize  = 8
)

const (
	lookupResolveTargetOff = 8
	lookupTokenOff         = 16

	dispatchExpectedOff = 8
	dispatchImplOff     = 16
	dispatchFailOff     = 24

	resolveCounterOff       = 8
	resolveTokenOff         = 16
	resolveHashedTokenOff   = 24
	resolveCacheTableOff    = 32
	resolveResolveTargetOff = 40
)

const (
	lookupEntryOff      = lookupResolveTargetOff
	dispatchEntryOff    = dispatchExpectedOff
	resolveFailEntryOff = resolveCounterOff
	resolveEntryOff     = resolveTokenOff
	resolveSlowEntryOff = resolveResolveTargetOff
)

func slotSize(kind StubKind) int {
	switch kind {
	case StubLookup:
		return lookupStubSize
	case StubDispatch:
		return dispatchStubSize
	case StubResolve:
		return resolveStubSize
	case stubCounter:
		return counterSlotSize
	}
	return 0
}

func headerFor(kind StubKind) uint32 {
	return stubMagic | uint32(kind)
}

// entryAt maps an offset within a stub of the given kind to the entry point
// it names, or EntryNone when the offset is not an entry.
func entryAt(kind StubKind, off int) EntryPoint {
	switch kind {
	case StubLookup:
		if off == lookupEntryOff {
			return EntryLookup
		}
	case StubDispatch:
		if off == dispatchEntryOff {
			return EntryDispatch
		}
	case StubResolve:
		switch off {
		case resolveFailEntryOff:
			return EntryResolveFail
		case resolveEntryOff:
			return EntryResolve
		case resolveSlowEntryOff:
			return EntryResolveSlow
		}
	}
	return EntryNone
}

// entryOffsets lists the entry points of each stub kind in layout order.
func entryOffsets(kind StubKind) []int {
	switch kind {
	case StubLookup:
		return []int{lookupEntryOff}
	case StubDispatch:
		return []int{dispatchEntryOff}
	case StubResolve:
		return []int{resolveFailEntryOff, resolveEntryOff, resolveSlowEntryOff}
	}
	return nil
}
