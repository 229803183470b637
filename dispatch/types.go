package dispatch

import "fmt"

// Token identifies the virtual/interface method slot invoked at a call site.
type Token uint64

// TypeID is the stable, pointer-sized identity of a receiver's runtime type.
type TypeID uintptr

// Target is the code address of a resolved method entry point.
type Target uintptr

// Object is anything a call site can be invoked on.
type Object interface {
	TypeIdentity() TypeID
}

// Resolver performs full method resolution when the cache misses.
// Implementations may block and take locks; nothing else in this package does.
type Resolver interface {
	Resolve(typ TypeID, token Token) (Target, error)
}

// ResolverFunc adapts a plain function to the Resolver interface.
type ResolverFunc func(typ TypeID, token Token) (Target, error)

// Resolve calls f(typ, token).
func (f ResolverFunc) Resolve(typ TypeID, token Token) (Target, error) {
	return f(typ, token)
}

// StubKind tags the three stub layouts. StubUnknown is returned for any
// address that does not belong to an allocated stub.
type StubKind uint8

const (
	StubUnknown  StubKind = iota
	StubLookup            // bootstrap, always calls the resolver
	StubDispatch          // monomorphic type check
	StubResolve           // polymorphic cache probe, one per token

	// stubCounter is the internal data kind holding Resolve stub miss
	// counters. It is never reported by the classifier.
	stubCounter

	numStubKinds
)

func (k StubKind) String() string {
	switch k {
	case StubLookup:
		return "lookup"
	case StubDispatch:
		return "dispatch"
	case StubResolve:
		return "resolve"
	case StubUnknown:
		return "unknown"
	}
	return fmt.Sprintf("StubKind(%d)", uint8(k))
}

// EntryPoint names a specific entry into a stub.
type EntryPoint uint8

const (
	EntryNone EntryPoint = iota
	EntryLookup
	EntryDispatch
	EntryResolveFail
	EntryResolve
	EntryResolveSlow
)

func (e EntryPoint) String() string {
	switch e {
	case EntryLookup:
		return "lookup"
	case EntryDispatch:
		return "dispatch"
	case EntryResolveFail:
		return "resolve.fail"
	case EntryResolve:
		return "resolve"
	case EntryResolveSlow:
		return "resolve.slow"
	}
	return "none"
}
