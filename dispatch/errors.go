package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfMemory is reported by the stub heap when a region cannot be
	// mapped or the configured heap limit is reached. Callers fall back to
	// uncached resolution.
	ErrOutOfMemory = errors.New("dispatch: stub heap out of memory")

	// ErrUnknownStub means an address is not part of any allocated stub.
	ErrUnknownStub = errors.New("dispatch: unknown stub address")

	// ErrClosed is returned once the DispatchCache has been torn down.
	ErrClosed = errors.New("dispatch: cache closed")
)

// ConsistencyError describes a broken internal invariant: a cycle in a
// cache chain, a stub entered at a non-entry address, a stub whose fields
// point outside this cache. It is raised with panic, never returned.
type ConsistencyError struct {
	Op     string
	Addr   uintptr
	Bucket int
	Steps  int
	Detail string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("dispatch: internal consistency violation in %s (addr=%#x bucket=%d steps=%d): %s",
		e.Op, e.Addr, e.Bucket, e.Steps, e.Detail)
}

// fatal logs the violation and panics. Returning a possibly wrong target is
// worse than stopping.
func fatal(e *ConsistencyError) {
	log.Critical(e.Error())
	panic(e)
}
