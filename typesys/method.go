package typesys

import (
	"unsafe"

	"github.com/chazu/vcall/dispatch"
)

// Body is the Go implementation of a method.
type Body func(recv *Instance) any

// Method is a compiled method with a stable entry point.
type Method struct {
	Name  string
	Token dispatch.Token
	Class *Class
	Body  Body

	entry dispatch.Target
}

// Entry returns the method's entry point address.
func (m *Method) Entry() dispatch.Target {
	return m.entry
}

// String returns "Class>>selector".
func (m *Method) String() string {
	if m.Class == nil {
		return ">>" + m.Name
	}
	return m.Class.Name + ">>" + m.Name
}

const (
	entrySlotSize = 16
	codeSlabSize  = 4096
)

// codeSpace hands out method entry addresses from Go-allocated slabs, so
// entries never collide with stub regions or each other.
type codeSpace struct {
	slabs [][]byte
	next  int
}

func (cs *codeSpace) alloc() dispatch.Target {
	if len(cs.slabs) == 0 || cs.next+entrySlotSize > codeSlabSize {
		cs.slabs = append(cs.slabs, make([]byte, codeSlabSize))
		cs.next = 0
	}
	slab := cs.slabs[len(cs.slabs)-1]
	addr := uintptr(unsafe.Pointer(&slab[cs.next]))
	cs.next += entrySlotSize
	return dispatch.Target(addr)
}
