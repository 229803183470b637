package dispatch

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

// This file is the only place that touches raw stub memory. Everything else
// works on region/offset handles.

func (r *region) addr(off int) uintptr {
	return r.base + uintptr(off)
}

func (r *region) word(off int) uint64 {
	return binary.LittleEndian.Uint64(r.mem[off : off+8])
}

func (r *region) setWord(off int, v uint64) {
	binary.LittleEndian.PutUint64(r.mem[off:off+8], v)
}

func (r *region) header(off int) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&r.mem[off])))
}

// publish makes a fully written slot visible. All field stores must happen
// before it.
func (r *region) publish(off int, h uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&r.mem[off])), h)
}

func (r *region) counter(off int) *int32 {
	return (*int32)(unsafe.Pointer(&r.mem[off]))
}

func baseOf(mem []byte) uintptr {
	return uintptr(unsafe.Pointer(&mem[0]))
}
