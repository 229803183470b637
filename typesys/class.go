package typesys

import (
	"unsafe"

	"github.com/chazu/vcall/dispatch"
)

// descriptorSize is the footprint of a type descriptor. Only its address
// matters; it is the class's TypeID.
const descriptorSize = 64

// Class is a runtime type. Its identity is the address of its descriptor,
// which is stable for the class's lifetime.
type Class struct {
	Name       string
	Superclass *Class
	VTable     *VTable

	descriptor []byte
}

func newClass(name string, superclass *Class) *Class {
	c := &Class{
		Name:       name,
		Superclass: superclass,
		descriptor: make([]byte, descriptorSize),
	}
	c.VTable = &VTable{class: c}
	if superclass != nil {
		c.VTable.parent = superclass.VTable
	}
	return c
}

// TypeID returns the class's type identity.
func (c *Class) TypeID() dispatch.TypeID {
	return dispatch.TypeID(uintptr(unsafe.Pointer(&c.descriptor[0])))
}

// IsSubclassOf returns true if c is a subclass of other (or is the same class).
func (c *Class) IsSubclassOf(other *Class) bool {
	for current := c; current != nil; current = current.Superclass {
		if current == other {
			return true
		}
	}
	return false
}

// Instance is a receiver object of some class.
type Instance struct {
	class *Class
}

// NewInstance creates an instance of class.
func NewInstance(class *Class) *Instance {
	return &Instance{class: class}
}

// Class returns the instance's class.
func (i *Instance) Class() *Class {
	return i.class
}

// TypeIdentity implements dispatch.Object.
func (i *Instance) TypeIdentity() dispatch.TypeID {
	return i.class.TypeID()
}
