package typesys

import "github.com/chazu/vcall/dispatch"

// VTable holds the methods a class defines, indexed by token. Inheritance
// is handled by walking the parent chain when a slot is empty locally.
type VTable struct {
	class   *Class
	parent  *VTable
	methods []*Method
}

// Lookup finds a method by token, walking the inheritance chain.
// Returns nil if no class in the chain defines it.
func (vt *VTable) Lookup(tok dispatch.Token) *Method {
	for v := vt; v != nil; v = v.parent {
		if m := v.LookupLocal(tok); m != nil {
			return m
		}
	}
	return nil
}

// LookupLocal finds a method by token in this vtable only.
func (vt *VTable) LookupLocal(tok dispatch.Token) *Method {
	if int(tok) < len(vt.methods) {
		return vt.methods[tok]
	}
	return nil
}

func (vt *VTable) add(tok dispatch.Token, m *Method) {
	if int(tok) >= len(vt.methods) {
		grown := make([]*Method, int(tok)+1)
		copy(grown, vt.methods)
		vt.methods = grown
	}
	vt.methods[tok] = m
}

// Class returns the class this vtable belongs to.
func (vt *VTable) Class() *Class {
	return vt.class
}

// Parent returns the superclass's vtable.
func (vt *VTable) Parent() *VTable {
	return vt.parent
}

// LocalMethods returns the methods defined directly on this vtable.
func (vt *VTable) LocalMethods() []*Method {
	var out []*Method
	for _, m := range vt.methods {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}
