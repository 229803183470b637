package typesys

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"

	"github.com/chazu/vcall/dispatch"
)

var log = commonlog.GetLogger("vcall.typesys")

var (
	// ErrUnknownType means a TypeID does not name any class in the table.
	ErrUnknownType = errors.New("typesys: unknown type")

	// ErrMethodNotFound means no class in the receiver's chain defines the
	// selector (doesNotUnderstand).
	ErrMethodNotFound = errors.New("typesys: method not found")
)

// ClassTable owns classes, selectors and method entry points, and is the
// full resolver behind a dispatch cache.
type ClassTable struct {
	mu        sync.RWMutex
	byName    map[string]*Class
	byType    map[dispatch.TypeID]*Class
	byEntry   map[dispatch.Target]*Method
	code      codeSpace
	Selectors *SelectorTable

	resolutions atomic.Uint64
}

// NewClassTable creates an empty class table.
func NewClassTable() *ClassTable {
	return &ClassTable{
		byName:    make(map[string]*Class),
		byType:    make(map[dispatch.TypeID]*Class),
		byEntry:   make(map[dispatch.Target]*Method),
		Selectors: NewSelectorTable(),
	}
}

// Define creates a class. superclass may be nil.
func (ct *ClassTable) Define(name string, superclass *Class) (*Class, error) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if _, exists := ct.byName[name]; exists {
		return nil, fmt.Errorf("typesys: class %s already defined", name)
	}
	c := newClass(name, superclass)
	ct.byName[name] = c
	ct.byType[c.TypeID()] = c
	return c, nil
}

// MustDefine is Define for static class setup; it panics on error.
func (ct *ClassTable) MustDefine(name string, superclass *Class) *Class {
	c, err := ct.Define(name, superclass)
	if err != nil {
		panic(err)
	}
	return c
}

// AddMethod installs a method for selector on class and returns it.
// Replacing a method gives the new one a new entry point; caches keep the
// old target until they are rebuilt.
func (ct *ClassTable) AddMethod(class *Class, selector string, body Body) *Method {
	tok := ct.Selectors.Intern(selector)

	ct.mu.Lock()
	defer ct.mu.Unlock()

	m := &Method{
		Name:  selector,
		Token: tok,
		Class: class,
		Body:  body,
		entry: ct.code.alloc(),
	}
	class.VTable.add(tok, m)
	ct.byEntry[m.entry] = m
	return m
}

// Lookup returns a class by name.
func (ct *ClassTable) Lookup(name string) *Class {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.byName[name]
}

// ClassOf returns the class with the given type identity.
func (ct *ClassTable) ClassOf(typ dispatch.TypeID) *Class {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.byType[typ]
}

// MethodAt maps an entry point back to its method.
func (ct *ClassTable) MethodAt(target dispatch.Target) *Method {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.byEntry[target]
}

// Resolve implements dispatch.Resolver with a full vtable walk.
func (ct *ClassTable) Resolve(typ dispatch.TypeID, tok dispatch.Token) (dispatch.Target, error) {
	ct.resolutions.Add(1)
	m, err := ct.FindMethod(typ, tok)
	if err != nil {
		return 0, err
	}
	log.Debugf("resolved %#x #%s -> %s", uintptr(typ), m.Name, m)
	return m.entry, nil
}

// FindMethod performs the same lookup as Resolve without counting it.
func (ct *ClassTable) FindMethod(typ dispatch.TypeID, tok dispatch.Token) (*Method, error) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	class := ct.byType[typ]
	if class == nil {
		return nil, fmt.Errorf("%w: %#x", ErrUnknownType, uintptr(typ))
	}
	m := class.VTable.Lookup(tok)
	if m == nil {
		return nil, fmt.Errorf("%w: %s does not understand #%s", ErrMethodNotFound, class.Name, ct.Selectors.Name(tok))
	}
	return m, nil
}

// Resolutions counts full resolutions performed so far.
func (ct *ClassTable) Resolutions() uint64 {
	return ct.resolutions.Load()
}

// Invoke runs the method at target on recv.
func (ct *ClassTable) Invoke(target dispatch.Target, recv *Instance) (any, error) {
	m := ct.MethodAt(target)
	if m == nil {
		return nil, fmt.Errorf("typesys: no method at %#x", uintptr(target))
	}
	if m.Body == nil {
		return nil, nil
	}
	return m.Body(recv), nil
}

// Send compiles nothing and caches nothing: it is a full lookup plus
// invoke, the reference result call sites are checked against.
func (ct *ClassTable) Send(recv *Instance, selector string) (any, error) {
	tok, ok := ct.Selectors.Lookup(selector)
	if !ok {
		return nil, fmt.Errorf("%w: #%s", ErrMethodNotFound, selector)
	}
	target, err := ct.Resolve(recv.TypeIdentity(), tok)
	if err != nil {
		return nil, err
	}
	return ct.Invoke(target, recv)
}
