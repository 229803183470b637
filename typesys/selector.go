package typesys

import (
	"sync"

	"github.com/chazu/vcall/dispatch"
)

// SelectorTable interns selector names to call tokens.
//
// The table is append-only: once a selector has a token the token never
// changes, so compiled call sites can embed it.
type SelectorTable struct {
	mu     sync.RWMutex
	byName map[string]dispatch.Token
	byID   []string
}

// NewSelectorTable creates a new empty selector table.
func NewSelectorTable() *SelectorTable {
	return &SelectorTable{
		byName: make(map[string]dispatch.Token),
		byID:   make([]string, 0, 64),
	}
}

// Intern returns the token for a selector name, creating one if needed.
func (st *SelectorTable) Intern(name string) dispatch.Token {
	st.mu.RLock()
	if tok, ok := st.byName[name]; ok {
		st.mu.RUnlock()
		return tok
	}
	st.mu.RUnlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	// Double-check after acquiring write lock
	if tok, ok := st.byName[name]; ok {
		return tok
	}
	tok := dispatch.Token(len(st.byID))
	st.byName[name] = tok
	st.byID = append(st.byID, name)
	return tok
}

// Lookup returns the token for a selector name.
func (st *SelectorTable) Lookup(name string) (dispatch.Token, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	tok, ok := st.byName[name]
	return tok, ok
}

// Name returns the selector name for a token, or "" if unknown.
func (st *SelectorTable) Name(tok dispatch.Token) string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if int(tok) >= len(st.byID) {
		return ""
	}
	return st.byID[tok]
}

// Len returns the number of interned selectors.
func (st *SelectorTable) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.byID)
}
