// Package dispatch implements a polymorphic call-site dispatch cache.
//
// This package contains:
//   - A stub heap handing out fixed-layout, publish-once stub records
//   - Lookup, Dispatch and Resolve stubs with documented entry points
//   - A process-wide resolve cache table with lock-free chain reads
//   - Indirection cells and the promotion (backpatch) protocol
//   - A classifier mapping raw code addresses back to stub kinds
//
// Every call site jumps through its own Cell. The cell starts at a Lookup
// stub, is specialised to a Dispatch stub on first resolution, and is
// promoted to the shared Resolve stub for its token once the token has
// missed often enough.
package dispatch
