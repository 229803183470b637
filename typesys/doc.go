// Package typesys is a small class-based type system that performs full
// method resolution for the dispatch cache.
//
// This package contains:
//   - Selector interning (selector name <-> call token)
//   - Classes with stable type descriptor addresses
//   - VTable-based method lookup along the superclass chain
//   - Method entry points and the reverse map used to invoke them
package typesys
