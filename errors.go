// Package mmapalloc is a general-purpose heap allocator built on raw
// page-mapped memory: four entry points (Allocate, Free, ZeroAlloc,
// Resize) plus a Stats snapshot, with all bookkeeping living inside the
// same pages the allocator hands out. See internal/region for the core
// region manager this package composes.
//
// The public names mirror the conventional C-family heap interface by
// shape (one size in, one pointer out; one pointer in, nothing out; and
// so on) but are exported as ordinary Go functions. A cgo export shim
// that preloads this allocator into a host process's malloc symbol table
// would attach here; building one is outside this package's scope.
package mmapalloc

import "github.com/pkg/errors"

// Sentinel errors a caller can compare against with errors.Is. Internal
// causes (an mmap failure, for instance) are wrapped onto these via
// github.com/pkg/errors so %+v still prints the full chain in a debug build.
var (
	// ErrOutOfMemory is returned when a valid request cannot be satisfied:
	// the OS refused a mapping, or an arena's block table is full.
	ErrOutOfMemory = errors.New("mmapalloc: out of memory")
)
