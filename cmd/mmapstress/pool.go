package main

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/shenjiangwei/mmapalloc"
)

const (
	mb = 1024 * 1024
	kb = 1024

	smallPoolSize  = 200 // small pool (4KB-64KB)
	mediumPoolSize = 30  // medium pool (64KB-1MB)
	largePoolSize  = 20  // large pool (1MB-4MB)
)

// poolStats mirrors the counters the teacher's own memory pool kept:
// how often a pre-warmed slot served a request versus falling through
// to the allocator directly.
type poolStats struct {
	TotalAllocations uint64
	PoolHits         uint64
	PoolMisses       uint64
	TotalFrees       uint64
	PoolFreeHits     uint64
	PoolFreeMisses   uint64
}

// memoryPool pre-warms three tiers of pointers from an mmapalloc.Allocator
// and serves requests from them before falling back to a fresh Allocate,
// the same size-banded slot-reuse scheme the teacher's mpool package used
// over its own offset-based allocator.
type memoryPool struct {
	mu sync.Mutex

	smallBlocks, mediumBlocks, largeBlocks []unsafe.Pointer
	smallSizes, mediumSizes, largeSizes    []uintptr
	smallUsed, mediumUsed, largeUsed       []bool
	stats                                  poolStats
	alloc                                  *mmapalloc.Allocator
}

func newMemoryPool(alloc *mmapalloc.Allocator, rnd func(n int) int) (*memoryPool, error) {
	p := &memoryPool{
		smallBlocks:  make([]unsafe.Pointer, smallPoolSize),
		mediumBlocks: make([]unsafe.Pointer, mediumPoolSize),
		largeBlocks:  make([]unsafe.Pointer, largePoolSize),
		smallSizes:   make([]uintptr, smallPoolSize),
		mediumSizes:  make([]uintptr, mediumPoolSize),
		largeSizes:   make([]uintptr, largePoolSize),
		smallUsed:    make([]bool, smallPoolSize),
		mediumUsed:   make([]bool, mediumPoolSize),
		largeUsed:    make([]bool, largePoolSize),
		alloc:        alloc,
	}

	fill := func(blocks []unsafe.Pointer, sizes []uintptr, lo, span int, tier string) error {
		for i := range blocks {
			size := uintptr(rnd(span) + lo)
			ptr, err := alloc.Allocate(size)
			if err != nil || ptr == nil {
				return errors.Wrapf(err, "pre-allocate %s block", tier)
			}
			blocks[i] = ptr
			sizes[i] = size
		}
		return nil
	}

	if err := fill(p.smallBlocks, p.smallSizes, 4*kb, 60*kb, "small"); err != nil {
		return nil, err
	}
	if err := fill(p.mediumBlocks, p.mediumSizes, 64*kb, 936*kb, "medium"); err != nil {
		return nil, err
	}
	if err := fill(p.largeBlocks, p.largeSizes, mb, 3*mb, "large"); err != nil {
		return nil, err
	}

	return p, nil
}

// Allocate serves size from the one tier whose size band covers it, if
// that tier has an unused, sufficiently large slot; other tiers are not
// tried. On a pool miss it falls back to the allocator directly.
func (p *memoryPool) Allocate(size uintptr) (unsafe.Pointer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.TotalAllocations++

	switch {
	case size <= 64*kb:
		if ptr, ok := claim(p.smallBlocks, p.smallSizes, p.smallUsed, size); ok {
			p.stats.PoolHits++
			return ptr, nil
		}
	case size <= mb:
		if ptr, ok := claim(p.mediumBlocks, p.mediumSizes, p.mediumUsed, size); ok {
			p.stats.PoolHits++
			return ptr, nil
		}
	case size <= 4*mb:
		if ptr, ok := claim(p.largeBlocks, p.largeSizes, p.largeUsed, size); ok {
			p.stats.PoolHits++
			return ptr, nil
		}
	}

	p.stats.PoolMisses++
	return p.alloc.Allocate(size)
}

func claim(blocks []unsafe.Pointer, sizes []uintptr, used []bool, want uintptr) (unsafe.Pointer, bool) {
	for i := range blocks {
		if !used[i] && sizes[i] >= want {
			used[i] = true
			return blocks[i], true
		}
	}
	return nil, false
}

// Free returns ptr to its pool slot if it owns one, otherwise frees it
// through the allocator directly.
func (p *memoryPool) Free(ptr unsafe.Pointer, size uintptr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.TotalFrees++

	switch {
	case size <= 64*kb:
		if release(p.smallBlocks, p.smallUsed, ptr) {
			p.stats.PoolFreeHits++
			return
		}
	case size <= mb:
		if release(p.mediumBlocks, p.mediumUsed, ptr) {
			p.stats.PoolFreeHits++
			return
		}
	case size <= 4*mb:
		if release(p.largeBlocks, p.largeUsed, ptr) {
			p.stats.PoolFreeHits++
			return
		}
	}

	p.stats.PoolFreeMisses++
	p.alloc.Free(ptr)
}

func release(blocks []unsafe.Pointer, used []bool, ptr unsafe.Pointer) bool {
	for i, b := range blocks {
		if b == ptr {
			used[i] = false
			return true
		}
	}
	return false
}

// Close frees every pre-warmed slot and returns the final pool statistics.
func (p *memoryPool) Close() poolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	free := func(blocks []unsafe.Pointer) {
		for _, b := range blocks {
			p.alloc.Free(b)
		}
	}
	free(p.smallBlocks)
	free(p.mediumBlocks)
	free(p.largeBlocks)

	return p.stats
}
