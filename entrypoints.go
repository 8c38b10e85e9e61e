package mmapalloc

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/shenjiangwei/mmapalloc/internal/mmlog"
	"github.com/shenjiangwei/mmapalloc/internal/region"
)

// Allocator is the module-scope state object spec.md's Design Notes call
// for: the arenas (via the region manager) plus the four counters. The
// region manager itself carries no locking, honoring spec.md §5's
// single-logical-caller contract; Allocator adds the one mutex spec.md
// §5 prescribes for a host-embeddable, multi-threaded-capable build,
// guarding every entry point and the statistics record under the same
// critical section as the mutation they describe.
type Allocator struct {
	mu      sync.Mutex
	manager *region.Manager
	stats   Stats
}

// New constructs an Allocator backed by the given search strategy.
// Exactly one strategy is active for the lifetime of the Allocator; see
// SPEC_FULL.md's REDESIGN FLAGS for why this is a constructor argument
// rather than a build tag.
func New(strategy region.Strategy) *Allocator {
	return &Allocator{manager: region.NewManager(strategy)}
}

// Allocate reserves size bytes of payload and returns a pointer past the
// region header, or nil if size is zero or exceeds the largest class.
func (a *Allocator) Allocate(size uintptr) (unsafe.Pointer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocateLocked(size)
}

func (a *Allocator) allocateLocked(size uintptr) (unsafe.Pointer, error) {
	if size == 0 || size+region.HeaderSize > region.ClassSize[region.Large] {
		return nil, nil
	}
	size = region.Align(size)

	h := a.manager.FindFree(size)
	if h == nil {
		var err error
		h, err = a.manager.CreateBlock(size)
		if err != nil {
			mmlog.Error().Err(err).Uint64("size", uint64(size)).Msg("allocate: out of memory")
			return nil, errors.Wrap(ErrOutOfMemory, err.Error())
		}
		h.Free = false
		a.stats.Blocks++
	}

	a.manager.Split(h, size)

	a.stats.Mallocs++
	a.stats.Requested += uint64(size)

	return unsafe.Pointer(h.Payload()), nil
}

// Free releases the allocation at ptr. A nil pointer, a pointer whose
// header no longer carries the sentinel magic, or a region that is
// already free are all silent no-ops.
func (a *Allocator) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freeLocked(ptr)
}

func (a *Allocator) freeLocked(ptr unsafe.Pointer) {
	h := region.FromPayload(uintptr(ptr))
	if !h.ValidMagic() {
		return
	}
	if h.Free {
		return
	}

	h.Free = true
	merged := a.manager.Coalesce(h)
	if a.manager.DeleteBlock(merged) {
		a.stats.Blocks--
	}

	a.stats.Frees++
}

// ZeroAlloc allocates room for count objects of unit bytes each and
// zero-fills the result. It fails (returning nil) if either operand is
// zero or their product overflows uintptr.
func (a *Allocator) ZeroAlloc(count, unit uintptr) (unsafe.Pointer, error) {
	if count == 0 || unit == 0 {
		return nil, nil
	}

	total := count * unit
	if total/count != unit {
		mmlog.Error().Uint64("count", uint64(count)).Uint64("unit", uint64(unit)).Msg("zero-alloc overflow")
		return nil, ErrOutOfMemory
	}

	ptr, err := a.Allocate(total)
	if err != nil || ptr == nil {
		return nil, err
	}

	buf := unsafe.Slice((*byte)(ptr), int(total))
	for i := range buf {
		buf[i] = 0
	}
	return ptr, nil
}

// Resize grows or shrinks the allocation at ptr to newSize bytes,
// returning the (possibly relocated) payload pointer. Resize(nil, n) is
// Allocate(n); Resize(ptr, 0) frees ptr and returns nil.
func (a *Allocator) Resize(ptr unsafe.Pointer, newSize uintptr) (unsafe.Pointer, error) {
	if ptr == nil {
		return a.Allocate(newSize)
	}
	if newSize == 0 {
		a.Free(ptr)
		return nil, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resizeLocked(ptr, newSize)
}

func (a *Allocator) resizeLocked(ptr unsafe.Pointer, newSize uintptr) (unsafe.Pointer, error) {
	h := region.FromPayload(uintptr(ptr))
	if !h.ValidMagic() {
		return nil, nil
	}

	newSize = region.Align(newSize)
	if newSize == h.Size {
		return ptr, nil
	}

	if newSize > h.Size {
		return a.growLocked(h, newSize)
	}
	return a.shrinkLocked(h, newSize), nil
}

// growLocked implements spec.md §4.3's three-step grow path. The
// requested-bytes counter is only adjusted once the grow has actually
// succeeded, resolving the Open Question spec.md §9 leaves open about
// transient drift.
func (a *Allocator) growLocked(h *region.Header, newSize uintptr) (unsafe.Pointer, error) {
	oldSize := uint64(h.Size)

	if right := h.NextHeader(); right != nil && right.Free && h.Size+right.Size+region.HeaderSize >= newSize {
		grown := a.manager.CoalesceRight(h)
		grown.Free = false
		a.manager.Split(grown, newSize)
		a.stats.Requested = a.stats.Requested - oldSize + uint64(newSize)
		return unsafe.Pointer(grown.Payload()), nil
	}

	if left := h.PrevHeader(); left != nil && left.Free && h.Size+left.Size+region.HeaderSize >= newSize {
		oldPayload := h.Payload()
		oldPayloadSize := h.Size

		grown := a.manager.CoalesceLeft(h)
		grown.Free = false

		newPayload := grown.Payload()
		if newPayload != oldPayload {
			src := unsafe.Slice((*byte)(unsafe.Pointer(oldPayload)), int(oldPayloadSize))
			dst := unsafe.Slice((*byte)(unsafe.Pointer(newPayload)), int(oldPayloadSize))
			copy(dst, src)
		}

		a.manager.Split(grown, newSize)
		a.stats.Requested = a.stats.Requested - oldSize + uint64(newSize)
		return unsafe.Pointer(grown.Payload()), nil
	}

	// Neither neighbour can absorb the growth: relocate.
	newPtr, err := a.allocateLocked(newSize)
	if err != nil || newPtr == nil {
		if err == nil {
			err = ErrOutOfMemory
		}
		return nil, err
	}
	a.stats.Mallocs-- // allocateLocked counted this as a fresh malloc; resize must not inflate the counter.

	src := unsafe.Slice((*byte)(unsafe.Pointer(h.Payload())), int(h.Size))
	dst := unsafe.Slice((*byte)(newPtr), int(h.Size))
	copy(dst, src)

	a.freeLocked(unsafe.Pointer(h.Payload()))

	a.stats.Requested = a.stats.Requested - oldSize + uint64(newSize)
	return newPtr, nil
}

// shrinkLocked splits off the residual and immediately coalesces it
// rightward, so that a chain of shrinks never leaves a string of small
// free regions behind.
func (a *Allocator) shrinkLocked(h *region.Header, newSize uintptr) unsafe.Pointer {
	oldSize := uint64(h.Size)
	beforeNext := h.Next
	a.manager.Split(h, newSize)

	// Split only changes h.Next when it actually carved a new (necessarily
	// free) residual; coalesce that residual rightward so repeated shrinks
	// don't leave a chain of small free regions, per spec.md §4.3.
	if h.Next != beforeNext {
		if residual := h.NextHeader(); residual != nil {
			a.manager.Coalesce(residual)
		}
	}

	a.stats.Requested = a.stats.Requested - oldSize + uint64(h.Size)
	return unsafe.Pointer(h.Payload())
}

// Stats copies the current counters into a Stats value.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// default instance backing the package-level functions below, matching
// spec.md §6's description of a single process-wide allocator that could
// be preloaded in place of the platform one. Constructed lazily so that
// SetStrategy can still select first-fit vs. best-fit before first use.
var (
	defaultOnce     sync.Once
	defaultAlloc    *Allocator
	defaultStrategy region.Strategy = &region.FirstFit{}
	defaultMu       sync.Mutex
)

// SetStrategy selects the search strategy for the package-level default
// allocator. Call it before the first Allocate/Free/ZeroAlloc/Resize/GetStats;
// once the default allocator has been constructed, further calls have no effect.
func SetStrategy(s region.Strategy) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultStrategy = s
}

func defaultAllocator() *Allocator {
	defaultOnce.Do(func() {
		defaultMu.Lock()
		s := defaultStrategy
		defaultMu.Unlock()
		defaultAlloc = New(s)
	})
	return defaultAlloc
}

// Allocate calls Allocate on the package-level default Allocator.
func Allocate(size uintptr) (unsafe.Pointer, error) { return defaultAllocator().Allocate(size) }

// Free calls Free on the package-level default Allocator.
func Free(ptr unsafe.Pointer) { defaultAllocator().Free(ptr) }

// ZeroAlloc calls ZeroAlloc on the package-level default Allocator.
func ZeroAlloc(count, unit uintptr) (unsafe.Pointer, error) {
	return defaultAllocator().ZeroAlloc(count, unit)
}

// Resize calls Resize on the package-level default Allocator.
func Resize(ptr unsafe.Pointer, newSize uintptr) (unsafe.Pointer, error) {
	return defaultAllocator().Resize(ptr, newSize)
}

// GetStats calls Stats on the package-level default Allocator.
func GetStats() Stats { return defaultAllocator().Stats() }
