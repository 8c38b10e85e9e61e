package region

import (
	"github.com/shenjiangwei/mmapalloc/internal/mmlog"
	"github.com/shenjiangwei/mmapalloc/internal/pagesource"
)

// Arena is a class's fixed-capacity table of live block base addresses.
// A zero entry is an empty slot; order among occupied slots carries no
// meaning.
type Arena struct {
	class Class
	slots [MaxBlocksPerArena]uintptr
}

// Manager owns the three arenas and the active search strategy. It
// carries no locking of its own: spec.md's single-threaded contract
// applies here, with any mutual exclusion added by the caller (see
// SPEC_FULL.md §5).
type Manager struct {
	arenas     [numClasses]Arena
	strategy   Strategy
	blockClass map[uintptr]Class
}

// NewManager constructs a Manager backed by the given search strategy.
// Exactly one Strategy must be supplied; there is no default.
func NewManager(strategy Strategy) *Manager {
	m := &Manager{
		strategy:   strategy,
		blockClass: make(map[uintptr]Class),
	}
	for c := Small; c <= Large; c++ {
		m.arenas[c].class = c
	}
	return m
}

// BlockCount returns the number of live blocks across every arena.
func (m *Manager) BlockCount() int {
	n := 0
	for c := Small; c <= Large; c++ {
		for _, s := range m.arenas[c].slots {
			if s != 0 {
				n++
			}
		}
	}
	return n
}

// FindFree scans classes from the smallest that can hold want upward,
// asking the active strategy to pick a candidate. On success the chosen
// region is flipped to busy before being returned.
func (m *Manager) FindFree(want uintptr) *Header {
	startClass, ok := Classify(want)
	if !ok {
		return nil
	}

	m.strategy.Reset()
	for c := startClass; c <= Large; c++ {
		arena := &m.arenas[c]
		stop := false
		for _, base := range arena.slots {
			if base == 0 {
				continue
			}
			for h := headerAt(base); h != nil; h = h.next() {
				if h.Free && h.Size >= want {
					if m.strategy.Consider(h) {
						stop = true
						break
					}
				}
			}
			if stop {
				break
			}
		}
		if stop {
			break
		}
	}

	chosen := m.strategy.Chosen()
	if chosen == nil {
		mmlog.Debug().Uint64("want", uint64(want)).Msg("find-free miss")
		return nil
	}
	chosen.Free = false
	return chosen
}

// CreateBlock maps a fresh block sized for payloadSize, registers it in
// its arena, and returns the single free region that spans it.
func (m *Manager) CreateBlock(payloadSize uintptr) (*Header, error) {
	class, ok := Classify(payloadSize)
	if !ok {
		return nil, ErrSizeTooLarge
	}
	return m.createBlockInClass(class)
}

func (m *Manager) createBlockInClass(class Class) (*Header, error) {
	size := ClassSize[class]
	addr, err := pagesource.MapBlock(size)
	if err != nil {
		return nil, err
	}

	arena := &m.arenas[class]
	slot := -1
	for i, s := range arena.slots {
		if s == 0 {
			slot = i
			break
		}
	}
	if slot == -1 {
		_ = pagesource.UnmapBlock(addr, size)
		mmlog.Error().Str("class", class.String()).Msg("arena block table full")
		return nil, ErrArenaFull
	}

	h := newHeader(addr, size-HeaderSize, 0, 0)
	arena.slots[slot] = addr
	m.blockClass[addr] = class
	mmlog.Debug().Str("class", class.String()).Uint64("addr", uint64(addr)).Msg("created block")
	return h, nil
}

// DeleteBlock releases the block owning h, provided h is the block's
// sole region (no next, no prev). It reports whether the block was
// deleted.
func (m *Manager) DeleteBlock(h *Header) bool {
	if h.Next != 0 || h.Prev != 0 {
		return false
	}

	addr := h.addr()
	class, ok := m.blockClass[addr]
	if !ok {
		return false
	}

	arena := &m.arenas[class]
	for i, s := range arena.slots {
		if s == addr {
			arena.slots[i] = 0
			break
		}
	}
	delete(m.blockClass, addr)

	if err := pagesource.UnmapBlock(addr, ClassSize[class]); err != nil {
		mmlog.Error().Err(err).Uint64("addr", uint64(addr)).Msg("unmap failed during delete-block")
	}
	mmlog.Debug().Str("class", class.String()).Uint64("addr", uint64(addr)).Msg("deleted block")
	return true
}

// Split optionally carves a trailing free region out of h's tail,
// leaving requested bytes of payload in h. See spec.md §4.2 for the
// exact policy this implements.
func (m *Manager) Split(h *Header, requested uintptr) {
	if h.Size < requested+HeaderSize+MinPayload {
		return
	}
	if requested < MinPayload {
		requested = MinPayload
	}

	newAddr := h.Payload() + requested
	newSize := h.Size - requested - HeaderSize
	newH := newHeader(newAddr, newSize, h.Next, h.addr())

	if nxt := h.next(); nxt != nil {
		nxt.Prev = newAddr
	}
	h.Next = newAddr
	h.Size = requested

	mmlog.Debug().Uint64("addr", uint64(h.addr())).Uint64("residual", uint64(newH.addr())).
		Uint64("residual_size", uint64(newSize)).Msg("split")
}

// Coalesce merges h with any free neighbours and returns the resulting,
// possibly different, region. Right-merge happens before left-merge so a
// single helper can always merge its left argument with its right one.
func (m *Manager) Coalesce(h *Header) *Header {
	if nxt := h.next(); nxt != nil && nxt.Free {
		h = mergeLeftRight(h, nxt)
	}
	if prv := h.prev(); prv != nil && prv.Free {
		h = mergeLeftRight(prv, h)
	}
	return h
}

// CoalesceRight merges h with its right neighbour only, if that
// neighbour exists and is free, leaving h's own address unchanged. Used
// by Resize's grow-into-right-neighbour path, which must not also fold
// in a free left neighbour and move the payload pointer unexpectedly.
func (m *Manager) CoalesceRight(h *Header) *Header {
	if nxt := h.next(); nxt != nil && nxt.Free {
		return mergeLeftRight(h, nxt)
	}
	return h
}

// CoalesceLeft merges h with its left neighbour only, if that neighbour
// exists and is free. The returned region's address is the former left
// neighbour's, so callers must relocate any payload they care about
// before calling this.
func (m *Manager) CoalesceLeft(h *Header) *Header {
	if prv := h.prev(); prv != nil && prv.Free {
		return mergeLeftRight(prv, h)
	}
	return h
}

func mergeLeftRight(left, right *Header) *Header {
	left.Size += right.Size + HeaderSize
	left.Next = right.Next
	if nxt := right.next(); nxt != nil {
		nxt.Prev = left.addr()
	}
	mmlog.Debug().Uint64("left", uint64(left.addr())).Uint64("merged_size", uint64(left.Size)).Msg("coalesced")
	return left
}

// Walk visits every region of every live block, in arena/slot/list
// order, calling fn with the region's class, block base address, and
// header. It backs the invariant checks the test suite runs after every
// mutation; nothing outside tests needs a raw region-by-region view.
func (m *Manager) Walk(fn func(class Class, blockBase uintptr, h *Header)) {
	for c := Small; c <= Large; c++ {
		for _, base := range m.arenas[c].slots {
			if base == 0 {
				continue
			}
			for h := headerAt(base); h != nil; h = h.next() {
				fn(c, base, h)
			}
		}
	}
}
