package region

// Strategy is the constructor-time capability spec.md's Design Notes
// propose in place of a compile-time build tag: "a single
// function/method that picks a free region by size ... passed to the
// region manager at construction." Exactly one implementation is active
// for a given Manager.
//
// Manager drives the traversal (classes ascending, blocks in slot order,
// regions head to tail within a block) and calls Consider for every free
// region of sufficient size it encounters. Consider returns true to stop
// the search immediately (first-fit); a strategy that wants to see every
// candidate before deciding (best-fit) always returns false and makes
// its choice available through Chosen once traversal completes.
type Strategy interface {
	// Reset clears any state retained from a previous search.
	Reset()
	// Consider is called once per free region of size >= want, in
	// traversal order. Returning true stops the search and claims h.
	Consider(h *Header) (stop bool)
	// Chosen returns the region the strategy wants, once the
	// traversal that Consider was stopped by, or ran to completion
	// for, is over. Nil means no candidate was found.
	Chosen() *Header
}

// FirstFit returns the first free region of sufficient size encountered
// in traversal order.
type FirstFit struct {
	found *Header
}

func (s *FirstFit) Reset() { s.found = nil }

func (s *FirstFit) Consider(h *Header) bool {
	s.found = h
	return true
}

func (s *FirstFit) Chosen() *Header { return s.found }

// BestFit scans every candidate across every class that can accommodate
// the request and keeps the smallest one, breaking ties by traversal
// order (the first region seen of the smallest size wins).
type BestFit struct {
	best *Header
}

func (s *BestFit) Reset() { s.best = nil }

func (s *BestFit) Consider(h *Header) bool {
	if s.best == nil || h.Size < s.best.Size {
		s.best = h
	}
	return false
}

func (s *BestFit) Chosen() *Header { return s.best }
