package mmapalloc

// Stats is a point-in-time snapshot of the four counters spec.md §4.3
// defines. Mallocs and Frees only advance (a relocating Resize takes back
// the malloc its internal allocation counted); Requested is adjusted by
// Resize; Blocks is the number of live blocks and drops when Free
// releases a drained block.
type Stats struct {
	Mallocs   uint64
	Frees     uint64
	Requested uint64
	Blocks    uint64
}
