package mmapalloc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shenjiangwei/mmapalloc/internal/region"
)

func newTestAllocator() *Allocator {
	return New(&region.FirstFit{})
}

func TestAllocateBasic(t *testing.T) {
	a := newTestAllocator()

	ptr, err := a.Allocate(100)
	require.NoError(t, err)
	require.NotNil(t, ptr)

	st := a.Stats()
	assert.EqualValues(t, 1, st.Mallocs)
	assert.EqualValues(t, 1, st.Blocks)
	assert.EqualValues(t, 100, st.Requested)
}

func TestAllocateZeroSizeReturnsNil(t *testing.T) {
	a := newTestAllocator()

	ptr, err := a.Allocate(0)
	require.NoError(t, err)
	assert.Nil(t, ptr)
	assert.Zero(t, a.Stats().Mallocs)
}

func TestAllocateOversizeReturnsNil(t *testing.T) {
	a := newTestAllocator()

	ptr, err := a.Allocate(region.ClassSize[region.Large])
	require.NoError(t, err)
	assert.Nil(t, ptr)
}

func TestAllocateExactlyLargestPayloadSucceeds(t *testing.T) {
	a := newTestAllocator()

	largest := region.ClassSize[region.Large] - region.HeaderSize
	ptr, err := a.Allocate(largest)
	require.NoError(t, err)
	require.NotNil(t, ptr)

	st := a.Stats()
	assert.EqualValues(t, 1, st.Mallocs)
	assert.EqualValues(t, largest, st.Requested)
}

func TestAllocateRoundsUpToAlignment(t *testing.T) {
	a := newTestAllocator()

	ptr, err := a.Allocate(101)
	require.NoError(t, err)
	require.NotNil(t, ptr)
	assert.EqualValues(t, 104, a.Stats().Requested)
}

func TestFreeNilIsNoop(t *testing.T) {
	a := newTestAllocator()
	a.Free(nil)
	assert.Zero(t, a.Stats().Frees)
}

func TestFreeRejectsForeignMagic(t *testing.T) {
	a := newTestAllocator()

	ptr, err := a.Allocate(64)
	require.NoError(t, err)

	h := region.FromPayload(uintptr(ptr))
	h.Magic = 0

	a.Free(ptr)
	assert.Zero(t, a.Stats().Frees, "a region with a corrupted magic must never be freed")
}

func TestFreeDeletesTheOnlyBlockWhenDrained(t *testing.T) {
	a := newTestAllocator()

	ptr, err := a.Allocate(256)
	require.NoError(t, err)

	a.Free(ptr)

	st := a.Stats()
	assert.EqualValues(t, 1, st.Frees)
	assert.Zero(t, st.Blocks, "freeing the sole region of a block must delete the block")
}

func TestFreeTwiceIsNoop(t *testing.T) {
	a := newTestAllocator()

	ptr, err := a.Allocate(256)
	require.NoError(t, err)
	// A second live region keeps the block mapped once ptr is freed, so the
	// second Free still finds ptr's header, now marked free.
	_, err = a.Allocate(256)
	require.NoError(t, err)

	a.Free(ptr)
	a.Free(ptr)

	assert.EqualValues(t, 1, a.Stats().Frees)
}

func TestZeroAllocZerosMemory(t *testing.T) {
	a := newTestAllocator()

	ptr, err := a.ZeroAlloc(16, 8)
	require.NoError(t, err)
	require.NotNil(t, ptr)

	buf := unsafe.Slice((*byte)(ptr), 128)
	for i, b := range buf {
		assert.Zerof(t, b, "byte %d not zeroed", i)
	}
}

func TestZeroAllocRejectsZeroOperands(t *testing.T) {
	a := newTestAllocator()

	ptr, err := a.ZeroAlloc(0, 8)
	require.NoError(t, err)
	assert.Nil(t, ptr)

	ptr, err = a.ZeroAlloc(8, 0)
	require.NoError(t, err)
	assert.Nil(t, ptr)
}

func TestZeroAllocRejectsOverflow(t *testing.T) {
	a := newTestAllocator()

	_, err := a.ZeroAlloc(^uintptr(0), 2)
	assert.ErrorIs(t, err, ErrOutOfMemory)
}

func TestResizeNilPointerAllocates(t *testing.T) {
	a := newTestAllocator()

	ptr, err := a.Resize(nil, 128)
	require.NoError(t, err)
	assert.NotNil(t, ptr)
	assert.EqualValues(t, 1, a.Stats().Mallocs)
}

func TestResizeToZeroFrees(t *testing.T) {
	a := newTestAllocator()

	ptr, err := a.Allocate(128)
	require.NoError(t, err)

	out, err := a.Resize(ptr, 0)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.EqualValues(t, 1, a.Stats().Frees)
}

func TestResizeSameAlignedSizeIsNoop(t *testing.T) {
	a := newTestAllocator()

	ptr, err := a.Allocate(100)
	require.NoError(t, err)

	out, err := a.Resize(ptr, 100)
	require.NoError(t, err)
	assert.Equal(t, ptr, out)
}

func TestStrategySelectsOnDefaultAllocator(t *testing.T) {
	// SetStrategy only affects the package-level default, which is built
	// lazily; exercise it through the public funcs rather than New.
	SetStrategy(&region.BestFit{})
	ptr, err := Allocate(32)
	require.NoError(t, err)
	require.NotNil(t, ptr)
	Free(ptr)
}
