package region

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBlockAndFindFree(t *testing.T) {
	m := NewManager(&FirstFit{})

	h, err := m.CreateBlock(100)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.True(t, h.Free)
	assert.Equal(t, ClassSize[Small]-HeaderSize, h.Size)
	assert.Equal(t, 1, m.BlockCount())

	got := m.FindFree(100)
	require.NotNil(t, got)
	assert.Equal(t, h.Addr(), got.Addr())
	assert.False(t, got.Free)
}

func TestFindFreeReturnsNilWhenEmpty(t *testing.T) {
	m := NewManager(&FirstFit{})
	assert.Nil(t, m.FindFree(100))
}

func TestClassifyRejectsOversize(t *testing.T) {
	_, ok := Classify(ClassSize[Large])
	assert.False(t, ok, "a payload leaving no room for a header must have no class")
}

func TestSplitLeavesMinimumResidual(t *testing.T) {
	m := NewManager(&FirstFit{})
	h, err := m.CreateBlock(100)
	require.NoError(t, err)

	h.Free = false
	full := h.Size
	m.Split(h, 100)

	assert.Equal(t, MinPayload, h.Size)
	require.NotZero(t, h.Next)

	residual := headerAt(h.Next)
	assert.True(t, residual.Free)
	assert.Equal(t, full-MinPayload-HeaderSize, residual.Size)
	assert.Equal(t, h.Addr(), residual.Prev)
}

func TestSplitDoesNothingWhenResidualTooSmall(t *testing.T) {
	m := NewManager(&FirstFit{})
	h, err := m.CreateBlock(100)
	require.NoError(t, err)

	h.Free = false
	full := h.Size
	// Leaving fewer than HeaderSize+MinPayload bytes after requested must be a no-op.
	m.Split(h, full-HeaderSize-MinPayload+1)

	assert.Equal(t, full, h.Size)
	assert.Zero(t, h.Next)
}

func TestSplitRaisesBelowMinimumToMinimum(t *testing.T) {
	m := NewManager(&FirstFit{})
	h, err := m.CreateBlock(100)
	require.NoError(t, err)

	h.Free = false
	m.Split(h, 10)

	assert.Equal(t, MinPayload, h.Size, "a busy region must never shrink below MinPayload")
}

func TestCoalesceFoldsFreeRightNeighbour(t *testing.T) {
	m := NewManager(&FirstFit{})
	h, err := m.CreateBlock(100)
	require.NoError(t, err)
	full := h.Size

	h.Free = false
	m.Split(h, 1000)
	right := headerAt(h.Next)
	require.True(t, right.Free)

	// Busy-free: coalescing h folds its free right neighbour into it; with
	// no left neighbour, h keeps its own address.
	merged := m.Coalesce(h)
	assert.Equal(t, h.Addr(), merged.Addr(), "no free left neighbour to fold into")

	h.Free = true
	merged = m.Coalesce(h)
	assert.Equal(t, full, merged.Size)
	assert.Zero(t, merged.Next)
	assert.Zero(t, merged.Prev)
}

func TestDeleteBlockOnlyWhenSoleRegion(t *testing.T) {
	m := NewManager(&FirstFit{})
	h, err := m.CreateBlock(100)
	require.NoError(t, err)

	h.Free = false
	m.Split(h, 100)
	assert.False(t, m.DeleteBlock(h), "h still has a linked neighbour")

	h.Free = true
	right := headerAt(h.Next)
	merged := m.Coalesce(right)
	assert.True(t, m.DeleteBlock(merged))
	assert.Equal(t, 0, m.BlockCount())
}

func TestBestFitPicksSmallestSufficientRegion(t *testing.T) {
	m := NewManager(&BestFit{})
	h, err := m.CreateBlock(100)
	require.NoError(t, err)
	h.Free = false
	m.Split(h, 1000)
	right := headerAt(h.Next) // free, large residual

	h.Free = true
	// Two free candidates now exist for a want of 100: h (size 1000) and
	// right (much larger). Best-fit must choose h.
	got := m.FindFree(100)
	require.NotNil(t, got)
	assert.Equal(t, h.Addr(), got.Addr())
	_ = right
}

func TestFirstFitDoesNotScanFurtherClassesUnnecessarily(t *testing.T) {
	m := NewManager(&FirstFit{})
	small, err := m.CreateBlock(100)
	require.NoError(t, err)
	_, err = m.CreateBlock(20000) // a medium-class block that also fits
	require.NoError(t, err)

	got := m.FindFree(100)
	require.NotNil(t, got)
	assert.Equal(t, small.Addr(), got.Addr())
}
