package slot_test

import (
	"testing"

	"github.com/kashguard/go-hsm/internal/hsm/slot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocator_LowestFreeIndex(t *testing.T) {
	a := slot.NewAllocator(8)

	// 分配应返回最低的空闲索引
	for i := 0; i < 8; i++ {
		index, err := a.Allocate()
		require.NoError(t, err)
		assert.Equal(t, i, index)
	}

	assert.Equal(t, 8, a.Occupied())
}

func TestAllocator_Exhaustion(t *testing.T) {
	a := slot.NewAllocator(4)

	for i := 0; i < 4; i++ {
		_, err := a.Allocate()
		require.NoError(t, err)
	}

	_, err := a.Allocate()
	require.ErrorIs(t, err, slot.ErrResourceExhausted)
}

func TestAllocator_FreeAndReuse(t *testing.T) {
	a := slot.NewAllocator(4)

	for i := 0; i < 4; i++ {
		_, err := a.Allocate()
		require.NoError(t, err)
	}

	// 释放中间槽位后，下一次分配必须复用该索引
	a.Free(2)
	assert.False(t, a.IsOccupied(2))

	index, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 2, index)
}

func TestAllocator_FreeIsIdempotent(t *testing.T) {
	a := slot.NewAllocator(4)

	index, err := a.Allocate()
	require.NoError(t, err)

	a.Free(index)
	a.Free(index)
	a.Free(-1)
	a.Free(100)

	assert.Equal(t, 0, a.Occupied())
}

func TestAllocator_CrossesWordBoundary(t *testing.T) {
	a := slot.NewAllocator(130)

	for i := 0; i < 130; i++ {
		index, err := a.Allocate()
		require.NoError(t, err)
		assert.Equal(t, i, index)
	}

	_, err := a.Allocate()
	require.ErrorIs(t, err, slot.ErrResourceExhausted)

	a.Free(127)
	index, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 127, index)
}
