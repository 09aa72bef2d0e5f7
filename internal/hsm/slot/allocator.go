package slot

import (
	"math/bits"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrResourceExhausted = errors.New("no free key slots")
	ErrInvalidSlotIndex  = errors.New("invalid slot index")
)

const wordBits = 64

// Allocator 密钥槽位分配器
// 使用位图跟踪固定容量的槽位占用情况，容量在模块配置时确定
type Allocator struct {
	mu       sync.Mutex
	bitmap   []uint64
	capacity int
	occupied int
}

// NewAllocator 创建新的槽位分配器
func NewAllocator(capacity int) *Allocator {
	if capacity <= 0 {
		capacity = 1
	}
	words := (capacity + wordBits - 1) / wordBits
	return &Allocator{
		bitmap:   make([]uint64, words),
		capacity: capacity,
	}
}

// Allocate 分配最低的空闲槽位索引
// 无空闲槽位时返回 ErrResourceExhausted，调用方负责上报和审计
func (a *Allocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for w, word := range a.bitmap {
		if word == ^uint64(0) {
			continue
		}
		// 该字内最低的空闲位
		bit := bits.TrailingZeros64(^word)
		index := w*wordBits + bit
		if index >= a.capacity {
			break
		}
		a.bitmap[w] |= 1 << uint(bit)
		a.occupied++
		return index, nil
	}

	return -1, ErrResourceExhausted
}

// Free 释放指定槽位（幂等）
func (a *Allocator) Free(index int) {
	if index < 0 || index >= a.capacity {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	w, bit := index/wordBits, uint(index%wordBits)
	if a.bitmap[w]&(1<<bit) != 0 {
		a.bitmap[w] &^= 1 << bit
		a.occupied--
	}
}

// Reserve 占用指定槽位，用于从持久化存储恢复时回放占用状态
func (a *Allocator) Reserve(index int) error {
	if index < 0 || index >= a.capacity {
		return ErrInvalidSlotIndex
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	w, bit := index/wordBits, uint(index%wordBits)
	if a.bitmap[w]&(1<<bit) != 0 {
		return errors.Wrapf(ErrInvalidSlotIndex, "slot %d already occupied", index)
	}
	a.bitmap[w] |= 1 << bit
	a.occupied++

	return nil
}

// IsOccupied 检查槽位是否被占用
func (a *Allocator) IsOccupied(index int) bool {
	if index < 0 || index >= a.capacity {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	return a.bitmap[index/wordBits]&(1<<uint(index%wordBits)) != 0
}

// Occupied 返回已占用槽位数
func (a *Allocator) Occupied() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.occupied
}

// Capacity 返回槽位总容量
func (a *Allocator) Capacity() int {
	return a.capacity
}
