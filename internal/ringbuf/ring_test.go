package ringbuf_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gyaneshwarpardhi/hrguard/internal/ringbuf"
)

func TestRing_PushWithinCapacity(t *testing.T) {
	r := ringbuf.New[int](3)
	r.Push(1)
	r.Push(2)

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 3, r.Cap())
	assert.Equal(t, []int{1, 2}, r.Items())
}

func TestRing_OverflowDropsOldest(t *testing.T) {
	r := ringbuf.New[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{3, 4, 5}, r.Items())
}

func TestRing_FromKeepsNewest(t *testing.T) {
	items := make([]int, 0, 45)
	for i := 0; i < 45; i++ {
		items = append(items, i)
	}
	r := ringbuf.From(40, items)

	got := r.Items()
	assert.Len(t, got, 40)
	assert.Equal(t, 5, got[0])
	assert.Equal(t, 44, got[39])
}

func TestRing_Retain(t *testing.T) {
	r := ringbuf.New[int](4)
	for i := 1; i <= 6; i++ {
		r.Push(i)
	}
	r.Retain(func(v int) bool { return v%2 == 0 })

	assert.Equal(t, []int{4, 6}, r.Items())

	r.Push(7)
	r.Push(8)
	r.Push(9)
	assert.Equal(t, []int{6, 7, 8, 9}, r.Items())
}

func TestRing_ZeroSize(t *testing.T) {
	r := ringbuf.New[string](0)
	r.Push("a")
	r.Push("b")
	assert.Equal(t, []string{"b"}, r.Items())
}
