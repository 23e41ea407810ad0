package ring

// Buffer is a fixed-capacity FIFO. Pushing into a full buffer evicts the
// oldest element. Not safe for concurrent use; owners guard access with
// their own lock.
type Buffer[T any] struct {
	items   []T
	start   int
	size    int
	dropped uint64
}

func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

func (b *Buffer[T]) Push(v T) {
	if b.size == len(b.items) {
		b.items[b.start] = v
		b.start = (b.start + 1) % len(b.items)
		b.dropped++
		return
	}
	b.items[(b.start+b.size)%len(b.items)] = v
	b.size++
}

// Items returns a copy of the buffered elements, oldest first.
func (b *Buffer[T]) Items() []T {
	out := make([]T, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.start+i)%len(b.items)]
	}
	return out
}

func (b *Buffer[T]) Len() int { return b.size }

func (b *Buffer[T]) Cap() int { return len(b.items) }

// Dropped reports how many elements have been evicted since creation.
func (b *Buffer[T]) Dropped() uint64 { return b.dropped }
