package device

// Ring is a fixed-capacity, newest-first history buffer. The backing array is
// allocated once; pushing into a full ring overwrites the oldest element.
type Ring[T any] struct {
	buf  []T
	next int
	size int
}

// NewRing allocates a ring holding at most capacity elements.
// A capacity below one is raised to one.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push prepends v. When the ring was full the evicted oldest value is
// returned with ok set.
func (r *Ring[T]) Push(v T) (evicted T, ok bool) {
	if r.size == len(r.buf) {
		evicted, ok = r.buf[r.next], true
	} else {
		r.size++
	}
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	return evicted, ok
}

// At returns the i-th newest element; At(0) is the head.
func (r *Ring[T]) At(i int) (T, bool) {
	var zero T
	if i < 0 || i >= r.size {
		return zero, false
	}
	idx := (r.next - 1 - i + 2*len(r.buf)) % len(r.buf)
	return r.buf[idx], true
}

// Head returns the newest element.
func (r *Ring[T]) Head() (T, bool) {
	return r.At(0)
}

// Len returns the number of stored elements.
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Items returns the elements newest-first.
func (r *Ring[T]) Items() []T {
	out := make([]T, 0, r.size)
	for i := 0; i < r.size; i++ {
		v, _ := r.At(i)
		out = append(out, v)
	}
	return out
}
