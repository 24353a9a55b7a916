package queue

// Fifo implements an unbounded first-in first-out (FIFO) queue. It is not safe for concurrent use.
type Fifo[T any] struct {
	elements []T
	head     int
}

// NewFifo creates a new Fifo with the specified initial capacity and returns a pointer to it.
func NewFifo[T any](initialSize int) *Fifo[T] {
	if initialSize < 1 {
		initialSize = 1
	}

	return &Fifo[T]{
		elements: make([]T, 0, initialSize),
	}
}

// Enqueue adds the specified element to the queue.
func (q *Fifo[T]) Enqueue(elem T) {
	q.elements = append(q.elements, elem)
}

// Dequeue removes and returns the next element in the queue.
//
// If the queue is empty, then Dequeue returns the zero value and false.
func (q *Fifo[T]) Dequeue() (T, bool) {
	var zero T
	if q.Len() == 0 {
		return zero, false
	}

	elem := q.elements[q.head]
	q.elements[q.head] = zero
	q.head++

	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head > 64 && q.head*2 >= len(q.elements) {
		n := copy(q.elements, q.elements[q.head:])
		clear(q.elements[n:])
		q.elements = q.elements[:n]
		q.head = 0
	}

	return elem, true
}

// Peek returns but does not remove the next element in the queue.
func (q *Fifo[T]) Peek() (T, bool) {
	if q.Len() == 0 {
		var zero T
		return zero, false
	}

	return q.elements[q.head], true
}

// Len returns the number of elements in the queue.
func (q *Fifo[T]) Len() int {
	return len(q.elements) - q.head
}
