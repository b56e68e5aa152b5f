package datastructure

type PriorityQueueNode[T any] struct {
	Rank float64
	Tie  int32
	Item T
}

// MinHeap binary heap priority queue. Equal ranks are ordered by Tie so
// extraction order is deterministic across runs.
type MinHeap[T any] struct {
	heap []PriorityQueueNode[T]
}

func NewMinHeap[T any]() *MinHeap[T] {
	return &MinHeap[T]{
		heap: make([]PriorityQueueNode[T], 0),
	}
}

func (h *MinHeap[T]) less(i, j int) bool {
	if h.heap[i].Rank != h.heap[j].Rank {
		return h.heap[i].Rank < h.heap[j].Rank
	}
	return h.heap[i].Tie < h.heap[j].Tie
}

func (h *MinHeap[T]) isEmpty() bool {
	return len(h.heap) == 0
}

func (h *MinHeap[T]) Size() int {
	return len(h.heap)
}

func (h *MinHeap[T]) GetMin() (PriorityQueueNode[T], bool) {
	if h.isEmpty() {
		return PriorityQueueNode[T]{}, false
	}
	return h.heap[0], true
}

func (h *MinHeap[T]) Insert(key PriorityQueueNode[T]) {
	h.heap = append(h.heap, key)
	index := h.Size() - 1

	parent := (index - 1) / 2
	for ; index != 0 && h.less(index, parent); parent = (index - 1) / 2 {
		h.heap[parent], h.heap[index] = h.heap[index], h.heap[parent]
		index = parent
	}
}

// ExtractMin pops the minimum item. O(logN) heapify down.
func (h *MinHeap[T]) ExtractMin() (PriorityQueueNode[T], bool) {
	if h.isEmpty() {
		return PriorityQueueNode[T]{}, false
	}
	root := h.heap[0]
	h.heap[0] = h.heap[h.Size()-1]
	h.heap = h.heap[:h.Size()-1]
	index := 0

	for {
		smallest := index
		left := index*2 + 1
		right := index*2 + 2
		if left < len(h.heap) && h.less(left, smallest) {
			smallest = left
		}
		if right < len(h.heap) && h.less(right, smallest) {
			smallest = right
		}
		if smallest == index {
			break
		}
		h.heap[smallest], h.heap[index] = h.heap[index], h.heap[smallest]
		index = smallest
	}

	return root, true
}
