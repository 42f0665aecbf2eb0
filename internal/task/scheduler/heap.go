package scheduler

import "container/heap"

type entry struct {
	job   Job
	seq   uint64 // insertion order, breaks ties between equal instants
	index int
}

// jobHeap is a min-heap of entries ordered by NextAt.
type jobHeap []*entry

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].job.NextAt.Equal(h[j].job.NextAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].job.NextAt.Before(h[j].job.NextAt)
}
func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

func heapPush(h *jobHeap, e *entry) { heap.Push(h, e) }

func heapPop(h *jobHeap) *entry { return heap.Pop(h).(*entry) }

func heapRemove(h *jobHeap, e *entry) { heap.Remove(h, e.index) }

func heapFix(h *jobHeap, e *entry) { heap.Fix(h, e.index) }
