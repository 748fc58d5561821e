package frontier

import (
	"container/heap"
	"sync"
)

// Queue is a min-heap of Requests keyed by (priority, insertion sequence).
// Equal priorities pop in FIFO order. Operations never block; the scheduler
// owns the condition variable that waits for work.
type Queue struct {
	mu   sync.Mutex
	h    requestHeap
	seq  uint64
	size int
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	q := &Queue{}
	heap.Init(&q.h)
	return q
}

// Push adds a Request to the queue.
func (q *Queue) Push(req *Request) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	req.seq = q.seq
	heap.Push(&q.h, req)
	q.size++
}

// Pop removes and returns the lowest-priority Request, or nil when empty.
func (q *Queue) Pop() *Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.h.Len() == 0 {
		return nil
	}
	q.size--
	return heap.Pop(&q.h).(*Request)
}

// Len returns the number of pending Requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Clear discards all pending Requests.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.h = q.h[:0]
	q.size = 0
}

type requestHeap []*Request

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *requestHeap) Push(x any) {
	req := x.(*Request)
	req.index = len(*h)
	*h = append(*h, req)
}

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	req := old[n-1]
	old[n-1] = nil
	req.index = -1
	*h = old[:n-1]
	return req
}
