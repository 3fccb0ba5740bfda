package queue

import (
	"container/heap"
	"sync"

	"rule-crawler/pkg/models"
)

// --- Priority Queue Implementation ---

// PQItem represents an entry in the priority queue
type PQItem struct {
	entry models.Entry
	index int // The index of the item in the heap (required by heap interface)
}

// PriorityQueue implements heap.Interface
// Ordering: higher Priority first, then lower Seq (FIFO among equal weights)
type PriorityQueue []*PQItem

func (pq PriorityQueue) Len() int { return len(pq) }

func (pq PriorityQueue) Less(i, j int) bool {
	a, b := pq[i].entry, pq[j].entry
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.Seq < b.Seq
}

func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

// Push adds an element to the heap
func (pq *PriorityQueue) Push(x any) {
	n := len(*pq)
	item := x.(*PQItem)
	item.index = n
	*pq = append(*pq, item)
}

// Pop removes and returns the last element; heap.Pop moves the top there first
func (pq *PriorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // avoid memory leak
	item.index = -1 // for safety
	*pq = old[0 : n-1]
	return item
}

// ThreadSafePriorityQueue wraps PriorityQueue with a blocking Pop
type ThreadSafePriorityQueue struct {
	pq   PriorityQueue
	mu   sync.Mutex
	cond *sync.Cond // Signalled on every Add
}

// NewThreadSafePriorityQueue creates a new thread-safe priority queue
func NewThreadSafePriorityQueue() *ThreadSafePriorityQueue {
	tspq := &ThreadSafePriorityQueue{}
	tspq.cond = sync.NewCond(&tspq.mu)
	heap.Init(&tspq.pq)
	return tspq
}

// Add pushes an entry onto the queue and wakes one waiting consumer.
// The caller assigns Priority and Seq.
func (tspq *ThreadSafePriorityQueue) Add(entry models.Entry) {
	tspq.mu.Lock()
	defer tspq.mu.Unlock()

	heap.Push(&tspq.pq, &PQItem{entry: entry})
	tspq.cond.Signal()
}

// Pop retrieves and removes the highest priority entry, blocking while the queue is empty
func (tspq *ThreadSafePriorityQueue) Pop() models.Entry {
	tspq.mu.Lock()
	defer tspq.mu.Unlock()

	for len(tspq.pq) == 0 {
		// Wait releases the lock and reacquires it upon waking
		tspq.cond.Wait()
	}

	return heap.Pop(&tspq.pq).(*PQItem).entry
}

// Len returns the current number of entries in the queue (thread-safe)
func (tspq *ThreadSafePriorityQueue) Len() int {
	tspq.mu.Lock()
	defer tspq.mu.Unlock()
	return len(tspq.pq)
}
