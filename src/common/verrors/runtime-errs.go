package vox_err

import (
	"sync"

	vxl "github.com/voxcord/voxcord/src/common/voxlog"
)

// ThreadSafeQueue is a bounded queue holding the most recent runtime errors,
// inspectable via the meta endpoint.
type ThreadSafeQueue struct {
	items []interface{}
	mu    sync.Mutex
	cond  *sync.Cond
	cap   int
}

var ErrorQueue *ThreadSafeQueue = nil

func NewThreadSafeQueue(capacity int) *ThreadSafeQueue {
	q := &ThreadSafeQueue{
		items: make([]interface{}, 0),
		cap:   capacity,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds an item; if the queue is at capacity the oldest item is dropped.
func (q *ThreadSafeQueue) Enqueue(item interface{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.cap {
		v := q.items[0]
		vxl.Stdout.Error(vxl.Id("vid/2a6b11873cd0"), "error queue at capacity, dropping oldest error:", v)
		q.items = q.items[1:]
	}

	q.items = append(q.items, item)
	q.cond.Signal()
}

// Dequeue blocks until an item is available.
func (q *ThreadSafeQueue) Dequeue() interface{} {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		q.cond.Wait()
	}

	item := q.items[0]
	q.items = q.items[1:]
	return item
}

func (q *ThreadSafeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *ThreadSafeQueue) Iterate(action func(item interface{})) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range q.items {
		action(item)
	}
}

func init() {
	ErrorQueue = NewThreadSafeQueue(100)
}
