package confirmations

import (
	"context"
	"sync"
	"time"
)

// workQueue processes items one at a time in FIFO order, waiting delay after
// each item settles before taking the next one. The worker goroutine only
// lives while there is something to drain.
type workQueue struct {
	process func(id string)
	delay   time.Duration

	mutex   sync.Mutex
	items   []string
	running bool
	done    chan struct{}
}

func newWorkQueue(delay time.Duration, process func(id string)) *workQueue {
	return &workQueue{process: process, delay: delay}
}

func (q *workQueue) push(id string) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.items = append(q.items, id)
	if q.running {
		return
	}
	q.running = true
	q.done = make(chan struct{})
	go q.drain(q.done)
}

func (q *workQueue) next() (string, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if len(q.items) == 0 {
		q.running = false
		return "", false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

func (q *workQueue) drain(done chan struct{}) {
	defer close(done)
	for {
		item, ok := q.next()
		if !ok {
			return
		}
		q.process(item)
		time.Sleep(q.delay)
	}
}

func (q *workQueue) len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items)
}

// wait blocks until the queue is empty and no item is being processed.
func (q *workQueue) wait(ctx context.Context) error {
	for {
		q.mutex.Lock()
		if !q.running {
			q.mutex.Unlock()
			return nil
		}
		done := q.done
		q.mutex.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
