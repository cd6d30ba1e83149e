package hub

import (
	"sync/atomic"
)

// queue is a lock-free spsc queue of encoded messages. The hub loop is the
// only producer, the session's writer goroutine the only consumer.
type queue struct {
	msgs        [][]byte
	read, write atomic.Uint32

	// ready has capacity 1 and gets a value whenever a message is pushed.
	ready chan struct{}
}

func newQueue(size int) *queue {
	if size <= 0 || size&(size-1) != 0 {
		panic("queue size must be a power of 2")
	}
	return &queue{
		msgs:  make([][]byte, size),
		ready: make(chan struct{}, 1),
	}
}

// push appends msg to the queue. It returns false if the queue is full.
func (q *queue) push(msg []byte) bool {
	write := q.write.Load()
	if write-q.read.Load() == uint32(len(q.msgs)) {
		return false
	}
	q.msgs[write%uint32(len(q.msgs))] = msg
	q.write.Store(write + 1)
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// drain calls f for every queued message in order, stopping at the first
// error.
func (q *queue) drain(f func([]byte) error) error {
	read := q.read.Load()
	write := q.write.Load()
	for read != write {
		i := read % uint32(len(q.msgs))
		msg := q.msgs[i]
		q.msgs[i] = nil
		read++
		q.read.Store(read)
		if err := f(msg); err != nil {
			return err
		}
	}
	return nil
}

func (q *queue) len() int {
	return int(q.write.Load() - q.read.Load())
}
