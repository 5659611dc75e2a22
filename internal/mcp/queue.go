// file: internal/mcp/queue.go
package mcp

import "sync"

// dispatchQueue runs pushed functions one at a time in push order on a goroutine that
// exists only while work is pending. push never blocks.
type dispatchQueue struct {
	mu      sync.Mutex
	pending []func()
	running bool
}

func (q *dispatchQueue) push(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, fn)
	if !q.running {
		q.running = true
		go q.drain()
	}
}

func (q *dispatchQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()
		fn()
	}
}
