package mcp

import (
	"sync"

	"github.com/google/uuid"
)

const sessionBufferSize = 100

// sessionRegistry maps SSE session ids to the queue of serialized
// JSON-RPC responses waiting to be streamed.
type sessionRegistry struct {
	mu     sync.RWMutex
	queues map[string]chan string
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{queues: make(map[string]chan string)}
}

func (r *sessionRegistry) open() (string, <-chan string) {
	id := uuid.New().String()
	return id, r.register(id)
}

func (r *sessionRegistry) register(id string) <-chan string {
	q := make(chan string, sessionBufferSize)
	r.mu.Lock()
	r.queues[id] = q
	r.mu.Unlock()
	return q
}

func (r *sessionRegistry) close(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[id]; ok {
		delete(r.queues, id)
		close(q)
	}
}

func (r *sessionRegistry) exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.queues[id]
	return ok
}

// send reports false when the session is gone or its queue is full. The
// read lock is held across the send so close cannot race it.
func (r *sessionRegistry) send(id, msg string) (delivered, found bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, ok := r.queues[id]
	if !ok {
		return false, false
	}
	select {
	case q <- msg:
		return true, true
	default:
		return false, true
	}
}
