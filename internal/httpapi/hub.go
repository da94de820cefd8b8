package httpapi

import (
	"sync"

	"github.com/google/uuid"
)

// Hub fans broadcast messages out to every connected observer. Delivery is
// best effort: a client whose queue is full misses the message and is
// expected to resynchronize with GET_AUDIO_STATE.
type Hub struct {
	mu      sync.Mutex
	clients map[string]chan any
}

const clientQueueSize = 64

func NewHub() *Hub {
	return &Hub{clients: make(map[string]chan any)}
}

// Register adds an observer and returns its id and outbound queue.
func (h *Hub) Register() (string, <-chan any) {
	id := uuid.NewString()
	ch := make(chan any, clientQueueSize)
	h.mu.Lock()
	h.clients[id] = ch
	h.mu.Unlock()
	return id, ch
}

func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	ch, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	h.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Broadcast enqueues msg for every observer without blocking.
func (h *Hub) Broadcast(msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
