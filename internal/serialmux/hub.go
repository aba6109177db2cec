package serialmux

import (
	crand "crypto/rand"
	"encoding/hex"
	"sync"
)

// hub tracks subscriber channels. After close, new subscribers get an
// already closed channel.
type hub struct {
	mu     sync.Mutex
	subs   map[string]chan string
	buffer int
	closed bool
}

func newHub(buffer int) *hub {
	return &hub{subs: make(map[string]chan string), buffer: buffer}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (h *hub) subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, h.buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subs[id] = ch
	return id, ch
}

func (h *hub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}

// broadcast offers line to every subscriber, dropping it for those that
// lag. It reports false once the hub is closed.
func (h *hub) broadcast(line string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	for _, ch := range h.subs {
		select {
		case ch <- line:
		default:
		}
	}
	return true
}

// close closes every subscriber channel. It reports false if the hub was
// already closed.
func (h *hub) close() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
	return true
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
