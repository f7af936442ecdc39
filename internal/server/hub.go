package server

import (
	"sync"

	sml "github.com/ashajkofci/gosml"
)

const subscriberBuffer = 4

// hub fans decoded readings out to stream subscribers. A subscriber that
// falls behind misses cycles rather than blocking the meter.
type hub struct {
	mu   sync.Mutex
	subs map[chan sml.Readings]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[chan sml.Readings]struct{})}
}

func (h *hub) subscribe() (<-chan sml.Readings, func()) {
	ch := make(chan sml.Readings, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
}

func (h *hub) broadcast(readings sml.Readings) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- readings:
		default:
		}
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
