package logsink

import "sync"

// hub fans flushed records out to live subscribers.
type hub struct {
	mu   sync.Mutex
	subs map[string]map[chan Record]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[chan Record]struct{})}
}

func (h *hub) subscribe(key string, buffer int) (<-chan Record, func()) {
	ch := make(chan Record, buffer)
	h.mu.Lock()
	if h.subs[key] == nil {
		h.subs[key] = make(map[chan Record]struct{})
	}
	h.subs[key][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[key], ch)
			if len(h.subs[key]) == 0 {
				delete(h.subs, key)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (h *hub) broadcast(r Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[r.Stream] {
		select {
		case ch <- r:
		default:
			// Drop if subscriber is too slow.
		}
	}
}
