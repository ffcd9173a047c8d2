package progress

import "sync"

// Update is one progress snapshot for a session.
type Update struct {
	Current    int `json:"current"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// Hub routes batch progress updates to subscribers, keyed by session id.
// Sessions are independent: publishing to one never contends with another.
// Updates published before a subscriber joins are not replayed, and slow
// subscribers lose updates rather than slowing the publisher down; progress
// is telemetry, the task result is the system of record.
// endedRetention bounds how many finished sessions the hub remembers so that
// late subscribers to a recent session get an immediately closed channel.
const endedRetention = 1024

type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*session
	ended    []string
}

type session struct {
	mu     sync.Mutex
	subs   map[chan Update]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[string]*session)}
}

// Subscribe attaches to a session's update stream. The returned channel is
// closed when the session ends; the cancel func detaches early.
func (h *Hub) Subscribe(sessionID string) (<-chan Update, func()) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if !ok {
		s = &session{subs: make(map[chan Update]struct{})}
		h.sessions[sessionID] = s
	}
	h.mu.Unlock()

	ch := make(chan Update, 16)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Publish broadcasts one update to every current subscriber of the session.
// It never blocks: a subscriber whose buffer is full misses the update.
func (h *Hub) Publish(sessionID string, current, total int) {
	h.mu.RLock()
	s, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	u := Update{Current: current, Total: total, Percentage: percentage(current, total)}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for ch := range s.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

// Close ends a session: subscriber channels are closed and the id is kept,
// marked ended, so anyone subscribing afterwards observes closure right away
// instead of waiting on a stream that will never produce. Ended ids are
// retained up to endedRetention, oldest first out.
func (h *Hub) Close(sessionID string) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if !ok {
		s = &session{closed: true}
		h.sessions[sessionID] = s
	}
	h.ended = append(h.ended, sessionID)
	if len(h.ended) > endedRetention {
		delete(h.sessions, h.ended[0])
		h.ended = h.ended[1:]
	}
	h.mu.Unlock()

	s.mu.Lock()
	s.closed = true
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
	s.mu.Unlock()
}

// Sink adapts a session on this hub to the batch runner's progress callback.
func (h *Hub) Sink(sessionID string) func(current, total int) {
	if sessionID == "" {
		return nil
	}
	return func(current, total int) { h.Publish(sessionID, current, total) }
}

func percentage(current, total int) int {
	if total <= 0 {
		return 0
	}
	return current * 100 / total
}
