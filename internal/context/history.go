package context

import "sync"

// History is the append-only record of turns for one session.
// The zero value is an empty history ready for use.
type History struct {
	mu    sync.RWMutex
	turns []Turn
}

// Append adds turns to the end of the history as a single atomic step.
func (h *History) Append(turns ...Turn) {
	h.mu.Lock()
	h.turns = append(h.turns, turns...)
	h.mu.Unlock()
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Turns returns a copy of every stored turn, oldest first.
func (h *History) Turns() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Last returns a copy of the most recent n turns, oldest first.
// All turns are returned when fewer than n are stored.
func (h *History) Last(n int) []Turn {
	if n <= 0 {
		return []Turn{}
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n > len(h.turns) {
		n = len(h.turns)
	}
	out := make([]Turn, n)
	copy(out, h.turns[len(h.turns)-n:])
	return out
}
