package query

// MaxTurns is the conversation window kept per query.
const MaxTurns = 10

// Turn is one message of prior conversation.
type Turn struct {
	Role    string
	Content string
}

// History is a fixed-capacity ring of turns. Pushing past MaxTurns drops the oldest.
type History struct {
	buf   [MaxTurns]Turn
	start int
	n     int
}

// Push appends a turn, evicting the oldest when full.
func (h *History) Push(t Turn) {
	if h.n < MaxTurns {
		h.buf[(h.start+h.n)%MaxTurns] = t
		h.n++
		return
	}
	h.buf[h.start] = t
	h.start = (h.start + 1) % MaxTurns
}

// Len returns the number of retained turns.
func (h *History) Len() int { return h.n }

// Turns returns the retained turns, oldest first.
func (h *History) Turns() []Turn {
	out := make([]Turn, h.n)
	for i := range h.n {
		out[i] = h.buf[(h.start+i)%MaxTurns]
	}
	return out
}
