package context

// SuffixWindow keeps only the last MaxTurns entries of a history.
type SuffixWindow struct {
	MaxTurns int
}

// Select returns the most recent MaxTurns entries. MaxTurns <= 0 selects the
// whole history.
func (w *SuffixWindow) Select(h *History) []Turn {
	if w.MaxTurns <= 0 {
		return h.Turns()
	}
	return h.Last(w.MaxTurns)
}
