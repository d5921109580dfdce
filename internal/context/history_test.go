package context

import "testing"

func TestHistory_ZeroValueIsEmpty(t *testing.T) {
	var h History
	if h.Len() != 0 {
		t.Fatalf("expected empty history, got %d", h.Len())
	}
	if got := h.Last(4); len(got) != 0 {
		t.Fatalf("expected empty window, got %+v", got)
	}
}

func TestHistory_LastReturnsCopy(t *testing.T) {
	h := historyOf("q1", "a1")
	last := h.Last(2)
	last[0].Content = "mutated"
	if h.Turns()[0].Content != "q1" {
		t.Fatal("Last must not expose internal storage")
	}
}

func TestHistory_LastNonPositive(t *testing.T) {
	h := historyOf("q1", "a1")
	if got := h.Last(0); len(got) != 0 {
		t.Fatalf("expected no turns, got %d", len(got))
	}
	if got := h.Last(-3); len(got) != 0 {
		t.Fatalf("expected no turns, got %d", len(got))
	}
}
