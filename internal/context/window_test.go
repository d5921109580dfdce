package context

import "testing"

func historyOf(contents ...string) *History {
	h := &History{}
	for i, c := range contents {
		if i%2 == 0 {
			h.Append(UserTurn(c))
		} else {
			h.Append(AssistantTurn(c))
		}
	}
	return h
}

func TestSuffixWindow_KeepsMostRecent(t *testing.T) {
	w := &SuffixWindow{MaxTurns: 4}
	got := w.Select(historyOf("q1", "a1", "q2", "a2", "q3", "a3"))
	if len(got) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(got))
	}
	if got[0].Content != "q2" || got[3].Content != "a3" {
		t.Errorf("unexpected window: %+v", got)
	}
	if got[0].Role != RoleUser || got[1].Role != RoleAssistant {
		t.Errorf("window must start on a user turn: %+v", got)
	}
}

func TestSuffixWindow_ShortHistory(t *testing.T) {
	w := &SuffixWindow{MaxTurns: 4}
	got := w.Select(historyOf("q1", "a1"))
	if len(got) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(got))
	}
}

func TestSuffixWindow_EmptyHistory(t *testing.T) {
	w := &SuffixWindow{MaxTurns: 4}
	got := w.Select(&History{})
	if len(got) != 0 {
		t.Fatalf("expected 0 turns, got %d", len(got))
	}
}

func TestSuffixWindow_ZeroMaxSelectsAll(t *testing.T) {
	w := &SuffixWindow{MaxTurns: 0}
	got := w.Select(historyOf("q1", "a1", "q2", "a2", "q3"))
	if len(got) != 5 {
		t.Fatalf("expected the whole history with 0 max, got %d", len(got))
	}
}

func TestSuffixWindow_DoesNotTruncateStorage(t *testing.T) {
	h := historyOf("q1", "a1", "q2", "a2", "q3", "a3")
	w := &SuffixWindow{MaxTurns: 2}
	_ = w.Select(h)
	if h.Len() != 6 {
		t.Fatalf("selecting a window must leave storage intact, len=%d", h.Len())
	}
}
