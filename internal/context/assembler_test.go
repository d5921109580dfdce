package context

import "testing"

func TestStandardAssembler_PlacesSystemFirstAndUserLast(t *testing.T) {
	a := &StandardAssembler{}
	window := []Turn{UserTurn("Hello"), AssistantTurn("Hi there")}

	got := a.Assemble("be brief", window, "How are you?")

	want := []Turn{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "Hello"},
		{Role: RoleAssistant, Content: "Hi there"},
		{Role: RoleUser, Content: "How are you?"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestStandardAssembler_NoHistory(t *testing.T) {
	a := &StandardAssembler{}
	got := a.Assemble("sys", nil, "Hello")

	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0] != SystemTurn("sys") {
		t.Errorf("unexpected system message: %+v", got[0])
	}
	if got[1] != UserTurn("Hello") {
		t.Errorf("unexpected user message: %+v", got[1])
	}
}

func TestStandardAssembler_DoesNotAliasWindow(t *testing.T) {
	a := &StandardAssembler{}
	window := []Turn{UserTurn("a"), AssistantTurn("b")}
	got := a.Assemble("sys", window, "c")
	got[1].Content = "changed"
	if window[0].Content != "a" {
		t.Fatalf("assembled request must not share storage with the window")
	}
}
