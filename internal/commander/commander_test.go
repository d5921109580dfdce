package commander

import "testing"

func TestCommandName(t *testing.T) {
	cases := []struct {
		text string
		name string
		ok   bool
	}{
		{"/start", "start", true},
		{"/start@relay_bot", "start", true},
		{"/Start extra words", "start", true},
		{"/help", "help", true},
		{"hello", "", false},
		{"/", "", false},
		{"/ start", "", false},
		{"/привет", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		name, ok := CommandName(tc.text)
		if name != tc.name || ok != tc.ok {
			t.Errorf("CommandName(%q) = (%q, %v), want (%q, %v)", tc.text, name, ok, tc.name, tc.ok)
		}
	}
}

func TestUser_FullName(t *testing.T) {
	if got := (&User{FirstName: "Alice"}).FullName(); got != "Alice" {
		t.Errorf("unexpected name %q", got)
	}
	if got := (&User{FirstName: "Alice", LastName: "Liddell"}).FullName(); got != "Alice Liddell" {
		t.Errorf("unexpected name %q", got)
	}
}
