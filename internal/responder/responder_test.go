package responder_test

import (
	"testing"

	"github.com/supportchat/widget/backend/internal/responder"
)

func TestRespondKnownKeywords(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"hello", "Hello! How can I help you today?"},
		{"Hi!", "Hi there! How may I assist you?"},
		{"I need help with my order", "I can help you with:\n1. Product information\n2. Order status\n3. Returns and refunds\n4. Technical support\nWhat would you like to know?"},
		{"ok bye", "Thank you for chatting with us. Have a great day!"},
		{"thanks a lot", "You're welcome! Is there anything else I can help you with?"},
	}
	for _, tc := range cases {
		if got := responder.Respond(tc.text); got != tc.want {
			t.Fatalf("Respond(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestRespondCaseInsensitive(t *testing.T) {
	if got := responder.Respond("HELLO THERE"); got != "Hello! How can I help you today?" {
		t.Fatalf("unexpected reply: %q", got)
	}
}

func TestRespondFirstMatchWins(t *testing.T) {
	// "hi" precedes "help" in the table, so it takes the tie.
	got := responder.Respond("hi there, I need help")
	if got != "Hi there! How may I assist you?" {
		t.Fatalf("expected the hi reply, got %q", got)
	}
}

func TestRespondFallback(t *testing.T) {
	got := responder.Respond("where is my package")
	if got != responder.Fallback {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestRespondDeterministic(t *testing.T) {
	first := responder.Respond("bye for now")
	for i := 0; i < 5; i++ {
		if got := responder.Respond("bye for now"); got != first {
			t.Fatalf("non-deterministic reply on iteration %d: %q", i, got)
		}
	}
}
