// Package responder maps inbound chat text to canned support replies.
package responder

import "strings"

// Fallback is returned when no keyword matches.
const Fallback = "I'm not sure I understand. Could you please rephrase your question?"

// ErrorReply is the safe reply handed to clients when message processing
// fails downstream; it must never leak an internal error.
const ErrorReply = "Sorry, I encountered an error. Please try again."

// AttachmentPlaceholder stands in for the message text when a turn carries
// only a file.
const AttachmentPlaceholder = "[file attachment]"

type entry struct {
	keyword string
	reply   string
}

// Declaration order is the tie-break contract: the first keyword found as a
// substring wins, so "hi there, I need help" answers for "hi", not "help".
var table = []entry{
	{"hello", "Hello! How can I help you today?"},
	{"hi", "Hi there! How may I assist you?"},
	{"help", "I can help you with:\n1. Product information\n2. Order status\n3. Returns and refunds\n4. Technical support\nWhat would you like to know?"},
	{"bye", "Thank you for chatting with us. Have a great day!"},
	{"thanks", "You're welcome! Is there anything else I can help you with?"},
}

// Respond returns the canned reply for the first keyword contained in text,
// or Fallback when nothing matches. It is pure and side-effect free.
func Respond(text string) string {
	lower := strings.ToLower(text)
	for _, e := range table {
		if strings.Contains(lower, e.keyword) {
			return e.reply
		}
	}
	return Fallback
}
