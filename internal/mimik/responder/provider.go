// Package responder produces the assistant side of the conversation.
//
// The responder sits between the collection gate and the upstream LLM API.
// Its sole responsibility is turning a rolling conversation context into one
// assistant reply; persistence, filtering and accounting all happen in the
// caller. A failed call never reaches the end user as an error: callers
// surface FallbackReply and keep collecting.
package responder

import "context"

// Turn is a single entry of the rolling conversation context.
type Turn struct {
	// Role is "system", "user" or "assistant".
	Role string
	// Content is the message text.
	Content string
}

// FallbackReply is surfaced to the user when the upstream LLM call fails.
// The user's message is already persisted by then, so collection continues
// regardless.
const FallbackReply = "Sorry, I had trouble coming up with a reply just now. Tell me more anyway — I'm listening!"

// Provider generates assistant replies from a conversation context.
//
// Implementations must be safe for concurrent use from multiple goroutines.
type Provider interface {
	// Respond sends the ordered context (oldest first, instruction preamble
	// included) to the underlying model and returns the reply text.
	Respond(ctx context.Context, turns []Turn) (string, error)
}
