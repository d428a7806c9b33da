// Package export turns a user's accepted message history into JSONL training
// examples for fine-tuning.
package export

import "github.com/mimicry-ai/mimik/internal/mimik/store"

// DefaultWindowSize is the maximum number of messages per training example.
const DefaultWindowSize = 10

// Window is one bounded slice of a user's history, used as a single
// training example.
type Window []*store.Message

// Segment replays messages (oldest first) into bounded, overlapping windows.
//
// A window closes when it reaches windowSize messages, or when the last
// input message has been appended. Closed windows shorter than 2 messages
// are dropped. After a close, the last 2 messages of the closed window seed
// the next window so each example keeps short-range context, unless the
// closed window had fewer than 4 messages, in which case the next window
// starts empty.
func Segment(msgs []*store.Message, windowSize int) []Window {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}

	var windows []Window
	var current []*store.Message

	for i, msg := range msgs {
		current = append(current, msg)

		if len(current) < windowSize && i != len(msgs)-1 {
			continue
		}

		if len(current) >= 2 {
			win := make(Window, len(current))
			copy(win, current)
			windows = append(windows, win)
		}

		if len(current) >= 4 {
			seed := make([]*store.Message, 2)
			copy(seed, current[len(current)-2:])
			current = seed
		} else {
			current = nil
		}
	}

	return windows
}
