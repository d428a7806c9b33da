// Package session keeps the rolling short-term conversation context used to
// prompt the responder. The ledger remains the durable record; this buffer
// exists only to give the model continuity within a process lifetime, and is
// rebuilt from the ledger after a restart.
package session

import (
	"sync"

	"github.com/mimicry-ai/mimik/internal/mimik/responder"
)

// Config holds configuration for the Tracker.
type Config struct {
	// Preamble is the instruction text sent as the leading system turn of
	// every responder call.
	Preamble string

	// MaxTurns is the number of most-recent turns kept per user.
	// Default: 10.
	MaxTurns int

	// MaxTokens is the estimated token budget for the buffer. When exceeded,
	// the oldest turns are dropped until under budget. Default: 4000.
	MaxTokens int
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() Config {
	return Config{MaxTurns: 10, MaxTokens: 4000}
}

// Tracker manages per-user conversation buffers. It is safe for concurrent
// use.
type Tracker struct {
	mu     sync.Mutex
	config Config
	users  map[string]*buffer
}

type buffer struct {
	turns  []responder.Turn
	seeded bool
}

// NewTracker creates a Tracker with the given configuration.
func NewTracker(cfg Config) *Tracker {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultConfig().MaxTurns
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	return &Tracker{
		config: cfg,
		users:  make(map[string]*buffer),
	}
}

// Append adds one turn to a user's buffer, trimming to the configured limits.
func (t *Tracker) Append(userID, role, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.bufferFor(userID)
	b.turns = append(b.turns, responder.Turn{Role: role, Content: content})
	t.trim(b)
}

// Seeded reports whether the user's buffer has been hydrated this process
// lifetime. A fresh buffer with no prior Seed or Append calls is unseeded.
func (t *Tracker) Seeded(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.users[userID]
	return ok && b.seeded
}

// Seed replaces the user's buffer with turns restored from durable history,
// oldest first. Call once per user after a restart, before the first Append.
func (t *Tracker) Seed(userID string, turns []responder.Turn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.bufferFor(userID)
	b.turns = make([]responder.Turn, len(turns))
	copy(b.turns, turns)
	t.trim(b)
}

// Context returns the full responder context for a user: the instruction
// preamble followed by the buffered turns, oldest first. The returned slice
// is a copy.
func (t *Tracker) Context(userID string) []responder.Turn {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.bufferFor(userID)
	out := make([]responder.Turn, 0, len(b.turns)+1)
	if t.config.Preamble != "" {
		out = append(out, responder.Turn{Role: "system", Content: t.config.Preamble})
	}
	return append(out, b.turns...)
}

// Forget drops a user's buffer entirely.
func (t *Tracker) Forget(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.users, userID)
}

// bufferFor returns the user's buffer, creating it if needed. Marks the
// buffer seeded: any access implies the caller has taken responsibility for
// its contents. Must be called with mu held.
func (t *Tracker) bufferFor(userID string) *buffer {
	b := t.users[userID]
	if b == nil {
		b = &buffer{}
		t.users[userID] = b
	}
	b.seeded = true
	return b
}

// trim drops oldest turns until within the configured limits. Must be called
// with mu held.
func (t *Tracker) trim(b *buffer) {
	if len(b.turns) > t.config.MaxTurns {
		b.turns = b.turns[len(b.turns)-t.config.MaxTurns:]
	}
	for len(b.turns) > 1 && estimateTokens(b.turns) > t.config.MaxTokens {
		b.turns = b.turns[1:]
	}
}

// estimateTokens approximates the token footprint of a turn slice at roughly
// four characters per token. Close enough for budget trimming; exact counts
// live in the ledger.
func estimateTokens(turns []responder.Turn) int {
	total := 0
	for _, t := range turns {
		total += len(t.Content)/4 + 4
	}
	return total
}
