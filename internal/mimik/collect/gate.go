package collect

import (
	"context"
	"fmt"

	"github.com/mimicry-ai/mimik/internal/mimik/store"
)

// Gate orchestrates the accept path for one inbound message: tokenize,
// filter, classify, then hand the result to the ledger, which persists it
// and updates the user's totals in a single transaction.
type Gate struct {
	ledger  *store.Store
	counter TokenCounter
	filter  *Filter
	lexicon *Lexicon
	target  int
}

// NewGate wires the collection pipeline. target is the accepted-token total
// at which collection for a user completes.
func NewGate(ledger *store.Store, counter TokenCounter, filter *Filter, lexicon *Lexicon, target int) *Gate {
	return &Gate{
		ledger:  ledger,
		counter: counter,
		filter:  filter,
		lexicon: lexicon,
		target:  target,
	}
}

// Accept processes one message from the chat transport. Sentiment is
// assigned only to user messages; assistant messages always carry an empty
// label. The returned outcome tells the caller whether this message crossed
// the collection threshold.
func (g *Gate) Accept(ctx context.Context, userID, roomID, role, content string) (store.Outcome, error) {
	if role != store.RoleUser && role != store.RoleAssistant {
		return store.OutcomeInactive, fmt.Errorf("collect: unknown role %q", role)
	}

	tokens := g.counter.Count(content)
	filtered := g.filter.ShouldFilter(content, tokens)

	sentiment := ""
	if role == store.RoleUser {
		sentiment = string(g.lexicon.Classify(content))
	}

	return g.ledger.AcceptMessage(ctx, store.AcceptRequest{
		UserID:      userID,
		RoomID:      roomID,
		Role:        role,
		Content:     content,
		Tokens:      tokens,
		Sentiment:   sentiment,
		Filtered:    filtered,
		TokenTarget: g.target,
	})
}
