// Package quality derives read-only diagnostic metrics from a user's
// collected message log. Nothing here mutates the ledger.
package quality

import (
	"context"
	"errors"
	"fmt"

	"github.com/mimicry-ai/mimik/internal/mimik/collect"
	"github.com/mimicry-ai/mimik/internal/mimik/store"
)

// ErrNoAcceptedData is returned when a user exists but has no accepted
// messages to audit.
var ErrNoAcceptedData = errors.New("quality: no accepted messages")

// ErrNotFound is returned when the user has no aggregate at all.
var ErrNotFound = errors.New("quality: user not found")

// Report is a snapshot of a user's dataset health at audit time.
type Report struct {
	UserID            string
	TotalMessages     int
	UserMessages      int
	AssistantMessages int
	// SentimentCounts is a histogram over user messages; entries without a
	// stored label fall into the neutral bucket.
	SentimentCounts     map[collect.Sentiment]int
	TotalTokens         int
	AvgTokensPerMessage float64
	ProgressPercent     float64
	// IsSufficient reports whether the token target has been met.
	IsSufficient bool
	// IsBalanced reports whether both sides of the conversation are present.
	IsBalanced bool
	// Valid is the overall verdict: sufficient volume and balanced roles.
	Valid bool
}

// Ledger is the read surface the auditor needs from the store.
type Ledger interface {
	GetAggregate(ctx context.Context, userID string) (*store.UserAggregate, error)
	ListAcceptedMessages(ctx context.Context, userID string) ([]*store.Message, error)
}

// Auditor computes Reports against a ledger and a configured token target.
type Auditor struct {
	ledger Ledger
	target int
}

// New returns an Auditor reading from ledger. target is the accepted-token
// total at which a dataset counts as sufficient.
func New(ledger Ledger, target int) *Auditor {
	return &Auditor{ledger: ledger, target: target}
}

// Audit computes the quality report for one user. It returns ErrNotFound if
// the user has never interacted and ErrNoAcceptedData if nothing countable
// has been collected yet.
func (a *Auditor) Audit(ctx context.Context, userID string) (*Report, error) {
	agg, err := a.ledger.GetAggregate(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("quality: load aggregate: %w", err)
	}

	msgs, err := a.ledger.ListAcceptedMessages(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("quality: load messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil, ErrNoAcceptedData
	}

	report := &Report{
		UserID:          userID,
		TotalMessages:   len(msgs),
		SentimentCounts: make(map[collect.Sentiment]int),
		TotalTokens:     agg.TotalTokens,
	}

	for _, m := range msgs {
		switch m.Role {
		case store.RoleUser:
			report.UserMessages++
			label := collect.SentimentNeutral
			if m.Sentiment.Valid && m.Sentiment.String != "" {
				label = collect.Sentiment(m.Sentiment.String)
			}
			report.SentimentCounts[label]++
		case store.RoleAssistant:
			report.AssistantMessages++
		}
	}

	if agg.MessageCount > 0 {
		report.AvgTokensPerMessage = float64(agg.TotalTokens) / float64(agg.MessageCount)
	}
	if a.target > 0 {
		report.ProgressPercent = 100 * float64(agg.TotalTokens) / float64(a.target)
	}
	report.IsSufficient = agg.TotalTokens >= a.target
	report.IsBalanced = report.UserMessages > 0 && report.AssistantMessages > 0
	report.Valid = report.IsSufficient && report.IsBalanced

	return report, nil
}
