package quality_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/mimicry-ai/mimik/internal/mimik/collect"
	"github.com/mimicry-ai/mimik/internal/mimik/quality"
	"github.com/mimicry-ai/mimik/internal/mimik/store"
)

func newTestLedger(t *testing.T) *store.Store {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "mimik-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db file: %v", err)
	}
	f.Close()

	s, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func acceptWith(t *testing.T, s *store.Store, userID, role, sentiment string, tokens int) {
	t.Helper()
	_, err := s.AcceptMessage(context.Background(), store.AcceptRequest{
		UserID:      userID,
		RoomID:      "!room:example.com",
		Role:        role,
		Content:     "a message with enough substance to count",
		Tokens:      tokens,
		Sentiment:   sentiment,
		TokenTarget: 1_000_000,
	})
	if err != nil {
		t.Fatalf("AcceptMessage: %v", err)
	}
}

func TestAudit_UnknownUser(t *testing.T) {
	s := newTestLedger(t)
	a := quality.New(s, 1000)

	_, err := a.Audit(context.Background(), "@nobody:example.com")
	if !errors.Is(err, quality.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestAudit_NoAcceptedData(t *testing.T) {
	s := newTestLedger(t)
	a := quality.New(s, 1000)
	ctx := context.Background()

	// Aggregate exists via a reminder toggle but no messages at all.
	if err := s.ToggleReminders(ctx, "@quiet:example.com", true); err != nil {
		t.Fatalf("ToggleReminders: %v", err)
	}

	_, err := a.Audit(ctx, "@quiet:example.com")
	if !errors.Is(err, quality.ErrNoAcceptedData) {
		t.Fatalf("got %v, want ErrNoAcceptedData", err)
	}
}

func TestAudit_SentimentHistogram(t *testing.T) {
	s := newTestLedger(t)
	a := quality.New(s, 1000)
	user := "@alice:example.com"

	for i := 0; i < 3; i++ {
		acceptWith(t, s, user, store.RoleUser, "positive", 20)
	}
	for i := 0; i < 2; i++ {
		acceptWith(t, s, user, store.RoleUser, "neutral", 20)
	}
	// An unlabelled user message falls into the neutral bucket.
	acceptWith(t, s, user, store.RoleUser, "", 20)
	acceptWith(t, s, user, store.RoleAssistant, "", 20)

	report, err := a.Audit(context.Background(), user)
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}

	if got := report.SentimentCounts[collect.SentimentPositive]; got != 3 {
		t.Errorf("positive: got %d, want 3", got)
	}
	if got := report.SentimentCounts[collect.SentimentNeutral]; got != 3 {
		t.Errorf("neutral: got %d, want 3 (two labelled + one default)", got)
	}
	if got := report.SentimentCounts[collect.SentimentNegative]; got != 0 {
		t.Errorf("negative: got %d, want 0", got)
	}
	if report.UserMessages != 6 {
		t.Errorf("UserMessages: got %d, want 6", report.UserMessages)
	}
	if report.AssistantMessages != 1 {
		t.Errorf("AssistantMessages: got %d, want 1", report.AssistantMessages)
	}
	if report.TotalMessages != 7 {
		t.Errorf("TotalMessages: got %d, want 7", report.TotalMessages)
	}
}

func TestAudit_Verdict(t *testing.T) {
	s := newTestLedger(t)
	user := "@bob:example.com"

	acceptWith(t, s, user, store.RoleUser, "neutral", 60)
	acceptWith(t, s, user, store.RoleAssistant, "", 60)

	// Target already met: sufficient and balanced.
	report, err := quality.New(s, 100).Audit(context.Background(), user)
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if !report.IsSufficient || !report.IsBalanced || !report.Valid {
		t.Errorf("verdict: sufficient=%v balanced=%v valid=%v, want all true",
			report.IsSufficient, report.IsBalanced, report.Valid)
	}
	if report.ProgressPercent != 120 {
		t.Errorf("ProgressPercent: got %.1f, want 120", report.ProgressPercent)
	}
	if report.AvgTokensPerMessage != 60 {
		t.Errorf("AvgTokensPerMessage: got %.1f, want 60", report.AvgTokensPerMessage)
	}

	// A higher target flips sufficiency but not balance.
	report, err = quality.New(s, 1000).Audit(context.Background(), user)
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if report.IsSufficient || report.Valid {
		t.Errorf("verdict with high target: sufficient=%v valid=%v, want false", report.IsSufficient, report.Valid)
	}
	if !report.IsBalanced {
		t.Error("IsBalanced: got false, want true")
	}
}

func TestAudit_UnbalancedWithoutAssistant(t *testing.T) {
	s := newTestLedger(t)
	user := "@solo:example.com"

	acceptWith(t, s, user, store.RoleUser, "neutral", 200)

	report, err := quality.New(s, 100).Audit(context.Background(), user)
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if report.IsBalanced {
		t.Error("IsBalanced: got true with no assistant messages")
	}
	if report.Valid {
		t.Error("Valid: got true for unbalanced dataset")
	}
}
