package store_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/mimicry-ai/mimik/internal/mimik/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	// Use a temp file that is cleaned up after the test
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

func accept(t *testing.T, s *store.Store, userID string, tokens, target int) store.Outcome {
	t.Helper()
	outcome, err := s.AcceptMessage(context.Background(), store.AcceptRequest{
		UserID:      userID,
		RoomID:      "!room:example.com",
		Role:        store.RoleUser,
		Content:     "hello there, this is a message",
		Tokens:      tokens,
		Sentiment:   "neutral",
		TokenTarget: target,
	})
	if err != nil {
		t.Fatalf("AcceptMessage: %v", err)
	}
	return outcome
}

func TestAcceptMessage_AccumulatesTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if got := accept(t, s, "@alice:example.com", 20, 1000); got != store.OutcomeStored {
			t.Fatalf("message %d: got outcome %v, want stored", i, got)
		}
	}

	agg, err := s.GetAggregate(ctx, "@alice:example.com")
	if err != nil {
		t.Fatalf("GetAggregate: %v", err)
	}
	if agg.TotalTokens != 60 {
		t.Errorf("TotalTokens: got %d, want 60", agg.TotalTokens)
	}
	if agg.MessageCount != 3 {
		t.Errorf("MessageCount: got %d, want 3", agg.MessageCount)
	}
	if !agg.CollectionActive {
		t.Error("CollectionActive: got false, want true")
	}
	if agg.RoomID != "!room:example.com" {
		t.Errorf("RoomID: got %q, want %q", agg.RoomID, "!room:example.com")
	}
}

func TestAcceptMessage_FilteredNotCounted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	outcome, err := s.AcceptMessage(ctx, store.AcceptRequest{
		UserID:      "@alice:example.com",
		RoomID:      "!room:example.com",
		Role:        store.RoleUser,
		Content:     "/help",
		Tokens:      2,
		Filtered:    true,
		TokenTarget: 1000,
	})
	if err != nil {
		t.Fatalf("AcceptMessage: %v", err)
	}
	if outcome != store.OutcomeStoredFiltered {
		t.Fatalf("outcome: got %v, want stored_filtered", outcome)
	}

	agg, err := s.GetAggregate(ctx, "@alice:example.com")
	if err != nil {
		t.Fatalf("GetAggregate: %v", err)
	}
	if agg.TotalTokens != 0 {
		t.Errorf("TotalTokens: got %d, want 0 (filtered messages never count)", agg.TotalTokens)
	}
	if agg.MessageCount != 0 {
		t.Errorf("MessageCount: got %d, want 0", agg.MessageCount)
	}

	// The filtered row is still logged for audit.
	msgs, err := s.ListAcceptedMessages(ctx, "@alice:example.com")
	if err != nil {
		t.Fatalf("ListAcceptedMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("accepted messages: got %d, want 0", len(msgs))
	}
}

func TestAcceptMessage_ThresholdScenario(t *testing.T) {
	// 15 messages of 20 tokens against a 200-token target: the 10th crosses
	// the threshold, 11-15 bounce off the closed collection.
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 15; i++ {
		outcome := accept(t, s, "@bob:example.com", 20, 200)
		switch {
		case i < 10 && outcome != store.OutcomeStored:
			t.Fatalf("message %d: got %v, want stored", i, outcome)
		case i == 10 && outcome != store.OutcomeThresholdReached:
			t.Fatalf("message %d: got %v, want threshold_reached", i, outcome)
		case i > 10 && outcome != store.OutcomeInactive:
			t.Fatalf("message %d: got %v, want inactive", i, outcome)
		}
	}

	agg, err := s.GetAggregate(ctx, "@bob:example.com")
	if err != nil {
		t.Fatalf("GetAggregate: %v", err)
	}
	if agg.TotalTokens != 200 {
		t.Errorf("TotalTokens: got %d, want 200 (frozen at threshold)", agg.TotalTokens)
	}
	if agg.CollectionActive {
		t.Error("CollectionActive: got true, want false")
	}
	if !agg.CollectionCompletedAt.Valid {
		t.Error("CollectionCompletedAt: not set after threshold")
	}

	// Messages 11-15 must not be stored at all.
	msgs, err := s.ListAcceptedMessages(ctx, "@bob:example.com")
	if err != nil {
		t.Fatalf("ListAcceptedMessages: %v", err)
	}
	if len(msgs) != 10 {
		t.Errorf("stored messages: got %d, want 10", len(msgs))
	}
}

func TestAcceptMessage_ThresholdFiresOnceUnderConcurrency(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	outcomes := make(chan store.Outcome, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := s.AcceptMessage(context.Background(), store.AcceptRequest{
				UserID:      "@carol:example.com",
				RoomID:      "!room:example.com",
				Role:        store.RoleUser,
				Content:     "concurrent message with enough words",
				Tokens:      20,
				TokenTarget: 200,
			})
			if err != nil {
				t.Errorf("AcceptMessage: %v", err)
				return
			}
			outcomes <- outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	reached := 0
	for outcome := range outcomes {
		if outcome == store.OutcomeThresholdReached {
			reached++
		}
	}
	if reached != 1 {
		t.Errorf("threshold_reached fired %d times, want exactly 1", reached)
	}
}

func TestStopCollection_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	accept(t, s, "@dave:example.com", 30, 1000)

	if err := s.StopCollection(ctx, "@dave:example.com"); err != nil {
		t.Fatalf("StopCollection: %v", err)
	}
	agg, err := s.GetAggregate(ctx, "@dave:example.com")
	if err != nil {
		t.Fatalf("GetAggregate: %v", err)
	}
	if agg.CollectionActive {
		t.Error("CollectionActive: got true after stop")
	}
	if !agg.CollectionCompletedAt.Valid {
		t.Error("CollectionCompletedAt: not set after stop")
	}
	completedAt := agg.CollectionCompletedAt.Time

	// A second stop keeps the original completion time.
	if err := s.StopCollection(ctx, "@dave:example.com"); err != nil {
		t.Fatalf("StopCollection (second): %v", err)
	}
	agg, err = s.GetAggregate(ctx, "@dave:example.com")
	if err != nil {
		t.Fatalf("GetAggregate: %v", err)
	}
	if !agg.CollectionCompletedAt.Time.Equal(completedAt) {
		t.Errorf("CollectionCompletedAt changed on repeat stop: %v vs %v",
			agg.CollectionCompletedAt.Time, completedAt)
	}
}

func TestStopCollection_FreezesTotals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	accept(t, s, "@erin:example.com", 50, 1000)
	if err := s.StopCollection(ctx, "@erin:example.com"); err != nil {
		t.Fatalf("StopCollection: %v", err)
	}

	if got := accept(t, s, "@erin:example.com", 50, 1000); got != store.OutcomeInactive {
		t.Fatalf("post-stop accept: got %v, want inactive", got)
	}

	agg, err := s.GetAggregate(ctx, "@erin:example.com")
	if err != nil {
		t.Fatalf("GetAggregate: %v", err)
	}
	if agg.TotalTokens != 50 {
		t.Errorf("TotalTokens: got %d, want 50 (frozen after stop)", agg.TotalTokens)
	}
}

func TestGetAggregate_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetAggregate(context.Background(), "@nobody:example.com")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestToggleReminders_CreatesAggregate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Toggling before any message creates the aggregate row.
	if err := s.ToggleReminders(ctx, "@fresh:example.com", false); err != nil {
		t.Fatalf("ToggleReminders: %v", err)
	}

	agg, err := s.GetAggregate(ctx, "@fresh:example.com")
	if err != nil {
		t.Fatalf("GetAggregate: %v", err)
	}
	if agg.RemindersEnabled {
		t.Error("RemindersEnabled: got true, want false")
	}
}

func TestUsersDueForReminders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	accept(t, s, "@active:example.com", 20, 1000)
	accept(t, s, "@muted:example.com", 20, 1000)
	accept(t, s, "@done:example.com", 20, 10) // threshold reached immediately

	if err := s.ToggleReminders(ctx, "@muted:example.com", false); err != nil {
		t.Fatalf("ToggleReminders: %v", err)
	}

	due, err := s.UsersDueForReminders(ctx)
	if err != nil {
		t.Fatalf("UsersDueForReminders: %v", err)
	}
	if len(due) != 1 || due[0] != "@active:example.com" {
		t.Errorf("due users: got %v, want [@active:example.com]", due)
	}
}

func TestUpdateLastReminder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	accept(t, s, "@alice:example.com", 20, 1000)

	if err := s.UpdateLastReminder(ctx, "@alice:example.com"); err != nil {
		t.Fatalf("UpdateLastReminder: %v", err)
	}

	agg, err := s.GetAggregate(ctx, "@alice:example.com")
	if err != nil {
		t.Fatalf("GetAggregate: %v", err)
	}
	if !agg.LastReminderAt.Valid {
		t.Error("LastReminderAt: not set")
	}
}

func TestListRecentAccepted_OrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	contents := []string{"first message here", "second message here", "third message here"}
	for _, c := range contents {
		if _, err := s.AcceptMessage(ctx, store.AcceptRequest{
			UserID:      "@alice:example.com",
			RoomID:      "!room:example.com",
			Role:        store.RoleUser,
			Content:     c,
			Tokens:      10,
			TokenTarget: 1000,
		}); err != nil {
			t.Fatalf("AcceptMessage: %v", err)
		}
	}

	msgs, err := s.ListRecentAccepted(ctx, "@alice:example.com", 2)
	if err != nil {
		t.Fatalf("ListRecentAccepted: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	// Oldest first within the window: the two most recent messages.
	if msgs[0].Content != "second message here" || msgs[1].Content != "third message here" {
		t.Errorf("wrong window: got [%q, %q]", msgs[0].Content, msgs[1].Content)
	}
}

func TestUserCount(t *testing.T) {
	s := newTestStore(t)

	accept(t, s, "@alice:example.com", 20, 1000)
	accept(t, s, "@bob:example.com", 20, 1000)
	accept(t, s, "@alice:example.com", 20, 1000)

	n, err := s.UserCount(context.Background())
	if err != nil {
		t.Fatalf("UserCount: %v", err)
	}
	if n != 2 {
		t.Errorf("UserCount: got %d, want 2", n)
	}
}

func TestExportRuns_RecordAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &store.ExportRun{
		ID:           "run-1",
		UserID:       "@alice:example.com",
		File:         "/tmp/export.jsonl",
		RecordCount:  3,
		MessageCount: 20,
		TotalTokens:  500,
	}
	if err := s.RecordExportRun(ctx, run); err != nil {
		t.Fatalf("RecordExportRun: %v", err)
	}

	runs, err := s.ListExportRuns(ctx, "@alice:example.com", 10)
	if err != nil {
		t.Fatalf("ListExportRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].ID != "run-1" || runs[0].RecordCount != 3 {
		t.Errorf("unexpected run: %+v", runs[0])
	}
}
