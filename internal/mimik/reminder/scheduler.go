// Package reminder nudges quiet users back into the conversation.
//
// The scheduler wakes on a fixed interval, asks the ledger which users still
// have reminders enabled and collection running, and pings those who have
// been silent past the inactivity threshold. Delivery failures are retried
// with backoff and then dropped; the next tick will try again.
//
// Clock injection: the Scheduler accepts an optional clock interface so that
// tests can advance time precisely without relying on wall-clock sleeps.
package reminder

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/mimicry-ai/mimik/common/retry"
	"github.com/mimicry-ai/mimik/internal/mimik/store"
)

// clock is an interface over time.Now and time.After, allowing tests to
// substitute a controlled fake clock that advances on demand.
type clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Sender delivers one reminder text to a room.
type Sender interface {
	SendText(ctx context.Context, roomID, text string) error
}

// Ledger is the store surface the scheduler needs.
type Ledger interface {
	UsersDueForReminders(ctx context.Context) ([]string, error)
	GetAggregate(ctx context.Context, userID string) (*store.UserAggregate, error)
	UpdateLastReminder(ctx context.Context, userID string) error
}

// Config configures the Scheduler.
type Config struct {
	// Interval is the wake-up period between reminder sweeps.
	Interval time.Duration
	// InactivityThreshold is the minimum silence before a user is pinged.
	InactivityThreshold time.Duration
	// Messages is the pool of reminder texts; one is picked at random per
	// ping. Must be non-empty.
	Messages []string
}

// Scheduler runs the periodic reminder sweep.
type Scheduler struct {
	cfg    Config
	ledger Ledger
	sender Sender
	clk    clock
}

// New creates a Scheduler. Pass nil clk to use the wall clock.
func New(cfg Config, ledger Ledger, sender Sender, clk clock) *Scheduler {
	if clk == nil {
		clk = realClock{}
	}
	return &Scheduler{cfg: cfg, ledger: ledger, sender: sender, clk: clk}
}

// Run sweeps on every interval until ctx is cancelled. Blocking; run in its
// own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("reminder: scheduler started",
		"interval", s.cfg.Interval,
		"inactivity_threshold", s.cfg.InactivityThreshold)

	for {
		select {
		case <-ctx.Done():
			slog.Info("reminder: scheduler stopped")
			return
		case <-s.clk.After(s.cfg.Interval):
			s.Sweep(ctx)
		}
	}
}

// Sweep pings every due user once. Exported so tests and admin tooling can
// trigger a sweep directly.
func (s *Scheduler) Sweep(ctx context.Context) {
	users, err := s.ledger.UsersDueForReminders(ctx)
	if err != nil {
		slog.Error("reminder: failed to list due users", "err", err)
		return
	}

	now := s.clk.Now()
	for _, userID := range users {
		if err := s.remind(ctx, userID, now); err != nil {
			slog.Warn("reminder: ping failed", "user", userID, "err", err)
		}
	}
}

func (s *Scheduler) remind(ctx context.Context, userID string, now time.Time) error {
	agg, err := s.ledger.GetAggregate(ctx, userID)
	if err != nil {
		return err
	}
	if agg.RoomID == "" {
		// User toggled reminders on before ever sending a message; there is
		// nowhere to deliver to yet.
		return nil
	}
	if now.Sub(agg.LastActivityAt) < s.cfg.InactivityThreshold {
		return nil
	}

	text := s.cfg.Messages[rand.IntN(len(s.cfg.Messages))]

	err = retry.Do(ctx, retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
	}, func() error {
		return s.sender.SendText(ctx, agg.RoomID, text)
	})
	if err != nil {
		return err
	}

	if err := s.ledger.UpdateLastReminder(ctx, userID); err != nil {
		return err
	}
	slog.Info("reminder: pinged user", "user", userID, "room", agg.RoomID)
	return nil
}
