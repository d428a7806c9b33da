package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mimicry-ai/mimik/internal/mimik/collect"
	"github.com/mimicry-ai/mimik/internal/mimik/export"
	"github.com/mimicry-ai/mimik/internal/mimik/profile"
	"github.com/mimicry-ai/mimik/internal/mimik/quality"
	"github.com/mimicry-ai/mimik/internal/mimik/store"
)

// FileSender pushes an exported artifact into the chat room. Optional: when
// nil, /export replies with the file path instead.
type FileSender interface {
	SendFile(ctx context.Context, roomID, path string) error
}

// Handlers holds all command handlers and dependencies
type Handlers struct {
	ledger   *store.Store
	auditor  *quality.Auditor
	exporter *export.Exporter
	prof     *profile.Profile
	files    FileSender
}

// NewHandlers creates a new Handlers instance. files may be nil.
func NewHandlers(ledger *store.Store, auditor *quality.Auditor, exporter *export.Exporter, prof *profile.Profile, files FileSender) *Handlers {
	return &Handlers{
		ledger:   ledger,
		auditor:  auditor,
		exporter: exporter,
		prof:     prof,
		files:    files,
	}
}

// RegisterAll wires every handler into the router.
func (h *Handlers) RegisterAll(r *Router) {
	r.Register("start", h.HandleStart)
	r.Register("help", h.HandleHelp)
	r.Register("stats", h.HandleStats)
	r.Register("stop", h.HandleStop)
	r.Register("reminders", h.HandleReminders)
	r.Register("quality", h.HandleQuality)
	r.Register("export", h.HandleExport)
	r.Register("exports", h.HandleExports)
}

// HandleStart greets a new user or recaps a finished collection.
func (h *Handlers) HandleStart(ctx context.Context, cmd *Command, userID, roomID string) (string, error) {
	agg, err := h.ledger.GetAggregate(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("load stats: %w", err)
	}

	if agg != nil && !agg.CollectionActive {
		return fmt.Sprintf(
			"Welcome back! Your collection is already complete — %d tokens over %d messages. Use /export to download your dataset or /quality to review it.",
			agg.TotalTokens, agg.MessageCount), nil
	}

	return fmt.Sprintf(
		"Hi! I'm Mimik. Chat with me about anything — I'll learn how you write along the way.\n\n"+
			"We're done once we reach **%d tokens** of conversation. Check /stats any time, or /help for everything I can do.",
		h.prof.MinTokenTarget), nil
}

// HandleHelp shows available commands
func (h *Handlers) HandleHelp(ctx context.Context, cmd *Command, userID, roomID string) (string, error) {
	help := `**Mimik — conversational data collector**

• /start - Introduction and collection status
• /help - Show this help message
• /stats - Collection progress
• /stop - Stop collecting (keeps what we have)
• /reminders on|off - Toggle inactivity nudges
• /quality - Dataset quality report
• /export - Export the collected dataset
• /exports - List previous export runs

Anything that isn't a command is just conversation — that's the data we're collecting.`
	return help, nil
}

// HandleStats reports collection progress with a textual progress bar.
func (h *Handlers) HandleStats(ctx context.Context, cmd *Command, userID, roomID string) (string, error) {
	agg, err := h.ledger.GetAggregate(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "No stats yet — say something first!", nil
		}
		return "", fmt.Errorf("load stats: %w", err)
	}

	target := h.prof.MinTokenTarget
	percent := 0.0
	if target > 0 {
		percent = 100 * float64(agg.TotalTokens) / float64(target)
		if percent > 100 {
			percent = 100
		}
	}

	status := "collecting"
	if !agg.CollectionActive {
		status = "complete"
	}

	return fmt.Sprintf(
		"**Collection stats**\n%s %.1f%%\n• Tokens: %d / %d\n• Messages: %d\n• Status: %s",
		progressBar(percent, 20), percent,
		agg.TotalTokens, target, agg.MessageCount, status), nil
}

// HandleStop ends collection for the user. Idempotent.
func (h *Handlers) HandleStop(ctx context.Context, cmd *Command, userID, roomID string) (string, error) {
	if err := h.ledger.StopCollection(ctx, userID); err != nil {
		return "", fmt.Errorf("stop collection: %w", err)
	}
	return "Collection stopped. Everything gathered so far is kept — use /export when you're ready, or /quality to see how the dataset looks.", nil
}

// HandleReminders toggles the inactivity nudges.
func (h *Handlers) HandleReminders(ctx context.Context, cmd *Command, userID, roomID string) (string, error) {
	if len(cmd.Args) != 1 {
		return "Usage: /reminders on|off", nil
	}

	var enabled bool
	switch strings.ToLower(cmd.Args[0]) {
	case "on":
		enabled = true
	case "off":
		enabled = false
	default:
		return "Usage: /reminders on|off", nil
	}

	if err := h.ledger.ToggleReminders(ctx, userID, enabled); err != nil {
		return "", fmt.Errorf("toggle reminders: %w", err)
	}
	if enabled {
		return "Reminders are on — I'll nudge you if you go quiet.", nil
	}
	return "Reminders are off.", nil
}

// HandleQuality renders the quality audit report.
func (h *Handlers) HandleQuality(ctx context.Context, cmd *Command, userID, roomID string) (string, error) {
	report, err := h.auditor.Audit(ctx, userID)
	if err != nil {
		switch {
		case errors.Is(err, quality.ErrNotFound):
			return "No data yet — say something first!", nil
		case errors.Is(err, quality.ErrNoAcceptedData):
			return "Nothing countable collected yet. Longer, conversational messages count; commands and links don't.", nil
		}
		return "", fmt.Errorf("audit: %w", err)
	}

	verdict := "❌ not ready"
	if report.Valid {
		verdict = "✅ ready for training"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Dataset quality**\n")
	fmt.Fprintf(&b, "• Messages: %d (%d yours, %d mine)\n",
		report.TotalMessages, report.UserMessages, report.AssistantMessages)
	fmt.Fprintf(&b, "• Tokens: %d (%.1f avg/message)\n", report.TotalTokens, report.AvgTokensPerMessage)
	fmt.Fprintf(&b, "• Progress: %.1f%%\n", report.ProgressPercent)
	fmt.Fprintf(&b, "• Sentiment: ")
	labels := []collect.Sentiment{collect.SentimentPositive, collect.SentimentNeutral, collect.SentimentNegative}
	for i, label := range labels {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %d", label, report.SentimentCounts[label])
	}
	fmt.Fprintf(&b, "\n• Verdict: %s", verdict)
	return b.String(), nil
}

// HandleExport runs a dataset export and delivers the artifact.
func (h *Handlers) HandleExport(ctx context.Context, cmd *Command, userID, roomID string) (string, error) {
	result, err := h.exporter.Export(ctx, userID)
	if err != nil {
		switch {
		case errors.Is(err, export.ErrNotFound):
			return "No data yet — say something first!", nil
		case errors.Is(err, export.ErrNoData):
			return "Nothing countable collected yet, so there's nothing to export.", nil
		case errors.Is(err, export.ErrInsufficientVolume):
			agg, aggErr := h.ledger.GetAggregate(ctx, userID)
			if aggErr == nil {
				return fmt.Sprintf("Not enough data yet: %d of %d tokens. Keep chatting!",
					agg.TotalTokens, h.prof.MinTokenTarget), nil
			}
			return "Not enough data yet. Keep chatting!", nil
		}
		return "", fmt.Errorf("export: %w", err)
	}

	summary := fmt.Sprintf("Export complete: %d training records from %d messages (%d tokens).",
		result.Records, result.Messages, result.TotalTokens)

	if h.files != nil {
		if err := h.files.SendFile(ctx, roomID, result.File); err != nil {
			return summary + fmt.Sprintf("\nCouldn't upload the file; it's saved at `%s`.", result.File), nil
		}
		return summary, nil
	}
	return summary + fmt.Sprintf("\nSaved to `%s`.", result.File), nil
}

// HandleExports lists previous export runs.
func (h *Handlers) HandleExports(ctx context.Context, cmd *Command, userID, roomID string) (string, error) {
	runs, err := h.ledger.ListExportRuns(ctx, userID, 10)
	if err != nil {
		return "", fmt.Errorf("list exports: %w", err)
	}
	if len(runs) == 0 {
		return "No exports yet. Use /export once collection is complete.", nil
	}

	var b strings.Builder
	b.WriteString("**Export history**\n")
	for _, run := range runs {
		fmt.Fprintf(&b, "• %s — %d records, %d tokens (`%s`)\n",
			run.CreatedAt.Format("2006-01-02 15:04"), run.RecordCount, run.TotalTokens, run.File)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// progressBar renders percent as a fixed-width bar of filled and empty cells.
func progressBar(percent float64, width int) string {
	filled := int(percent / 100 * float64(width))
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
