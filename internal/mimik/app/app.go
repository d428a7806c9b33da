// Package app provides the main Mimik application
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"maunium.net/go/mautrix/event"

	"github.com/mimicry-ai/mimik/internal/mimik/collect"
	"github.com/mimicry-ai/mimik/internal/mimik/commands"
	"github.com/mimicry-ai/mimik/internal/mimik/export"
	"github.com/mimicry-ai/mimik/internal/mimik/matrix"
	"github.com/mimicry-ai/mimik/internal/mimik/profile"
	"github.com/mimicry-ai/mimik/internal/mimik/quality"
	"github.com/mimicry-ai/mimik/internal/mimik/reminder"
	"github.com/mimicry-ai/mimik/internal/mimik/responder"
	"github.com/mimicry-ai/mimik/internal/mimik/session"
	"github.com/mimicry-ai/mimik/internal/mimik/store"
)

const typingTimeout = 30 * time.Second

// Config holds application configuration
type Config struct {
	DatabasePath string
	ExportDir    string
	Matrix       matrix.Config
	// Profile overrides the built-in collection profile when non-nil.
	Profile *profile.Profile
	// Responder is an optional pre-constructed reply provider. When nil the
	// app constructs an OpenAI-compatible one from the fields below; when no
	// API key is configured either, every reply is the fixed fallback text
	// and collection still works.
	Responder responder.Provider
	// OpenAIAPIKey, OpenAIModel and OpenAIBaseURL configure the default
	// responder when Responder is nil.
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	// HTTPAddr is the TCP address for the optional health/status HTTP server
	// (e.g. ":8080"). When empty the server is disabled.
	HTTPAddr string
}

// App wires the collection pipeline to the Matrix transport.
type App struct {
	config       *Config
	prof         *profile.Profile
	store        *store.Store
	gate         *collect.Gate
	sessions     *session.Tracker
	provider     responder.Provider
	router       *commands.Router
	handlers     *commands.Handlers
	scheduler    *reminder.Scheduler
	matrix       *matrix.Client
	healthServer *HealthServer
}

// New creates the application and all its subsystems.
func New(config *Config) (*App, error) {
	prof := config.Profile
	if prof == nil {
		prof = profile.Default()
	}
	if err := profile.Validate(prof); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}

	st, err := store.New(config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// Token counting prefers the real model encoding; tiktoken needs its BPE
	// data which may be unavailable offline, so fall back to the estimate.
	var counter collect.TokenCounter
	tiktoken, err := collect.NewTiktokenCounter(prof.TokenizerModel)
	if err != nil {
		slog.Warn("tokenizer unavailable, using character estimate",
			"model", prof.TokenizerModel, "err", err)
		counter = collect.EstimateCounter{}
	} else {
		counter = tiktoken
	}

	filter := collect.NewFilter(prof.CommandPrefixes, prof.MinMessageTokens, prof.NoiseMarkers)
	lexicon := collect.NewLexicon(prof.PositiveMarkers, prof.NegativeMarkers)
	gate := collect.NewGate(st, counter, filter, lexicon, prof.MinTokenTarget)

	exporter, err := export.New(st, export.Config{
		Dir:        config.ExportDir,
		Header:     prof.ExportHeader,
		MinTokens:  prof.MinTokenTarget,
		WindowSize: prof.WindowSize,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	auditor := quality.New(st, prof.MinTokenTarget)

	provider := config.Responder
	if provider == nil && config.OpenAIAPIKey != "" {
		provider = responder.New(responder.Config{
			APIKey:  config.OpenAIAPIKey,
			Model:   config.OpenAIModel,
			BaseURL: config.OpenAIBaseURL,
		})
	}
	if provider == nil {
		slog.Warn("no responder configured; replies will use the fixed fallback text")
	}

	sessions := session.NewTracker(session.Config{
		Preamble: prof.SystemPrompt,
		MaxTurns: prof.WindowSize,
	})

	matrixCfg := config.Matrix
	matrixCfg.DB = st.DB()
	mc, err := matrix.New(&matrixCfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}

	router := commands.NewRouter("/")
	handlers := commands.NewHandlers(st, auditor, exporter, prof, mc)
	handlers.RegisterAll(router)

	scheduler := reminder.New(reminder.Config{
		Interval:            prof.ReminderInterval.Std(),
		InactivityThreshold: prof.InactivityThreshold.Std(),
		Messages:            prof.ReminderMessages,
	}, st, mc, nil)

	a := &App{
		config:    config,
		prof:      prof,
		store:     st,
		gate:      gate,
		sessions:  sessions,
		provider:  provider,
		router:    router,
		handlers:  handlers,
		scheduler: scheduler,
		matrix:    mc,
	}

	if config.HTTPAddr != "" {
		a.healthServer = NewHealthServer(config.HTTPAddr, st)
	}

	return a, nil
}

// Run starts all subsystems and blocks until an interrupt signal arrives.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.healthServer != nil {
		if err := a.healthServer.Start(ctx); err != nil {
			slog.Warn("health server failed to start; continuing without it", "err", err)
		}
	}

	slog.Info("starting Matrix sync")
	if err := a.matrix.Start(ctx, a.handleMessage); err != nil {
		return fmt.Errorf("failed to start Matrix client: %w", err)
	}

	go a.scheduler.Run(ctx)

	slog.Info("Mimik is running; press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	return nil
}

// Stop stops the application
func (a *App) Stop() {
	slog.Info("stopping Matrix client")
	a.matrix.Stop()

	if a.healthServer != nil {
		slog.Info("stopping health server")
		a.healthServer.Stop()
	}

	slog.Info("closing database")
	a.store.Close()
}

// handleMessage processes one incoming Matrix text message: route commands,
// feed everything else through the collection pipeline.
func (a *App) handleMessage(ctx context.Context, evt *event.Event) {
	msgContent := evt.Content.AsMessage()
	if msgContent == nil {
		return
	}

	text := msgContent.Body
	userID := evt.Sender.String()
	roomID := evt.RoomID.String()

	response, err := a.router.Route(ctx, text, userID, roomID)
	if err != nil {
		if errors.Is(err, commands.ErrNotACommand) {
			a.handleChat(ctx, userID, roomID, text)
			return
		}
		a.sendMarkdown(ctx, roomID, fmt.Sprintf("❌ Error: %s", err))
		return
	}

	if response != "" {
		a.sendMarkdown(ctx, roomID, response)
	}
}

// handleChat runs the collection flow for a conversational message. Failures
// never escape: every path ends in either a reply or a logged error, and the
// user's message is persisted before the responder is consulted.
func (a *App) handleChat(ctx context.Context, userID, roomID, text string) {
	if err := a.matrix.SetTyping(ctx, roomID, true, typingTimeout); err != nil {
		slog.Debug("failed to set typing indicator", "room", roomID, "err", err)
	}
	defer func() {
		if err := a.matrix.SetTyping(ctx, roomID, false, 0); err != nil {
			slog.Debug("failed to clear typing indicator", "room", roomID, "err", err)
		}
	}()

	a.hydrateSession(ctx, userID)

	outcome, err := a.gate.Accept(ctx, userID, roomID, store.RoleUser, text)
	if err != nil {
		slog.Error("failed to accept message", "user", userID, "err", err)
		a.sendMarkdown(ctx, roomID, "Something went wrong saving that — please try again.")
		return
	}

	switch outcome {
	case store.OutcomeInactive:
		a.sendMarkdown(ctx, roomID,
			"Collection is complete — thanks for all the conversation! Use /export to download your dataset or /quality to review it.")
		return
	case store.OutcomeThresholdReached:
		a.sendMarkdown(ctx, roomID, fmt.Sprintf(
			"🎉 We did it! We've collected **%d tokens** of conversation. Use /export to download your dataset, or /quality to see how it looks.",
			a.prof.MinTokenTarget))
		return
	}

	a.sessions.Append(userID, store.RoleUser, text)

	reply := responder.FallbackReply
	if a.provider != nil {
		generated, err := a.provider.Respond(ctx, a.sessions.Context(userID))
		if err != nil {
			slog.Warn("responder failed, using fallback reply", "user", userID, "err", err)
		} else {
			reply = generated
		}
	}

	// The assistant side goes through the same gate so both halves of the
	// conversation land in the ledger.
	if _, err := a.gate.Accept(ctx, userID, roomID, store.RoleAssistant, reply); err != nil {
		slog.Error("failed to persist assistant reply", "user", userID, "err", err)
	}
	a.sessions.Append(userID, store.RoleAssistant, reply)

	a.sendMarkdown(ctx, roomID, reply)
}

// hydrateSession restores a user's short-term context from the ledger after
// a restart, so the responder keeps continuity across process lifetimes.
func (a *App) hydrateSession(ctx context.Context, userID string) {
	if a.sessions.Seeded(userID) {
		return
	}

	msgs, err := a.store.ListRecentAccepted(ctx, userID, a.prof.WindowSize)
	if err != nil {
		slog.Warn("failed to hydrate session from ledger", "user", userID, "err", err)
		return
	}

	turns := make([]responder.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, responder.Turn{Role: m.Role, Content: m.Content})
	}
	a.sessions.Seed(userID, turns)
}

// sendMarkdown renders the handler output as HTML with a plaintext fallback.
func (a *App) sendMarkdown(ctx context.Context, roomID, text string) {
	if err := a.matrix.SendFormattedText(ctx, roomID, markdownToHTML(text), text); err != nil {
		slog.Error("failed to send response", "room", roomID, "err", err)
	}
}

// markdownToHTML converts the small subset of Markdown produced by command
// handlers into HTML suitable for a Matrix m.text event with
// format=org.matrix.custom.html.
//
// Supported constructs:
//   - Inline code  `…`  → <code>…</code>
//   - Bold  **…**       → <strong>…</strong>
//   - Newlines          → <br/>
func markdownToHTML(md string) string {
	escaped := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(md)
	result := replaceDelimited(escaped, "`", "<code>", "</code>")
	result = replaceDelimited(result, "**", "<strong>", "</strong>")
	return strings.ReplaceAll(result, "\n", "<br/>")
}

// replaceDelimited replaces occurrences of delim…delim with open+content+close.
// Only complete pairs are replaced; an unmatched opener is left as-is.
func replaceDelimited(s, delim, open, close string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, delim)
		if start == -1 {
			b.WriteString(s)
			break
		}
		end := strings.Index(s[start+len(delim):], delim)
		if end == -1 {
			b.WriteString(s)
			break
		}
		end += start + len(delim) // absolute index of closing delim
		b.WriteString(s[:start])
		b.WriteString(open)
		b.WriteString(s[start+len(delim) : end])
		b.WriteString(close)
		s = s[end+len(delim):]
	}
	return b.String()
}
