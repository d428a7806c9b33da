package export

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mimicry-ai/mimik/internal/mimik/store"
)

//go:embed schema/training_record.schema.json
var schemaFS embed.FS

// Sentinel errors for the export preconditions. Callers use errors.Is.
var (
	// ErrNotFound means no aggregate exists for the user.
	ErrNotFound = errors.New("export: user not found")
	// ErrInsufficientVolume means the user's accepted-token total is still
	// below the configured minimum.
	ErrInsufficientVolume = errors.New("export: not enough tokens collected")
	// ErrNoData means the user has an aggregate but no accepted messages.
	ErrNoData = errors.New("export: no accepted messages")
)

// Result summarizes one successful export run.
type Result struct {
	// File is the path of the written JSONL file.
	File string
	// Records is the number of training records (= windows) written.
	Records int
	// Messages is the total number of non-header messages across records.
	Messages int
	// TotalTokens is the user's accepted-token total at export time.
	TotalTokens int
	// AcceptedCount is the user's accepted message count from the aggregate.
	AcceptedCount int
}

// Config holds exporter settings.
type Config struct {
	// Dir is the directory export files are written to.
	Dir string
	// Header is the instructional system message prepended to every record.
	Header string
	// MinTokens is the accepted-token total required before export is
	// allowed.
	MinTokens int
	// WindowSize bounds each training example. Defaults to
	// DefaultWindowSize when zero.
	WindowSize int
}

// Exporter serializes a user's accepted history as JSONL training records.
// Every record is validated against the embedded JSON Schema before a single
// byte hits the filesystem, so a malformed record aborts the run with no
// partial file left behind.
type Exporter struct {
	ledger *store.Store
	cfg    Config
	schema *jsonschema.Schema
}

// New creates an Exporter. It compiles the embedded training-record schema
// once; compilation failure means the binary is broken, so it is returned as
// an error rather than deferred to the first export.
func New(ledger *store.Store, cfg Config) (*Exporter, error) {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}

	raw, err := schemaFS.ReadFile("schema/training_record.schema.json")
	if err != nil {
		return nil, fmt.Errorf("export: read embedded schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("training_record.schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("export: add schema resource: %w", err)
	}
	schema, err := compiler.Compile("training_record.schema.json")
	if err != nil {
		return nil, fmt.Errorf("export: compile schema: %w", err)
	}

	return &Exporter{ledger: ledger, cfg: cfg, schema: schema}, nil
}

// turn is one message inside a serialized training record.
type turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// record is one JSONL line: a fixed system header followed by a window's
// messages verbatim, order preserved.
type record struct {
	Messages []turn `json:"messages"`
}

// Export checks the preconditions in order (missing user, insufficient
// volume, no data), segments the user's accepted history, and writes one
// validated training record per line to a uniquely named file under
// Config.Dir. No file is created on any precondition failure.
func (e *Exporter) Export(ctx context.Context, userID string) (*Result, error) {
	agg, err := e.ledger.GetAggregate(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
		}
		return nil, fmt.Errorf("export: load aggregate: %w", err)
	}

	if agg.TotalTokens < e.cfg.MinTokens {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientVolume, agg.TotalTokens, e.cfg.MinTokens)
	}

	msgs, err := e.ledger.ListAcceptedMessages(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("export: load messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("%w: user %s", ErrNoData, userID)
	}

	windows := Segment(msgs, e.cfg.WindowSize)

	// Serialize and validate everything up front; the file is written only
	// once every record has passed.
	var buf bytes.Buffer
	totalMessages := 0
	for i, win := range windows {
		rec := record{Messages: make([]turn, 0, len(win)+1)}
		rec.Messages = append(rec.Messages, turn{Role: "system", Content: e.cfg.Header})
		for _, m := range win {
			rec.Messages = append(rec.Messages, turn{Role: m.Role, Content: m.Content})
		}

		line, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("export: marshal record %d: %w", i, err)
		}
		if err := e.validate(line); err != nil {
			return nil, fmt.Errorf("export: record %d failed schema validation: %w", i, err)
		}

		buf.Write(line)
		buf.WriteByte('\n')
		totalMessages += len(win)
	}

	if err := os.MkdirAll(e.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("export: create output dir: %w", err)
	}

	runID := uuid.New().String()
	name := fmt.Sprintf("finetune_%s_%s_%s.jsonl",
		sanitizeUserID(userID),
		time.Now().UTC().Format("20060102_150405"),
		runID[:8],
	)
	path := filepath.Join(e.cfg.Dir, name)

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("export: write %s: %w", path, err)
	}

	run := &store.ExportRun{
		ID:           runID,
		UserID:       userID,
		File:         path,
		RecordCount:  len(windows),
		MessageCount: totalMessages,
		TotalTokens:  agg.TotalTokens,
	}
	if err := e.ledger.RecordExportRun(ctx, run); err != nil {
		// The file is already on disk and valid; a lost history row should
		// not fail the run.
		slog.Warn("export: failed to record run", "user", userID, "file", path, "err", err)
	}

	return &Result{
		File:          path,
		Records:       len(windows),
		Messages:      totalMessages,
		TotalTokens:   agg.TotalTokens,
		AcceptedCount: agg.MessageCount,
	}, nil
}

// validate checks one serialized record against the training-record schema.
func (e *Exporter) validate(line []byte) error {
	var doc any
	if err := json.Unmarshal(line, &doc); err != nil {
		return err
	}
	return e.schema.Validate(doc)
}

// sanitizeUserID maps a user identifier (e.g. "@alice:example.com") to a
// filesystem-safe token.
func sanitizeUserID(userID string) string {
	var b strings.Builder
	for _, r := range userID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}
