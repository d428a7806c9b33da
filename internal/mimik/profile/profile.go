// Package profile defines the collection profile: the tunable rules that
// govern what Mimik collects, how it filters noise, and how the collected
// corpus is labelled and exported. A profile is loaded once at startup from
// an optional YAML file; every field has a built-in default so the bot runs
// without any file present.
package profile

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so profile files can spell intervals in the
// usual Go notation ("1h", "30m"). Bare integers are read as nanoseconds.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		var n int64
		if err2 := node.Decode(&n); err2 == nil {
			*d = Duration(n)
			return nil
		}
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Profile holds every collection-time knob. Changing TokenizerModel on an
// existing database invalidates comparability of historical token counts, so
// treat it as part of the persisted schema.
type Profile struct {
	// MinTokenTarget is the accepted-token total at which collection for a
	// user completes.
	MinTokenTarget int `yaml:"min_token_target"`

	// MinMessageTokens is the minimum token count for a message to be
	// accepted; shorter messages are stored but filtered.
	MinMessageTokens int `yaml:"min_message_tokens"`

	// WindowSize is the maximum number of messages per exported training
	// conversation.
	WindowSize int `yaml:"window_size"`

	// TokenizerModel selects the tiktoken encoding used for all counting.
	TokenizerModel string `yaml:"tokenizer_model"`

	// CommandPrefixes lists prefixes that mark a message as a bot command
	// rather than conversational content.
	CommandPrefixes []string `yaml:"command_prefixes"`

	// NoiseMarkers are substrings that mark non-conversational content
	// (links, raw URLs).
	NoiseMarkers []string `yaml:"noise_markers"`

	// PositiveMarkers and NegativeMarkers are the sentiment lexicons.
	// Matching is case-insensitive substring containment.
	PositiveMarkers []string `yaml:"positive_markers"`
	NegativeMarkers []string `yaml:"negative_markers"`

	// ReminderInterval is the cadence of the reminder tick.
	ReminderInterval Duration `yaml:"reminder_interval"`

	// InactivityThreshold suppresses a reminder for users who wrote more
	// recently than this.
	InactivityThreshold Duration `yaml:"inactivity_threshold"`

	// ReminderMessages is the pool of nudge texts; one is picked at random
	// per delivery.
	ReminderMessages []string `yaml:"reminder_messages"`

	// SystemPrompt is the conversation preamble sent to the responder on
	// every turn. It is never persisted or exported.
	SystemPrompt string `yaml:"system_prompt"`

	// ExportHeader is the instructional system message prepended to every
	// exported training record.
	ExportHeader string `yaml:"export_header"`
}

// Default returns the built-in profile.
func Default() *Profile {
	return &Profile{
		MinTokenTarget:   200_000,
		MinMessageTokens: 10,
		WindowSize:       10,
		TokenizerModel:   "gpt-4o-mini",
		CommandPrefixes: []string{
			"/start", "/help", "/stats", "/stop", "/reminders", "/quality", "/export",
		},
		NoiseMarkers: []string{"http://", "https://", "www."},
		PositiveMarkers: []string{
			"great", "awesome", "wonderful", "love", "happy", "glad",
			"excited", "thank", "😊", "😄", "❤️", "👍",
		},
		NegativeMarkers: []string{
			"bad", "terrible", "sad", "hate", "awful", "hurts",
			"miss you", "angry", "😢", "😞", "😠", "💔",
		},
		ReminderInterval:    Duration(time.Hour),
		InactivityThreshold: Duration(30 * time.Minute),
		ReminderMessages: []string{
			"👋 Hey! How is it going? Share something interesting from your day!",
			"💭 What is on your mind right now? Tell me about it!",
			"✨ Time to share your thoughts! What interesting happened today?",
			"🎯 How is your day going? Write me about your impressions!",
			"💬 Hi! Maybe tell me something new?",
			"🌟 Time for our chat! What would you like to talk about?",
			"📝 Share your thoughts or feelings!",
			"🎨 Tell me about something that inspired you today!",
		},
		SystemPrompt: strings.TrimSpace(`
You are a friendly, empathetic conversational assistant. Your goal is to keep
the user engaged in an open, natural dialogue and encourage them to write
longer, more detailed messages. Match the user's tone and register. Never
reply with a single word or a dry fact. Always end your reply with an open
question that invites the user to elaborate. Do not look up information or
recite facts; focus entirely on the dialogue itself.`),
		ExportHeader: strings.TrimSpace(`
You are a language model that reproduces this user's communication style.
Use their vocabulary, tone, emotional register and way of phrasing thoughts.
Reply naturally, as if the user themselves had written it, preserving the
substance and character of their speech.`),
	}
}

// Load reads a YAML profile from path and overlays it on the defaults.
// An empty path returns the defaults unchanged.
func Load(path string) (*Profile, error) {
	p := Default()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("profile: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("profile: parse %s: %w", path, err)
	}
	if err := Validate(p); err != nil {
		return nil, fmt.Errorf("profile: %s: %w", path, err)
	}
	return p, nil
}

// Validate checks a profile for structural correctness.
func Validate(p *Profile) error {
	if p == nil {
		return fmt.Errorf("profile must not be nil")
	}
	if p.MinTokenTarget <= 0 {
		return fmt.Errorf("min_token_target must be positive, got %d", p.MinTokenTarget)
	}
	if p.MinMessageTokens < 0 {
		return fmt.Errorf("min_message_tokens must not be negative, got %d", p.MinMessageTokens)
	}
	if p.WindowSize < 2 {
		return fmt.Errorf("window_size must be at least 2, got %d", p.WindowSize)
	}
	if strings.TrimSpace(p.TokenizerModel) == "" {
		return fmt.Errorf("tokenizer_model must not be empty")
	}
	if p.ReminderInterval.Std() <= 0 {
		return fmt.Errorf("reminder_interval must be positive, got %s", p.ReminderInterval.Std())
	}
	if p.InactivityThreshold.Std() < 0 {
		return fmt.Errorf("inactivity_threshold must not be negative, got %s", p.InactivityThreshold.Std())
	}
	if len(p.ReminderMessages) == 0 {
		return fmt.Errorf("reminder_messages must not be empty")
	}
	if strings.TrimSpace(p.ExportHeader) == "" {
		return fmt.Errorf("export_header must not be empty")
	}
	for i, prefix := range p.CommandPrefixes {
		if strings.TrimSpace(prefix) == "" {
			return fmt.Errorf("command_prefixes[%d] must not be empty", i)
		}
	}
	return nil
}
