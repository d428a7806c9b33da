package app

import "testing"

func TestMarkdownToHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bold", "**Collection stats**", "<strong>Collection stats</strong>"},
		{"inline code", "saved to `out.jsonl`", "saved to <code>out.jsonl</code>"},
		{"newlines", "line one\nline two", "line one<br/>line two"},
		{"escapes html", "tokens < 10 & more", "tokens &lt; 10 &amp; more"},
		{"unmatched bold left alone", "a ** b", "a ** b"},
		{"plain text untouched", "just words", "just words"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := markdownToHTML(tt.in); got != tt.want {
				t.Errorf("markdownToHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
