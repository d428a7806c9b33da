package collect

import "strings"

// Filter decides whether a message counts toward the collection target.
// Decisions are independent per message; the function is pure and total so
// the accounting it gates stays deterministic.
type Filter struct {
	commandPrefixes []string
	minTokens       int
	noiseMarkers    []string
}

// NewFilter builds a filter from the configured command prefixes, minimum
// accepted token count, and noise substrings.
func NewFilter(commandPrefixes []string, minTokens int, noiseMarkers []string) *Filter {
	return &Filter{
		commandPrefixes: commandPrefixes,
		minTokens:       minTokens,
		noiseMarkers:    noiseMarkers,
	}
}

// ShouldFilter reports whether the message is noise: a bot command, too
// short to carry style information, or non-conversational content such as a
// pasted link.
func (f *Filter) ShouldFilter(text string, tokens int) bool {
	for _, prefix := range f.commandPrefixes {
		if strings.HasPrefix(text, prefix) {
			return true
		}
	}

	if tokens < f.minTokens {
		return true
	}

	for _, marker := range f.noiseMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}

	return false
}
