package collect

import "strings"

// Sentiment is the coarse emotional label attached to user messages.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Lexicon classifies text by counting occurrences of configured positive and
// negative markers. This is deliberately a coarse heuristic, not NLP:
// determinism is the contract, precision is not.
type Lexicon struct {
	positive []string
	negative []string
}

// NewLexicon builds a classifier from marker lists. Markers are matched
// case-insensitively as substrings, so emoji and multi-word phrases work.
func NewLexicon(positive, negative []string) *Lexicon {
	lower := func(in []string) []string {
		out := make([]string, len(in))
		for i, s := range in {
			out[i] = strings.ToLower(s)
		}
		return out
	}
	return &Lexicon{positive: lower(positive), negative: lower(negative)}
}

// Classify returns positive when more positive than negative markers occur
// in text, negative in the reverse case, and neutral otherwise.
func (l *Lexicon) Classify(text string) Sentiment {
	lowered := strings.ToLower(text)

	countMatches := func(markers []string) int {
		n := 0
		for _, m := range markers {
			if strings.Contains(lowered, m) {
				n++
			}
		}
		return n
	}

	positive := countMatches(l.positive)
	negative := countMatches(l.negative)

	switch {
	case positive > negative:
		return SentimentPositive
	case negative > positive:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}
