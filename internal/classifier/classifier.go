// Package classifier turns a customer's free-text reply into a decision.
package classifier

import (
	"context"
	"strings"
	"unicode"
)

type Classification string

const (
	Confirm Classification = "CONFIRM"
	Decline Classification = "DECLINE"
	Unclear Classification = "UNCLEAR"
)

// Classifier labels a reply. Implementations return Unclear with a nil error
// when the text carries no decision.
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

// Parse maps a label to a Classification, accepting surrounding noise.
func Parse(label string) (Classification, bool) {
	upper := strings.ToUpper(strings.TrimSpace(label))
	switch {
	case strings.Contains(upper, string(Confirm)):
		return Confirm, true
	case strings.Contains(upper, string(Decline)):
		return Decline, true
	case strings.Contains(upper, string(Unclear)):
		return Unclear, true
	}
	return "", false
}

var (
	confirmWords = []string{"yes", "yep", "yeah", "ok", "okay", "confirm", "confirmed", "sure", "oui", "si", "sí", "naam", "ah", "wakha", "d'accord", "👍", "✅"}
	declineWords = []string{"no", "nope", "cancel", "cancelled", "canceled", "stop", "non", "la", "annuler", "decline", "❌", "👎"}
	// multi-word phrases checked before single tokens
	declinePhrases = []string{"no thanks", "no thank you", "don't want", "do not want", "not interested", "changed my mind"}
)

// Keyword classifies replies by matching common words in a few languages.
type Keyword struct{}

func NewKeyword() *Keyword {
	return &Keyword{}
}

func (k *Keyword) Classify(_ context.Context, text string) (Classification, error) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return Unclear, nil
	}
	for _, p := range declinePhrases {
		if strings.Contains(lower, p) {
			return Decline, nil
		}
	}

	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '\'')
	})
	var confirm, decline bool
	for _, tok := range tokens {
		if contains(confirmWords, tok) {
			confirm = true
		}
		if contains(declineWords, tok) {
			decline = true
		}
	}
	// emoji may be glued to other text
	for _, w := range []string{"👍", "✅"} {
		if strings.Contains(lower, w) {
			confirm = true
		}
	}
	for _, w := range []string{"❌", "👎"} {
		if strings.Contains(lower, w) {
			decline = true
		}
	}

	switch {
	case confirm && !decline:
		return Confirm, nil
	case decline && !confirm:
		return Decline, nil
	default:
		return Unclear, nil
	}
}

func contains(words []string, w string) bool {
	for _, candidate := range words {
		if candidate == w {
			return true
		}
	}
	return false
}
