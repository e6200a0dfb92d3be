package reply

import (
	"errors"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultMaxChars caps a reply's length in runes, ellipsis included.
	DefaultMaxChars = 300
	// MinReplyLength is the shortest acceptable reply in runes.
	MinReplyLength = 5

	ellipsis = "..."
)

// ErrTooShort is returned when nothing usable is left after cleanup.
var ErrTooShort = errors.New("reply too short after cleanup")

var disclaimerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bas an? (ai|artificial intelligence)( language model| assistant| model)?\s*,?\s*`),
	regexp.MustCompile(`(?i)\bi(?:'m| am) (just )?an? (ai|artificial intelligence)( language model| assistant| model)?\b[^.!?]*[.!?]?\s*`),
	regexp.MustCompile(`(?i)\bas a (large )?language model\s*,?\s*`),
	regexp.MustCompile(`(?i)\bi(?:'m| am) not able to (feel|have feelings|browse)[^.!?]*[.!?]?\s*`),
	regexp.MustCompile(`(?i)\bmain (ek )?ai (hoon|hu)\b[^.!?]*[.!?]?\s*`),
}

var whitespace = regexp.MustCompile(`\s+`)

// Sanitize cleans generated text for sending: AI disclaimers are removed,
// whitespace is collapsed and the result is truncated to maxChars runes with
// an ellipsis. Text shorter than MinReplyLength afterwards is rejected.
func Sanitize(text string, maxChars int) (string, error) {
	if maxChars <= len(ellipsis) {
		maxChars = DefaultMaxChars
	}
	text = whitespace.ReplaceAllString(norm.NFC.String(text), " ")
	for _, re := range disclaimerPatterns {
		text = re.ReplaceAllString(text, "")
	}
	text = strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
	text = strings.TrimLeft(text, ",;: ")

	text = Truncate(text, maxChars)
	if len([]rune(text)) < MinReplyLength {
		return "", ErrTooShort
	}
	return text, nil
}

// Truncate cuts text to at most maxChars runes, ending it with an ellipsis
// when anything was removed.
func Truncate(text string, maxChars int) string {
	if maxChars <= len(ellipsis) {
		maxChars = DefaultMaxChars
	}
	r := []rune(text)
	if len(r) <= maxChars {
		return text
	}
	return strings.TrimRight(string(r[:maxChars-len(ellipsis)]), " ") + ellipsis
}
