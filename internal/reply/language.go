// Package reply holds the text helpers around a generated reply: language
// bucketing, canned fallbacks and post-processing.
package reply

import (
	"strings"
	"unicode"
)

// Language is a coarse bucket used to pick tone and fallbacks.
type Language string

const (
	Hinglish Language = "hinglish"
	English  Language = "english"
)

var hinglishWords = toSet(
	"hai", "hain", "ho", "hoon", "hu", "kya", "kyu", "kyun", "nahi", "nahin", "kaise", "kaisa",
	"kaha", "kahan", "main", "mai", "mein", "tum", "tu", "aap", "mujhe", "tujhe", "mera", "tera",
	"bhai", "yaar", "kar", "karo", "raha", "rahi", "ka", "ki", "ke", "ko", "se", "acha", "accha",
	"theek", "thik", "haan", "han", "na", "toh", "bhi", "kuch", "sab", "abhi", "kal", "aaj",
	"bata", "batao", "chal", "chalo", "matlab", "arre", "arey", "ji",
)

var englishWords = toSet(
	"the", "is", "are", "was", "what", "how", "why", "where", "when", "you", "i", "am", "this",
	"that", "please", "thanks", "thank", "hello", "hi", "hey", "can", "could", "do", "does",
	"will", "would", "have", "has", "my", "your", "it", "and", "of", "to", "for", "with",
	"good", "morning", "night", "doing", "okay",
)

// Detect buckets text as hinglish or english. Devanagari script wins outright;
// otherwise romanised Hindi and English function words are counted. Ties and
// text with no signal default to hinglish.
func Detect(text string) Language {
	for _, r := range text {
		if unicode.Is(unicode.Devanagari, r) {
			return Hinglish
		}
	}

	var hi, en int
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	}) {
		if _, ok := hinglishWords[w]; ok {
			hi++
		}
		if _, ok := englishWords[w]; ok {
			en++
		}
	}
	if en > hi {
		return English
	}
	return Hinglish
}

func toSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
