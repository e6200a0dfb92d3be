package reply

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Rand is the subset of *math/rand/v2.Rand used for selection.
type Rand interface {
	IntN(n int) int
}

var defaultFallbacks = map[Language][]string{
	Hinglish: {
		"Arre, abhi thoda busy hoon, thodi der mein baat karte hain!",
		"Haan bhai, ek minute do, network thoda slow chal raha hai.",
		"Sorry yaar, abhi reply nahi kar pa raha, baad mein pakka baat karta hoon.",
		"Ek sec, abhi kuch kaam mein phasa hoon. Thodi der mein reply karta hoon!",
	},
	English: {
		"Hey! Caught up with something right now, will get back to you soon.",
		"Sorry, having a bit of trouble replying right now. Talk in a bit!",
		"Give me a moment, I'll get back to you shortly.",
		"Just stepped away for a minute, will reply properly soon!",
	},
}

// FallbackSet is an immutable, language-tagged list of canned replies.
type FallbackSet struct {
	byLang map[Language][]string

	mu  sync.Mutex
	rng Rand
}

// NewFallbackSet builds a set from byLang; languages missing from byLang use
// the built-in replies. rng must not be nil.
func NewFallbackSet(byLang map[Language][]string, rng Rand) *FallbackSet {
	merged := make(map[Language][]string, len(defaultFallbacks))
	for lang, msgs := range defaultFallbacks {
		merged[lang] = append([]string(nil), msgs...)
	}
	for lang, msgs := range byLang {
		if len(msgs) > 0 {
			merged[lang] = append([]string(nil), msgs...)
		}
	}
	return &FallbackSet{byLang: merged, rng: rng}
}

// DefaultFallbackSet returns the built-in replies.
func DefaultFallbackSet(rng Rand) *FallbackSet {
	return NewFallbackSet(nil, rng)
}

// fallbackFile is the on-disk override format:
//
//	hinglish:
//	  - "..."
//	english:
//	  - "..."
type fallbackFile map[string][]string

// LoadFallbackSet reads a YAML override file. An empty path yields the defaults.
func LoadFallbackSet(path string, rng Rand) (*FallbackSet, error) {
	if path == "" {
		return DefaultFallbackSet(rng), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fallbacks: %w", err)
	}
	var raw fallbackFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse fallbacks: %w", err)
	}
	byLang := make(map[Language][]string, len(raw))
	for key, msgs := range raw {
		lang := Language(key)
		if lang != Hinglish && lang != English {
			return nil, fmt.Errorf("parse fallbacks: unknown language %q", key)
		}
		for _, m := range msgs {
			if n := len([]rune(m)); n < MinReplyLength || n > DefaultMaxChars {
				return nil, fmt.Errorf("parse fallbacks: %s reply length %d out of range", key, n)
			}
		}
		byLang[lang] = msgs
	}
	return NewFallbackSet(byLang, rng), nil
}

// Pick returns a reply for lang chosen uniformly at random. Unknown languages
// use the hinglish list.
func (f *FallbackSet) Pick(lang Language) string {
	msgs, ok := f.byLang[lang]
	if !ok || len(msgs) == 0 {
		msgs = f.byLang[Hinglish]
	}
	f.mu.Lock()
	i := f.rng.IntN(len(msgs))
	f.mu.Unlock()
	return msgs[i]
}

// Messages returns a copy of the replies for lang.
func (f *FallbackSet) Messages(lang Language) []string {
	return append([]string(nil), f.byLang[lang]...)
}
