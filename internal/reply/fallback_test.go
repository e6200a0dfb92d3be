package reply

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRand int

func (f fixedRand) IntN(n int) int { return int(f) % n }

func TestPickMatchesLanguage(t *testing.T) {
	set := DefaultFallbackSet(rand.New(rand.NewPCG(1, 2)))

	for i := 0; i < 20; i++ {
		assert.Contains(t, set.Messages(English), set.Pick(English))
		assert.Contains(t, set.Messages(Hinglish), set.Pick(Hinglish))
	}
}

func TestPickIsDeterministicWithFixedSource(t *testing.T) {
	set := DefaultFallbackSet(fixedRand(1))
	assert.Equal(t, set.Messages(English)[1], set.Pick(English))
}

func TestPickUnknownLanguageUsesHinglish(t *testing.T) {
	set := DefaultFallbackSet(fixedRand(0))
	assert.Equal(t, set.Messages(Hinglish)[0], set.Pick(Language("tamil")))
}

func TestFallbacksWithinBounds(t *testing.T) {
	set := DefaultFallbackSet(fixedRand(0))
	for _, lang := range []Language{Hinglish, English} {
		for _, m := range set.Messages(lang) {
			n := len([]rune(m))
			assert.GreaterOrEqual(t, n, MinReplyLength)
			assert.LessOrEqual(t, n, DefaultMaxChars)
		}
	}
}

func TestLoadFallbackSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fallbacks.yaml")
	require.NoError(t, os.WriteFile(path, []byte("english:\n  - \"Back in five minutes!\"\n"), 0o600))

	set, err := LoadFallbackSet(path, fixedRand(0))
	require.NoError(t, err)

	assert.Equal(t, []string{"Back in five minutes!"}, set.Messages(English))
	assert.NotEmpty(t, set.Messages(Hinglish))
}

func TestLoadFallbackSetRejectsUnknownLanguage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fallbacks.yaml")
	require.NoError(t, os.WriteFile(path, []byte("french:\n  - \"Bonjour a tous\"\n"), 0o600))

	_, err := LoadFallbackSet(path, fixedRand(0))
	assert.Error(t, err)
}

func TestLoadFallbackSetEmptyPath(t *testing.T) {
	set, err := LoadFallbackSet("", fixedRand(0))
	require.NoError(t, err)
	assert.NotEmpty(t, set.Messages(English))
}
