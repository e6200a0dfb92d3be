package reply

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Language
	}{
		{"devanagari", "नमस्ते, कैसे हो?", Hinglish},
		{"romanised hindi", "kya haal hai bhai", Hinglish},
		{"english", "hello, how are you doing?", English},
		{"mixed leaning hindi", "hi yaar kya kar raha hai", Hinglish},
		{"mixed leaning english", "hey what is the plan for tonight bhai", English},
		{"no signal", "👍🔥", Hinglish},
		{"empty", "", Hinglish},
		{"tie", "hi bhai", Hinglish},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.text))
		})
	}
}
