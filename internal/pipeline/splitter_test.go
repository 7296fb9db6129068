package pipeline

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reconstruct(chunks []string, overlap int) string {
	if len(chunks) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(chunks[0])
	for _, c := range chunks[1:] {
		sb.WriteString(string([]rune(c)[overlap:]))
	}
	return sb.String()
}

func TestSplitTextReconstructsAndRespectsLimits(t *testing.T) {
	words := strings.Repeat("retrieval augmented generation 检索增强 ", 60)
	paragraphs := strings.Repeat("first line of a paragraph\nsecond line\n\n", 40)
	solid := strings.Repeat("x", 1234)

	cases := []struct {
		name          string
		text          string
		size, overlap int
	}{
		{"words", words, 500, 50},
		{"paragraphs", paragraphs, 120, 20},
		{"no whitespace", solid, 100, 10},
		{"no overlap", words, 64, 0},
		{"tiny window", words, 5, 2},
		{"shorter than window", "short text", 500, 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chunks := SplitText(tc.text, tc.size, tc.overlap)
			require.NotEmpty(t, chunks)
			assert.Equal(t, tc.text, reconstruct(chunks, tc.overlap))
			for i, c := range chunks {
				assert.LessOrEqual(t, utf8.RuneCountInString(c), tc.size, "chunk %d", i)
				if i > 0 {
					prev := []rune(chunks[i-1])
					assert.Equal(t, string(prev[len(prev)-tc.overlap:]), string([]rune(c)[:tc.overlap]), "chunk %d overlap", i)
				}
			}
		})
	}
}

func TestSplitTextPrefersNewlineThenSpace(t *testing.T) {
	text := "alpha beta\ngamma delta epsilon"
	chunks := SplitText(text, 16, 0)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "alpha beta\n", chunks[0])

	chunks = SplitText("one two three four", 10, 0)
	assert.Equal(t, "one two ", chunks[0])
}

func TestSplitTextHardCutWithoutWhitespace(t *testing.T) {
	chunks := SplitText(strings.Repeat("a", 25), 10, 0)
	assert.Equal(t, []string{strings.Repeat("a", 10), strings.Repeat("a", 10), strings.Repeat("a", 5)}, chunks)
}

func TestSplitTextDeterministic(t *testing.T) {
	text := strings.Repeat("deterministic chunking test ", 100)
	assert.Equal(t, SplitText(text, 300, 30), SplitText(text, 300, 30))
}

func TestSplitTextEdgeCases(t *testing.T) {
	assert.Empty(t, SplitText("", 500, 50))
	assert.Empty(t, SplitText("abc", 0, 0))

	// overlap >= size degrades to non-overlapping windows
	chunks := SplitText(strings.Repeat("b", 9), 3, 3)
	assert.Equal(t, []string{"bbb", "bbb", "bbb"}, chunks)
}
