package tokenize

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

// words returns just the words of tokens, sorted
func words(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Word
	}
	slices.Sort(out)
	return out
}

func TestTokenizePositions(t *testing.T) {
	tokens := Default{}.Tokenize("Hello world, hello THERE")

	assert.Equal(t, []Token{
		{Word: "hello", Positions: []int{0, 2}},
		{Word: "world", Positions: []int{1}},
		{Word: "there", Positions: []int{3}},
	}, tokens)
	assert.Equal(t, []string{"hello", "there", "world"}, words(tokens))
}

func TestTokenizeUnicode(t *testing.T) {
	tokens := Default{}.Tokenize("Straße ＡＢＣ café")

	assert.Equal(t, []string{"abc", "café", "strasse"}, words(tokens))
}

func TestTokenizeMinLength(t *testing.T) {
	tokens := Default{MinLength: 2}.Tokenize("a bb c dd")

	assert.Equal(t, []Token{
		{Word: "bb", Positions: []int{0}},
		{Word: "dd", Positions: []int{1}},
	}, tokens)
}

func TestTokenizeEmpty(t *testing.T) {
	assert.Empty(t, Default{}.Tokenize(""))
	assert.Empty(t, Default{}.Tokenize("  ,;  "))
}
