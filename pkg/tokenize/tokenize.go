// Package tokenize splits text into distinct normalized words with the
// ordinal positions they occur at
package tokenize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Token is one distinct word of a text with every position it occurs at.
// Positions count words from 0.
type Token struct {
	Word      string
	Positions []int
}

// Tokenizer turns text into tokens. Queries go through the same Tokenizer
// so that they match what was indexed.
type Tokenizer interface {
	Tokenize(text string) []Token
}

// Default splits on anything that is not a letter or digit, applies NFKC
// normalization and folds case.
type Default struct {
	// MinLength drops words with fewer runes
	MinLength int
}

// Tokenize returns the distinct words of text in first-occurrence order
func (d Default) Tokenize(text string) []Token {
	index := make(map[string]int)
	var tokens []Token
	pos := 0
	for _, field := range strings.FieldsFunc(text, separator) {
		word := normalize(field)
		if word == "" || len([]rune(word)) < d.MinLength {
			continue
		}
		i, ok := index[word]
		if !ok {
			i = len(tokens)
			index[word] = i
			tokens = append(tokens, Token{Word: word})
		}
		tokens[i].Positions = append(tokens[i].Positions, pos)
		pos++
	}
	return tokens
}

func normalize(word string) string {
	return cases.Fold().String(norm.NFKC.String(word))
}

func separator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
