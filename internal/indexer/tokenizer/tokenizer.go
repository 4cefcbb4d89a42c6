// Package tokenizer turns raw text into index terms. It strips punctuation,
// lower-cases, splits on whitespace, removes stop-words, drops any remaining
// non-letters and applies the Porter2 (Snowball English) stemmer.
package tokenizer

import (
	"math"
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
)

var stopWords = map[string]struct{}{
	"a": {}, "able": {}, "about": {}, "across": {}, "after": {}, "all": {},
	"almost": {}, "also": {}, "am": {}, "among": {}, "an": {}, "and": {},
	"any": {}, "are": {}, "as": {}, "at": {}, "be": {}, "because": {},
	"been": {}, "but": {}, "by": {}, "can": {}, "cannot": {}, "could": {},
	"dear": {}, "did": {}, "do": {}, "does": {}, "either": {}, "else": {},
	"ever": {}, "every": {}, "for": {}, "from": {}, "get": {}, "got": {},
	"had": {}, "has": {}, "have": {}, "he": {}, "her": {}, "hers": {},
	"him": {}, "his": {}, "how": {}, "however": {}, "i": {}, "if": {},
	"in": {}, "into": {}, "is": {}, "it": {}, "its": {}, "just": {},
	"least": {}, "let": {}, "like": {}, "likely": {}, "may": {}, "me": {},
	"might": {}, "most": {}, "must": {}, "my": {}, "neither": {}, "no": {},
	"nor": {}, "not": {}, "of": {}, "off": {}, "often": {}, "on": {},
	"only": {}, "or": {}, "other": {}, "our": {}, "own": {}, "rather": {},
	"said": {}, "say": {}, "says": {}, "she": {}, "should": {}, "since": {},
	"so": {}, "some": {}, "than": {}, "that": {}, "the": {}, "their": {},
	"them": {}, "then": {}, "there": {}, "these": {}, "they": {}, "this": {},
	"tis": {}, "to": {}, "too": {}, "twas": {}, "us": {}, "wants": {},
	"was": {}, "we": {}, "were": {}, "what": {}, "when": {}, "where": {},
	"which": {}, "while": {}, "who": {}, "whom": {}, "why": {}, "will": {},
	"with": {}, "would": {}, "yet": {}, "you": {}, "your": {}, "use": {},
	"used": {},
}

// IsStopWord reports whether the lower-cased word is dropped before stemming.
func IsStopWord(word string) bool {
	_, ok := stopWords[word]
	return ok
}

// Tokenize returns the stemmed terms of text in order of appearance.
// Blank input yields an empty, non-nil slice.
func Tokenize(text string) []string {
	words := strings.Fields(strings.ToLower(stripPunct(text)))
	terms := make([]string, 0, len(words))
	for _, word := range words {
		if IsStopWord(word) {
			continue
		}
		word = lettersOnly(word)
		if word == "" {
			continue
		}
		term := english.Stem(word, true)
		if term == "" {
			continue
		}
		terms = append(terms, term)
	}
	return terms
}

// TermFrequencies folds Tokenize(text) into per-term counts.
func TermFrequencies(text string) map[string]int {
	terms := Tokenize(text)
	tf := make(map[string]int, len(terms))
	for _, term := range terms {
		tf[term]++
	}
	return tf
}

// EuclideanLength is the L2 norm of a raw term-frequency vector.
func EuclideanLength(tf map[string]int) float64 {
	var sum float64
	for _, n := range tf {
		sum += float64(n) * float64(n)
	}
	return math.Sqrt(sum)
}

func stripPunct(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || (r < unicode.MaxASCII && unicode.IsSymbol(r)) {
			return -1
		}
		return r
	}, s)
}

func lettersOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return r
		}
		return -1
	}, s)
}
