package tokenizer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"blank", "   \n\t", []string{}},
		{"empty", "", []string{}},
		{"stop words only", "The and of it", []string{}},
		{"case and plurals", "Cats DOGS cat", []string{"cat", "dog", "cat"}},
		{"punctuation", "dog, bird; cat!", []string{"dog", "bird", "cat"}},
		{"stemming", "running connected", []string{"run", "connect"}},
		{"digits dropped", "cat 2024 dog", []string{"cat", "dog"}},
		{"mixed alnum keeps letters", "mp3", []string{"mp"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.in))
		})
	}
}

func TestTokenize_StopWordCheckedBeforeLetterStrip(t *testing.T) {
	// "the," loses its comma to punctuation stripping, so it is a stop word
	assert.Equal(t, []string{"cat"}, Tokenize("the, cat"))
}

func TestTermFrequencies(t *testing.T) {
	tf := TermFrequencies("cat dog cat")
	assert.Equal(t, map[string]int{"cat": 2, "dog": 1}, tf)
	assert.Empty(t, TermFrequencies(""))
}

func TestEuclideanLength(t *testing.T) {
	assert.InDelta(t, math.Sqrt(5), EuclideanLength(map[string]int{"cat": 2, "dog": 1}), 1e-12)
	assert.Equal(t, 0.0, EuclideanLength(nil))
}

func TestIsStopWord(t *testing.T) {
	assert.True(t, IsStopWord("twas"))
	assert.True(t, IsStopWord("used"))
	assert.False(t, IsStopWord("market"))
}

func BenchmarkTokenize(b *testing.B) {
	text := "The central bank raised interest rates on Tuesday, citing persistent inflation " +
		"and a tight labour market; analysts expect further increases before the year ends."
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Tokenize(text)
	}
}

func BenchmarkTermFrequencies(b *testing.B) {
	text := "search engine with distributed indexing and query processing for news routing"
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = TermFrequencies(text)
	}
}
