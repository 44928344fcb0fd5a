package algorithms

import (
	"strings"
	"sync"
	"unicode"

	"github.com/kljensen/snowball"
)

// Tokenizer splits normalized text into keyword tokens, drops stop
// words, and optionally stems surviving tokens so that "licensing" and
// "licence" land on the same keyword.
type Tokenizer struct {
	stopWords map[string]bool
	stem      bool

	cacheMu sync.RWMutex
	cache   map[string]string
}

// NewTokenizer creates a tokenizer with the default English stop-word
// list. Stemming is on by default.
func NewTokenizer() *Tokenizer {
	return &Tokenizer{
		stopWords: defaultStopWords(),
		stem:      true,
		cache:     make(map[string]string),
	}
}

// NewTokenizerWithStopWords creates a tokenizer with a caller-supplied
// stop-word list.
func NewTokenizerWithStopWords(stopWords []string, stem bool) *Tokenizer {
	set := make(map[string]bool, len(stopWords))
	for _, w := range stopWords {
		set[strings.ToLower(w)] = true
	}
	return &Tokenizer{
		stopWords: set,
		stem:      stem,
		cache:     make(map[string]string),
	}
}

// Tokens returns the ordered keyword tokens of text.
func (t *Tokenizer) Tokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if t.stopWords[f] {
			continue
		}
		if t.stem {
			f = t.stemWord(f)
		}
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// TokenSet returns the keyword tokens of text as a set.
func (t *Tokenizer) TokenSet(text string) map[string]bool {
	tokens := t.Tokens(text)
	set := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		set[tok] = true
	}
	return set
}

// stemWord runs the snowball stemmer with a small cache; stemming
// failures fall back to the raw token.
func (t *Tokenizer) stemWord(word string) string {
	t.cacheMu.RLock()
	if cached, ok := t.cache[word]; ok {
		t.cacheMu.RUnlock()
		return cached
	}
	t.cacheMu.RUnlock()

	stemmed, err := snowball.Stem(word, "english", false)
	if err != nil || stemmed == "" {
		stemmed = word
	}

	t.cacheMu.Lock()
	t.cache[word] = stemmed
	t.cacheMu.Unlock()
	return stemmed
}

// defaultStopWords covers English filler plus generic organization
// words that carry no identity signal ("the department of" etc).
func defaultStopWords() map[string]bool {
	words := []string{
		"a", "an", "and", "at", "by", "for", "in", "of", "on", "or",
		"the", "to", "with",
		"dept", "department", "ministry", "minister", "office",
		"group", "services", "service",
	}
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
