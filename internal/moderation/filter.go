// Package moderation screens message content against a configurable list of
// banned terms before anything is persisted or broadcast.
package moderation

import (
	"strings"
	"unicode"
)

// Result is the outcome of a content check.
type Result struct {
	Flagged bool
	Terms   []string
}

// Filter matches banned terms as whole words, case-insensitively. It holds no
// mutable state after construction and is safe for concurrent use.
type Filter struct {
	terms   map[string]struct{}
	phrases [][]string
}

// NewFilter builds a filter from the given term list. Each term is normalized
// through the same tokenizer the check uses, so punctuation in a configured
// term never prevents a match. A term that tokenizes to several words is
// matched as a consecutive word sequence.
func NewFilter(terms []string) *Filter {
	f := &Filter{terms: make(map[string]struct{}, len(terms))}
	for _, t := range terms {
		tokens := tokenize(strings.ToLower(t))
		switch len(tokens) {
		case 0:
		case 1:
			f.terms[tokens[0]] = struct{}{}
		default:
			f.phrases = append(f.phrases, tokens)
		}
	}
	return f
}

// Check tokenizes text into words and reports every banned term that appears
// as a whole word or word sequence. Substrings never match: "spamwordish"
// passes even when "spamword" is banned.
func (f *Filter) Check(text string) Result {
	if (len(f.terms) == 0 && len(f.phrases) == 0) || text == "" {
		return Result{}
	}

	words := tokenize(strings.ToLower(text))
	seen := make(map[string]struct{})
	var matched []string
	record := func(term string) {
		if _, dup := seen[term]; dup {
			return
		}
		seen[term] = struct{}{}
		matched = append(matched, term)
	}

	for _, word := range words {
		if _, banned := f.terms[word]; banned {
			record(word)
		}
	}
	for _, phrase := range f.phrases {
		if containsSequence(words, phrase) {
			record(strings.Join(phrase, " "))
		}
	}

	return Result{Flagged: len(matched) > 0, Terms: matched}
}

func containsSequence(words, phrase []string) bool {
	for i := 0; i+len(phrase) <= len(words); i++ {
		match := true
		for j, p := range phrase {
			if words[i+j] != p {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
