package document

import (
	"strings"
	"unicode"
)

// isTerminator reports sentence-ending punctuation, including the Devanagari
// danda and double danda used in Nepali text.
func isTerminator(r rune) bool {
	switch r {
	case '.', '?', '!', '।', '॥':
		return true
	}
	return false
}

// SplitSentences segments text into trimmed, non-empty sentences. A sentence
// ends at a run of terminators followed by whitespace or end of input, or at
// a blank line. Whitespace inside a sentence is preserved so the sentence can
// be located again in its source.
func SplitSentences(s string) []string {
	runes := []rune(s)
	var out []string
	start := 0

	emit := func(end int) {
		if sent := strings.TrimSpace(string(runes[start:end])); sent != "" {
			out = append(out, sent)
		}
		start = end
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case isTerminator(r):
			j := i + 1
			for j < len(runes) && (isTerminator(runes[j]) || isCloser(runes[j])) {
				j++
			}
			if j == len(runes) || unicode.IsSpace(runes[j]) {
				emit(j)
				i = j - 1
			}
		case r == '\n' && blankLineAhead(runes, i):
			emit(i)
		}
	}
	emit(len(runes))
	return out
}

// isCloser matches quotes and brackets that trail a terminator, as in `"Stop."`.
func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’':
		return true
	}
	return false
}

func blankLineAhead(runes []rune, i int) bool {
	for j := i + 1; j < len(runes); j++ {
		switch runes[j] {
		case '\n':
			return true
		case ' ', '\t', '\r':
			continue
		default:
			return false
		}
	}
	return false
}
