// Package regen applies approved review edits back into a source document.
package regen

import (
	"bytes"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lexreview/lexreview/internal/document"
)

// ErrUnsupportedSource is returned when the source cannot be edited in
// place. Callers fall back to RebuildFromItems.
var ErrUnsupportedSource = eris.New("source cannot be regenerated in place")

// Edit is one sentence of a reviewed document. Replacement is empty unless
// the sentence was biased and approved.
type Edit struct {
	Original    string
	Replacement string
	Biased      bool
	Approved    bool
}

// applies reports whether this edit rewrites the source.
func (e Edit) applies() bool {
	return e.Biased && e.Approved && strings.TrimSpace(e.Replacement) != ""
}

// Result is a regenerated artifact.
type Result struct {
	Data        []byte
	ContentType string
	Changes     int
}

// Regenerate substitutes every applicable edit into source. Edits whose
// original text cannot be found are logged and skipped. With no applicable
// edits the source is returned unchanged.
func Regenerate(contentType string, source []byte, edits []Edit) (*Result, error) {
	if !document.Supported(contentType) {
		return nil, eris.Wrapf(ErrUnsupportedSource, "content type %q", contentType)
	}
	if !utf8.Valid(source) {
		return nil, eris.Wrap(ErrUnsupportedSource, "source is not valid UTF-8")
	}

	subs := substitutions(edits)
	if len(subs) == 0 {
		return &Result{Data: bytes.Clone(source), ContentType: contentType}, nil
	}

	// Single left-to-right pass over the source. At each offset the longest
	// matching original wins, and replaced text is never scanned again.
	src := string(source)
	hits := make([]int, len(subs))
	var b strings.Builder
	b.Grow(len(src))
	for i := 0; i < len(src); {
		k := match(subs, src[i:])
		if k < 0 {
			b.WriteByte(src[i])
			i++
			continue
		}
		b.WriteString(subs[k].Replacement)
		i += len(subs[k].Original)
		hits[k]++
	}

	changes := 0
	for k, n := range hits {
		if n == 0 {
			zap.L().Warn("regen: original text not found in source, skipping",
				zap.String("original", subs[k].Original))
		}
		changes += n
	}
	out := []byte(b.String())

	return &Result{Data: out, ContentType: contentType, Changes: changes}, nil
}

// substitutions returns the applicable edits that change text, one per
// distinct original, longest original first.
func substitutions(edits []Edit) []Edit {
	seen := make(map[string]bool)
	var subs []Edit
	for _, e := range edits {
		if !e.applies() || e.Original == "" || e.Original == e.Replacement || seen[e.Original] {
			continue
		}
		seen[e.Original] = true
		subs = append(subs, e)
	}
	sort.SliceStable(subs, func(i, j int) bool {
		return len(subs[i].Original) > len(subs[j].Original)
	})
	return subs
}

// match returns the index of the first substitution whose original prefixes
// s, or -1.
func match(subs []Edit, s string) int {
	for k, e := range subs {
		if strings.HasPrefix(s, e.Original) {
			return k
		}
	}
	return -1
}

// RebuildFromItems synthesizes a plain-text document with one line per
// edit, in order: the replacement for biased approved items, else the
// original sentence.
func RebuildFromItems(edits []Edit) *Result {
	var b strings.Builder
	changes := 0
	for i, e := range edits {
		if i > 0 {
			b.WriteByte('\n')
		}
		if e.applies() {
			b.WriteString(e.Replacement)
			changes++
		} else {
			b.WriteString(e.Original)
		}
	}
	return &Result{
		Data:        []byte(b.String()),
		ContentType: document.TypePlain + "; charset=utf-8",
		Changes:     changes,
	}
}
