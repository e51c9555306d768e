// Package retrieval embeds text, writes it to a vector index and answers
// ranked similarity queries, keeping full document text out of the index.
package retrieval

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lexreview/lexreview/internal/embeddings"
	"github.com/lexreview/lexreview/internal/vectorindex"
)

var (
	ErrLengthMismatch     = eris.New("retrieval: items and vectors differ in length")
	ErrMissingID          = eris.New("retrieval: item id is required")
	ErrEmptyQuery         = eris.New("retrieval: query is empty")
	ErrBackendUnavailable = eris.New("retrieval: backend unavailable")
)

// Metadata keys written by the pipeline and removed again on query.
const (
	MetaTextPreview = "text_preview"
	MetaTextLength  = "text_length"
)

const (
	maxMetadataBytes   = 35000
	shortPreviewChars  = 200
	defaultPreviewSize = 500
)

// TextStore holds full document text outside the vector index.
type TextStore interface {
	Put(ctx context.Context, corpus string, texts map[string]string) error
	Get(ctx context.Context, corpus string, ids []string) (map[string]string, error)
	Delete(ctx context.Context, corpus string, ids []string) error
}

// Item is a document to be indexed.
type Item struct {
	ID       string
	Text     string
	Metadata map[string]string
}

// Options tune a Pipeline.
type Options struct {
	// MinScore drops candidates scoring below it.
	MinScore float64
	// PreviewChars is the length of the text preview kept in index metadata.
	PreviewChars int
}

// Pipeline ties an embedder, a vector index and a text store together for
// one corpus.
type Pipeline struct {
	corpus   string
	embedder embeddings.Embedder
	index    vectorindex.Index
	texts    TextStore
	opts     Options
}

// New creates a Pipeline. texts may be nil, in which case full text is
// kept in the index itself.
func New(corpus string, embedder embeddings.Embedder, index vectorindex.Index, texts TextStore, opts Options) *Pipeline {
	if opts.PreviewChars <= 0 {
		opts.PreviewChars = defaultPreviewSize
	}
	return &Pipeline{corpus: corpus, embedder: embedder, index: index, texts: texts, opts: opts}
}

// Corpus returns the corpus name this pipeline serves.
func (p *Pipeline) Corpus() string { return p.corpus }

// Embed returns the embedding of one text.
func (p *Pipeline) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyQuery
	}
	vecs, err := p.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, eris.Wrapf(ErrBackendUnavailable, "embed with %s: %v", p.embedder.Name(), err)
	}
	if len(vecs) != 1 {
		return nil, eris.Wrapf(ErrBackendUnavailable, "%s returned %d embeddings for one text", p.embedder.Name(), len(vecs))
	}
	return vecs[0], nil
}

// Query returns at most k candidates for vector, ordered by descending
// score. Candidates below MinScore are dropped. Equal scores keep the
// backend's order. An empty index yields an empty slice.
func (p *Pipeline) Query(ctx context.Context, vector []float32, k int, filter vectorindex.Filter) ([]vectorindex.Candidate, error) {
	if len(vector) == 0 {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		return []vectorindex.Candidate{}, nil
	}

	found, err := p.index.Query(ctx, vector, k, filter)
	if err != nil {
		return nil, eris.Wrapf(ErrBackendUnavailable, "query %s: %v", p.index.Name(), err)
	}

	out := make([]vectorindex.Candidate, 0, len(found))
	for _, c := range found {
		if c.Score < p.opts.MinScore {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}

	p.restoreText(ctx, out)
	return out, nil
}

// Search embeds text and queries the index with it.
func (p *Pipeline) Search(ctx context.Context, text string, k int, filter vectorindex.Filter) ([]vectorindex.Candidate, error) {
	vec, err := p.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return p.Query(ctx, vec, k, filter)
}

// AddDocuments upserts items with precomputed vectors. items[i] pairs with
// vectors[i].
func (p *Pipeline) AddDocuments(ctx context.Context, items []Item, vectors [][]float32) error {
	if len(items) != len(vectors) {
		return eris.Wrapf(ErrLengthMismatch, "%d items, %d vectors", len(items), len(vectors))
	}
	if len(items) == 0 {
		return nil
	}

	records := make([]vectorindex.Record, len(items))
	full := make(map[string]string, len(items))
	for i, item := range items {
		if strings.TrimSpace(item.ID) == "" {
			return eris.Wrapf(ErrMissingID, "item %d", i)
		}
		rec := vectorindex.Record{ID: item.ID, Vector: vectors[i]}
		if p.texts == nil {
			rec.Text = item.Text
			rec.Metadata = copyMeta(item.Metadata)
		} else {
			rec.Metadata = withPreview(item.Metadata, item.Text, p.opts.PreviewChars)
			rec.Text = rec.Metadata[MetaTextPreview]
			full[item.ID] = item.Text
		}
		records[i] = rec
	}

	if p.texts != nil {
		if err := p.texts.Put(ctx, p.corpus, full); err != nil {
			return eris.Wrapf(ErrBackendUnavailable, "store text: %v", err)
		}
	}
	if err := p.index.Upsert(ctx, records); err != nil {
		return eris.Wrapf(ErrBackendUnavailable, "upsert into %s: %v", p.index.Name(), err)
	}

	zap.L().Debug("indexed documents",
		zap.String("corpus", p.corpus),
		zap.String("index", p.index.Name()),
		zap.Int("count", len(records)))
	return nil
}

// Index embeds items and adds them.
func (p *Pipeline) Index(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = item.Text
	}
	vecs, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return eris.Wrapf(ErrBackendUnavailable, "embed with %s: %v", p.embedder.Name(), err)
	}
	return p.AddDocuments(ctx, items, vecs)
}

// Delete removes documents by id from the index and text store.
func (p *Pipeline) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := p.index.Delete(ctx, ids); err != nil {
		return eris.Wrapf(ErrBackendUnavailable, "delete from %s: %v", p.index.Name(), err)
	}
	if p.texts != nil {
		if err := p.texts.Delete(ctx, p.corpus, ids); err != nil {
			return eris.Wrapf(ErrBackendUnavailable, "delete text: %v", err)
		}
	}
	return nil
}

// Count returns the number of indexed documents.
func (p *Pipeline) Count(ctx context.Context) (int, error) {
	n, err := p.index.Count(ctx)
	if err != nil {
		return 0, eris.Wrapf(ErrBackendUnavailable, "count %s: %v", p.index.Name(), err)
	}
	return n, nil
}

// restoreText replaces each candidate's text with the stored full text,
// falling back to the metadata preview, and strips the preview keys.
func (p *Pipeline) restoreText(ctx context.Context, cands []vectorindex.Candidate) {
	if len(cands) == 0 {
		return
	}

	var stored map[string]string
	if p.texts != nil {
		ids := make([]string, len(cands))
		for i, c := range cands {
			ids[i] = c.ID
		}
		var err error
		stored, err = p.texts.Get(ctx, p.corpus, ids)
		if err != nil {
			zap.L().Warn("text store lookup failed, using previews",
				zap.String("corpus", p.corpus), zap.Error(err))
		}
	}

	for i := range cands {
		c := &cands[i]
		if text, ok := stored[c.ID]; ok {
			c.Text = text
		} else if preview, ok := c.Metadata[MetaTextPreview]; ok {
			c.Text = preview
		}
		meta := copyMeta(c.Metadata)
		delete(meta, MetaTextPreview)
		delete(meta, MetaTextLength)
		c.Metadata = meta
	}
}

// withPreview returns a copy of meta carrying a preview of text and its
// length in characters. The preview shrinks when the metadata would be
// too large for hosted index limits.
func withPreview(meta map[string]string, text string, previewChars int) map[string]string {
	out := copyMeta(meta)
	runes := []rune(text)
	out[MetaTextLength] = strconv.Itoa(len(runes))
	out[MetaTextPreview] = preview(runes, previewChars)

	if size, err := json.Marshal(out); err == nil && len(size) > maxMetadataBytes {
		out[MetaTextPreview] = preview(runes, shortPreviewChars)
	}
	return out
}

func preview(runes []rune, n int) string {
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n]) + "..."
}

func copyMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}
