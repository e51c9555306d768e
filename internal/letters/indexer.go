package letters

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lexreview/lexreview/internal/progress"
	"github.com/lexreview/lexreview/internal/retrieval"
)

// Corpus is the retrieval corpus holding letter templates.
const Corpus = "templates"

// Metadata keys written for each indexed template.
const (
	MetaFilename     = "filename"
	MetaPlaceholders = "placeholders"
)

const indexBatchSize = 16

// Indexer embeds every template into the templates corpus.
type Indexer struct {
	loader   *Loader
	pipeline *retrieval.Pipeline
	reporter progress.Reporter
}

// NewIndexer creates an indexer. A nil reporter discards progress.
func NewIndexer(loader *Loader, pipeline *retrieval.Pipeline, reporter progress.Reporter) *Indexer {
	if reporter == nil {
		reporter = progress.Nop{}
	}
	return &Indexer{loader: loader, pipeline: pipeline, reporter: reporter}
}

// documentText is the text embedded for a template.
func documentText(t *Template) string {
	return fmt.Sprintf("Template Name: %s\nContent:\n%s", t.Name, t.Content)
}

// Build indexes all templates and returns how many were written. Templates
// keep their file name as id, so rebuilding overwrites earlier entries.
func (ix *Indexer) Build(ctx context.Context) (int, error) {
	names, err := ix.loader.List()
	if err != nil {
		return 0, err
	}
	if len(names) == 0 {
		zap.L().Warn("letters: no templates found to index")
		return 0, nil
	}

	ix.reporter.Start(len(names))
	defer ix.reporter.Finish()

	done := 0
	batch := make([]retrieval.Item, 0, indexBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ix.pipeline.Index(ctx, batch); err != nil {
			return eris.Wrap(err, "indexing templates")
		}
		done += len(batch)
		ix.reporter.Update(done, batch[len(batch)-1].ID)
		batch = batch[:0]
		return nil
	}

	for _, name := range names {
		t, err := ix.loader.Load(name)
		if err != nil {
			return done, err
		}
		batch = append(batch, retrieval.Item{
			ID:   t.Name,
			Text: documentText(t),
			Metadata: map[string]string{
				MetaFilename:     t.Name,
				MetaPlaceholders: strings.Join(t.Placeholders, ","),
			},
		})
		if len(batch) == indexBatchSize {
			if err := flush(); err != nil {
				return done, err
			}
		}
	}
	if err := flush(); err != nil {
		return done, err
	}

	zap.L().Info("letters: templates indexed", zap.Int("count", done))
	return done, nil
}
