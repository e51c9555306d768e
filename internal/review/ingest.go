package review

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lexreview/lexreview/internal/bias"
	"github.com/lexreview/lexreview/internal/document"
)

// IngestRequest is one uploaded document to review.
type IngestRequest struct {
	Filename    string
	ContentType string // detected from Filename and Data when empty
	Data        []byte
	Threshold   float64
}

// IngestResult is the created session with classification tallies.
type IngestResult struct {
	Session      *Session
	BiasedCount  int
	NeutralCount int
	FailedCount  int
}

// Ingestor turns a document into a review session: extract, segment,
// classify every sentence, then draft suggestions for the biased ones.
type Ingestor struct {
	manager     *Manager
	classifier  bias.Classifier
	suggester   bias.Suggester
	concurrency int
}

// NewIngestor creates an ingestor. concurrency bounds in-flight classifier
// and suggester calls; values below one mean one.
func NewIngestor(m *Manager, c bias.Classifier, s bias.Suggester, concurrency int) *Ingestor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Ingestor{manager: m, classifier: c, suggester: s, concurrency: concurrency}
}

type classified struct {
	judgment   bias.Judgment
	suggestion *string
	failed     bool
}

// Ingest classifies every sentence of the document and creates a session.
// Sentences whose classification fails are logged and left out; the request
// fails only when no sentence could be classified. A failed suggestion
// leaves the item's suggestion empty.
func (ing *Ingestor) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	ct := req.ContentType
	if ct == "" {
		ct = document.DetectContentType(req.Filename, req.Data)
	}
	text, err := document.Extract(ct, req.Data)
	if err != nil {
		return nil, err
	}
	sentences := document.SplitSentences(text)
	if len(sentences) == 0 {
		return nil, ErrEmptyDocument
	}

	results := make([]classified, len(sentences))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ing.concurrency)
	for i, sentence := range sentences {
		g.Go(func() error {
			j, err := ing.classifier.Classify(gctx, sentence)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				zap.L().Warn("review: classification failed, excluding sentence",
					zap.Int("index", i), zap.Error(err))
				results[i].failed = true
				return nil
			}
			results[i].judgment = j.ApplyThreshold(req.Threshold)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "classifying sentences")
	}

	failed := 0
	for _, r := range results {
		if r.failed {
			failed++
		}
	}
	if failed == len(sentences) {
		return nil, eris.Wrapf(ErrClassificationFailed, "%d sentences", failed)
	}

	if ing.suggester != nil {
		g, gctx = errgroup.WithContext(ctx)
		g.SetLimit(ing.concurrency)
		for i := range results {
			if results[i].failed || !results[i].judgment.IsBiased {
				continue
			}
			g.Go(func() error {
				s, err := ing.suggester.Suggest(gctx, sentences[i], results[i].judgment.Category)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					zap.L().Warn("review: suggestion failed, leaving item without one",
						zap.Int("index", i), zap.Error(err))
					return nil
				}
				results[i].suggestion = &s
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, eris.Wrap(err, "generating suggestions")
		}
	}

	out := &IngestResult{FailedCount: failed}
	items := make([]NewItem, 0, len(sentences)-failed)
	for i, r := range results {
		if r.failed {
			continue
		}
		if r.judgment.IsBiased {
			out.BiasedCount++
		} else {
			out.NeutralCount++
		}
		items = append(items, NewItem{
			Text:       sentences[i],
			IsBiased:   r.judgment.IsBiased,
			Category:   string(r.judgment.Category),
			Confidence: r.judgment.Confidence,
			Suggestion: r.suggestion,
		})
	}

	s, err := ing.manager.CreateSession(ctx, req.Filename, ct, items, req.Data)
	if err != nil {
		return nil, err
	}
	out.Session = s

	zap.L().Info("review: session created",
		zap.String("session_id", s.ID),
		zap.String("filename", req.Filename),
		zap.Int("sentences", len(sentences)),
		zap.Int("biased", out.BiasedCount),
		zap.Int("failed", failed))
	return out, nil
}
