package vectorindex

import (
	"context"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"github.com/rotisserie/eris"
)

// ChromemBackend holds one chromem database; each corpus is a collection.
type ChromemBackend struct {
	db *chromem.DB
}

// NewChromemBackend opens a chromem database persisted under dir. An empty
// dir keeps everything in memory.
func NewChromemBackend(dir string, compress bool) (*ChromemBackend, error) {
	if dir == "" {
		return &ChromemBackend{db: chromem.NewDB()}, nil
	}
	db, err := chromem.NewPersistentDB(dir, compress)
	if err != nil {
		return nil, eris.Wrapf(err, "vectorindex: open chromem db at %s", dir)
	}
	return &ChromemBackend{db: db}, nil
}

// Index returns the index for a corpus, creating the collection if needed.
func (b *ChromemBackend) Index(corpus string) (*ChromemIndex, error) {
	col, err := b.db.GetOrCreateCollection(corpus, nil, noEmbedding)
	if err != nil {
		return nil, eris.Wrapf(err, "vectorindex: collection %s", corpus)
	}
	return &ChromemIndex{corpus: corpus, collection: col}, nil
}

// noEmbedding guards against chromem embedding content itself; every
// record and query here carries its own vector.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, eris.New("vectorindex: vectors must be supplied by the caller")
}

// ChromemIndex implements Index on a chromem collection. chromem has
// add-only semantics, so Upsert deletes existing IDs before adding.
type ChromemIndex struct {
	mu         sync.Mutex
	corpus     string
	collection *chromem.Collection
}

func (ix *ChromemIndex) Name() string { return "chromem/" + ix.corpus }

func (ix *ChromemIndex) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(records))
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Text,
			Metadata:  copyMetadata(r.Metadata),
			Embedding: r.Vector,
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return eris.Wrap(err, "vectorindex: chromem delete before add")
	}
	if err := ix.collection.AddDocuments(ctx, docs, 1); err != nil {
		return eris.Wrap(err, "vectorindex: chromem add")
	}
	return nil
}

func (ix *ChromemIndex) Query(ctx context.Context, vector []float32, k int, filter Filter) ([]Candidate, error) {
	if k <= 0 {
		return []Candidate{}, nil
	}

	// chromem-go requires nResults <= collection size, so the count and the
	// query must not interleave with a delete.
	ix.mu.Lock()
	defer ix.mu.Unlock()
	count := ix.collection.Count()
	if count == 0 {
		return []Candidate{}, nil
	}
	k = min(k, count)

	var where map[string]string
	if len(filter) > 0 {
		where = filter
	}

	results, err := ix.collection.QueryEmbedding(ctx, vector, k, where, nil)
	if err != nil {
		return nil, eris.Wrap(err, "vectorindex: chromem query")
	}

	out := make([]Candidate, len(results))
	for i, r := range results {
		out[i] = Candidate{
			ID:       r.ID,
			Text:     r.Content,
			Metadata: copyMetadata(r.Metadata),
			Score:    ScoreFromSimilarity(float64(r.Similarity)),
		}
	}
	return out, nil
}

func (ix *ChromemIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return eris.Wrap(ix.collection.Delete(ctx, nil, nil, ids...), "vectorindex: chromem delete")
}

func (ix *ChromemIndex) Count(context.Context) (int, error) {
	return ix.collection.Count(), nil
}
