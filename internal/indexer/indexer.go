// Package indexer merges documents into the inverted index. It tokenizes
// every document of a batch up front, then upserts dictionary entries and
// postings term by term, and finally records each document's euclidean
// length and indexed flag.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/brendte/news-router/internal/indexer/index"
	"github.com/brendte/news-router/internal/indexer/tokenizer"
	"github.com/brendte/news-router/internal/news"
	"github.com/brendte/news-router/pkg/config"
	"github.com/brendte/news-router/pkg/metrics"
)

const lockStripes = 256

// DocumentStore is the relational side of indexing.
type DocumentStore interface {
	Unindexed(ctx context.Context, kind news.Kind) ([]news.Indexable, error)
	MarkIndexed(ctx context.Context, kind news.Kind, id int64, euclideanLength float64) error
}

// Result summarises one Index call.
type Result struct {
	Indexed int `json:"indexed"`
	Failed  int `json:"failed"`
	Terms   int `json:"terms"`
}

type Indexer struct {
	index   index.Store
	docs    DocumentStore
	workers int
	metrics *metrics.Metrics
	logger  *slog.Logger

	// stripes serialise each term's merge across workers
	stripes [lockStripes]sync.Mutex
}

func New(idx index.Store, docs DocumentStore, cfg config.IndexerConfig, m *metrics.Metrics) *Indexer {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Indexer{
		index:   idx,
		docs:    docs,
		workers: workers,
		metrics: m,
		logger:  slog.Default().With("component", "indexer"),
	}
}

// GenerateTermList returns the terms of body in order of appearance.
func GenerateTermList(body string) []string {
	return tokenizer.Tokenize(body)
}

// GenerateTermFrequencyList returns the per-term counts of body.
func GenerateTermFrequencyList(body string) map[string]int {
	return tokenizer.TermFrequencies(body)
}

type pending struct {
	id int64
	tf map[string]int
}

// IndexNew indexes every document of kind that is not yet indexed.
func (ix *Indexer) IndexNew(ctx context.Context, kind news.Kind) (Result, error) {
	docs, err := ix.docs.Unindexed(ctx, kind)
	if err != nil {
		return Result{}, fmt.Errorf("listing unindexed %s: %w", kind, err)
	}
	return ix.Index(ctx, docs, kind)
}

// Index merges docs into the kind's index. A storage error leaves that
// document unindexed and the batch carries on; the next pass re-merges it
// without counting terms already posted for it. Only context cancellation is
// returned as an error.
func (ix *Indexer) Index(ctx context.Context, docs []news.Indexable, kind news.Kind) (Result, error) {
	batch := make([]pending, 0, len(docs))
	seen := make(map[int64]struct{}, len(docs))
	for _, doc := range docs {
		if _, dup := seen[doc.DocumentID()]; dup {
			continue
		}
		seen[doc.DocumentID()] = struct{}{}
		batch = append(batch, pending{id: doc.DocumentID(), tf: GenerateTermFrequencyList(doc.Text())})
	}

	var (
		mu  sync.Mutex
		res Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers)
	for _, p := range batch {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			terms, err := ix.indexOne(gctx, kind, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				ix.metrics.IndexFailuresTotal.WithLabelValues(string(kind)).Inc()
				ix.logger.Error("document left unindexed",
					"kind", kind,
					"doc_id", p.id,
					"error", err,
				)
				return nil
			}
			res.Indexed++
			res.Terms += terms
			ix.metrics.DocsIndexedTotal.WithLabelValues(string(kind)).Inc()
			return nil
		})
	}
	_ = g.Wait()

	ix.logger.Info("index batch complete",
		"kind", kind,
		"indexed", res.Indexed,
		"failed", res.Failed,
		"terms", res.Terms,
	)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

func (ix *Indexer) indexOne(ctx context.Context, kind news.Kind, p pending) (int, error) {
	terms := make([]string, 0, len(p.tf))
	for term := range p.tf {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	for _, term := range terms {
		if err := ix.mergeTerm(ctx, kind, term, p.id, p.tf[term]); err != nil {
			return 0, err
		}
	}
	length := tokenizer.EuclideanLength(p.tf)
	if err := ix.docs.MarkIndexed(ctx, kind, p.id, length); err != nil {
		return 0, fmt.Errorf("marking indexed: %w", err)
	}
	return len(terms), nil
}

func (ix *Indexer) mergeTerm(ctx context.Context, kind news.Kind, term string, docID int64, tf int) error {
	mu := &ix.stripes[xxhash.Sum64String(string(kind)+"\x00"+term)%lockStripes]
	mu.Lock()
	defer mu.Unlock()

	// a retry after a partial merge must not count this document twice
	e, ok, err := ix.index.LookupTerm(ctx, kind, term)
	if err != nil {
		return err
	}
	if ok {
		seen, err := ix.index.HasPosting(ctx, kind, e.ID, docID)
		if err != nil {
			return err
		}
		if seen {
			return ix.index.AppendPosting(ctx, kind, e.ID, docID, tf)
		}
	}

	termID, err := ix.index.UpsertTerm(ctx, kind, term)
	if err != nil {
		return err
	}
	if err := ix.index.AppendPosting(ctx, kind, termID, docID, tf); err != nil {
		return err
	}
	return nil
}
