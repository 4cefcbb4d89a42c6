// Package scorer computes TF-IDF weighted cosine similarity between a query
// and documents, either one document at a time from its body or across the
// whole collection from the postings. Both modes normalise by the document's
// stored euclidean length only.
package scorer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/brendte/news-router/internal/indexer"
	"github.com/brendte/news-router/internal/indexer/index"
	"github.com/brendte/news-router/internal/news"
	"github.com/brendte/news-router/pkg/metrics"
)

// DocumentStats exposes the collection-level numbers scoring needs from the
// relational store.
type DocumentStats interface {
	Count(ctx context.Context, kind news.Kind) (int64, error)
	EuclideanLength(ctx context.Context, kind news.Kind, id int64) (float64, bool, error)
}

type Score struct {
	DocumentID int64   `json:"document_id"`
	Score      float64 `json:"score"`
}

type Scorer struct {
	index   index.Store
	stats   DocumentStats
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(idx index.Store, stats DocumentStats, m *metrics.Metrics) *Scorer {
	return &Scorer{
		index:   idx,
		stats:   stats,
		metrics: m,
		logger:  slog.Default().With("component", "scorer"),
	}
}

// IDF is log10(n/df). It is zero when either count is not positive.
func IDF(n, df int64) float64 {
	if n <= 0 || df <= 0 {
		return 0
	}
	return math.Log10(float64(n) / float64(df))
}

func TFIDF(tf int, df, n int64) float64 {
	return float64(tf) * IDF(n, df)
}

func normalize(sum, length float64) float64 {
	if length == 0 {
		return 0
	}
	return sum / length
}

// ScoreOne scores doc against query using doc's body rather than the index,
// so doc need not be indexed yet. Query terms unknown to the dictionary
// contribute nothing.
func (s *Scorer) ScoreOne(ctx context.Context, doc news.Scorable, query news.Indexable, kind news.Kind) (Score, error) {
	defer s.observe("one", time.Now())

	result := Score{DocumentID: doc.DocumentID()}
	if doc.Length() == 0 {
		return result, nil
	}
	n, err := s.stats.Count(ctx, kind)
	if err != nil {
		return result, fmt.Errorf("counting %s: %w", kind, err)
	}
	docTF := indexer.GenerateTermFrequencyList(doc.Text())

	var sum float64
	for _, term := range indexer.GenerateTermList(query.Text()) {
		tf, ok := docTF[term]
		if !ok {
			continue
		}
		entry, ok, err := s.index.LookupTerm(ctx, kind, term)
		if err != nil {
			return result, fmt.Errorf("looking up %q: %w", term, err)
		}
		if !ok {
			continue
		}
		sum += TFIDF(tf, entry.DF, n)
	}
	result.Score = normalize(sum, doc.Length())
	return result, nil
}

// ScoreAll scores every document of kind that has a posting for at least one
// query term. Documents without such a posting are absent from the result.
// Results are ordered by descending score, then ascending document id.
func (s *Scorer) ScoreAll(ctx context.Context, kind news.Kind, query news.Indexable) ([]Score, error) {
	defer s.observe("all", time.Now())

	n, err := s.stats.Count(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("counting %s: %w", kind, err)
	}

	acc := make(map[int64]float64)
	for _, term := range indexer.GenerateTermList(query.Text()) {
		entry, ok, err := s.index.LookupTerm(ctx, kind, term)
		if err != nil {
			return nil, fmt.Errorf("looking up %q: %w", term, err)
		}
		if !ok {
			continue
		}
		list, ok, err := s.index.LookupPostings(ctx, kind, entry.ID)
		if err != nil {
			return nil, fmt.Errorf("reading postings of %q: %w", term, err)
		}
		if !ok {
			continue
		}
		for _, p := range list.Postings {
			acc[p.DocID] += TFIDF(p.TF, entry.DF, n)
		}
	}

	scores := make([]Score, 0, len(acc))
	for id, sum := range acc {
		length, ok, err := s.stats.EuclideanLength(ctx, kind, id)
		if err != nil {
			return nil, fmt.Errorf("reading length of %s %d: %w", kind, id, err)
		}
		if !ok {
			s.logger.Warn("posting references unknown document", "kind", kind, "doc_id", id)
		}
		scores = append(scores, Score{DocumentID: id, Score: normalize(sum, length)})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].DocumentID < scores[j].DocumentID
	})
	return scores, nil
}

func (s *Scorer) observe(mode string, start time.Time) {
	s.metrics.ScoringDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}
