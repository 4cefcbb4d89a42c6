// Package index holds the inverted index: a dictionary (term -> id, document
// frequency) and postings (term id -> document id -> term frequency), one
// pair per news.Kind. Stores are pure data access; the only logic they carry
// is the atomic find-or-create of dictionary entries.
package index

import (
	"context"
	"sort"

	"github.com/brendte/news-router/internal/news"
)

// TermID identifies a dictionary entry within one kind. It is opaque to
// callers and only meaningful to the store that issued it.
type TermID string

type Entry struct {
	ID   TermID
	Term string
	DF   int64
}

type Posting struct {
	DocID int64
	TF    int
}

type PostingList struct {
	TermID   TermID
	Postings []Posting
}

// Store is the contract the indexer and scorer depend on.
type Store interface {
	// UpsertTerm increments the term's document frequency, creating the
	// entry with df=1 when it does not exist. It must be atomic per term.
	UpsertTerm(ctx context.Context, kind news.Kind, term string) (TermID, error)
	// AppendPosting records tf for docID under termID. A second call for the
	// same (termID, docID) overwrites the earlier frequency.
	AppendPosting(ctx context.Context, kind news.Kind, termID TermID, docID int64, tf int) error
	// HasPosting reports whether docID is already recorded under termID.
	HasPosting(ctx context.Context, kind news.Kind, termID TermID, docID int64) (bool, error)
	LookupTerm(ctx context.Context, kind news.Kind, term string) (Entry, bool, error)
	LookupPostings(ctx context.Context, kind news.Kind, termID TermID) (PostingList, bool, error)
	Ping(ctx context.Context) error
	Close() error
}

func sortPostings(p []Posting) {
	sort.Slice(p, func(i, j int) bool { return p[i].DocID < p[j].DocID })
}
