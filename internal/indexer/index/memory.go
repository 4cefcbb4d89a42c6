package index

import (
	"context"
	"strconv"
	"sync"

	"github.com/brendte/news-router/internal/news"
)

type memoryKind struct {
	dict     map[string]*Entry
	postings map[TermID]map[int64]int
	seq      int64
}

// MemoryStore keeps the index in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	kinds map[news.Kind]*memoryKind
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{kinds: make(map[news.Kind]*memoryKind)}
}

func (m *MemoryStore) kind(kind news.Kind) *memoryKind {
	k, ok := m.kinds[kind]
	if !ok {
		k = &memoryKind{
			dict:     make(map[string]*Entry),
			postings: make(map[TermID]map[int64]int),
		}
		m.kinds[kind] = k
	}
	return k
}

func (m *MemoryStore) UpsertTerm(_ context.Context, kind news.Kind, term string) (TermID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.kind(kind)
	if e, ok := k.dict[term]; ok {
		e.DF++
		return e.ID, nil
	}
	k.seq++
	e := &Entry{ID: TermID(strconv.FormatInt(k.seq, 10)), Term: term, DF: 1}
	k.dict[term] = e
	return e.ID, nil
}

func (m *MemoryStore) AppendPosting(_ context.Context, kind news.Kind, termID TermID, docID int64, tf int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.kind(kind)
	docs, ok := k.postings[termID]
	if !ok {
		docs = make(map[int64]int)
		k.postings[termID] = docs
	}
	docs[docID] = tf
	return nil
}

func (m *MemoryStore) HasPosting(_ context.Context, kind news.Kind, termID TermID, docID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.kinds[kind]
	if !ok {
		return false, nil
	}
	_, ok = k.postings[termID][docID]
	return ok, nil
}

func (m *MemoryStore) LookupTerm(_ context.Context, kind news.Kind, term string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.kinds[kind]
	if !ok {
		return Entry{}, false, nil
	}
	e, ok := k.dict[term]
	if !ok {
		return Entry{}, false, nil
	}
	return *e, true, nil
}

func (m *MemoryStore) LookupPostings(_ context.Context, kind news.Kind, termID TermID) (PostingList, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.kinds[kind]
	if !ok {
		return PostingList{}, false, nil
	}
	docs, ok := k.postings[termID]
	if !ok {
		return PostingList{}, false, nil
	}
	list := PostingList{TermID: termID, Postings: make([]Posting, 0, len(docs))}
	for docID, tf := range docs {
		list.Postings = append(list.Postings, Posting{DocID: docID, TF: tf})
	}
	sortPostings(list.Postings)
	return list, true, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
