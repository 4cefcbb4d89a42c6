// Package news defines the domain types shared by the crawler, indexer,
// scorer and router.
package news

import (
	"strings"
	"time"
)

// Kind names one logical inverted index. Each indexable resource type gets
// its own dictionary and postings.
type Kind string

const (
	KindArticles Kind = "articles"
	KindQueries  Kind = "queries"
)

const (
	DefaultThreshold = 0.5
	MinThreshold     = 0.1
	MaxThreshold     = 1.0
)

// Indexable is anything whose body can be tokenized into the index.
type Indexable interface {
	DocumentID() int64
	Text() string
}

// Scorable is an Indexable with a stored euclidean length.
type Scorable interface {
	Indexable
	Length() float64
}

type Article struct {
	ID              int64     `json:"id"`
	FeedEntryID     int64     `json:"feed_entry_id,omitempty"`
	Title           string    `json:"title"`
	URL             string    `json:"url"`
	Body            string    `json:"body"`
	Indexed         bool      `json:"indexed"`
	EuclideanLength float64   `json:"euclidean_length"`
	Routed          bool      `json:"routed"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (a Article) DocumentID() int64 { return a.ID }
func (a Article) Text() string      { return a.Body }
func (a Article) Length() float64   { return a.EuclideanLength }

// Query is a user's standing free-text query. A zero Threshold means unset.
// Routed is set once every article that existed when the query was created
// has been evaluated against it.
type Query struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user_id"`
	Body            string    `json:"body"`
	Threshold       float64   `json:"threshold"`
	Indexed         bool      `json:"indexed"`
	EuclideanLength float64   `json:"euclidean_length"`
	Routed          bool      `json:"routed"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (q Query) DocumentID() int64 { return q.ID }
func (q Query) Text() string      { return q.Body }
func (q Query) Length() float64   { return q.EuclideanLength }

// EffectiveThreshold is the score a document must reach to be routed to the
// query's owner under the built-in default.
func (q Query) EffectiveThreshold() float64 {
	return q.ThresholdOr(DefaultThreshold)
}

// ThresholdOr returns the query's own threshold, or def when it is unset.
func (q Query) ThresholdOr(def float64) float64 {
	if q.Threshold <= 0 {
		return def
	}
	return q.Threshold
}

// ClampThreshold pins t into [MinThreshold, MaxThreshold]. Zero stays zero
// so an unset threshold keeps following DefaultThreshold.
func ClampThreshold(t float64) float64 {
	switch {
	case t == 0:
		return 0
	case t < MinThreshold:
		return MinThreshold
	case t > MaxThreshold:
		return MaxThreshold
	default:
		return t
	}
}

type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

type Feed struct {
	ID   int64  `json:"id"`
	URL  string `json:"feed_url"`
	ETag string `json:"etag,omitempty"`
}

// FeedEntry is a stored item of a feed. GUID is derived from the item's
// source id and is unique across all feeds.
type FeedEntry struct {
	ID          int64     `json:"id"`
	FeedID      int64     `json:"feed_id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	URL         string    `json:"url"`
	GUID        string    `json:"guid"`
	PublishedAt time.Time `json:"published_at"`
	Fetched     bool      `json:"fetched"`
	ArticleID   int64     `json:"article_id,omitempty"`
}

// Item is one entry as yielded by a feed source, already HTML-stripped.
type Item struct {
	Title       string
	Summary     string
	URL         string
	ExternalID  string
	PublishedAt time.Time
}

// Complete reports whether every field needed to store the item is present.
func (i Item) Complete() bool {
	return strings.TrimSpace(i.Title) != "" &&
		strings.TrimSpace(i.Summary) != "" &&
		strings.TrimSpace(i.URL) != "" &&
		strings.TrimSpace(i.ExternalID) != "" &&
		!i.PublishedAt.IsZero()
}
