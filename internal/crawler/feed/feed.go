// Package feed fetches RSS 2.0 and Atom feeds and turns their entries into
// news.Items with HTML stripped from titles and summaries.
package feed

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/brendte/news-router/internal/news"
	"github.com/brendte/news-router/pkg/config"
)

// Result is one poll of a feed. NotModified is set when the server answered
// a conditional request with 304; Items is then empty.
type Result struct {
	Items       []news.Item
	ETag        string
	NotModified bool
}

// maxFeedBytes caps how much of a feed body is read.
const maxFeedBytes = 8 << 20

type Source struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
	logger    *slog.Logger
}

func NewSource(cfg config.CrawlerConfig) *Source {
	return &Source{
		client:    &http.Client{Timeout: cfg.FeedTimeout},
		userAgent: cfg.UserAgent,
		maxBytes:  maxFeedBytes,
		logger:    slog.Default().With("component", "feed-source"),
	}
}

// Fetch polls f, sending its stored ETag so unchanged feeds cost one 304.
func (s *Source) Fetch(ctx context.Context, f news.Feed) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("building request for %s: %w", f.URL, err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	if f.ETag != "" {
		req.Header.Set("If-None-Match", f.ETag)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("fetching feed %s: %w", f.URL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return Result{ETag: f.ETag, NotModified: true}, nil
	case resp.StatusCode != http.StatusOK:
		return Result{}, fmt.Errorf("fetching feed %s: unexpected status %d", f.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return Result{}, fmt.Errorf("reading feed %s: %w", f.URL, err)
	}
	if int64(len(body)) > s.maxBytes {
		return Result{}, fmt.Errorf("feed %s exceeds %d bytes", f.URL, s.maxBytes)
	}
	items, err := Parse(bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("parsing feed %s: %w", f.URL, err)
	}
	s.logger.Debug("feed fetched", "feed_url", f.URL, "items", len(items))
	return Result{Items: items, ETag: resp.Header.Get("ETag")}, nil
}

type document struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
	Entries []atomEntry `xml:"entry"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Description string `xml:"description"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	PubDate     string `xml:"pubDate"`
	Date        string `xml:"http://purl.org/dc/elements/1.1/ date"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

type atomEntry struct {
	Title     string     `xml:"title"`
	Summary   string     `xml:"summary"`
	Content   string     `xml:"content"`
	Links     []atomLink `xml:"link"`
	ID        string     `xml:"id"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
}

// Parse decodes an RSS 2.0 or Atom document. Items are returned as found;
// completeness is the caller's concern.
func Parse(r io.Reader) ([]news.Item, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	dec.Strict = false

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}

	items := make([]news.Item, 0, len(doc.Channel.Items)+len(doc.Entries))
	for _, it := range doc.Channel.Items {
		date := it.PubDate
		if date == "" {
			date = it.Date
		}
		items = append(items, news.Item{
			Title:       StripHTML(it.Title),
			Summary:     StripHTML(it.Description),
			URL:         strings.TrimSpace(it.Link),
			ExternalID:  strings.TrimSpace(it.GUID),
			PublishedAt: parseDate(date),
		})
	}
	for _, e := range doc.Entries {
		summary := e.Summary
		if strings.TrimSpace(summary) == "" {
			summary = e.Content
		}
		date := e.Published
		if date == "" {
			date = e.Updated
		}
		items = append(items, news.Item{
			Title:       StripHTML(e.Title),
			Summary:     StripHTML(summary),
			URL:         alternateLink(e.Links),
			ExternalID:  strings.TrimSpace(e.ID),
			PublishedAt: parseDate(date),
		})
	}
	return items, nil
}

func alternateLink(links []atomLink) string {
	for _, l := range links {
		if l.Rel == "" || l.Rel == "alternate" {
			return strings.TrimSpace(l.Href)
		}
	}
	if len(links) > 0 {
		return strings.TrimSpace(links[0].Href)
	}
	return ""
}

var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	time.RFC3339Nano,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	time.RFC822Z,
	time.RFC822,
}

// parseDate returns the zero time when no layout matches, which marks the
// item incomplete.
func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// StripHTML returns the text content of an HTML fragment with entities
// decoded and whitespace collapsed.
func StripHTML(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.Join(strings.Fields(fragment), " ")
	}
	z := html.NewTokenizer(strings.NewReader(fragment))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken:
			if name, _ := z.TagName(); isInvisible(name) {
				skip++
			}
			b.WriteByte(' ')
		case html.EndTagToken:
			if name, _ := z.TagName(); isInvisible(name) && skip > 0 {
				skip--
			}
			b.WriteByte(' ')
		case html.SelfClosingTagToken:
			b.WriteByte(' ')
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func isInvisible(tag []byte) bool {
	switch string(tag) {
	case "script", "style":
		return true
	}
	return false
}
