// Package extract fetches the full text of an article URL from an HTTP
// text-extraction service.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/brendte/news-router/pkg/config"
	"github.com/brendte/news-router/pkg/resilience"
)

const maxResponseBytes = 8 << 20

// Response is the outcome of one extraction request that reached the
// service. Text is empty unless the service reported success.
type Response struct {
	StatusCode int
	Text       string
}

// OK reports whether the response carries a usable body.
func (r Response) OK() bool {
	return r.StatusCode == http.StatusOK && strings.TrimSpace(r.Text) != ""
}

type payload struct {
	Status     string `json:"status"`
	StatusInfo string `json:"statusInfo"`
	Text       string `json:"text"`
}

type Client struct {
	http     *http.Client
	endpoint string
	apiKey   string
	breaker  *resilience.CircuitBreaker
	logger   *slog.Logger
}

// New builds a Client. The per-request deadline comes from the caller's
// context; breaker may be nil.
func New(cfg config.CrawlerConfig, breaker *resilience.CircuitBreaker) *Client {
	return &Client{
		http:     &http.Client{},
		endpoint: cfg.ExtractionEndpoint,
		apiKey:   cfg.ExtractionAPIKey,
		breaker:  breaker,
		logger:   slog.Default().With("component", "extract"),
	}
}

var errServer = errors.New("extraction service error")

// FetchBody asks the service for the text of target. Transport failures,
// 5xx answers and an open breaker are returned as errors; any other answer
// is returned as a Response for the caller to judge.
func (c *Client) FetchBody(ctx context.Context, target string) (Response, error) {
	var resp Response
	call := func() error {
		r, err := c.do(ctx, target)
		resp = r
		return err
	}
	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}
	if errors.Is(err, errServer) {
		return resp, nil
	}
	return resp, err
}

func (c *Client) do(ctx context.Context, target string) (Response, error) {
	q := url.Values{}
	q.Set("apikey", c.apiKey)
	q.Set("outputMode", "json")
	q.Set("url", target)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return Response{}, fmt.Errorf("building extraction request: %w", err)
	}
	httpResp, err := c.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("calling extraction service: %w", err)
	}
	defer httpResp.Body.Close()

	resp := Response{StatusCode: httpResp.StatusCode}
	if httpResp.StatusCode >= http.StatusInternalServerError {
		_, _ = io.Copy(io.Discard, httpResp.Body)
		// counted by the breaker, surfaced to the caller as a plain bad status
		return resp, fmt.Errorf("%w: status %d", errServer, httpResp.StatusCode)
	}
	if httpResp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, httpResp.Body)
		return resp, nil
	}

	var p payload
	if err := json.NewDecoder(io.LimitReader(httpResp.Body, maxResponseBytes)).Decode(&p); err != nil {
		return Response{}, fmt.Errorf("decoding extraction response for %s: %w", target, err)
	}
	if p.Status != "" && !strings.EqualFold(p.Status, "OK") {
		c.logger.Debug("extraction refused", "url", target, "status", p.Status, "info", p.StatusInfo)
		return resp, nil
	}
	resp.Text = p.Text
	return resp, nil
}
