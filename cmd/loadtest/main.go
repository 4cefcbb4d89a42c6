// Command loadtest drives a running newsrouter with concurrent scoring
// requests, optionally while cycles are being triggered, and prints latency
// and status-code statistics.
//
// Usage:
//
//	go run ./cmd/loadtest -queries 1,2,3 [-concurrency 10] [-duration 30s] [-cycles]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type target struct {
	method string
	path   string
}

type stats struct {
	total     atomic.Int64
	transport atomic.Int64

	mu        sync.Mutex
	latencies map[string][]time.Duration
	codes     map[int]int64
}

func newStats() *stats {
	return &stats{
		latencies: make(map[string][]time.Duration),
		codes:     make(map[int]int64),
	}
}

func (s *stats) record(kind string, d time.Duration, code int, err error) {
	s.total.Add(1)
	if err != nil {
		s.transport.Add(1)
		return
	}
	s.mu.Lock()
	s.latencies[kind] = append(s.latencies[kind], d)
	s.codes[code]++
	s.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the newsrouter API")
	concurrency := flag.Int("concurrency", 10, "number of concurrent scoring workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	queryList := flag.String("queries", "", "comma-separated query ids to score")
	cycles := flag.Bool("cycles", false, "trigger cycles back to back while scoring")
	flag.Parse()

	ids, err := parseIDs(*queryList)
	if err != nil || len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "error: -queries must list at least one query id")
		os.Exit(1)
	}

	fmt.Println("=== newsrouter load test ===")
	fmt.Printf("Target:      %s\n", *baseURL)
	fmt.Printf("Concurrency: %d\n", *concurrency)
	fmt.Printf("Duration:    %s\n", *duration)
	fmt.Printf("Queries:     %v\n", ids)
	fmt.Printf("Cycles:      %v\n\n", *cycles)

	client := &http.Client{
		Timeout: 10 * time.Minute,
		Transport: &http.Transport{
			MaxIdleConns:        *concurrency * 2,
			MaxIdleConnsPerHost: *concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	st := newStats()
	var wg sync.WaitGroup
	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; ctx.Err() == nil; i++ {
				id := ids[i%len(ids)]
				hit(ctx, client, *baseURL, target{http.MethodGet, fmt.Sprintf("/api/v1/queries/%d/scores?limit=10", id)}, "scores", st)
			}
		}(w)
	}
	if *cycles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				hit(ctx, client, *baseURL, target{http.MethodPost, "/api/v1/cycles"}, "cycles", st)
			}
		}()
	}
	wg.Wait()

	if !report(st, *duration) {
		os.Exit(1)
	}
}

func hit(ctx context.Context, client *http.Client, base string, t target, kind string, st *stats) {
	req, err := http.NewRequestWithContext(ctx, t.method, base+t.path, nil)
	if err != nil {
		panic(fmt.Sprintf("creating request: %v", err))
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			st.record(kind, 0, 0, err)
		}
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	st.record(kind, time.Since(start), resp.StatusCode, nil)
}

func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func report(st *stats, d time.Duration) bool {
	total := st.total.Load()
	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:   %d\n", total)
	fmt.Printf("Transport Errors: %d\n", st.transport.Load())
	if total == 0 {
		fmt.Println("\nWARNING: no requests completed. Is newsrouter running?")
		return false
	}
	fmt.Printf("Requests/sec:     %.2f\n", float64(total)/d.Seconds())

	st.mu.Lock()
	defer st.mu.Unlock()
	kinds := make([]string, 0, len(st.latencies))
	for k := range st.latencies {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		l := st.latencies[k]
		sort.Slice(l, func(i, j int) bool { return l[i] < l[j] })
		fmt.Printf("\n=== Latency: %s (%d) ===\n", k, len(l))
		fmt.Printf("P50: %s  P90: %s  P99: %s  Max: %s\n",
			percentile(l, 50), percentile(l, 90), percentile(l, 99), l[len(l)-1])
	}

	codes := make([]int, 0, len(st.codes))
	for c := range st.codes {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	fmt.Println("\n=== Status Codes ===")
	for _, c := range codes {
		// 409 is the expected answer to a cycle requested while one runs
		fmt.Printf("  %d: %d\n", c, st.codes[c])
	}
	return true
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
