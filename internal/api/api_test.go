package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brendte/news-router/internal/news"
	"github.com/brendte/news-router/internal/pipeline"
	"github.com/brendte/news-router/internal/queries"
	"github.com/brendte/news-router/internal/router"
	"github.com/brendte/news-router/internal/scorer"
	apperrors "github.com/brendte/news-router/pkg/errors"
	"github.com/brendte/news-router/pkg/health"
	"github.com/brendte/news-router/pkg/metrics"
)

type fakePipeline struct {
	cycleErr  error
	routed    []int64
	routeErr  error
	cycleDone bool
}

func (f *fakePipeline) RunCycle(context.Context) (pipeline.Report, error) {
	if f.cycleErr != nil {
		return pipeline.Report{}, f.cycleErr
	}
	f.cycleDone = true
	return pipeline.Report{CycleID: "c-1", Route: router.Result{Articles: 4, Deliveries: 2}}, nil
}

func (f *fakePipeline) OnQueryCreated(_ context.Context, id int64) (router.Result, error) {
	f.routed = append(f.routed, id)
	return router.Result{Articles: 4, Deliveries: 1}, f.routeErr
}

type fakeQueries struct{}

func (fakeQueries) Create(_ context.Context, req queries.Request) (news.Query, error) {
	if err := queries.Validate(&req); err != nil {
		return news.Query{}, err
	}
	return news.Query{ID: 10, UserID: req.UserID, Body: req.Body, Threshold: news.ClampThreshold(req.Threshold)}, nil
}

type fakeStore struct {
	queries map[int64]news.Query
	users   map[int64][]int64
	err     error
}

func (s *fakeStore) QueryByID(_ context.Context, id int64) (news.Query, error) {
	if s.err != nil {
		return news.Query{}, s.err
	}
	q, ok := s.queries[id]
	if !ok {
		return news.Query{}, apperrors.ErrQueryNotFound
	}
	return q, nil
}

func (s *fakeStore) CreateUser(_ context.Context, email string) (news.User, error) {
	return news.User{ID: 1, Email: email}, nil
}

func (s *fakeStore) UserExists(_ context.Context, id int64) (bool, error) {
	_, ok := s.users[id]
	return ok, nil
}

func (s *fakeStore) DeliveredArticleIDs(_ context.Context, id int64) ([]int64, error) {
	return s.users[id], nil
}

type fakeScorer struct{ n int }

func (f fakeScorer) ScoreAll(context.Context, news.Kind, news.Indexable) ([]scorer.Score, error) {
	out := make([]scorer.Score, f.n)
	for i := range out {
		out[i] = scorer.Score{DocumentID: int64(i + 1), Score: 1 / float64(i+1)}
	}
	return out, nil
}

func newServer(t *testing.T, p *fakePipeline, st *fakeStore) *httptest.Server {
	t.Helper()
	h := NewHandler(p, fakeQueries{}, st, fakeScorer{n: 30}, 0.3)
	srv := httptest.NewServer(NewRouter(h, health.NewChecker(), metrics.NewNop(), time.Second))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestRunCycle(t *testing.T) {
	p := &fakePipeline{}
	srv := newServer(t, p, &fakeStore{})

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/cycles", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "c-1", body["cycle_id"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	p.cycleErr = apperrors.ErrCycleInProgress
	resp, body = do(t, http.MethodPost, srv.URL+"/api/v1/cycles", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body["error"], "already in progress")

	p.cycleErr = errors.New("disk on fire")
	resp, body = do(t, http.MethodPost, srv.URL+"/api/v1/cycles", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "cycle failed", body["error"])
}

func TestCreateQuery(t *testing.T) {
	srv := newServer(t, &fakePipeline{}, &fakeStore{})

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/queries", `{"user_id":3,"body":"rates","threshold":0.05}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(10), body["id"])
	assert.Equal(t, news.MinThreshold, body["threshold"])

	resp, body = do(t, http.MethodPost, srv.URL+"/api/v1/queries", `{"user_id":3,"body":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["fields"], "body")

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/v1/queries", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetAndRouteQuery(t *testing.T) {
	p := &fakePipeline{}
	st := &fakeStore{queries: map[int64]news.Query{7: {ID: 7, UserID: 1, Body: "rates"}}}
	srv := newServer(t, p, st)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/queries/7", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rates", body["body"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/queries/8", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/queries/abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodPost, srv.URL+"/api/v1/queries/7/route", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["deliveries"])
	assert.Equal(t, []int64{7}, p.routed)
}

func TestQueryScores(t *testing.T) {
	st := &fakeStore{queries: map[int64]news.Query{7: {ID: 7, Body: "rates"}}}
	srv := newServer(t, &fakePipeline{}, st)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/queries/7/scores", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(defaultScoreLimit), body["count"])
	assert.Equal(t, float64(30), body["total"])
	assert.Equal(t, 0.3, body["threshold"], "unset thresholds report the configured default")

	_, body = do(t, http.MethodGet, srv.URL+"/api/v1/queries/7/scores?limit=5", "")
	assert.Equal(t, float64(5), body["count"])
}

func TestUsersAndDeliveries(t *testing.T) {
	st := &fakeStore{users: map[int64][]int64{1: {4, 9}}}
	srv := newServer(t, &fakePipeline{}, st)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/users", `{"email":"a@example.com"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "a@example.com", body["email"])

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/v1/users", `{"email":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/users/1/deliveries", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["count"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/users/2/deliveries", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthRoutes(t *testing.T) {
	srv := newServer(t, &fakePipeline{}, &fakeStore{})
	resp, body := do(t, http.MethodGet, srv.URL+"/health/live", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alive", body["status"])
}
