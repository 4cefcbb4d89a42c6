// Package api serves the HTTP surface: triggering cycles, creating users and
// standing queries, and inspecting how a query scores against the corpus.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/brendte/news-router/internal/news"
	"github.com/brendte/news-router/internal/pipeline"
	"github.com/brendte/news-router/internal/queries"
	"github.com/brendte/news-router/internal/router"
	"github.com/brendte/news-router/internal/scorer"
	apperrors "github.com/brendte/news-router/pkg/errors"
	"github.com/brendte/news-router/pkg/logger"
)

type Pipeline interface {
	RunCycle(ctx context.Context) (pipeline.Report, error)
	OnQueryCreated(ctx context.Context, queryID int64) (router.Result, error)
}

type QueryService interface {
	Create(ctx context.Context, req queries.Request) (news.Query, error)
}

type Store interface {
	QueryByID(ctx context.Context, id int64) (news.Query, error)
	CreateUser(ctx context.Context, email string) (news.User, error)
	UserExists(ctx context.Context, id int64) (bool, error)
	DeliveredArticleIDs(ctx context.Context, userID int64) ([]int64, error)
}

type Scorer interface {
	ScoreAll(ctx context.Context, kind news.Kind, query news.Indexable) ([]scorer.Score, error)
}

const (
	defaultScoreLimit = 20
	maxScoreLimit     = 200
)

type Handler struct {
	pipeline  Pipeline
	queries   QueryService
	store     Store
	scorer    Scorer
	threshold float64
	logger    *slog.Logger
}

// NewHandler builds the API handlers. defaultThreshold is reported for
// queries without their own threshold.
func NewHandler(p Pipeline, q QueryService, s Store, sc Scorer, defaultThreshold float64) *Handler {
	if defaultThreshold <= 0 {
		defaultThreshold = news.DefaultThreshold
	}
	return &Handler{
		pipeline:  p,
		queries:   q,
		store:     s,
		scorer:    sc,
		threshold: defaultThreshold,
		logger:    slog.Default().With("component", "api"),
	}
}

// RunCycle runs a crawl-index-route cycle and returns its report. The cycle
// is not aborted when the client goes away.
func (h *Handler) RunCycle(w http.ResponseWriter, r *http.Request) {
	report, err := h.pipeline.RunCycle(context.WithoutCancel(r.Context()))
	if err != nil {
		h.fail(w, r, "cycle failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": map[string]string{"email": "a valid email is required"},
		})
		return
	}
	u, err := h.store.CreateUser(r.Context(), email)
	if err != nil {
		h.fail(w, r, "creating user failed", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, u)
}

// Deliveries lists the ids of the articles routed to a user.
func (h *Handler) Deliveries(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	exists, err := h.store.UserExists(r.Context(), id)
	if err != nil {
		h.fail(w, r, "loading user failed", err)
		return
	}
	if !exists {
		h.writeError(w, http.StatusNotFound, "user not found")
		return
	}
	ids, err := h.store.DeliveredArticleIDs(r.Context(), id)
	if err != nil {
		h.fail(w, r, "listing deliveries failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     id,
		"article_ids": ids,
		"count":       len(ids),
	})
}

// CreateQuery stores a standing query; existing articles are routed against
// it as soon as it is announced.
func (h *Handler) CreateQuery(w http.ResponseWriter, r *http.Request) {
	var req queries.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	q, err := h.queries.Create(r.Context(), req)
	if err != nil {
		var verr *queries.ValidationError
		if errors.As(err, &verr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": verr.Fields,
			})
			return
		}
		h.fail(w, r, "creating query failed", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, q)
}

func (h *Handler) GetQuery(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	q, err := h.store.QueryByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, "loading query failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, q)
}

// RouteQuery re-runs routing of every article against an existing query.
// Deliveries already made are not repeated.
func (h *Handler) RouteQuery(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	res, err := h.pipeline.OnQueryCreated(r.Context(), id)
	if err != nil {
		h.fail(w, r, "routing query failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// QueryScores ranks indexed articles against a query, best first.
func (h *Handler) QueryScores(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	limit := defaultScoreLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= maxScoreLimit {
			limit = parsed
		}
	}

	q, err := h.store.QueryByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, "loading query failed", err)
		return
	}
	scores, err := h.scorer.ScoreAll(r.Context(), news.KindArticles, q)
	if err != nil {
		h.fail(w, r, "scoring query failed", err)
		return
	}
	total := len(scores)
	if len(scores) > limit {
		scores = scores[:limit]
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"query_id":  id,
		"threshold": q.ThresholdOr(h.threshold),
		"scores":    scores,
		"count":     len(scores),
		"total":     total,
	})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error(msg, "error", err, "status_code", status)
		h.writeError(w, status, msg)
		return
	}
	log.Info(msg, "error", err, "status_code", status)
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
