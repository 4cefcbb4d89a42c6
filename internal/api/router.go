package api

import (
	"net/http"
	"time"

	"github.com/brendte/news-router/pkg/health"
	"github.com/brendte/news-router/pkg/metrics"
	"github.com/brendte/news-router/pkg/middleware"
)

// NewRouter builds the HTTP handler.
//
// Route table:
//
//	POST   /api/v1/cycles                  → run a crawl-index-route cycle
//	POST   /api/v1/users                   → create user
//	GET    /api/v1/users/{id}/deliveries   → articles routed to a user
//	POST   /api/v1/queries                 → create standing query
//	GET    /api/v1/queries/{id}            → get query
//	POST   /api/v1/queries/{id}/route      → route all articles against query
//	GET    /api/v1/queries/{id}/scores     → rank articles against query
//	GET    /health/live, /health/ready     → liveness and readiness
//
// Middleware chain (outermost first):
//
//	RequestID → Metrics → mux
//
// Everything except cycles runs under requestTimeout.
func NewRouter(h *Handler, checker *health.Checker, m *metrics.Metrics, requestTimeout time.Duration) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	mux.HandleFunc("POST /api/v1/cycles", h.RunCycle)

	timed := func(fn http.HandlerFunc) http.Handler {
		if requestTimeout <= 0 {
			return fn
		}
		return middleware.Timeout(requestTimeout)(fn)
	}
	mux.Handle("POST /api/v1/users", timed(h.CreateUser))
	mux.Handle("GET /api/v1/users/{id}/deliveries", timed(h.Deliveries))
	mux.Handle("POST /api/v1/queries", timed(h.CreateQuery))
	mux.Handle("GET /api/v1/queries/{id}", timed(h.GetQuery))
	mux.Handle("POST /api/v1/queries/{id}/route", timed(h.RouteQuery))
	mux.Handle("GET /api/v1/queries/{id}/scores", timed(h.QueryScores))

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)
	return chain
}
