package queries

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brendte/news-router/internal/news"
	"github.com/brendte/news-router/internal/pipeline"
	"github.com/brendte/news-router/internal/router"
	apperrors "github.com/brendte/news-router/pkg/errors"
	"github.com/brendte/news-router/pkg/kafka"
	"github.com/brendte/news-router/pkg/metrics"
)

type memRepo struct {
	users   map[int64]bool
	queries []news.Query
}

func (r *memRepo) UserExists(_ context.Context, id int64) (bool, error) {
	return r.users[id], nil
}

func (r *memRepo) CreateQuery(_ context.Context, q news.Query) (news.Query, error) {
	q.ID = int64(len(r.queries) + 1)
	r.queries = append(r.queries, q)
	return q, nil
}

type recordingAnnouncer struct {
	got []news.Query
	err error
}

func (a *recordingAnnouncer) Announce(_ context.Context, q news.Query) error {
	a.got = append(a.got, q)
	return a.err
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		req    Request
		fields []string
	}{
		{"valid", Request{UserID: 1, Body: "rates"}, nil},
		{"blank body", Request{UserID: 1, Body: "  \n"}, []string{"body"}},
		{"long body", Request{UserID: 1, Body: strings.Repeat("a", maxBodyLength+1)}, []string{"body"}},
		{"missing user", Request{Body: "rates"}, []string{"user_id"}},
		{"negative threshold", Request{UserID: 1, Body: "rates", Threshold: -0.2}, []string{"threshold"}},
		{"everything wrong", Request{Threshold: -1}, []string{"body", "threshold", "user_id"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.req)
			if tt.fields == nil {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			for _, f := range tt.fields {
				assert.Contains(t, verr.Fields, f)
			}
			assert.Len(t, verr.Fields, len(tt.fields))
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}

func TestValidationError_MessageIsStable(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"user_id": "u", "body": "b"}}
	assert.Equal(t, "body:b; user_id:u", err.Error())
}

func TestCreate_StoresClampsAndAnnounces(t *testing.T) {
	repo := &memRepo{users: map[int64]bool{3: true}}
	ann := &recordingAnnouncer{}
	m := metrics.NewNop()
	svc := NewService(repo, ann, m)

	q, err := svc.Create(context.Background(), Request{UserID: 3, Body: "  interest rates ", Threshold: 4})
	require.NoError(t, err)
	assert.Equal(t, int64(1), q.ID)
	assert.Equal(t, "interest rates", q.Body)
	assert.Equal(t, news.MaxThreshold, q.Threshold)
	require.Len(t, ann.got, 1)
	assert.Equal(t, q.ID, ann.got[0].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueriesCreatedTotal))

	q, err = svc.Create(context.Background(), Request{UserID: 3, Body: "markets"})
	require.NoError(t, err)
	assert.Zero(t, q.Threshold)
	assert.Equal(t, news.DefaultThreshold, q.EffectiveThreshold())
}

func TestCreate_UnknownUser(t *testing.T) {
	repo := &memRepo{users: map[int64]bool{}}
	svc := NewService(repo, nil, metrics.NewNop())

	_, err := svc.Create(context.Background(), Request{UserID: 9, Body: "rates"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Empty(t, repo.queries)
}

func TestCreate_AnnounceFailureIsNotFatal(t *testing.T) {
	repo := &memRepo{users: map[int64]bool{1: true}}
	svc := NewService(repo, &recordingAnnouncer{err: errors.New("broker down")}, metrics.NewNop())

	q, err := svc.Create(context.Background(), Request{UserID: 1, Body: "rates"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), q.ID)
	assert.Len(t, repo.queries, 1)
}

type capturePublisher struct{ events []kafka.Event }

func (p *capturePublisher) Publish(_ context.Context, e kafka.Event) error {
	p.events = append(p.events, e)
	return nil
}

func TestKafkaAnnouncer_PublishesKeyedEvent(t *testing.T) {
	pub := &capturePublisher{}
	require.NoError(t, NewKafkaAnnouncer(pub).Announce(context.Background(), news.Query{ID: 12, UserID: 4}))

	require.Len(t, pub.events, 1)
	assert.Equal(t, "4", pub.events[0].Key)
	raw, err := json.Marshal(pub.events[0].Value)
	require.NoError(t, err)
	event, err := kafka.DecodeJSON[pipeline.QueryCreatedEvent](raw)
	require.NoError(t, err)
	assert.Equal(t, int64(12), event.QueryID)
	assert.False(t, event.CreatedAt.IsZero())
}

type routerFunc func(ctx context.Context, id int64) (router.Result, error)

func (f routerFunc) OnQueryCreated(ctx context.Context, id int64) (router.Result, error) {
	return f(ctx, id)
}

func TestInlineAnnouncer_RoutesInBackground(t *testing.T) {
	var routed int64
	a := NewInlineAnnouncer(routerFunc(func(_ context.Context, id int64) (router.Result, error) {
		routed = id
		return router.Result{}, nil
	}))
	require.NoError(t, a.Announce(context.Background(), news.Query{ID: 5}))
	a.Wait()
	assert.Equal(t, int64(5), routed)
}

func TestInlineAnnouncer_OutlivesCallerContext(t *testing.T) {
	release := make(chan struct{})
	var routeErr error
	a := NewInlineAnnouncer(routerFunc(func(ctx context.Context, _ int64) (router.Result, error) {
		<-release
		routeErr = ctx.Err()
		return router.Result{}, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Announce(ctx, news.Query{ID: 5}))
	cancel()
	close(release)
	a.Wait()
	assert.NoError(t, routeErr, "routing must not see the request's cancellation")
}
