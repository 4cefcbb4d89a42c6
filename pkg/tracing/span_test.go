package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStart_BuildsTree(t *testing.T) {
	ctx, root := Start(context.Background(), "cycle", "trace-1")
	assert.Same(t, root, FromContext(ctx))

	_, crawl := Start(ctx, "crawl", "ignored")
	time.Sleep(2 * time.Millisecond)
	crawl.SetAttr("articles", 3)
	crawl.End()
	_, index := Start(ctx, "index", "")
	index.End()
	root.End()

	assert.Equal(t, "trace-1", crawl.TraceID)
	require.Len(t, root.Children, 2)
	d := root.Durations()
	assert.GreaterOrEqual(t, d["crawl"], 2*time.Millisecond)
	assert.Contains(t, d, "index")
	assert.GreaterOrEqual(t, root.Duration, d["crawl"])
}

func TestFromContext_Empty(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
}

func TestLog_WritesEverySpan(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx, root := Start(context.Background(), "cycle", "t")
	_, child := Start(ctx, "route", "")
	child.SetAttr("deliveries", 2)
	child.End()
	root.End()
	root.Log(logger)

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "msg=span"))
	assert.Contains(t, out, "span=route")
	assert.Contains(t, out, "deliveries=2")
	assert.Contains(t, out, "depth=1")
}
