package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbeoliero/annotator/internal/queue"
)

type notice struct {
	JobId string `json:"job_id"`
}

func newTestRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestNotifier_FanOut(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	n := NewNotifier(rdb, "test", nil)
	q1 := queue.New(rdb, "test", "archive", time.Minute)
	q2 := queue.New(rdb, "test", "audit", time.Minute)

	require.NoError(t, n.Subscribe(ctx, "completion", q1))
	require.NoError(t, n.Subscribe(ctx, "completion", q2))
	// Re-subscribing is a no-op, not a double delivery.
	require.NoError(t, n.Subscribe(ctx, "completion", q1))

	require.NoError(t, n.Publish(ctx, "completion", &notice{JobId: "job-1"}))

	for _, q := range []*queue.Queue{q1, q2} {
		msgs, err := q.Receive(ctx, 10, 100*time.Millisecond)
		require.NoError(t, err)
		require.Len(t, msgs, 1, "queue %s", q.Name())

		got, err := queue.Decode[notice](msgs[0])
		require.NoError(t, err)
		assert.Equal(t, "job-1", got.JobId)
	}
}

func TestNotifier_NoSubscribers(t *testing.T) {
	rdb := newTestRedis(t)

	n := NewNotifier(rdb, "test", nil)
	assert.NoError(t, n.Publish(context.Background(), "orphan-topic", &notice{JobId: "job-1"}))
}

func TestNotifier_OnlySubscribedTopics(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	n := NewNotifier(rdb, "test", nil)
	q := queue.New(rdb, "test", "archive", time.Minute)
	require.NoError(t, n.Subscribe(ctx, "archive", q))

	require.NoError(t, n.Publish(ctx, "restore", &notice{JobId: "job-1"}))

	msgs, err := q.Receive(ctx, 1, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msgs)
}

func TestWebhookSender_Send(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhookSender(map[string]string{"completion": srv.URL})
	ctx := context.Background()

	require.NoError(t, w.Send(ctx, "completion", &notice{JobId: "job-1"}))
	require.NoError(t, w.Send(ctx, "unmapped-topic", &notice{JobId: "job-2"}), "topics without a target are skipped")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 1)
	assert.Contains(t, bodies[0], `"job-1"`)
}

func TestNotifier_WebhookFailureDoesNotFailPublish(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rdb := newTestRedis(t)
	ctx := context.Background()

	n := NewNotifier(rdb, "test", NewWebhookSender(map[string]string{"completion": srv.URL}))
	q := queue.New(rdb, "test", "notify", time.Minute)
	require.NoError(t, n.Subscribe(ctx, "completion", q))

	require.NoError(t, n.Publish(ctx, "completion", &notice{JobId: "job-1"}))

	msgs, err := q.Receive(ctx, 1, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, msgs, 1, "queue delivery unaffected by webhook failure")
}
