package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nft-syncer/internal/types"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestTaskQueue_RunsSubmittedTasks(t *testing.T) {
	q := NewTaskQueue("traits", 16, 3)
	q.Start(context.Background())

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.True(t, q.Submit(func(context.Context) { ran.Add(1) }))
	}
	q.Stop()

	assert.Equal(t, int32(10), ran.Load())
	assert.False(t, q.Submit(func(context.Context) {}))
}

func TestTaskQueue_DropsWhenFull(t *testing.T) {
	q := NewTaskQueue("traits", 1, 1)
	release := make(chan struct{})
	started := make(chan struct{})
	q.Start(context.Background())

	require.True(t, q.Submit(func(context.Context) {
		close(started)
		<-release
	}))
	<-started

	require.True(t, q.Submit(func(context.Context) {}))
	assert.False(t, q.Submit(func(context.Context) {}))

	close(release)
	q.Stop()
}

func TestTaskQueue_RecoversPanics(t *testing.T) {
	q := NewTaskQueue("traits", 4, 1)
	q.Start(context.Background())

	var ran atomic.Bool
	q.Submit(func(context.Context) { panic("boom") })
	q.Submit(func(context.Context) { ran.Store(true) })
	q.Stop()

	assert.True(t, ran.Load())
}

func TestRedisSyncQueue_FIFO(t *testing.T) {
	_, client := setupRedis(t)
	q := NewRedisSyncQueue(client, "")
	ctx := context.Background()

	require.NoError(t, q.Dispatch(ctx, types.LogicalTransfer{
		ChainID: types.ChainEthereum, ContractAddress: "0xc", TokenID: "1", FromAddress: "0xa", ToAddress: "0xb",
	}))
	require.NoError(t, q.Enqueue(ctx, types.SyncRequest{ID: "fixed", ChainID: types.ChainPolygon, ContractAddress: "0xd", TokenID: "2"}))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	first, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "0xa", first.FromAddress)
	assert.Equal(t, "0xb", first.ToAddress)

	second, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "fixed", second.ID)
	assert.Equal(t, types.ChainPolygon, second.ChainID)
}

func TestRedisSyncQueue_MalformedPayload(t *testing.T) {
	mr, client := setupRedis(t)
	q := NewRedisSyncQueue(client, "q")
	_, err := mr.Lpush("q", "not json")
	require.NoError(t, err)

	_, err = q.Dequeue(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrMalformedRequest)
}

type recordingHandler struct {
	mu   sync.Mutex
	seen []types.SyncRequest
	done chan struct{}
	want int
}

func (h *recordingHandler) HandleSyncRequest(_ context.Context, req types.SyncRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, req)
	if len(h.seen) == h.want {
		close(h.done)
	}
	return nil
}

func TestConsumer_DrainsQueue(t *testing.T) {
	mr, client := setupRedis(t)
	q := NewRedisSyncQueue(client, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, types.SyncRequest{ChainID: types.ChainEthereum, ContractAddress: "0xc", TokenID: "1"}))
	}
	_, err := mr.Lpush(DefaultSyncQueueKey, "garbage")
	require.NoError(t, err)

	h := &recordingHandler{done: make(chan struct{}), want: 5}
	c := NewConsumer(q, h, 2)
	c.pollTimeout = 100 * time.Millisecond

	stopped := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(stopped)
	}()

	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not drain the queue")
	}
	cancel()
	<-stopped

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Len(t, h.seen, 5)
}
