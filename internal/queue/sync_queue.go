package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nft-syncer/internal/logging"
	"github.com/nft-syncer/internal/types"
)

// DefaultSyncQueueKey is the Redis list holding pending sync requests
const DefaultSyncQueueKey = "nftsyncer:sync:requests"

// ErrMalformedRequest is returned by Dequeue for a payload that is not a sync request.
// The payload has already been removed from the list.
var ErrMalformedRequest = errors.New("malformed sync request")

// RedisSyncQueue is a FIFO of sync requests on a Redis list (LPUSH in, BRPOP out)
type RedisSyncQueue struct {
	client *redis.Client
	key    string
	log    *logging.Logger
}

// NewRedisSyncQueue creates a queue on key, or DefaultSyncQueueKey when empty
func NewRedisSyncQueue(client *redis.Client, key string) *RedisSyncQueue {
	if key == "" {
		key = DefaultSyncQueueKey
	}
	return &RedisSyncQueue{
		client: client,
		key:    key,
		log:    logging.Component("queue").WithField("queue", key),
	}
}

// Dispatch enqueues the reconciliation of one logical transfer
func (q *RedisSyncQueue) Dispatch(ctx context.Context, t types.LogicalTransfer) error {
	return q.Enqueue(ctx, types.SyncRequest{
		ChainID:         t.ChainID,
		ContractAddress: t.ContractAddress,
		TokenID:         t.TokenID,
		FromAddress:     t.FromAddress,
		ToAddress:       t.ToAddress,
	})
}

// Enqueue pushes req, assigning it an id when it has none
func (q *RedisSyncQueue) Enqueue(ctx context.Context, req types.SyncRequest) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode sync request: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue sync request: %w", err)
	}
	return nil
}

// Dequeue blocks up to timeout for the oldest request. It returns nil, nil on timeout.
func (q *RedisSyncQueue) Dequeue(ctx context.Context, timeout time.Duration) (*types.SyncRequest, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BRPOP replies with [key, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of length %d", len(res))
	}

	var req types.SyncRequest
	if err := json.Unmarshal([]byte(res[1]), &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	return &req, nil
}

// Len returns the number of pending requests
func (q *RedisSyncQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Handler reconciles one sync request
type Handler interface {
	HandleSyncRequest(ctx context.Context, req types.SyncRequest) error
}

// Consumer drains a RedisSyncQueue with a pool of workers
type Consumer struct {
	queue       *RedisSyncQueue
	handler     Handler
	workers     int
	pollTimeout time.Duration
	log         *logging.Logger
}

// NewConsumer creates a consumer with workers goroutines
func NewConsumer(q *RedisSyncQueue, handler Handler, workers int) *Consumer {
	if workers <= 0 {
		workers = 4
	}
	return &Consumer{
		queue:       q,
		handler:     handler,
		workers:     workers,
		pollTimeout: 2 * time.Second,
		log:         logging.Component("queue").WithField("consumer", q.key),
	}
}

// Run processes requests until ctx is cancelled, then waits for in-flight requests
func (c *Consumer) Run(ctx context.Context) {
	c.log.WithField("workers", c.workers).Info("Sync consumer started")

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c.work(ctx, id)
		}(i)
	}
	wg.Wait()
	c.log.Info("Sync consumer stopped")
}

func (c *Consumer) work(ctx context.Context, id int) {
	log := c.log.WithField("worker", id)
	for ctx.Err() == nil {
		req, err := c.queue.Dequeue(ctx, c.pollTimeout)
		if errors.Is(err, ErrMalformedRequest) {
			log.WithError(err).Warn("Dropping sync request")
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("Dequeue failed")
			// back off so a broken connection does not spin
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if req == nil {
			continue
		}
		c.handle(ctx, log, *req)
	}
}

func (c *Consumer) handle(ctx context.Context, log *logging.Logger, req types.SyncRequest) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(map[string]interface{}{"requestId": req.ID, "panic": r}).Error("Sync handler panicked")
		}
	}()
	if err := c.handler.HandleSyncRequest(ctx, req); err != nil {
		log.WithError(err).WithFields(map[string]interface{}{
			"requestId": req.ID,
			"chainId":   req.ChainID.String(),
			"contract":  req.ContractAddress,
			"tokenId":   req.TokenID,
		}).Debug("Sync request not applied")
	}
}
