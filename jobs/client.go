package jobs

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
)

// Client enqueues authorization tasks for the worker.
type Client struct {
	client *asynq.Client
}

// NewClient connects lazily to the Redis behind redisOpts.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueMenuGrantDefault queues a default grant for a newly created menu.
// Retries outlast a short database outage.
func (c *Client) EnqueueMenuGrantDefault(ctx context.Context, payload MenuGrantDefaultPayload) (*asynq.TaskInfo, error) {
	task, err := NewMenuGrantDefaultTask(payload)
	if err != nil {
		return nil, err
	}
	return c.Enqueue(ctx, task, asynq.MaxRetry(5))
}

// EnqueueRulesAudit queues an on-demand rules audit.
func (c *Client) EnqueueRulesAudit(ctx context.Context, prune bool) (*asynq.TaskInfo, error) {
	task, err := NewRulesAuditTask(prune)
	if err != nil {
		return nil, err
	}
	return c.Enqueue(ctx, task, asynq.MaxRetry(3))
}

// Enqueue submits task on the default queue. opts may override the queue.
func (c *Client) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs: client not configured")
	}
	opts = append([]asynq.Option{asynq.Queue(QueueDefault)}, opts...)
	return c.client.EnqueueContext(ctx, task, opts...)
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Enqueuer is the part of Client used by DeferredGranter.
type Enqueuer interface {
	EnqueueMenuGrantDefault(ctx context.Context, payload MenuGrantDefaultPayload) (*asynq.TaskInfo, error)
}

// DeferredGranter queues default menu grants for the worker instead of
// applying them inline.
type DeferredGranter struct {
	Queue Enqueuer
	Role  string
}

// GrantDefault queues a grant of view on routeKey to the configured role.
func (g DeferredGranter) GrantDefault(ctx context.Context, routeKey string) error {
	if g.Queue == nil || g.Role == "" {
		return nil
	}
	_, err := g.Queue.EnqueueMenuGrantDefault(ctx, MenuGrantDefaultPayload{RouteKey: routeKey, Role: g.Role})
	return err
}
