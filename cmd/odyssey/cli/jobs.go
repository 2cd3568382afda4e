package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-authz/jobs"
)

// JobsCLI lets operators trigger and inspect authorization jobs.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI connects to the queue behind redisOpts.
func NewJobsCLI(redisOpts asynq.RedisClientOpt) *JobsCLI {
	return &JobsCLI{
		client:    jobs.NewClient(redisOpts),
		inspector: asynq.NewInspector(redisOpts),
	}
}

// Close releases the client and inspector connections.
func (c *JobsCLI) Close() error {
	return errors.Join(c.client.Close(), c.inspector.Close())
}

// Trigger enqueues a job by task type or short name. Only the rules audit
// runs on demand; prune removes orphaned policies instead of reporting them.
func (c *JobsCLI) Trigger(ctx context.Context, name string, prune bool) (*asynq.TaskInfo, error) {
	switch name {
	case jobs.TaskRulesAudit, "audit":
		return c.client.EnqueueRulesAudit(ctx, prune)
	default:
		return nil, fmt.Errorf("jobs cli: %q cannot be triggered by hand", name)
	}
}

// Stats reports the default queue.
func (c *JobsCLI) Stats() (jobs.QueueStats, error) {
	return jobs.Stats(c.inspector)
}

// Scheduled lists the next size tasks waiting in the default queue.
func (c *JobsCLI) Scheduled(size int) ([]*asynq.TaskInfo, error) {
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}
