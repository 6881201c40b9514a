package main

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/invoicedesk/invoicedesk/jobs"
)

// taskFor builds a manually triggerable task by name.
func taskFor(name string) (*asynq.Task, error) {
	switch name {
	case jobs.TaskIdempotencyCleanup:
		return jobs.NewIdempotencyCleanupTask(jobs.DefaultKeyRetention)
	default:
		return nil, fmt.Errorf("worker: unsupported job %q", name)
	}
}

func trigger(ctx context.Context, opts asynq.RedisClientOpt, name string) (*asynq.TaskInfo, error) {
	task, err := taskFor(name)
	if err != nil {
		return nil, err
	}
	client := asynq.NewClient(opts)
	defer client.Close()
	return client.EnqueueContext(ctx, task, asynq.MaxRetry(1))
}
