package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/connectivityfoundry/lwm2m-runtime/queue/redis"
)

// RedisQueueAdapter boxes a *redis.Queue's typed Job values as interface{}
// so a cluster of server daemon instances can share the generic Pool
// machinery for draining each instance's notification-delivery queue.
type RedisQueueAdapter struct {
	Queue *redis.Queue
	// DequeueTimeout bounds each blocking Dequeue call.
	DequeueTimeout time.Duration
}

func (a *RedisQueueAdapter) Dequeue(queueName string, timeout time.Duration) (interface{}, error) {
	if a.DequeueTimeout > 0 {
		timeout = a.DequeueTimeout
	}
	job, err := a.Queue.Dequeue(queueName, timeout)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}
	return *job, nil
}

func (a *RedisQueueAdapter) Enqueue(job interface{}) error {
	j, ok := job.(redis.Job)
	if !ok {
		return fmt.Errorf("worker: RedisQueueAdapter.Enqueue got %T, want redis.Job", job)
	}
	return a.Queue.Enqueue(j)
}

func (a *RedisQueueAdapter) MarkProcessing(jobID string, deadline time.Time) error {
	return a.Queue.MarkProcessing(jobID, deadline)
}

func (a *RedisQueueAdapter) CompleteJob(jobID string) error {
	return a.Queue.CompleteJob(jobID)
}

func (a *RedisQueueAdapter) FailJob(jobID string, requeue bool, queueName string, retryCount int) error {
	return a.Queue.FailJob(jobID, requeue, queueName, retryCount)
}

// Deliver forwards one dequeued notification job to the client it targets.
// Implementations typically look up the live session for WorkflowID
// (the ClientID) by way of a session.Session or daemon.ClientRegistry and
// push the pending Observe notification over that session's Pipeline.
type Deliver func(ctx context.Context, job redis.Job) error

// NotifyProcessor is a JobProcessor that drains a server instance's own
// Redis notification queue and hands each Job to Deliver. A delivery
// failure is surfaced as an error; Pool then calls FailJob with requeue
// false, so the job is not retried.
type NotifyProcessor struct {
	Deliver Deliver
	Timeout time.Duration
}

func (p *NotifyProcessor) Process(ctx context.Context, job interface{}) error {
	j, ok := job.(redis.Job)
	if !ok {
		return fmt.Errorf("worker: NotifyProcessor.Process got %T, want redis.Job", job)
	}
	return p.Deliver(ctx, j)
}

func (p *NotifyProcessor) GetJobID(job interface{}) string {
	j, ok := job.(redis.Job)
	if !ok {
		return ""
	}
	return j.ActionID
}

func (p *NotifyProcessor) GetTimeout(job interface{}) time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return 10 * time.Second
}
