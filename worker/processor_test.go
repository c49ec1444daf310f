package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/connectivityfoundry/lwm2m-runtime/queue/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisQueueAdapterEnqueueRejectsWrongType(t *testing.T) {
	a := &RedisQueueAdapter{}
	err := a.Enqueue("not a redis.Job")
	require.Error(t, err)
}

func TestNotifyProcessorGetJobID(t *testing.T) {
	p := &NotifyProcessor{}
	job := redis.Job{ActionID: "urn:imei:123:req-9"}
	assert.Equal(t, "urn:imei:123:req-9", p.GetJobID(job))
	assert.Equal(t, "", p.GetJobID("wrong type"))
}

func TestNotifyProcessorGetTimeoutDefaultsWhenUnset(t *testing.T) {
	p := &NotifyProcessor{}
	assert.Equal(t, 10*time.Second, p.GetTimeout(redis.Job{}))

	withTimeout := &NotifyProcessor{Timeout: 2 * time.Second}
	assert.Equal(t, 2*time.Second, withTimeout.GetTimeout(redis.Job{}))
}

func TestNotifyProcessorProcessDelegatesToDeliver(t *testing.T) {
	var delivered redis.Job
	p := &NotifyProcessor{Deliver: func(ctx context.Context, job redis.Job) error {
		delivered = job
		return nil
	}}

	job := redis.Job{ActionID: "a1", WorkflowID: "urn:imei:123"}
	require.NoError(t, p.Process(context.Background(), job))
	assert.Equal(t, job, delivered)
}

func TestNotifyProcessorProcessSurfacesDeliverError(t *testing.T) {
	wantErr := errors.New("client unreachable")
	p := &NotifyProcessor{Deliver: func(ctx context.Context, job redis.Job) error {
		return wantErr
	}}

	err := p.Process(context.Background(), redis.Job{ActionID: "a1"})
	assert.Equal(t, wantErr, err)
}

func TestNotifyProcessorProcessRejectsWrongType(t *testing.T) {
	p := &NotifyProcessor{Deliver: func(ctx context.Context, job redis.Job) error { return nil }}
	err := p.Process(context.Background(), 42)
	require.Error(t, err)
}
