package engine

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestWorkerPoolDrainProcessesQueuedJobs(t *testing.T) {
	defer goleak.VerifyNone(t)

	var n atomic.Int64
	p := newWorkerPool(context.Background(), 3, 100, func(_ context.Context, v int) {
		n.Add(int64(v))
	})
	for i := 1; i <= 10; i++ {
		assert.True(t, p.Submit(i))
	}
	p.Drain()
	assert.Equal(t, int64(55), n.Load())
	assert.False(t, p.Submit(1), "drained pool rejects work")
	p.Drain()
}

func TestWorkerPoolRejectsWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	p := newWorkerPool(context.Background(), 1, 1, func(_ context.Context, _ int) {
		started <- struct{}{}
		<-block
	})
	assert.True(t, p.Submit(1))
	<-started
	assert.True(t, p.Submit(2))
	assert.False(t, p.Submit(3))
	assert.Equal(t, 1, p.QueueLen())
	assert.Equal(t, 1, p.QueueCap())

	close(block)
	p.Drain()
}
