package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestUserLockSerialisesSameUser(t *testing.T) {
	defer goleak.VerifyNone(t)
	locks := newUserLocks()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locks.Lock(context.Background(), "u1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, locks.len(), "idle users are forgotten")
}

func TestUserLockHonoursContext(t *testing.T) {
	locks := newUserLocks()
	unlock, err := locks.Lock(context.Background(), "u1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(ctx, "u1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := locks.Lock(context.Background(), "u2")
	require.NoError(t, err, "different users do not contend")
	other()

	unlock()
	assert.Zero(t, locks.len())
}
