//go:build integration

package lock

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyvault/pkg/testutil/containers"
)

func TestRedisLockerAgainstRedis(t *testing.T) {
	client := containers.NewRedis(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Two lockers on one server stand in for two replicas.
	first, err := NewRedis(client, DefaultOptions(), logger)
	require.NoError(t, err)
	second, err := NewRedis(client, DefaultOptions(), logger)
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		holders int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		l := first
		if i%2 == 1 {
			l = second
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), "policy-shared", func(context.Context) error {
				mu.Lock()
				holders++
				if holders > maxSeen {
					maxSeen = holders
				}
				mu.Unlock()

				time.Sleep(10 * time.Millisecond)

				mu.Lock()
				holders--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	exists, err := client.Exists(context.Background(), "policyvault:lock:policy-shared").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}
