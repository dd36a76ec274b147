package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDispatch_RunsJobs(t *testing.T) {
	trk := New(zap.NewNop(), 16, 2)

	var ran atomic.Int64
	for i := 0; i < 10; i++ {
		ok := trk.Dispatch("test.job", func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
		assert.True(t, ok)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, trk.Close(ctx))
	assert.Equal(t, int64(10), ran.Load())
}

func TestDispatch_DropsWhenFull(t *testing.T) {
	trk := New(zap.NewNop(), 1, 1)

	// Park the single worker so the queue backs up.
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)
	trk.Dispatch("test.block", func(ctx context.Context) error {
		started.Done()
		<-release
		return nil
	})
	started.Wait()

	// One fits in the queue, the next is dropped without blocking.
	assert.True(t, trk.Dispatch("test.queued", func(ctx context.Context) error { return nil }))
	assert.False(t, trk.Dispatch("test.dropped", func(ctx context.Context) error { return nil }))

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, trk.Close(ctx))
}

func TestDispatch_AfterCloseRefused(t *testing.T) {
	trk := New(zap.NewNop(), 4, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, trk.Close(ctx))
	require.NoError(t, trk.Close(ctx)) // idempotent

	assert.False(t, trk.Dispatch("test.late", func(ctx context.Context) error { return nil }))
}

func TestWorker_LogsAndContinuesOnError(t *testing.T) {
	trk := New(zap.NewNop(), 4, 1)

	var ran atomic.Int64
	trk.Dispatch("test.fails", func(ctx context.Context) error {
		return errors.New("write failed")
	})
	trk.Dispatch("test.next", func(ctx context.Context) error {
		ran.Add(1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, trk.Close(ctx))
	assert.Equal(t, int64(1), ran.Load())
}
