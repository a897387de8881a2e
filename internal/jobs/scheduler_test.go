package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// cron.Every rounds sub-second intervals up to one second, so interval tests
// wait generously.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(d)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition not met in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestScheduler_RunsImmediatelyOnStart(t *testing.T) {
	s := NewScheduler(zap.NewNop(), context.Background())

	var runs atomic.Int64
	require.NoError(t, s.Add(Job{
		Name:     "profit-market",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	s.Start()
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return runs.Load() == 1 })
}

func TestScheduler_RunsOnInterval(t *testing.T) {
	s := NewScheduler(zap.NewNop(), context.Background())

	var runs atomic.Int64
	require.NoError(t, s.Add(Job{
		Name:     "ledger-ingest",
		Interval: time.Second,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	s.Start()
	defer s.Stop()

	waitFor(t, 4*time.Second, func() bool { return runs.Load() >= 2 })
}

func TestScheduler_FailingJobKeepsRunning(t *testing.T) {
	s := NewScheduler(zap.NewNop(), context.Background())

	var runs atomic.Int64
	require.NoError(t, s.Add(Job{
		Name:     "wallet",
		Interval: time.Second,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return errors.New("upstream down")
		},
	}))

	s.Start()
	defer s.Stop()

	waitFor(t, 4*time.Second, func() bool { return runs.Load() >= 2 })
}

func TestScheduler_PanickingJobIsRecovered(t *testing.T) {
	s := NewScheduler(zap.NewNop(), context.Background())

	var runs atomic.Int64
	require.NoError(t, s.Add(Job{
		Name:     "profit-corp",
		Interval: time.Second,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			panic("boom")
		},
	}))

	s.Start()
	defer s.Stop()

	waitFor(t, 4*time.Second, func() bool { return runs.Load() >= 2 })
}

func TestScheduler_SlowJobDoesNotOverlap(t *testing.T) {
	s := NewScheduler(zap.NewNop(), context.Background())

	var active, maxActive atomic.Int64
	done := make(chan struct{})
	require.NoError(t, s.Add(Job{
		Name:     "profit-market",
		Interval: time.Second,
		Run: func(ctx context.Context) error {
			cur := active.Add(1)
			if cur > maxActive.Load() {
				maxActive.Store(cur)
			}
			select {
			case <-done:
			case <-time.After(1500 * time.Millisecond):
			}
			active.Add(-1)
			return nil
		},
	}))

	s.Start()
	// The first tick lands while the immediate run still holds the chain.
	time.Sleep(2 * time.Second)
	close(done)
	s.Stop()

	assert.Equal(t, int64(1), maxActive.Load())
}

func TestScheduler_CanceledContextStopsRuns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(zap.NewNop(), ctx)

	var runs atomic.Int64
	require.NoError(t, s.Add(Job{
		Name:     "wallet",
		Interval: time.Second,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	cancel()
	s.Start()
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	assert.Zero(t, runs.Load())
}

func TestScheduler_RejectsNonPositiveInterval(t *testing.T) {
	s := NewScheduler(zap.NewNop(), context.Background())

	err := s.Add(Job{Name: "bad", Interval: 0, Run: func(ctx context.Context) error { return nil }})
	assert.Error(t, err)
}
