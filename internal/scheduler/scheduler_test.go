package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunDrivesJobsOnTheirCadence(t *testing.T) {
	var fast, slow atomic.Int32
	s := New()
	s.Add(Job{Name: "fast", Interval: 10 * time.Millisecond, Task: func(context.Context) error {
		fast.Add(1)
		return nil
	}})
	s.Add(Job{Name: "slow", Interval: 200 * time.Millisecond, Task: func(context.Context) error {
		slow.Add(1)
		return nil
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	err := s.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.GreaterOrEqual(t, fast.Load(), int32(3))
	assert.Equal(t, int32(0), slow.Load())
}

func TestRunImmediatelyFiresBeforeFirstTick(t *testing.T) {
	var runs atomic.Int32
	s := New()
	s.Add(Job{Name: "warmup", Interval: time.Hour, RunImmediately: true, Task: func(context.Context) error {
		runs.Add(1)
		return nil
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)
	assert.Equal(t, int32(1), runs.Load())
}

func TestFailingJobKeepsRunning(t *testing.T) {
	var runs atomic.Int32
	s := New()
	s.Add(Job{Name: "flaky", Interval: 10 * time.Millisecond, Task: func(context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)
	assert.GreaterOrEqual(t, runs.Load(), int32(2), "errors must not stop the cadence")
}

func TestDisabledJobsAreDropped(t *testing.T) {
	s := New()
	s.Add(Job{Name: "off", Interval: 0, Task: func(context.Context) error { return nil }})
	s.Add(Job{Name: "nil-task", Interval: time.Second})
	assert.Empty(t, s.jobs)
}
