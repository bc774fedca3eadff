package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTask struct {
	runs atomic.Int32
	err  error
}

func (c *countingTask) Name() string { return "counting" }

func (c *countingTask) Run(_ context.Context, stats *Stats) error {
	c.runs.Add(1)
	stats.Add("items", 2)
	return c.err
}

type recordingMetrics struct {
	runs  atomic.Int32
	items atomic.Uint64
}

func (m *recordingMetrics) ObserveRun(string, time.Duration, error) { m.runs.Add(1) }
func (m *recordingMetrics) RecordItems(_, _ string, n uint64)      { m.items.Add(n) }

func TestLoop_RunNow(t *testing.T) {
	task := &countingTask{}
	metrics := &recordingMetrics{}
	loop := NewLoop(task, LoopConfig{}, metrics)

	stats, err := loop.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "counting", stats.Name)
	assert.EqualValues(t, 2, stats.Get("items"))
	assert.Contains(t, stats.Summary(), "items=2")
	assert.False(t, stats.EndTime.IsZero())

	assert.EqualValues(t, 1, metrics.runs.Load())
	assert.EqualValues(t, 2, metrics.items.Load())
}

func TestLoop_RunNowReturnsTaskError(t *testing.T) {
	task := &countingTask{err: errors.New("store down")}
	loop := NewLoop(task, LoopConfig{}, nil)

	_, err := loop.RunNow(context.Background())
	assert.EqualError(t, err, "store down")
}

func TestLoop_StartStop(t *testing.T) {
	task := &countingTask{}
	loop := NewLoop(task, LoopConfig{Enabled: true, Interval: 5 * time.Millisecond}, nil)

	loop.Start()
	loop.Start()

	require.Eventually(t, func() bool { return task.runs.Load() >= 2 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, loop.Stop(ctx))
	require.NoError(t, loop.Stop(ctx))

	runs := task.runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, runs, task.runs.Load(), "no ticks after Stop")
}

func TestLoop_Disabled(t *testing.T) {
	task := &countingTask{}
	loop := NewLoop(task, LoopConfig{Interval: time.Millisecond}, nil)

	loop.Start()
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, task.runs.Load())
	assert.NoError(t, loop.Stop(context.Background()))
}
