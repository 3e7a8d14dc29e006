package jobmgr

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAfter_Runs(t *testing.T) {
	m := NewManager(nil)
	var ran atomic.Bool

	require.NoError(t, m.After("job", time.Millisecond, func(context.Context) error {
		ran.Store(true)
		return nil
	}))

	assert.Eventually(t, ran.Load, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return len(m.List()) == 0 }, time.Second, time.Millisecond)
}

func TestAfter_StopCancels(t *testing.T) {
	m := NewManager(nil)
	var ran atomic.Bool

	require.NoError(t, m.After("job", time.Hour, func(context.Context) error {
		ran.Store(true)
		return nil
	}))
	assert.Error(t, m.After("job", time.Hour, func(context.Context) error { return nil }), "duplicate name")

	require.NoError(t, m.Stop("job"))
	assert.Error(t, m.Stop("job"))

	m.StopAll()
	assert.False(t, ran.Load())
}

func TestStopAll_RefusesNewJobs(t *testing.T) {
	var events []string
	m := NewManager(func(s string) { events = append(events, s) })

	require.NoError(t, m.After("a", time.Hour, func(context.Context) error { return nil }))
	m.StopAll()

	assert.Error(t, m.StartAsync("b", func(context.Context) error { return nil }))
	assert.Equal(t, "No jobs are running.", m.Status())
	assert.Contains(t, events, "running:a")
	assert.Contains(t, events, "done:a")
}
