package loop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runLoop(t *testing.T) *Loop {
	t.Helper()
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l
}

func TestLoopRunsTasksInOrder(t *testing.T) {
	l := runLoop(t)

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	require.NoError(t, l.Do(context.Background(), func() {}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoopAfterFiresOnLoop(t *testing.T) {
	l := runLoop(t)

	fired := make(chan struct{})
	l.After(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestLoopTimerStop(t *testing.T) {
	l := runLoop(t)

	fired := make(chan struct{}, 1)
	var timer Timer
	require.NoError(t, l.Do(context.Background(), func() {
		timer = l.After(20*time.Millisecond, func() { fired <- struct{}{} })
	}))
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestLoopRecoversPanics(t *testing.T) {
	l := runLoop(t)

	l.Post(func() { panic("boom") })
	ran := false
	require.NoError(t, l.Do(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestLoopDoHonoursContext(t *testing.T) {
	l := New() // never run
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Do(ctx, func() {}), context.DeadlineExceeded)
}

func TestManualAdvanceFiresInOrder(t *testing.T) {
	m := NewManual(time.Unix(0, 0))

	var got []string
	m.After(300*time.Millisecond, func() { got = append(got, "c") })
	m.After(100*time.Millisecond, func() { got = append(got, "a") })
	m.After(200*time.Millisecond, func() { got = append(got, "b") })

	m.Advance(150 * time.Millisecond)
	assert.Equal(t, []string{"a"}, got)
	assert.Equal(t, 2, m.Pending())

	m.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, time.Unix(0, 0).Add(1150*time.Millisecond), m.Now())
}

func TestManualChainedTimers(t *testing.T) {
	m := NewManual(time.Unix(0, 0))

	var at []time.Duration
	start := m.Now()
	var step func(n int)
	step = func(n int) {
		if n == 0 {
			return
		}
		m.After(100*time.Millisecond, func() {
			at = append(at, m.Now().Sub(start))
			step(n - 1)
		})
	}
	step(3)

	m.Advance(time.Second)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}, at)
}

func TestManualNestedPostQueues(t *testing.T) {
	m := NewManual(time.Unix(0, 0))

	var got []string
	m.Post(func() {
		m.Post(func() { got = append(got, "inner") })
		got = append(got, "outer")
	})
	assert.Equal(t, []string{"outer", "inner"}, got)
}

func TestManualTimerStop(t *testing.T) {
	m := NewManual(time.Unix(0, 0))

	fired := false
	timer := m.After(time.Millisecond, func() { fired = true })
	assert.True(t, timer.Stop())
	m.Advance(time.Second)
	assert.False(t, fired)
}
