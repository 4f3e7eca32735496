package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArmFires(t *testing.T) {
	s := New()
	fired := make(chan struct{}, 1)
	s.Arm("p1", 10*time.Millisecond, func() { fired <- struct{}{} })
	require.True(t, s.Armed("p1"))

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.False(t, s.Armed("p1"), "entry should be gone after firing")
}

func TestClearPreventsExpiry(t *testing.T) {
	s := New()
	var calls int32
	s.Arm("p1", 20*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })
	s.Clear("p1")

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	assert.False(t, s.Armed("p1"))
}

func TestClearUnknownIsNoop(t *testing.T) {
	s := New()
	assert.NotPanics(t, func() {
		s.Clear("nobody")
		s.Clear("nobody")
	})
}

func TestRearmReplacesPrevious(t *testing.T) {
	s := New()
	var first, second int32
	s.Arm("p1", 20*time.Millisecond, func() { atomic.AddInt32(&first, 1) })
	s.Arm("p1", 40*time.Millisecond, func() { atomic.AddInt32(&second, 1) })

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&first))
	assert.Equal(t, int32(1), atomic.LoadInt32(&second))
}

func TestIdentitiesAreIndependent(t *testing.T) {
	s := New()
	fired := make(chan string, 2)
	s.Arm("a", 10*time.Millisecond, func() { fired <- "a" })
	s.Arm("b", 10*time.Millisecond, func() { fired <- "b" })
	s.Clear("a")

	select {
	case id := <-fired:
		assert.Equal(t, "b", id)
	case <-time.After(time.Second):
		t.Fatal("b did not fire")
	}
	assert.False(t, s.Armed("a"))
}

func TestClearDoesNotInterruptRunningCallback(t *testing.T) {
	s := New()
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	s.Arm("p1", time.Millisecond, func() {
		close(started)
		<-release
		finished.Store(true)
	})

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	s.Clear("p1")
	close(release)
	require.Eventually(t, finished.Load, time.Second, 5*time.Millisecond)
	assert.False(t, s.Armed("p1"))
}
