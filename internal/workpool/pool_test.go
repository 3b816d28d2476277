package workpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsTasks(t *testing.T) {
	p := NewWithConfig(2, 10)

	var wg sync.WaitGroup
	var count atomic.Int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		ok := p.Submit(Task{Name: "count", Run: func() {
			defer wg.Done()
			count.Add(1)
		}})
		require.True(t, ok)
	}
	wg.Wait()

	assert.Equal(t, int32(5), count.Load())
	p.Close(context.Background())
}

func TestPool_RecoversPanic(t *testing.T) {
	p := NewWithConfig(1, 10)

	require.True(t, p.Submit(Task{Name: "boom", Run: func() { panic("boom") }}))

	done := make(chan struct{})
	require.True(t, p.Submit(Task{Name: "after", Run: func() { close(done) }}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive panic")
	}
	p.Close(context.Background())
}

func TestPool_QueueFull(t *testing.T) {
	p := NewWithConfig(1, 1)

	block := make(chan struct{})
	started := make(chan struct{})
	require.True(t, p.Submit(Task{Name: "block", Run: func() {
		close(started)
		<-block
	}}))
	<-started

	require.True(t, p.Submit(Task{Name: "queued", Run: func() {}}))
	assert.False(t, p.Submit(Task{Name: "dropped", Run: func() {}}))

	close(block)
	p.Close(context.Background())
}

func TestPool_SubmitAfterClose(t *testing.T) {
	p := New()
	p.Close(context.Background())
	p.Close(context.Background())

	assert.False(t, p.Submit(Task{Name: "late", Run: func() {}}))
}
