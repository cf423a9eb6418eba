package progressbus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus_DeliversInOrderPerComment(t *testing.T) {
	var mu sync.Mutex
	var received []string

	bus := NewMemoryBus(func(ctx context.Context, event Event) error {
		mu.Lock()
		received = append(received, event.Message)
		mu.Unlock()
		return nil
	}, nil)

	for i := 0; i < 20; i++ {
		bus.Publish(t.Context(), Event{CommentID: "c1", Message: messageFor(i), Final: i == 19})
	}

	waitUntil(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 20
	})

	mu.Lock()
	defer mu.Unlock()
	for i, msg := range received {
		assert.Equal(t, messageFor(i), msg)
	}
}

func TestMemoryBus_DifferentCommentsDoNotBlockEachOther(t *testing.T) {
	release := make(chan struct{})
	var c2Delivered atomicBool

	bus := NewMemoryBus(func(ctx context.Context, event Event) error {
		if event.CommentID == "slow" {
			<-release
		}
		if event.CommentID == "fast" {
			c2Delivered.set(true)
		}
		return nil
	}, nil)

	bus.Publish(t.Context(), Event{CommentID: "slow", Message: "blocking", Final: true})
	bus.Publish(t.Context(), Event{CommentID: "fast", Message: "quick", Final: true})

	waitUntil(t, c2Delivered.get)
	close(release)
}

func TestMemoryBus_HandlerErrorDoesNotStopSubsequentEvents(t *testing.T) {
	var mu sync.Mutex
	var received []string

	bus := NewMemoryBus(func(ctx context.Context, event Event) error {
		mu.Lock()
		received = append(received, event.Message)
		mu.Unlock()
		if event.Message == "first" {
			return assert.AnError
		}
		return nil
	}, nil)

	bus.Publish(t.Context(), Event{CommentID: "c1", Message: "first"})
	bus.Publish(t.Context(), Event{CommentID: "c1", Message: "second", Final: true})

	waitUntil(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	})
}

func messageFor(i int) string {
	return fmt.Sprintf("msg-%d", i)
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "condition not met before deadline")
}

type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (a *atomicBool) set(v bool) {
	a.mu.Lock()
	a.v = v
	a.mu.Unlock()
}

func (a *atomicBool) get() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.v
}
