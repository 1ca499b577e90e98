package bus_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/arbiter/internal/bus"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

const (
	topicA bus.Topic = "a"
	topicB bus.Topic = "b"
)

func newTestBus(t *testing.T, bufferSize int) *bus.Bus {
	return bus.New(zaptest.NewLogger(t), bufferSize)
}

func TestPost_NoSubscribers(t *testing.T) {
	b := newTestBus(t, 0)
	defer b.Shutdown()
	assert.NoError(t, b.Post(context.Background(), topicA, "nobody listens"))
}

func TestPost_DeliversInOrder(t *testing.T) {
	b := newTestBus(t, 16)
	defer b.Shutdown()

	ch, unsubscribe := b.Subscribe(topicA, topicB)
	defer unsubscribe()

	for i := 0; i < 10; i++ {
		topic := topicA
		if i%2 == 1 {
			topic = topicB
		}
		require.NoError(t, b.Post(context.Background(), topic, i))
	}

	for i := 0; i < 10; i++ {
		msg := <-ch
		assert.Equal(t, i, msg.Payload)
		assert.NotEmpty(t, msg.ID)
		b.Acknowledge(msg)
	}
}

func TestPost_CancellationCorrectness(t *testing.T) {
	b := newTestBus(t, 0)
	defer b.Shutdown()

	ch, unsubscribe := b.Subscribe(topicA)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	postDone := make(chan error, 1)
	go func() { postDone <- b.Post(ctx, topicA, "payload") }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-postDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Post did not return promptly after cancellation")
	}

	select {
	case <-ch:
		t.Error("message should not be delivered after cancellation")
	default:
	}
}

func TestUnsubscribe(t *testing.T) {
	b := newTestBus(t, 1)
	defer b.Shutdown()

	ch, unsubscribe := b.Subscribe(topicA)
	unsubscribe()
	require.NoError(t, b.Post(context.Background(), topicA, "after"))

	select {
	case <-ch:
		t.Error("unsubscribed channel received a message")
	default:
	}
}

func TestShutdown(t *testing.T) {
	t.Run("post after shutdown fails", func(t *testing.T) {
		b := newTestBus(t, 0)
		b.Shutdown()
		b.Shutdown()
		assert.ErrorIs(t, b.Post(context.Background(), topicA, nil), bus.ErrClosed)

		ch, _ := b.Subscribe(topicA)
		_, open := <-ch
		assert.False(t, open, "subscribing after shutdown yields a closed channel")
	})

	t.Run("drops unread buffered messages", func(t *testing.T) {
		b := newTestBus(t, 4)
		_, _ = b.Subscribe(topicA)
		for i := 0; i < 4; i++ {
			require.NoError(t, b.Post(context.Background(), topicA, i))
		}

		done := make(chan struct{})
		go func() {
			b.Shutdown()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("shutdown blocked on buffered messages")
		}
	})
}

func TestShutdown_UnderLoad(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := newTestBus(t, 5)

	var consumers sync.WaitGroup
	for i := 0; i < 8; i++ {
		consumers.Add(1)
		ch, _ := b.Subscribe(topicA)
		go func() {
			defer consumers.Done()
			for msg := range ch {
				time.Sleep(time.Millisecond)
				b.Acknowledge(msg)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	var producers sync.WaitGroup
	for i := 0; i < 8; i++ {
		producers.Add(1)
		go func(id int) {
			defer producers.Done()
			for j := 0; j < 50; j++ {
				_ = b.Post(ctx, topicA, fmt.Sprintf("msg-%d-%d", id, j))
				if ctx.Err() != nil {
					return
				}
			}
		}(i)
	}

	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		b.Shutdown()
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("bus shutdown timed out")
	}
	producers.Wait()
	consumers.Wait()
}
