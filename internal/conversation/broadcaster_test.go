// ABOUTME: Tests for the stream event broadcaster
// ABOUTME: Covers subscribe, publish, isolation, slow consumers, and cleanup

package conversation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBroadcaster_SingleSubscriberReceivesEvent(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(context.Background(), "exchange-1")

	b.Publish("exchange-1", StreamEvent{Text: "hello"})

	select {
	case received := <-ch:
		assert.Equal(t, "hello", received.Text)
		assert.Equal(t, "exchange-1", received.ExchangeID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcaster_MultipleSubscribersReceiveSameEvent(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := context.Background()
	ch1, _ := b.Subscribe(ctx, "exchange-1")
	ch2, _ := b.Subscribe(ctx, "exchange-1")
	ch3, _ := b.Subscribe(ctx, "exchange-1")

	b.Publish("exchange-1", StreamEvent{Text: "fan out"})

	for i, ch := range []<-chan StreamEvent{ch1, ch2, ch3} {
		select {
		case received := <-ch:
			assert.Equal(t, "fan out", received.Text, "subscriber %d got wrong event", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBroadcaster_DifferentExchangesAreIsolated(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := context.Background()
	ch1, _ := b.Subscribe(ctx, "exchange-1")
	ch2, _ := b.Subscribe(ctx, "exchange-2")

	b.Publish("exchange-1", StreamEvent{Text: "only for one"})

	select {
	case received := <-ch1:
		assert.Equal(t, "only for one", received.Text)
	case <-time.After(time.Second):
		t.Fatal("subscriber for exchange-1 timed out")
	}

	select {
	case <-ch2:
		t.Fatal("subscriber for exchange-2 should not receive events for exchange-1")
	case <-time.After(100 * time.Millisecond):
		// Expected: no event
	}
}

func TestBroadcaster_SlowConsumerDoesNotBlockPublisher(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := context.Background()

	// Subscribe but never read (slow consumer)
	_, _ = b.Subscribe(ctx, "exchange-1")
	ch2, _ := b.Subscribe(ctx, "exchange-1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBufferSize+10; i++ {
			b.Publish("exchange-1", StreamEvent{Text: fmt.Sprintf("chunk %d", i)})
		}
	}()

	select {
	case <-done:
		// Publisher completed without blocking
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow consumer")
	}

	// The healthy subscriber still got the buffered events
	select {
	case received := <-ch2:
		assert.Equal(t, "chunk 0", received.Text)
	case <-time.After(time.Second):
		t.Fatal("healthy subscriber received nothing")
	}
}

func TestBroadcaster_ContextCancellationUnsubscribes(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "exchange-1")
	cancel()

	// The channel closes once cleanup runs
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel was not closed after context cancellation")
		}
	}
}

func TestBroadcaster_UnsubscribeTwiceIsSafe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	_, subID := b.Subscribe(context.Background(), "exchange-1")
	b.Unsubscribe("exchange-1", subID)
	b.Unsubscribe("exchange-1", subID) // must not panic
}

func TestBroadcaster_PublishWithoutSubscribersIsSafe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	b.Publish("nobody-listening", StreamEvent{Text: "into the void", Done: true})
}
