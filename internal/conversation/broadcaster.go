// ABOUTME: In-memory fan-out broadcaster for live model output chunks
// ABOUTME: Publishes stream events to all subscribers of an exchange id

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// StreamEvent is one live update for an exchange. The terminal event has
// Done set; a failed generation carries a user-safe message in Err.
type StreamEvent struct {
	ExchangeID string `json:"exchangeId"`
	Text       string `json:"chunkText"`
	Err        string `json:"error,omitempty"`
	Done       bool   `json:"done"`
}

// Broadcaster provides in-memory pub/sub for streamed generation output.
// Subscribers register for an exchange id and receive chunks as they are
// published. There is no replay buffer: listeners that connect after
// generation starts miss earlier chunks. The durable transcript is the
// persisted message, not this stream.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan StreamEvent // exchangeID -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan StreamEvent),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for events on the given exchange id.
// Returns a channel that receives events and a subscription ID for later
// unsubscription. The subscription is automatically cleaned up when ctx is
// cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, exchangeID string) (<-chan StreamEvent, string) {
	subID := uuid.New().String()
	ch := make(chan StreamEvent, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[exchangeID]; !ok {
		b.subscribers[exchangeID] = make(map[string]chan StreamEvent)
	}
	b.subscribers[exchangeID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "exchange_id", exchangeID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(exchangeID, subID)
	}()

	return ch, subID
}

// Publish sends an event to all current subscribers of the exchange.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(exchangeID string, event StreamEvent) {
	event.ExchangeID = exchangeID

	b.mu.RLock()
	subs, ok := b.subscribers[exchangeID]
	if !ok || len(subs) == 0 {
		b.mu.RUnlock()
		return
	}

	// Copy subscriber channels under read lock to avoid holding lock during sends
	targets := make([]chan StreamEvent, 0, len(subs))
	for _, ch := range subs {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber", "exchange_id", exchangeID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(exchangeID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[exchangeID]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, exchangeID)
	}

	b.logger.Debug("subscriber removed", "exchange_id", exchangeID, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for exchangeID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, exchangeID)
	}

	b.logger.Debug("broadcaster closed")
}
