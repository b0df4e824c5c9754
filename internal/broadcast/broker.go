// Package broadcast carries the process-wide session-expired signal.
// Guards subscribe on mount and unsubscribe on unmount; the lifecycle
// manager publishes on forced logout.
package broadcast

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	redisclient "github.com/paylite/session-server/internal/redis"
)

// Event is the expiration notification. ID makes deliveries traceable
// across the redis hop.
type Event struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

const (
	ReasonExpired          = "expired"
	ReasonValidationFailed = "validation_failed"
	ReasonLoggedOut        = "logged_out"
)

type Subscriber struct {
	Events chan Event
	Done   chan struct{}
}

// Broker is the pub/sub contract consumed by guards and the lifecycle
// manager.
type Broker interface {
	Subscribe() *Subscriber
	Unsubscribe(sub *Subscriber)
	Publish(ctx context.Context, event Event) error
	Close()
}

// LocalBroker fans events out to in-process subscribers only.
type LocalBroker struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]bool
	closed      bool
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subscribers: make(map[*Subscriber]bool)}
}

func (b *LocalBroker) Subscribe() *Subscriber {
	sub := &Subscriber{
		Events: make(chan Event, 8),
		Done:   make(chan struct{}),
	}

	b.mu.Lock()
	b.subscribers[sub] = true
	count := len(b.subscribers)
	b.mu.Unlock()

	log.Debug().Int("subscriberCount", count).Msg("expiry broadcast subscribed")
	return sub
}

func (b *LocalBroker) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub.Done)
	}
}

func (b *LocalBroker) Publish(_ context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	b.broadcast(event)
	return nil
}

func (b *LocalBroker) broadcast(event Event) {
	b.mu.RLock()
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.Events <- event:
		default:
			log.Warn().Str("reason", event.Reason).Msg("subscriber buffer full, dropping expiry event")
		}
	}
}

func (b *LocalBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subscribers {
		close(sub.Done)
	}
	b.subscribers = make(map[*Subscriber]bool)
}

// RedisBroker extends LocalBroker with a redis channel so independent
// processes sharing the durable auth key observe forced logout too.
type RedisBroker struct {
	local  *LocalBroker
	redis  *redisclient.Client
	ctx    context.Context
	cancel context.CancelFunc
}

func NewRedisBroker(client *redisclient.Client) *RedisBroker {
	ctx, cancel := context.WithCancel(context.Background())
	b := &RedisBroker{
		local:  NewLocalBroker(),
		redis:  client,
		ctx:    ctx,
		cancel: cancel,
	}
	go b.listen()
	return b
}

func (b *RedisBroker) Subscribe() *Subscriber {
	return b.local.Subscribe()
}

func (b *RedisBroker) Unsubscribe(sub *Subscriber) {
	b.local.Unsubscribe(sub)
}

// Publish sends through redis; local subscribers receive via the
// channel listener so in-process and cross-process delivery share one
// path.
func (b *RedisBroker) Publish(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, redisclient.ExpiryChannel, data).Err()
}

func (b *RedisBroker) listen() {
	pubsub := b.redis.Subscribe(b.ctx, redisclient.ExpiryChannel)
	defer pubsub.Close()

	log.Debug().Str("channel", redisclient.ExpiryChannel).Msg("expiry broadcast listening")

	ch := pubsub.Channel()
	for {
		select {
		case <-b.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal expiry event")
				continue
			}
			b.local.broadcast(event)
		}
	}
}

func (b *RedisBroker) Close() {
	b.cancel()
	b.local.Close()
}
