// internal/realtime/bus.go

package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
)

var errOffline = errors.New("push bus offline")

const busQueueSize = 256

// Bus is an in-process PushLayer. Each subscription gets its own delivery
// goroutine, so callbacks run in publish order and never on the caller.
type Bus struct {
	mu      sync.Mutex
	subs    map[string]map[*busSubscription]struct{}
	offline bool
}

type busSubscription struct {
	key     string
	onEvent func(messaging.Envelope)
	lc      messaging.Lifecycle
	queue   chan func()
	done    chan struct{}
	once    sync.Once
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[*busSubscription]struct{})}
}

func (s *busSubscription) Key() string { return s.key }

func (s *busSubscription) run() {
	for {
		select {
		case fn := <-s.queue:
			fn()
		case <-s.done:
			return
		}
	}
}

func (s *busSubscription) deliver(fn func()) {
	select {
	case s.queue <- fn:
	case <-s.done:
	}
}

func (s *busSubscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (b *Bus) Subscribe(ctx context.Context, key string, onEvent func(messaging.Envelope), lc messaging.Lifecycle) (messaging.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.offline {
		return nil, messaging.Transient("subscribe", errOffline)
	}

	sub := &busSubscription{
		key:     key,
		onEvent: onEvent,
		lc:      lc,
		queue:   make(chan func(), busQueueSize),
		done:    make(chan struct{}),
	}
	if b.subs[key] == nil {
		b.subs[key] = make(map[*busSubscription]struct{})
	}
	b.subs[key][sub] = struct{}{}
	subscriptionsActive.Inc()

	go sub.run()
	sub.deliver(func() { sub.lc(messaging.StatusSubscribed, nil) })
	return sub, nil
}

func (b *Bus) Unsubscribe(sub messaging.Subscription) error {
	s, ok := sub.(*busSubscription)
	if !ok {
		return errors.New("not a bus subscription")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.remove(s)
	return nil
}

// must be called with mu held
func (b *Bus) remove(s *busSubscription) {
	set := b.subs[s.key]
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(b.subs, s.key)
	}
	subscriptionsActive.Dec()
	s.stop()
}

// Broadcast delivers env to every subscriber of key, including the sender.
// The envelope goes through its wire encoding so no subscriber shares
// memory with the publisher.
func (b *Bus) Broadcast(ctx context.Context, key string, env messaging.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return messaging.Permanent("broadcast", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.offline {
		return messaging.Transient("broadcast", errOffline)
	}

	for sub := range b.subs[key] {
		decoded, err := messaging.DecodeEnvelope(data)
		if err != nil {
			return messaging.Permanent("broadcast", err)
		}
		s := sub
		s.deliver(func() { s.onEvent(decoded) })
	}
	framesTotal.WithLabelValues("bus", string(env.Kind)).Inc()
	return nil
}

// Drop ends every subscription on key with the given status
func (b *Bus) Drop(key string, status messaging.SubscriptionStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs[key] {
		b.fail(sub, status)
	}
}

// SetOffline simulates a network outage. Going offline ends every
// subscription with an error and rejects subscribes and broadcasts until
// the bus is back online.
func (b *Bus) SetOffline(offline bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.offline = offline
	if !offline {
		return
	}
	for _, set := range b.subs {
		for sub := range set {
			b.fail(sub, messaging.StatusError)
		}
	}
}

// Subscribers returns the number of open subscriptions on key
func (b *Bus) Subscribers(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[key])
}

// must be called with mu held
func (b *Bus) fail(sub *busSubscription, status messaging.SubscriptionStatus) {
	var err error
	if status == messaging.StatusError {
		err = errOffline
	}
	lc := sub.lc
	b.remove(sub)
	go lc(status, err)
}
