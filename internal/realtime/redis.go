// internal/realtime/redis.go

package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/imadgeboyega/kiekky-chat/internal/common/alog"
	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
)

// RedisPush is a PushLayer over Redis pub/sub. Each conversation channel key
// is used as the Redis channel name.
type RedisPush struct {
	client *redis.Client
	log    *logrus.Entry
}

type redisSubscription struct {
	key    string
	pubsub *redis.PubSub
	cancel context.CancelFunc
	once   sync.Once
}

func (s *redisSubscription) Key() string { return s.key }

// NewRedisPush creates a push layer on client
func NewRedisPush(client *redis.Client) *RedisPush {
	return &RedisPush{
		client: client,
		log:    alog.Logger().WithField("component", "redis_push"),
	}
}

// Subscribe opens a pub/sub subscription. Lifecycle reports subscribed once
// Redis confirms the subscription, and error when the receive loop fails.
func (p *RedisPush) Subscribe(ctx context.Context, key string, onEvent func(messaging.Envelope), lc messaging.Lifecycle) (messaging.Subscription, error) {
	pubsub := p.client.Subscribe(ctx, key)

	runCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{key: key, pubsub: pubsub, cancel: cancel}
	subscriptionsActive.Inc()

	go p.receive(runCtx, sub, onEvent, lc)
	return sub, nil
}

func (p *RedisPush) receive(ctx context.Context, sub *redisSubscription, onEvent func(messaging.Envelope), lc messaging.Lifecycle) {
	log := p.log.WithField("channel", sub.key)

	if _, err := sub.pubsub.Receive(ctx); err != nil {
		if ctx.Err() == nil {
			lc(messaging.StatusError, messaging.Transient("subscribe", err))
		}
		return
	}
	lc(messaging.StatusSubscribed, nil)

	for {
		msg, err := sub.pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.ErrClosed) {
				lc(messaging.StatusClosed, nil)
				return
			}
			lc(messaging.StatusError, messaging.Transient("receive", err))
			return
		}

		env, err := messaging.DecodeEnvelope([]byte(msg.Payload))
		if err != nil {
			log.WithError(err).Debug("Dropped malformed payload")
			continue
		}
		onEvent(env)
	}
}

func (p *RedisPush) Unsubscribe(sub messaging.Subscription) error {
	s, ok := sub.(*redisSubscription)
	if !ok {
		return errors.New("not a redis subscription")
	}

	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.pubsub.Close()
		subscriptionsActive.Dec()
	})
	return err
}

func (p *RedisPush) Broadcast(ctx context.Context, key string, env messaging.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return messaging.Permanent("broadcast", err)
	}
	if err := p.client.Publish(ctx, key, data).Err(); err != nil {
		return messaging.Transient("broadcast", err)
	}
	framesTotal.WithLabelValues("redis", string(env.Kind)).Inc()
	return nil
}
