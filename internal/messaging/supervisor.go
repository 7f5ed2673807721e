// internal/messaging/supervisor.go

package messaging

import (
	"context"
	"sync"
	"time"
)

// subscriber owns at most one open push subscription. Unsubscribing the old
// handle and subscribing the new one happen under one lock, so a client never
// holds two channels at once.
type subscriber struct {
	mu      sync.Mutex
	push    PushLayer
	current Subscription
	closed  bool
}

func (w *subscriber) swap(ctx context.Context, key string, onEvent func(Envelope), lc Lifecycle) (Subscription, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, ErrClosed
	}
	w.releaseLocked()
	sub, err := w.push.Subscribe(ctx, key, onEvent, lc)
	if err != nil {
		return nil, err
	}
	w.current = sub
	return sub, nil
}

// release closes the current handle for good
func (w *subscriber) release() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return w.releaseLocked()
}

func (w *subscriber) releaseLocked() error {
	if w.current == nil {
		return nil
	}
	err := w.push.Unsubscribe(w.current)
	w.current = nil
	return err
}

// connectionSupervisor drives the subscription lifecycle and the fallback
// poll. Short polling runs while connecting or disconnected; once connected
// a long interval remains as a safety net for missed pushes.
type connectionSupervisor struct {
	c   *Conversation
	sub *subscriber

	// gen identifies the current subscription attempt; callbacks from older
	// attempts are ignored
	gen   uint64
	state ConnectionState

	connectTimer     loopTimer
	resubscribeTimer loopTimer
	pollTimer        loopTimer
	polling          bool

	// pollAgain is set when a poll was due while one was in flight
	pollAgain bool
	closed    bool
}

func newConnectionSupervisor(c *Conversation) *connectionSupervisor {
	return &connectionSupervisor{
		c:                c,
		sub:              &subscriber{push: c.push},
		state:            StateConnecting,
		connectTimer:     loopTimer{loop: c.loop},
		resubscribeTimer: loopTimer{loop: c.loop},
		pollTimer:        loopTimer{loop: c.loop},
	}
}

// start subscribes and runs the initial load alongside it. The window is
// fetched again once the subscription is up, so a message stored between the
// two is not missed.
func (s *connectionSupervisor) start() {
	s.subscribe()
	s.schedulePoll(0)
}

func (s *connectionSupervisor) subscribe() {
	if s.closed {
		return
	}
	c := s.c
	s.gen++
	gen := s.gen
	s.setState(StateConnecting)

	s.connectTimer.Reset(c.opts.SubscribeTimeout, func() {
		s.onStatus(gen, StatusTimeout, nil)
	})

	onEvent := func(env Envelope) {
		c.loop.post(func() {
			if gen != s.gen {
				return
			}
			c.ingest.onEvent(env)
		})
	}
	lifecycle := func(status SubscriptionStatus, err error) {
		c.loop.post(func() {
			s.onStatus(gen, status, err)
		})
	}

	var err error
	c.loop.spawn(func(ctx context.Context) {
		_, err = s.sub.swap(ctx, c.key, onEvent, lifecycle)
	}, func() {
		if err != nil {
			s.onStatus(gen, StatusError, err)
		}
	})
}

func (s *connectionSupervisor) onStatus(gen uint64, status SubscriptionStatus, err error) {
	if gen != s.gen || s.closed {
		return
	}
	log := s.c.log.WithField("status", status.String())

	switch status {
	case StatusSubscribed:
		s.connectTimer.Stop()
		s.resubscribeTimer.Stop()
		s.setState(StateConnected)
		log.Info("Conversation channel subscribed")
		// Catch up on anything pushed while the channel was down
		s.schedulePoll(0)

	default:
		if s.state == StateDisconnected && s.resubscribeTimer.Active() {
			return
		}
		s.connectTimer.Stop()
		s.setState(StateDisconnected)
		if err != nil {
			log = log.WithError(err)
		}
		log.Warn("Conversation channel lost, falling back to polling")

		// Stop delivery from the dead attempt before the next one opens
		s.gen++
		s.resubscribeTimer.Reset(s.c.opts.ResubscribeBackoff, s.subscribe)
	}
}

func (s *connectionSupervisor) setState(state ConnectionState) {
	if s.state == state {
		return
	}
	s.state = state
	s.c.store.setState(state)
	connectionState.WithLabelValues(s.c.key, s.c.local).Set(float64(state))

	// Switch polling cadence right away rather than after the old interval
	if !s.polling && s.pollTimer.Active() {
		s.schedulePoll(s.interval())
	}
}

func (s *connectionSupervisor) interval() time.Duration {
	if s.state == StateConnected {
		return s.c.opts.PollIntervalConnected
	}
	return s.c.opts.PollIntervalDisconnected
}

func (s *connectionSupervisor) schedulePoll(d time.Duration) {
	if s.closed {
		return
	}
	s.pollTimer.Reset(d, s.poll)
}

// poll re-fetches the recent window and merges it through the same
// reconciliation as push events
func (s *connectionSupervisor) poll() {
	if s.closed {
		return
	}
	if s.polling {
		s.pollAgain = true
		return
	}
	s.polling = true
	c := s.c

	filter := Filter{Pair: c.pair, Limit: c.opts.RecentWindow}
	var records []*Message
	var err error
	c.loop.spawn(func(ctx context.Context) {
		records, err = c.repo.SelectRange(ctx, filter)
	}, func() {
		s.polling = false
		if err != nil {
			pollsTotal.WithLabelValues("error").Inc()
			c.log.WithError(err).Warn("Poll failed")
		} else {
			pollsTotal.WithLabelValues("ok").Inc()
			for _, rec := range records {
				c.ingest.apply(rec, sourcePoll)
			}
			c.onLoaded()
		}
		if s.pollAgain {
			s.pollAgain = false
			s.schedulePoll(0)
			return
		}
		s.schedulePoll(s.interval())
	})
}

func (s *connectionSupervisor) stop() {
	s.closed = true
	s.gen++
	s.connectTimer.Stop()
	s.resubscribeTimer.Stop()
	s.pollTimer.Stop()
}
