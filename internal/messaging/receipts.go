// internal/messaging/receipts.go

package messaging

import "context"

// readReceiptTracker issues batched read and delivered updates.
//
// markRead re-queries the unread inbound messages when it runs instead of
// using what the store holds, so it never marks a message the system did not
// know about at call time. Calls made while a batch is in flight are folded
// into one follow-up batch.
type readReceiptTracker struct {
	c *Conversation

	inFlight    bool
	again       bool
	waiters     []func(error)
	nextWaiters []func(error)

	delivered      map[string]struct{}
	deliveredTimer loopTimer
	retryTimer     loopTimer
}

func newReadReceiptTracker(c *Conversation) *readReceiptTracker {
	return &readReceiptTracker{
		c:              c,
		delivered:      make(map[string]struct{}),
		deliveredTimer: loopTimer{loop: c.loop},
		retryTimer:     loopTimer{loop: c.loop},
	}
}

func (r *readReceiptTracker) markRead(done func(error)) {
	if r.inFlight {
		r.again = true
		if done != nil {
			r.nextWaiters = append(r.nextWaiters, done)
		}
		return
	}
	if done != nil {
		r.waiters = append(r.waiters, done)
	}
	r.inFlight = true

	c := r.c
	filter := Filter{
		Pair:       c.pair,
		SenderID:   c.partner,
		ReceiverID: c.local,
		UnreadOnly: true,
	}
	at := c.opts.Now()

	var unread []*Message
	var ids []string
	var err error
	c.loop.spawn(func(ctx context.Context) {
		unread, err = c.repo.SelectRange(ctx, filter)
		if err != nil || len(unread) == 0 {
			return
		}
		ids = make([]string, 0, len(unread))
		for _, m := range unread {
			ids = append(ids, m.ID)
		}
		err = c.repo.UpdateMany(ctx, ids, Fields{ReadAt: &at, DeliveredAt: &at})
	}, func() {
		r.inFlight = false
		if err != nil {
			receiptBatchesTotal.WithLabelValues("read", "error").Inc()
			c.log.WithError(err).Warn("Failed to mark messages read")
			if c.focused() && !r.again {
				r.retryTimer.Reset(c.opts.ResubscribeBackoff, r.retry)
			}
		} else if len(ids) > 0 {
			receiptBatchesTotal.WithLabelValues("read", "ok").Inc()
			for _, m := range unread {
				// The query may know messages the push path has not delivered yet
				if c.pair.Contains(m) {
					c.store.Reconcile(m, c.opts.ReconcileTolerance)
				}
				c.store.markRead(m.ID, at)
				delete(r.delivered, m.ID)
			}
			c.log.WithField("count", len(ids)).Debug("Marked messages read")
		}

		waiters := r.waiters
		r.waiters = nil
		for _, w := range waiters {
			w(err)
		}

		if r.again {
			r.again = false
			next := r.nextWaiters
			r.nextWaiters = nil
			r.waiters = next
			r.markRead(nil)
		}
	})
}

// queueDelivered batches delivered receipts for inbound messages seen while
// the view is not focused
func (r *readReceiptTracker) queueDelivered(id string) {
	r.delivered[id] = struct{}{}
	if !r.deliveredTimer.Active() {
		r.deliveredTimer.Reset(r.c.opts.DeliveryBatchDelay, r.flushDelivered)
	}
}

func (r *readReceiptTracker) flushDelivered() {
	c := r.c
	ids := make([]string, 0, len(r.delivered))
	for id := range r.delivered {
		if m := c.store.get(id); m != nil && m.DeliveredAt == nil {
			ids = append(ids, id)
		}
	}
	r.delivered = make(map[string]struct{})
	if len(ids) == 0 {
		return
	}

	at := c.opts.Now()
	var err error
	c.loop.spawn(func(ctx context.Context) {
		err = c.repo.UpdateMany(ctx, ids, Fields{DeliveredAt: &at})
	}, func() {
		if err != nil {
			// The next markRead fills delivered_at as well
			receiptBatchesTotal.WithLabelValues("delivered", "error").Inc()
			c.log.WithError(err).Debug("Failed to mark messages delivered")
			return
		}
		receiptBatchesTotal.WithLabelValues("delivered", "ok").Inc()
		for _, id := range ids {
			c.store.markDelivered(id, at)
		}
	})
}

// retry repeats a failed batch while the view is still focused. Leaving
// the view shows the messages as unread again.
func (r *readReceiptTracker) retry() {
	if r.c.focused() {
		r.markRead(nil)
	}
}

func (r *readReceiptTracker) reset() {
	r.retryTimer.Stop()
	r.deliveredTimer.Stop()
	r.delivered = make(map[string]struct{})
}

func (r *readReceiptTracker) close() {
	r.deliveredTimer.Stop()
	r.retryTimer.Stop()
}
