// internal/messaging/ingest.go

package messaging

const (
	sourceRealtime = "realtime"
	sourcePoll     = "poll"
)

// realtimeIngest normalizes inbound push events and polled records into the
// store. It never lets a bad event escape and stop the subscription.
type realtimeIngest struct {
	c *Conversation
}

func (in *realtimeIngest) onEvent(env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			in.c.log.WithField("panic", r).Warn("Dropped event that panicked during ingest")
		}
	}()

	switch env.Kind {
	case EventInsert, EventUpdate:
		in.apply(env.Record, sourceRealtime)
	case EventTyping:
		in.c.typing.receive(env.Typing)
	default:
		in.c.log.WithField("kind", env.Kind).Debug("Dropped event of unknown kind")
		ingestEventsTotal.WithLabelValues(sourceRealtime, "unknown_kind").Inc()
	}
}

// apply is the single entry point for records arriving from outside the
// send path. Updates for ids not yet seen are folded in like inserts, since
// an update may overtake its insert.
func (in *realtimeIngest) apply(rec *Message, source string) reconcileOutcome {
	c := in.c
	if rec == nil || !c.pair.Contains(rec) {
		c.log.Debug("Dropped out-of-scope record")
		ingestEventsTotal.WithLabelValues(source, "out_of_scope").Inc()
		return reconcileOutcome{result: resultDropped}
	}

	out := c.store.Reconcile(rec, c.opts.ReconcileTolerance)
	recordIngest(source, out.result)

	if out.tempID != "" {
		c.sender.resolved(out.tempID, source)
	}

	if out.result == resultInserted && out.msg.IsInbound(c.local, c.partner) && out.msg.ReadAt == nil {
		in.onInbound(out.msg)
	}
	return out
}

func (in *realtimeIngest) onInbound(msg *Message) {
	c := in.c
	if c.loaded && c.notifier != nil {
		n := c.notifier
		m := msg.Clone()
		go n.NotifyMessage(m)
	}

	if c.focused() {
		// Read locally once the batch is stored
		c.receipts.markRead(nil)
		return
	}
	if msg.DeliveredAt == nil {
		c.receipts.queueDelivered(msg.ID)
	}
}
