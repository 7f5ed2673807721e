// internal/messaging/typing.go

package messaging

import (
	"context"
	"strconv"
)

// typingChannel exchanges ephemeral typing signals over the conversation
// channel. Nothing here touches persisted state.
type typingChannel struct {
	c *Conversation

	// local burst
	typing bool
	idle   loopTimer

	// partner flag, cleared by expiry if no refresh arrives
	partnerTyping bool
	expiry        loopTimer
}

func newTypingChannel(c *Conversation) *typingChannel {
	return &typingChannel{
		c:      c,
		idle:   loopTimer{loop: c.loop},
		expiry: loopTimer{loop: c.loop},
	}
}

// notifyTyping is called on every compose keystroke
func (t *typingChannel) notifyTyping() {
	if !t.typing {
		t.typing = true
		t.broadcast(true)
	}
	t.idle.Reset(t.c.opts.TypingIdle, t.stop)
}

// stop ends the local burst, on inactivity or on send
func (t *typingChannel) stop() {
	t.idle.Stop()
	if !t.typing {
		return
	}
	t.typing = false
	t.broadcast(false)
}

func (t *typingChannel) broadcast(typing bool) {
	c := t.c
	env := Envelope{
		Kind: EventTyping,
		Typing: &TypingSignal{
			UserID:    c.local,
			PartnerID: c.partner,
			IsTyping:  typing,
			EmittedAt: c.opts.Now(),
		},
	}
	typingBroadcastsTotal.WithLabelValues(strconv.FormatBool(typing)).Inc()

	c.loop.spawn(func(ctx context.Context) {
		if err := c.push.Broadcast(ctx, c.key, env); err != nil {
			c.log.WithError(err).Debug("Typing broadcast failed")
		}
	}, nil)
}

func (t *typingChannel) receive(sig *TypingSignal) {
	c := t.c
	if sig == nil || sig.UserID != c.partner || sig.PartnerID != c.local {
		// Our own echo or a signal for another conversation
		return
	}

	if !sig.IsTyping {
		t.expiry.Stop()
		t.setPartnerTyping(false)
		return
	}

	if !sig.EmittedAt.IsZero() && c.opts.Now().Sub(sig.EmittedAt) > c.opts.TypingExpiry {
		return
	}
	t.setPartnerTyping(true)
	t.expiry.Reset(c.opts.TypingExpiry, func() {
		t.setPartnerTyping(false)
	})
}

func (t *typingChannel) setPartnerTyping(typing bool) {
	t.partnerTyping = typing
	t.c.store.setPartnerTyping(typing)
}

func (t *typingChannel) close() {
	t.idle.Stop()
	t.expiry.Stop()
}
