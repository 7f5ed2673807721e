// internal/messaging/conversation.go

package messaging

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Dependencies are the external collaborators of a conversation.
// Storage and Notifier are optional.
type Dependencies struct {
	Repo     Repository
	Push     PushLayer
	Storage  StorageService
	Notifier Notifier
}

// Conversation is the live, synchronized two-party chat between the local
// user and one partner. Its state lives on a private event loop; the public
// methods are safe for concurrent use but must not be called from an
// Observe callback.
type Conversation struct {
	local   string
	partner string
	pair    Pair
	key     string

	opts     Options
	repo     Repository
	push     PushLayer
	storage  StorageService
	notifier Notifier
	log      *logrus.Entry

	loop       *eventLoop
	store      *ConversationStore
	sender     *sendCoordinator
	ingest     *realtimeIngest
	supervisor *connectionSupervisor
	typing     *typingChannel
	receipts   *readReceiptTracker

	visible bool
	focus   bool
	// loaded is set after the first successful fetch of the recent window
	loaded bool
}

// OpenConversation starts synchronizing the conversation between local and
// partner. The view starts hidden; call SetVisibility once it is shown.
func OpenConversation(local, partner string, deps Dependencies, opts Options) (*Conversation, error) {
	if err := validateParticipants(local, partner); err != nil {
		return nil, err
	}
	if deps.Repo == nil || deps.Push == nil {
		return nil, &ValidationError{Field: "Dependencies", Reason: "repository and push layer are required"}
	}

	opts = opts.withDefaults()
	pair := NewPair(local, partner)
	key := pair.ChannelKey()
	log := opts.Logger.WithField("conversation", key)

	c := &Conversation{
		local:    local,
		partner:  partner,
		pair:     pair,
		key:      key,
		opts:     opts,
		repo:     deps.Repo,
		push:     deps.Push,
		storage:  deps.Storage,
		notifier: deps.Notifier,
		log:      log,
		loop:     newEventLoop(log),
		store:    newConversationStore(local, partner),
	}
	c.sender = newSendCoordinator(c)
	c.ingest = &realtimeIngest{c: c}
	c.supervisor = newConnectionSupervisor(c)
	c.typing = newTypingChannel(c)
	c.receipts = newReadReceiptTracker(c)
	c.loop.afterEach = c.store.flush

	go c.loop.Run()
	c.loop.post(c.supervisor.start)

	log.Info("Conversation opened")
	return c, nil
}

// LocalID returns the local participant
func (c *Conversation) LocalID() string { return c.local }

// PartnerID returns the remote participant
func (c *Conversation) PartnerID() string { return c.partner }

// ChannelKey returns the push channel of the conversation
func (c *Conversation) ChannelKey() string { return c.key }

// Snapshot returns the current message list, connection state, unread count
// and partner typing flag
func (c *Conversation) Snapshot() Snapshot {
	return c.store.Snapshot()
}

// Observe registers fn for every published change
func (c *Conversation) Observe(fn func(Snapshot)) (cancel func()) {
	return c.store.Observe(fn)
}

// Send posts a text message. The provisional entry is visible immediately;
// Send returns once the store confirms it or fails with a *SendError.
// ctx only bounds the wait; the send itself is not cancelled.
func (c *Conversation) Send(ctx context.Context, body string, replyToID *string) (*Message, error) {
	return c.dispatch(ctx, draft{Body: body, ReplyToID: replyToID}, nil)
}

// SendAttachment posts a message for an attachment that is already stored
func (c *Conversation) SendAttachment(ctx context.Context, att Attachment, caption string) (*Message, error) {
	return c.dispatch(ctx, draft{Body: caption, Attachment: &att}, nil)
}

// SendFile uploads r through the storage service and posts it as an attachment
func (c *Conversation) SendFile(ctx context.Context, filename, contentType string, kind AttachmentKind, size int64, r io.Reader) (*Message, error) {
	att := &Attachment{Kind: kind, Filename: filename, Size: size}
	up := &upload{reader: r, filename: filename, contentType: contentType}
	return c.dispatch(ctx, draft{Attachment: att, uploading: true}, up)
}

// SendVoice uploads a recorded voice note and posts it
func (c *Conversation) SendVoice(ctx context.Context, blob []byte, duration time.Duration) (*Message, error) {
	up := voiceUpload(blob)
	att := &Attachment{
		Kind:     AttachmentVoice,
		Filename: up.filename,
		Size:     int64(len(blob)),
		Duration: duration.Seconds(),
	}
	return c.dispatch(ctx, draft{Attachment: att, uploading: true}, up)
}

func (c *Conversation) dispatch(ctx context.Context, d draft, up *upload) (*Message, error) {
	result := make(chan sendResult, 1)
	if !c.loop.post(func() {
		c.sender.send(d, up, func(res sendResult) { result <- res })
	}) {
		return nil, ErrClosed
	}

	select {
	case res := <-result:
		return res.msg, res.err
	case <-c.loop.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NotifyTyping is called on each compose keystroke
func (c *Conversation) NotifyTyping() {
	c.loop.post(c.typing.notifyTyping)
}

// MarkRead marks every unread inbound message read in one batch and waits
// for the batch to finish
func (c *Conversation) MarkRead(ctx context.Context) error {
	result := make(chan error, 1)
	if !c.loop.post(func() {
		c.receipts.markRead(func(err error) { result <- err })
	}) {
		return ErrClosed
	}

	select {
	case err := <-result:
		return err
	case <-c.loop.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetVisibility reports whether the view is shown and focused. Gaining focus
// marks the conversation read.
func (c *Conversation) SetVisibility(visible, focused bool) {
	c.loop.post(func() {
		was := c.focused()
		c.visible = visible
		c.focus = focused
		c.store.setFocused(c.focused())
		if !was && c.focused() {
			c.receipts.markRead(nil)
		}
	})
}

func (c *Conversation) focused() bool {
	return c.visible && c.focus
}

// onLoaded runs after every successful poll
func (c *Conversation) onLoaded() {
	if c.loaded {
		return
	}
	c.loaded = true
	c.log.WithField("messages", len(c.store.entries)).Debug("Recent window loaded")
	if c.focused() {
		c.receipts.markRead(nil)
	}
}

// ClearConversation irreversibly deletes both directions of the conversation.
// Local state is cleared only when both deletes succeed.
func (c *Conversation) ClearConversation(ctx context.Context) error {
	result := make(chan error, 1)
	if !c.loop.post(func() {
		c.clear(func(err error) { result <- err })
	}) {
		return ErrClosed
	}

	select {
	case err := <-result:
		return err
	case <-c.loop.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conversation) clear(done func(error)) {
	outgoing := Direction{SenderID: c.local, ReceiverID: c.partner}
	incoming := Direction{SenderID: c.partner, ReceiverID: c.local}

	var err error
	c.loop.spawn(func(ctx context.Context) {
		if pd, ok := pairDeleter(c.repo); ok {
			err = pd.DeletePair(ctx, c.pair)
			return
		}
		if err = c.repo.DeleteWhere(ctx, Predicate(outgoing)); err != nil {
			return
		}
		if derr := c.repo.DeleteWhere(ctx, Predicate(incoming)); derr != nil {
			err = &PartialFailureError{Deleted: outgoing, Failed: incoming, Err: derr}
		}
	}, func() {
		if err != nil {
			c.log.WithError(err).Warn("Failed to clear conversation, local state kept")
			done(err)
			return
		}
		c.store.clear()
		c.receipts.reset()
		c.log.Info("Conversation cleared")
		done(nil)
	})
}

// pairDeleter finds an atomic pair delete through repository decorators
func pairDeleter(repo Repository) (PairDeleter, bool) {
	for repo != nil {
		if pd, ok := repo.(PairDeleter); ok {
			return pd, true
		}
		u, ok := repo.(interface{ Unwrap() Repository })
		if !ok {
			return nil, false
		}
		repo = u.Unwrap()
	}
	return nil, false
}

// Close tears the conversation down. Outstanding sends are discarded with
// their provisional state and the subscription is closed before Close returns.
func (c *Conversation) Close() error {
	if c.loop.stopped() {
		return nil
	}
	c.loop.call(func() {
		c.supervisor.stop()
		c.typing.close()
		c.receipts.close()
	})
	c.loop.stop()

	err := c.supervisor.sub.release()
	forgetConversation(c.key, c.local)
	c.log.Info("Conversation closed")
	return err
}
