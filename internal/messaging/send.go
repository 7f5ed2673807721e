// internal/messaging/send.go

package messaging

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

type sendResult struct {
	msg *Message
	err error
}

type pendingSend struct {
	tempID    string
	clientKey string
	startedAt time.Time
	done      func(sendResult)
}

// upload is the blob half of an attachment send
type upload struct {
	reader      io.Reader
	filename    string
	contentType string
}

// sendCoordinator implements optimistic sends: the provisional entry shows up
// at once and is later replaced in place by the confirmed record, or removed
// on failure. There is no automatic retry.
type sendCoordinator struct {
	c *Conversation
	// pending holds sends whose provisional entry is not yet reconciled
	pending map[string]*pendingSend
}

func newSendCoordinator(c *Conversation) *sendCoordinator {
	return &sendCoordinator{
		c:       c,
		pending: make(map[string]*pendingSend),
	}
}

func (s *sendCoordinator) send(d draft, up *upload, done func(sendResult)) {
	c := s.c
	if err := validateDraft(&d); err != nil {
		messagesSentTotal.WithLabelValues("invalid").Inc()
		done(sendResult{err: err})
		return
	}

	// Sending ends the local typing burst immediately
	c.typing.stop()

	clientKey := uuid.NewString()
	msg := &Message{
		ID:          provisionalPrefix + clientKey,
		ClientKey:   clientKey,
		SenderID:    c.local,
		ReceiverID:  c.partner,
		Body:        d.Body,
		CreatedAt:   c.opts.Now(),
		ReplyToID:   d.ReplyToID,
		Attachment:  d.Attachment,
		Provisional: true,
	}
	c.store.insert(msg)

	p := &pendingSend{
		tempID:    msg.ID,
		clientKey: clientKey,
		startedAt: time.Now(),
		done:      done,
	}
	s.pending[p.tempID] = p

	c.log.WithField("temp_id", p.tempID).Debug("Provisional message inserted")

	if up != nil {
		s.upload(p, up)
		return
	}
	s.persist(p)
}

func (s *sendCoordinator) upload(p *pendingSend, up *upload) {
	c := s.c
	if c.storage == nil {
		s.fail(p, Permanent("upload attachment", errNoStorage))
		return
	}

	var location string
	var err error
	c.loop.spawn(func(ctx context.Context) {
		location, err = c.storage.UploadMedia(ctx, up.reader, up.filename, up.contentType)
	}, func() {
		if err != nil {
			s.fail(p, err)
			return
		}
		m := c.store.get(p.tempID)
		if m == nil || m.Attachment == nil {
			// Cleared while uploading
			s.finish(p, sendResult{err: &SendError{TempID: p.tempID, Err: errDiscarded}})
			return
		}
		m.Attachment.Location = location
		c.store.dirty = true
		s.persist(p)
	})
}

func (s *sendCoordinator) persist(p *pendingSend) {
	c := s.c
	m := c.store.get(p.tempID)
	if m == nil {
		s.finish(p, sendResult{err: &SendError{TempID: p.tempID, Err: errDiscarded}})
		return
	}
	record := m.Clone()
	record.ID = ""
	record.Provisional = false

	var stored *Message
	var err error
	c.loop.spawn(func(ctx context.Context) {
		stored, err = c.repo.Insert(ctx, record)
	}, func() {
		s.complete(p, stored, err)
	})
}

// complete handles the direct write response. The realtime echo may already
// have reconciled the entry, in which case this only merges fields.
func (s *sendCoordinator) complete(p *pendingSend, stored *Message, err error) {
	c := s.c
	log := c.log.WithField("temp_id", p.tempID)
	_, outstanding := s.pending[p.tempID]

	if err != nil {
		if !outstanding {
			// The echo proves the record was stored
			log.WithError(err).Info("Direct response failed after realtime confirmation")
			s.finish(p, sendResult{msg: s.confirmed(p)})
			return
		}
		s.fail(p, err)
		return
	}

	out := c.store.Reconcile(stored, c.opts.ReconcileTolerance)
	if out.result == resultDropped {
		s.fail(p, Permanent("insert message", errBadRecord))
		return
	}
	if outstanding {
		reconciliationsTotal.WithLabelValues("direct").Inc()
		log.WithField("id", stored.ID).Debug("Provisional message confirmed by direct response")
	}
	s.finish(p, sendResult{msg: out.msg.Clone()})
}

// fail rolls the provisional entry back and raises the send error
func (s *sendCoordinator) fail(p *pendingSend, err error) {
	c := s.c
	c.store.remove(p.tempID)
	c.log.WithField("temp_id", p.tempID).WithError(err).Warn("Failed to send message, provisional entry removed")
	s.finish(p, sendResult{err: &SendError{TempID: p.tempID, Err: err}})
}

func (s *sendCoordinator) finish(p *pendingSend, res sendResult) {
	delete(s.pending, p.tempID)
	if res.err != nil {
		recordSend("failed", p.startedAt)
	} else {
		recordSend("ok", p.startedAt)
	}
	if p.done != nil {
		p.done(res)
		p.done = nil
	}
}

// resolved is called when another path reconciled tempID first
func (s *sendCoordinator) resolved(tempID, path string) {
	if _, ok := s.pending[tempID]; !ok {
		return
	}
	delete(s.pending, tempID)
	reconciliationsTotal.WithLabelValues(path).Inc()
	s.c.log.WithField("temp_id", tempID).Debugf("Provisional message confirmed by %s", path)
}

func (s *sendCoordinator) confirmed(p *pendingSend) *Message {
	if i := s.c.store.indexOfClientKey(p.clientKey); i >= 0 {
		return s.c.store.entries[i].msg.Clone()
	}
	return nil
}

func voiceUpload(blob []byte) *upload {
	return &upload{
		reader:      bytes.NewReader(blob),
		filename:    "voice-" + uuid.NewString() + ".webm",
		contentType: "audio/webm",
	}
}
