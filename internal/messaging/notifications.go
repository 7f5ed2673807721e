// internal/messaging/notifications.go

package messaging

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(msg *Message)

func (f NotifierFunc) NotifyMessage(msg *Message) {
	f(msg)
}

type logNotifier struct {
	log *logrus.Entry
}

// NewLogNotifier writes inbound message previews to the log. It stands in
// where the host has no notification surface.
func NewLogNotifier(log *logrus.Entry) Notifier {
	return &logNotifier{log: log}
}

func (n *logNotifier) NotifyMessage(msg *Message) {
	n.log.WithFields(logrus.Fields{
		"id":        msg.ID,
		"sender_id": msg.SenderID,
	}).Info(Preview(msg))
}

// Preview is the one-line notification body for a message
func Preview(msg *Message) string {
	if msg.Body != "" {
		return msg.Body
	}
	a := msg.Attachment
	if a == nil {
		return "Sent a message"
	}

	switch a.Kind {
	case AttachmentImage:
		return "Sent a photo"
	case AttachmentVoice:
		d := time.Duration(a.Duration * float64(time.Second)).Round(time.Second)
		return fmt.Sprintf("Sent a voice note (%d:%02d)", int(d.Minutes()), int(d.Seconds())%60)
	case AttachmentDocument:
		if a.Size > 0 {
			return fmt.Sprintf("Sent %s (%s)", a.Filename, humanize.Bytes(uint64(a.Size)))
		}
		return "Sent " + a.Filename
	default:
		if a.Size > 0 {
			return fmt.Sprintf("Sent a file (%s)", humanize.Bytes(uint64(a.Size)))
		}
		return "Sent a file"
	}
}
