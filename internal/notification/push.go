// internal/notification/push.go

package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"github.com/imadgeboyega/kiekky-chat/internal/common/alog"
	chat "github.com/imadgeboyega/kiekky-chat/internal/messaging"
)

const sendTimeout = 10 * time.Second

// sender is the part of the FCM client the notifier uses
type sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMNotifier forwards new inbound message previews to the user's devices
// through Firebase Cloud Messaging
type FCMNotifier struct {
	client sender
	tokens []string
	log    *logrus.Entry
}

// NewFCMNotifier creates a notifier from a service account file or inline
// JSON credentials. tokens are the device registration tokens to notify.
func NewFCMNotifier(ctx context.Context, credentialsFile, credentialsJSON string, tokens []string) (*FCMNotifier, error) {
	if len(tokens) == 0 {
		return nil, errors.New("no device tokens provided")
	}

	var opt option.ClientOption
	switch {
	case credentialsFile != "":
		opt = option.WithCredentialsFile(credentialsFile)
	case credentialsJSON != "":
		opt = option.WithCredentialsJSON([]byte(credentialsJSON))
	default:
		return nil, errors.New("FCM credentials file or JSON must be set")
	}

	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}

	return newFCMNotifier(client, tokens), nil
}

func newFCMNotifier(client sender, tokens []string) *FCMNotifier {
	return &FCMNotifier{
		client: client,
		tokens: tokens,
		log:    alog.Logger().WithField("component", "fcm_notifier"),
	}
}

// NotifyMessage sends one notification per device. Failures are logged only.
func (n *FCMNotifier) NotifyMessage(msg *chat.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	sent := 0
	for _, token := range n.tokens {
		if _, err := n.client.Send(ctx, buildMessage(token, msg)); err != nil {
			n.log.WithError(err).WithField("message_id", msg.ID).Warn("Failed to send push notification")
			continue
		}
		sent++
	}
	n.log.WithFields(logrus.Fields{
		"message_id": msg.ID,
		"devices":    sent,
	}).Debug("Push notification sent")
}

// buildMessage renders msg for one device. Notifications for the same
// conversation collapse into one on the device.
func buildMessage(token string, msg *chat.Message) *messaging.Message {
	channel := chat.NewPair(msg.SenderID, msg.ReceiverID).ChannelKey()
	title := "New message"
	body := chat.Preview(msg)

	data := map[string]string{
		"type":       "chat_message",
		"channel":    channel,
		"message_id": msg.ID,
		"sender_id":  msg.SenderID,
	}

	notification := &messaging.Notification{Title: title, Body: body}
	if msg.Attachment != nil && msg.Attachment.Kind == chat.AttachmentImage {
		notification.ImageURL = msg.Attachment.Location
	}

	return &messaging.Message{
		Token:        token,
		Notification: notification,
		Data:         data,
		Android: &messaging.AndroidConfig{
			Priority:    "high",
			CollapseKey: channel,
			Notification: &messaging.AndroidNotification{
				Sound: "default",
				Tag:   channel,
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority":    "10",
				"apns-collapse-id": channel,
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert:    &messaging.ApsAlert{Title: title, Body: body},
					Sound:    "default",
					ThreadID: channel,
				},
			},
		},
	}
}
