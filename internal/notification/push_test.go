package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chat "github.com/imadgeboyega/kiekky-chat/internal/messaging"
)

const (
	alice = "6f1c2a8e-3b4d-4c5e-8f60-718293a4b5c6"
	bob   = "0a1b2c3d-4e5f-4a6b-8c7d-8e9f0a1b2c3d"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []*messaging.Message
	fail map[string]bool
}

func (f *fakeSender) Send(ctx context.Context, m *messaging.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[m.Token] {
		return "", errors.New("registration token not registered")
	}
	f.sent = append(f.sent, m)
	return "projects/test/messages/1", nil
}

func TestBuildMessage(t *testing.T) {
	msg := &chat.Message{ID: "42", SenderID: bob, ReceiverID: alice, Body: "hey", CreatedAt: time.Now()}
	m := buildMessage("device-1", msg)

	channel := chat.NewPair(alice, bob).ChannelKey()
	assert.Equal(t, "device-1", m.Token)
	assert.Equal(t, "hey", m.Notification.Body)
	assert.Empty(t, m.Notification.ImageURL)
	assert.Equal(t, channel, m.Data["channel"])
	assert.Equal(t, "42", m.Data["message_id"])
	assert.Equal(t, channel, m.Android.CollapseKey)
	assert.Equal(t, channel, m.APNS.Headers["apns-collapse-id"])
}

func TestBuildMessageUsesImagePreview(t *testing.T) {
	msg := &chat.Message{
		ID: "7", SenderID: bob, ReceiverID: alice,
		Attachment: &chat.Attachment{Kind: chat.AttachmentImage, Location: "https://cdn.test/a.png"},
	}
	m := buildMessage("device-1", msg)
	assert.Equal(t, "Sent a photo", m.Notification.Body)
	assert.Equal(t, "https://cdn.test/a.png", m.Notification.ImageURL)
}

func TestNotifyMessageContinuesPastFailedDevices(t *testing.T) {
	client := &fakeSender{fail: map[string]bool{"stale": true}}
	n := newFCMNotifier(client, []string{"stale", "phone", "tablet"})

	n.NotifyMessage(&chat.Message{ID: "1", SenderID: bob, ReceiverID: alice, Body: "hi"})

	require.Len(t, client.sent, 2)
	assert.Equal(t, "phone", client.sent[0].Token)
	assert.Equal(t, "tablet", client.sent[1].Token)
}

func TestNewFCMNotifierNeedsTokensAndCredentials(t *testing.T) {
	_, err := NewFCMNotifier(context.Background(), "", "", []string{"device"})
	assert.Error(t, err)

	_, err = NewFCMNotifier(context.Background(), "creds.json", "", nil)
	assert.Error(t, err)
}
