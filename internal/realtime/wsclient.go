// internal/realtime/wsclient.go

package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/imadgeboyega/kiekky-chat/internal/common/alog"
	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
)

var errNotConnected = errors.New("no open gateway connection for channel")

// WebsocketPush is a PushLayer that talks to a Gateway. Every subscription
// holds its own connection, and broadcasts go out on the connection of the
// channel's subscription.
type WebsocketPush struct {
	url    string
	token  string
	dialer *websocket.Dialer
	log    *logrus.Entry

	mu    sync.Mutex
	conns map[string]*wsSubscription
}

type wsSubscription struct {
	key  string
	conn *websocket.Conn

	writeMu sync.Mutex
	mu      sync.Mutex
	closed  bool
}

func (s *wsSubscription) Key() string { return s.key }

// NewWebsocketPush connects to the gateway at url (ws:// or wss://) with token
func NewWebsocketPush(url, token string) *WebsocketPush {
	return &WebsocketPush{
		url:   url,
		token: token,
		dialer: &websocket.Dialer{
			HandshakeTimeout: writeWait,
		},
		log:   alog.Logger().WithField("component", "ws_push"),
		conns: make(map[string]*wsSubscription),
	}
}

func (p *WebsocketPush) Subscribe(ctx context.Context, key string, onEvent func(messaging.Envelope), lc messaging.Lifecycle) (messaging.Subscription, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.token)

	conn, resp, err := p.dialer.DialContext(ctx, p.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, messaging.Permanent("subscribe", err)
		}
		return nil, messaging.Transient("subscribe", err)
	}
	conn.SetReadLimit(maxMessageSize)

	sub := &wsSubscription{key: key, conn: conn}
	if err := sub.write(Frame{Op: OpSubscribe, Channel: key}); err != nil {
		conn.Close()
		return nil, messaging.Transient("subscribe", err)
	}

	p.mu.Lock()
	p.conns[key] = sub
	p.mu.Unlock()
	subscriptionsActive.Inc()

	go p.readLoop(sub, onEvent, lc)
	return sub, nil
}

func (p *WebsocketPush) readLoop(sub *wsSubscription, onEvent func(messaging.Envelope), lc messaging.Lifecycle) {
	log := p.log.WithField("channel", sub.key)
	acked := false

	for {
		_, data, err := sub.conn.ReadMessage()
		if err != nil {
			if sub.isClosed() {
				return
			}
			p.forget(sub)
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				lc(messaging.StatusClosed, nil)
			} else {
				lc(messaging.StatusError, messaging.Transient("receive", err))
			}
			return
		}

		// The gateway may batch several frames per message
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			var frame Frame
			if err := json.Unmarshal(line, &frame); err != nil {
				log.WithError(err).Debug("Dropped malformed frame")
				continue
			}

			switch frame.Op {
			case OpSubscribed:
				if frame.Channel == sub.key {
					acked = true
					lc(messaging.StatusSubscribed, nil)
				}
			case OpEvent:
				if frame.Channel == sub.key && frame.Envelope != nil {
					onEvent(*frame.Envelope)
				}
			case OpError:
				log.WithField("error", frame.Error).Warn("Gateway rejected frame")
				// A rejected subscribe ends the attempt; later errors are per frame
				if frame.Channel == sub.key && !acked && !sub.isClosed() {
					p.forget(sub)
					sub.close()
					lc(messaging.StatusError, messaging.Permanent("subscribe", errors.New(frame.Error)))
					return
				}
			}
		}
	}
}

func (p *WebsocketPush) Unsubscribe(sub messaging.Subscription) error {
	s, ok := sub.(*wsSubscription)
	if !ok {
		return errors.New("not a websocket subscription")
	}
	p.forget(s)
	if s.isClosed() {
		return nil
	}
	s.write(Frame{Op: OpUnsubscribe, Channel: s.key})
	return s.close()
}

func (p *WebsocketPush) Broadcast(ctx context.Context, key string, env messaging.Envelope) error {
	p.mu.Lock()
	sub := p.conns[key]
	p.mu.Unlock()

	if sub == nil {
		return messaging.Transient("broadcast", errNotConnected)
	}
	if err := sub.write(Frame{Op: OpBroadcast, Channel: key, Envelope: &env}); err != nil {
		return messaging.Transient("broadcast", err)
	}
	return nil
}

func (p *WebsocketPush) forget(sub *wsSubscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conns[sub.key] == sub {
		delete(p.conns, sub.key)
		subscriptionsActive.Dec()
	}
}

func (s *wsSubscription) write(f Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(f)
}

func (s *wsSubscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *wsSubscription) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.writeMu.Lock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	return s.conn.Close()
}
