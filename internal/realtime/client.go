// internal/realtime/client.go

package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
)

// Client represents a websocket client of the gateway
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	userID  string
	limiter *rate.Limiter

	// owned by the hub goroutine
	channels map[string]struct{}

	mu     sync.Mutex
	closed bool
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string, limiter *rate.Limiter) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, maxQueuedMessages),
		userID:   userID,
		limiter:  limiter,
		channels: make(map[string]struct{}),
	}
}

func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.leaveHub()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).Warn("WebSocket error")
			}
			break
		}

		if !c.limiter.Allow() {
			gatewayRejectedTotal.WithLabelValues("rate_limited").Inc()
			c.reply(errorFrame("", "rate limit exceeded"))
			continue
		}
		c.processFrame(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) processFrame(data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		gatewayRejectedTotal.WithLabelValues("malformed").Inc()
		c.reply(errorFrame("", "malformed frame"))
		return
	}

	pair, ok := messaging.ParseChannelKey(frame.Channel)
	if !ok || !pair.Has(c.userID) {
		gatewayRejectedTotal.WithLabelValues("forbidden").Inc()
		c.reply(errorFrame(frame.Channel, messaging.ErrNotParticipant.Error()))
		return
	}

	switch frame.Op {
	case OpSubscribe:
		c.request(c.hub.subscribe, frame.Channel)

	case OpUnsubscribe:
		c.request(c.hub.unsubscribe, frame.Channel)

	case OpBroadcast:
		if reason := c.checkEnvelope(pair, frame.Envelope); reason != "" {
			gatewayRejectedTotal.WithLabelValues("invalid_envelope").Inc()
			c.reply(errorFrame(frame.Channel, reason))
			return
		}
		out := Frame{Op: OpEvent, Channel: frame.Channel, Envelope: frame.Envelope}
		c.hub.Publish(frame.Channel, out.encode())
		framesTotal.WithLabelValues("gateway", string(frame.Envelope.Kind)).Inc()

	default:
		gatewayRejectedTotal.WithLabelValues("unknown_op").Inc()
		c.reply(errorFrame(frame.Channel, "unknown op "+string(frame.Op)))
	}
}

// checkEnvelope keeps a client from speaking for anyone else
func (c *Client) checkEnvelope(pair messaging.Pair, env *messaging.Envelope) string {
	if env == nil {
		return "missing envelope"
	}
	switch env.Kind {
	case messaging.EventTyping:
		if env.Typing == nil || env.Typing.UserID != c.userID || !pair.Has(env.Typing.PartnerID) {
			return "typing signal must come from the sender"
		}
	case messaging.EventInsert, messaging.EventUpdate:
		if !pair.Contains(env.Record) {
			return "record is outside this conversation"
		}
		if env.Kind == messaging.EventInsert && env.Record.SenderID != c.userID {
			return "insert must come from the sender"
		}
	default:
		return "unknown event kind"
	}
	return ""
}

func (c *Client) leaveHub() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.ctx.Done():
	}
}

func (c *Client) request(ch chan membership, channel string) {
	select {
	case ch <- membership{client: c, channel: channel}:
	case <-c.hub.ctx.Done():
	}
}

// reply queues a frame for this client only; it is dropped when the queue is
// full or the client is gone
func (c *Client) reply(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
