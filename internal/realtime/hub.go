// internal/realtime/hub.go

package realtime

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Hub maintains active websocket connections and their channel memberships
type Hub struct {
	// Registered clients
	clients    map[*Client]struct{}
	channels   map[string]map[*Client]struct{}
	clientsMux sync.RWMutex

	broadcast   chan BroadcastMessage
	register    chan *Client
	unregister  chan *Client
	subscribe   chan membership
	unsubscribe chan membership

	log *logrus.Entry

	// Context for graceful shutdown
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// BroadcastMessage is a frame for every subscriber of a channel
type BroadcastMessage struct {
	Channel string
	Data    []byte
}

type membership struct {
	client  *Client
	channel string
}

// NewHub creates an idle hub; call Run to start it
func NewHub(log *logrus.Entry) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		clients:     make(map[*Client]struct{}),
		channels:    make(map[string]map[*Client]struct{}),
		broadcast:   make(chan BroadcastMessage, 256),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan membership),
		unsubscribe: make(chan membership),
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

func (h *Hub) Run() {
	defer func() {
		h.cleanup()
		close(h.done)
	}()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case m := <-h.subscribe:
			h.join(m)

		case m := <-h.unsubscribe:
			h.leave(m)

		case message := <-h.broadcast:
			h.broadcastMessage(message)

		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.clientsMux.Lock()
	defer h.clientsMux.Unlock()

	h.clients[client] = struct{}{}
	gatewayConnections.Set(float64(len(h.clients)))

	h.log.WithField("user_id", client.userID).Infof("Client connected. Total clients: %d", len(h.clients))
}

func (h *Hub) unregisterClient(client *Client) {
	h.clientsMux.Lock()
	defer h.clientsMux.Unlock()

	if _, exists := h.clients[client]; !exists {
		return
	}
	for channel := range client.channels {
		h.removeMember(channel, client)
	}
	delete(h.clients, client)
	client.close()
	gatewayConnections.Set(float64(len(h.clients)))

	h.log.WithField("user_id", client.userID).Infof("Client disconnected. Total clients: %d", len(h.clients))
}

func (h *Hub) join(m membership) {
	h.clientsMux.Lock()
	defer h.clientsMux.Unlock()

	if _, exists := h.clients[m.client]; !exists {
		return
	}
	members := h.channels[m.channel]
	if members == nil {
		members = make(map[*Client]struct{})
		h.channels[m.channel] = members
	}
	members[m.client] = struct{}{}
	m.client.channels[m.channel] = struct{}{}

	h.deliver(m.client, Frame{Op: OpSubscribed, Channel: m.channel}.encode())
}

func (h *Hub) leave(m membership) {
	h.clientsMux.Lock()
	defer h.clientsMux.Unlock()

	h.removeMember(m.channel, m.client)
}

// must be called with clientsMux held
func (h *Hub) removeMember(channel string, client *Client) {
	delete(client.channels, channel)
	members := h.channels[channel]
	delete(members, client)
	if len(members) == 0 {
		delete(h.channels, channel)
	}
}

func (h *Hub) broadcastMessage(msg BroadcastMessage) {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()

	for client := range h.channels[msg.Channel] {
		h.deliver(client, msg.Data)
	}
}

// deliver queues data for client, dropping the client if its queue is full
func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		go func() {
			select {
			case h.unregister <- client:
			case <-h.ctx.Done():
			}
		}()
	}
}

func (h *Hub) cleanup() {
	h.clientsMux.Lock()
	defer h.clientsMux.Unlock()

	for client := range h.clients {
		client.close()
	}
	h.clients = make(map[*Client]struct{})
	h.channels = make(map[string]map[*Client]struct{})
	gatewayConnections.Set(0)
}

// Publish sends frame data to every subscriber of channel
func (h *Hub) Publish(channel string, data []byte) {
	select {
	case h.broadcast <- BroadcastMessage{Channel: channel, Data: data}:
	case <-h.ctx.Done():
	}
}

// Subscribers returns the number of clients subscribed to channel
func (h *Hub) Subscribers(channel string) int {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	return len(h.channels[channel])
}

// GetActiveConnections returns the number of connected clients
func (h *Hub) GetActiveConnections() int {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	return len(h.clients)
}

func (h *Hub) Shutdown() {
	h.cancel()
	<-h.done
}
