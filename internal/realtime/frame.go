// internal/realtime/frame.go

package realtime

import (
	"encoding/json"
	"time"

	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
)

// FrameOp is the operation carried by a gateway frame
type FrameOp string

const (
	// client -> gateway
	OpSubscribe   FrameOp = "subscribe"
	OpUnsubscribe FrameOp = "unsubscribe"
	OpBroadcast   FrameOp = "broadcast"

	// gateway -> client
	OpSubscribed FrameOp = "subscribed"
	OpEvent      FrameOp = "event"
	OpError      FrameOp = "error"
)

// WebSocket configuration constants
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	// Maximum number of queued messages per client
	maxQueuedMessages = 256
)

// Frame is one gateway websocket message
type Frame struct {
	Op       FrameOp             `json:"op"`
	Channel  string              `json:"channel,omitempty"`
	Envelope *messaging.Envelope `json:"envelope,omitempty"`
	Error    string              `json:"error,omitempty"`
}

func (f Frame) encode() []byte {
	data, err := json.Marshal(f)
	if err != nil {
		return []byte(`{"op":"error","error":"encode failed"}`)
	}
	return data
}

func errorFrame(channel, message string) []byte {
	return Frame{Op: OpError, Channel: channel, Error: message}.encode()
}
