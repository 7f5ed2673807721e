// internal/messaging/models.go

package messaging

import (
	"encoding/json"
	"strings"
	"time"
)

// AttachmentKind classifies an attachment for rendering and previews
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentVoice    AttachmentKind = "voice"
	AttachmentDocument AttachmentKind = "document"
	AttachmentGeneric  AttachmentKind = "generic"
)

// Attachment describes a stored binary referenced by a message
type Attachment struct {
	Location string         `json:"location" db:"attachment_url" validate:"required,max=2048"`
	Kind     AttachmentKind `json:"kind" db:"attachment_type" validate:"required,oneof=image voice document generic"`
	Filename string         `json:"filename,omitempty" db:"attachment_name" validate:"max=255"`
	Size     int64          `json:"size,omitempty" db:"attachment_size" validate:"gte=0"`
	Duration float64        `json:"duration,omitempty" db:"voice_duration" validate:"gte=0"`
}

// Message is one chat record between the two participants.
//
// ID is either a provisional id (see IsProvisionalID) or the permanent id
// assigned by the repository. ClientKey is generated on the sending device
// and survives the round trip through the repository and the push layer.
type Message struct {
	ID          string      `json:"id" db:"id"`
	ClientKey   string      `json:"client_key,omitempty" db:"client_key"`
	SenderID    string      `json:"sender_id" db:"sender_id"`
	ReceiverID  string      `json:"receiver_id" db:"receiver_id"`
	Body        string      `json:"body,omitempty" db:"body"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	DeliveredAt *time.Time  `json:"delivered_at,omitempty" db:"delivered_at"`
	ReadAt      *time.Time  `json:"read_at,omitempty" db:"read_at"`
	ReplyToID   *string     `json:"reply_to_id,omitempty" db:"reply_to_id"`
	Attachment  *Attachment `json:"attachment,omitempty"`

	// Provisional is set only on locally created entries awaiting confirmation
	Provisional bool `json:"-" db:"-"`
}

const provisionalPrefix = "tmp-"

// IsProvisionalID reports whether id was generated locally
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, provisionalPrefix)
}

// Clone returns a deep copy so snapshots never alias loop-owned state
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.DeliveredAt != nil {
		t := *m.DeliveredAt
		c.DeliveredAt = &t
	}
	if m.ReadAt != nil {
		t := *m.ReadAt
		c.ReadAt = &t
	}
	if m.ReplyToID != nil {
		id := *m.ReplyToID
		c.ReplyToID = &id
	}
	if m.Attachment != nil {
		a := *m.Attachment
		c.Attachment = &a
	}
	return &c
}

// IsInbound reports whether the message was sent by partner to local
func (m *Message) IsInbound(local, partner string) bool {
	return m.SenderID == partner && m.ReceiverID == local
}

// normalizeTimestamps clamps delivered >= created and read >= delivered
func (m *Message) normalizeTimestamps() {
	if m.DeliveredAt != nil && m.DeliveredAt.Before(m.CreatedAt) {
		t := m.CreatedAt
		m.DeliveredAt = &t
	}
	if m.ReadAt != nil {
		floor := m.CreatedAt
		if m.DeliveredAt != nil {
			floor = *m.DeliveredAt
		}
		if m.ReadAt.Before(floor) {
			t := floor
			m.ReadAt = &t
		}
	}
}

// Pair is the unordered participant pair of a conversation
type Pair struct {
	A string `json:"a" validate:"required,uuid"`
	B string `json:"b" validate:"required,uuid,nefield=A"`
}

// NewPair returns the canonically ordered pair for two users
func NewPair(u1, u2 string) Pair {
	if u2 < u1 {
		u1, u2 = u2, u1
	}
	return Pair{A: u1, B: u2}
}

// ChannelKey is the push channel shared by both participants
func (p Pair) ChannelKey() string {
	c := NewPair(p.A, p.B)
	return "chat:" + c.A + ":" + c.B
}

// ParseChannelKey returns the pair named by a channel key
func ParseChannelKey(key string) (Pair, bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] != "chat" || parts[1] == "" || parts[2] == "" || parts[1] == parts[2] {
		return Pair{}, false
	}
	return NewPair(parts[1], parts[2]), true
}

// Has reports whether userID is one of the participants
func (p Pair) Has(userID string) bool {
	return userID != "" && (p.A == userID || p.B == userID)
}

// Contains reports whether the message's sender and receiver are exactly the pair
func (p Pair) Contains(m *Message) bool {
	if m == nil {
		return false
	}
	return (m.SenderID == p.A && m.ReceiverID == p.B) ||
		(m.SenderID == p.B && m.ReceiverID == p.A)
}

// TypingSignal is the ephemeral composing indicator. It is never persisted.
type TypingSignal struct {
	UserID    string    `json:"user_id"`
	PartnerID string    `json:"partner_id"`
	IsTyping  bool      `json:"is_typing"`
	EmittedAt time.Time `json:"emitted_at"`
}

// ConnectionState governs polling cadence and the UI indicator
type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StateConnected
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// EventKind identifies what a push envelope carries
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventTyping EventKind = "typing"
)

// Envelope is the payload exchanged on a conversation channel
type Envelope struct {
	Kind   EventKind     `json:"kind"`
	Record *Message      `json:"record,omitempty"`
	Typing *TypingSignal `json:"typing,omitempty"`
}

// Encode marshals the envelope for transports that carry bytes
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses a transport payload
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}

// Snapshot is an immutable view of a conversation for rendering
type Snapshot struct {
	Messages      []*Message
	State         ConnectionState
	Unread        int
	PartnerTyping bool
}
