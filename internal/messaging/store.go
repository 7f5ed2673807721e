// internal/messaging/store.go

package messaging

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type storeEntry struct {
	msg *Message
	seq uint64
}

// ConversationStore is the ordered, deduplicated message list of one
// conversation and the single source of truth for rendering.
//
// Entries are kept sorted by created timestamp, ties broken by the order in
// which they were first inserted. All mutations happen on the conversation
// loop; Snapshot and Observe are safe from any goroutine.
type ConversationStore struct {
	local   string
	partner string
	key     string

	entries []storeEntry
	nextSeq uint64

	state         ConnectionState
	partnerTyping bool
	focused       bool
	unread        UnreadCounter
	dirty         bool

	obsMu     sync.Mutex
	observers map[int]func(Snapshot)
	nextObs   int

	published atomic.Pointer[Snapshot]
}

func newConversationStore(local, partner string) *ConversationStore {
	s := &ConversationStore{
		local:     local,
		partner:   partner,
		key:       NewPair(local, partner).ChannelKey(),
		state:     StateConnecting,
		observers: make(map[int]func(Snapshot)),
	}
	s.published.Store(&Snapshot{State: StateConnecting})
	return s
}

func entryLess(a, b storeEntry) bool {
	if !a.msg.CreatedAt.Equal(b.msg.CreatedAt) {
		return a.msg.CreatedAt.Before(b.msg.CreatedAt)
	}
	return a.seq < b.seq
}

// place inserts e at its sorted position
func (s *ConversationStore) place(e storeEntry) {
	i := sort.Search(len(s.entries), func(i int) bool {
		return entryLess(e, s.entries[i])
	})
	s.entries = append(s.entries, storeEntry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
	s.dirty = true
}

func (s *ConversationStore) insert(msg *Message) {
	s.nextSeq++
	s.place(storeEntry{msg: msg, seq: s.nextSeq})
}

// replaceAt swaps the record at i, keeping its insertion rank. The entry
// only moves if the new created timestamp requires it.
func (s *ConversationStore) replaceAt(i int, msg *Message) {
	seq := s.entries[i].seq
	s.removeAt(i)
	s.place(storeEntry{msg: msg, seq: seq})
}

func (s *ConversationStore) removeAt(i int) {
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	s.dirty = true
}

func (s *ConversationStore) remove(id string) bool {
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.removeAt(i)
	return true
}

func (s *ConversationStore) indexOf(id string) int {
	for i := range s.entries {
		if s.entries[i].msg.ID == id {
			return i
		}
	}
	return -1
}

func (s *ConversationStore) indexOfClientKey(key string) int {
	if key == "" {
		return -1
	}
	for i := range s.entries {
		if s.entries[i].msg.ClientKey == key {
			return i
		}
	}
	return -1
}

func (s *ConversationStore) get(id string) *Message {
	if i := s.indexOf(id); i >= 0 {
		return s.entries[i].msg
	}
	return nil
}

func (s *ConversationStore) clear() {
	s.entries = nil
	s.dirty = true
}

// markRead sets read (and a missing delivered) timestamp on id.
// A read timestamp that is already set is never moved.
func (s *ConversationStore) markRead(id string, at time.Time) bool {
	m := s.get(id)
	if m == nil || m.ReadAt != nil {
		return false
	}
	if m.DeliveredAt == nil {
		d := at
		m.DeliveredAt = &d
	}
	r := at
	m.ReadAt = &r
	m.normalizeTimestamps()
	s.dirty = true
	return true
}

func (s *ConversationStore) markDelivered(id string, at time.Time) bool {
	m := s.get(id)
	if m == nil || m.DeliveredAt != nil {
		return false
	}
	d := at
	m.DeliveredAt = &d
	m.normalizeTimestamps()
	s.dirty = true
	return true
}

func (s *ConversationStore) setState(state ConnectionState) {
	if s.state != state {
		s.state = state
		s.dirty = true
	}
}

func (s *ConversationStore) setFocused(focused bool) {
	if s.focused != focused {
		s.focused = focused
		s.dirty = true
	}
}

func (s *ConversationStore) setPartnerTyping(typing bool) {
	if s.partnerTyping != typing {
		s.partnerTyping = typing
		s.dirty = true
	}
}

// flush publishes a new snapshot if anything changed during the handler
func (s *ConversationStore) flush() {
	if !s.dirty {
		return
	}
	s.dirty = false
	s.unread.recompute(s.entries, s.local, s.partner, s.focused)
	unreadGauge.WithLabelValues(s.key, s.local).Set(float64(s.unread.Count()))

	snap := &Snapshot{
		Messages:      make([]*Message, len(s.entries)),
		State:         s.state,
		Unread:        s.unread.Count(),
		PartnerTyping: s.partnerTyping,
	}
	for i, e := range s.entries {
		snap.Messages[i] = e.msg.Clone()
	}
	s.published.Store(snap)

	s.obsMu.Lock()
	observers := make([]func(Snapshot), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.obsMu.Unlock()

	for _, fn := range observers {
		fn(*snap)
	}
}

// Snapshot returns the last published view
func (s *ConversationStore) Snapshot() Snapshot {
	return *s.published.Load()
}

// Observe registers fn to be called on the conversation loop after every
// change. fn must not call blocking Conversation methods.
func (s *ConversationStore) Observe(fn func(Snapshot)) (cancel func()) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()

	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}
