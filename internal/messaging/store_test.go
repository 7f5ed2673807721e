package messaging

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "6f1c2a8e-3b4d-4c5e-8f60-718293a4b5c6"
	bob   = "0a1b2c3d-4e5f-4a6b-8c7d-8e9f0a1b2c3d"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore() *ConversationStore {
	return newConversationStore(alice, bob)
}

func confirmed(id, from, to, body string, at time.Time) *Message {
	return &Message{ID: id, SenderID: from, ReceiverID: to, Body: body, CreatedAt: at}
}

func provisional(key, body string, at time.Time) *Message {
	return &Message{
		ID:          provisionalPrefix + key,
		ClientKey:   key,
		SenderID:    alice,
		ReceiverID:  bob,
		Body:        body,
		CreatedAt:   at,
		Provisional: true,
	}
}

func ids(s *ConversationStore) []string {
	out := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.msg.ID)
	}
	return out
}

func TestReconcileIsIdempotent(t *testing.T) {
	s := newTestStore()
	rec := confirmed("1", bob, alice, "hi", t0)

	out := s.Reconcile(rec, 5*time.Second)
	assert.Equal(t, resultInserted, out.result)

	out = s.Reconcile(rec, 5*time.Second)
	assert.Equal(t, resultUnchanged, out.result)
	assert.Equal(t, []string{"1"}, ids(s))
}

func TestReconcileRejectsProvisionalAndEmptyIDs(t *testing.T) {
	s := newTestStore()

	assert.Equal(t, resultDropped, s.Reconcile(nil, time.Second).result)
	assert.Equal(t, resultDropped, s.Reconcile(confirmed("", bob, alice, "x", t0), time.Second).result)
	assert.Equal(t, resultDropped, s.Reconcile(confirmed("tmp-1", bob, alice, "x", t0), time.Second).result)
	assert.Empty(t, s.entries)
}

func TestReconcileByClientKey(t *testing.T) {
	s := newTestStore()
	p := provisional("k1", "Hello", t0)
	s.insert(p)

	// The stored created time differs from the local one
	stored := confirmed("42", alice, bob, "Hello", t0.Add(300*time.Millisecond))
	stored.ClientKey = "k1"

	first := s.Reconcile(stored, time.Second)
	assert.Equal(t, resultReplaced, first.result)
	assert.Equal(t, p.ID, first.tempID)

	// Second delivery path
	second := s.Reconcile(stored, time.Second)
	assert.Equal(t, resultUnchanged, second.result)
	assert.Empty(t, second.tempID)

	require.Len(t, s.entries, 1)
	assert.Equal(t, "42", s.entries[0].msg.ID)
	assert.False(t, s.entries[0].msg.Provisional)
}

func TestReconcileSameKeyUnderNewID(t *testing.T) {
	s := newTestStore()
	first := confirmed("1", alice, bob, "x", t0)
	first.ClientKey = "k"
	s.Reconcile(first, time.Second)

	again := confirmed("2", alice, bob, "x", t0)
	again.ClientKey = "k"
	s.Reconcile(again, time.Second)

	assert.Equal(t, []string{"1"}, ids(s))
}

func TestReconcileKeylessHeuristic(t *testing.T) {
	s := newTestStore()
	s.insert(provisional("a", "same", t0))
	s.insert(provisional("b", "same", t0.Add(time.Second)))

	// Keyless echo matches the oldest candidate within tolerance
	out := s.Reconcile(confirmed("7", alice, bob, "same", t0.Add(500*time.Millisecond)), 5*time.Second)
	assert.Equal(t, resultReplaced, out.result)
	assert.Equal(t, provisionalPrefix+"a", out.tempID)

	out = s.Reconcile(confirmed("8", alice, bob, "same", t0.Add(1500*time.Millisecond)), 5*time.Second)
	assert.Equal(t, resultReplaced, out.result)
	assert.Equal(t, provisionalPrefix+"b", out.tempID)

	assert.ElementsMatch(t, []string{"7", "8"}, ids(s))
}

func TestReconcileHeuristicRespectsToleranceAndContent(t *testing.T) {
	s := newTestStore()
	s.insert(provisional("a", "hello", t0))

	out := s.Reconcile(confirmed("1", alice, bob, "hello", t0.Add(10*time.Second)), 5*time.Second)
	assert.Equal(t, resultInserted, out.result)

	out = s.Reconcile(confirmed("2", alice, bob, "other", t0), 5*time.Second)
	assert.Equal(t, resultInserted, out.result)

	// A record with a different key never takes over a provisional entry
	keyed := confirmed("3", alice, bob, "hello", t0)
	keyed.ClientKey = "zzz"
	out = s.Reconcile(keyed, 5*time.Second)
	assert.Equal(t, resultInserted, out.result)

	assert.Len(t, s.entries, 4)
	assert.NotEqual(t, -1, s.indexOf(provisionalPrefix+"a"))
}

func TestReconcileHeuristicIgnoresPartnerRecords(t *testing.T) {
	s := newTestStore()
	s.insert(provisional("a", "hey", t0))

	out := s.Reconcile(confirmed("1", bob, alice, "hey", t0), 5*time.Second)
	assert.Equal(t, resultInserted, out.result)
	assert.Len(t, s.entries, 2)
}

func TestStoreOrderingUnderInterleaving(t *testing.T) {
	s := newTestStore()
	times := []int{5, 1, 3, 3, 0, 4, 2, 1}
	for i, sec := range times {
		at := t0.Add(time.Duration(sec) * time.Second)
		if i%2 == 0 {
			s.insert(provisional(fmt.Sprintf("k%d", i), "p", at))
		} else {
			s.Reconcile(confirmed(fmt.Sprint(i), bob, alice, "c", at), time.Second)
		}
	}

	require.Len(t, s.entries, len(times))
	assert.True(t, sort.SliceIsSorted(s.entries, func(i, j int) bool {
		return s.entries[i].msg.CreatedAt.Before(s.entries[j].msg.CreatedAt)
	}))
}

func TestStoreTiesKeepInsertionOrder(t *testing.T) {
	s := newTestStore()
	s.Reconcile(confirmed("b", bob, alice, "first", t0), time.Second)
	s.Reconcile(confirmed("a", bob, alice, "second", t0), time.Second)
	s.insert(provisional("k", "third", t0))

	assert.Equal(t, []string{"b", "a", provisionalPrefix + "k"}, ids(s))
}

func TestReplaceKeepsPositionForEqualTimestamps(t *testing.T) {
	s := newTestStore()
	s.insert(provisional("k", "mine", t0))
	s.Reconcile(confirmed("9", bob, alice, "theirs", t0), time.Second)

	stored := confirmed("10", alice, bob, "mine", t0)
	stored.ClientKey = "k"
	s.Reconcile(stored, time.Second)

	assert.Equal(t, []string{"10", "9"}, ids(s))
}

func TestReadTimestampIsMonotonic(t *testing.T) {
	s := newTestStore()
	s.Reconcile(confirmed("1", bob, alice, "hi", t0), time.Second)

	read := t0.Add(time.Minute)
	withRead := confirmed("1", bob, alice, "hi", t0)
	withRead.ReadAt = &read
	assert.Equal(t, resultMerged, s.Reconcile(withRead, time.Second).result)

	// A stale event without the timestamp cannot clear it
	assert.Equal(t, resultUnchanged, s.Reconcile(confirmed("1", bob, alice, "hi", t0), time.Second).result)

	// A later read timestamp cannot move it
	later := read.Add(time.Hour)
	moved := confirmed("1", bob, alice, "hi", t0)
	moved.ReadAt = &later
	s.Reconcile(moved, time.Second)
	assert.False(t, s.markRead("1", later))

	got := s.get("1")
	require.NotNil(t, got.ReadAt)
	assert.True(t, got.ReadAt.Equal(read))
}

func TestTimestampsAreClamped(t *testing.T) {
	s := newTestStore()
	before := t0.Add(-time.Hour)
	rec := confirmed("1", bob, alice, "hi", t0)
	rec.DeliveredAt = &before
	rec.ReadAt = &before

	s.Reconcile(rec, time.Second)
	got := s.get("1")
	assert.True(t, got.DeliveredAt.Equal(t0))
	assert.True(t, got.ReadAt.Equal(t0))
}

func TestMarkReadFillsDelivered(t *testing.T) {
	s := newTestStore()
	s.Reconcile(confirmed("1", bob, alice, "hi", t0), time.Second)

	at := t0.Add(time.Second)
	assert.True(t, s.markRead("1", at))
	got := s.get("1")
	require.NotNil(t, got.DeliveredAt)
	assert.True(t, got.DeliveredAt.Equal(at))
}

func TestUnreadMatchesInboundWithoutReadTimestamp(t *testing.T) {
	s := newTestStore()
	s.Reconcile(confirmed("1", bob, alice, "a", t0), time.Second)
	s.Reconcile(confirmed("2", bob, alice, "b", t0.Add(time.Second)), time.Second)
	s.Reconcile(confirmed("3", alice, bob, "c", t0.Add(2*time.Second)), time.Second)
	s.insert(provisional("k", "d", t0.Add(3*time.Second)))
	s.flush()

	assert.Equal(t, 2, s.Snapshot().Unread)

	s.markRead("1", t0.Add(time.Minute))
	s.flush()
	assert.Equal(t, 1, s.Snapshot().Unread)

	s.clear()
	s.flush()
	assert.Equal(t, 0, s.Snapshot().Unread)
}

func TestFocusedStoreCountsZeroWithoutMarkingRead(t *testing.T) {
	s := newTestStore()
	s.Reconcile(confirmed("1", bob, alice, "a", t0), time.Second)
	s.setFocused(true)
	s.flush()

	assert.Equal(t, 0, s.Snapshot().Unread)
	assert.Nil(t, s.get("1").ReadAt)

	s.setFocused(false)
	s.flush()
	assert.Equal(t, 1, s.Snapshot().Unread)
}

func TestSnapshotDoesNotAliasStore(t *testing.T) {
	s := newTestStore()
	s.Reconcile(confirmed("1", bob, alice, "hi", t0), time.Second)
	s.flush()

	snap := s.Snapshot()
	snap.Messages[0].Body = "changed"
	assert.Equal(t, "hi", s.get("1").Body)
}

func TestObserveReceivesFlushes(t *testing.T) {
	s := newTestStore()
	var got []Snapshot
	cancel := s.Observe(func(snap Snapshot) { got = append(got, snap) })

	s.flush() // nothing changed
	s.setPartnerTyping(true)
	s.flush()
	cancel()
	s.setPartnerTyping(false)
	s.flush()

	require.Len(t, got, 1)
	assert.True(t, got[0].PartnerTyping)
}
