// internal/messaging/reconcile.go

package messaging

import "time"

type reconcileResult int

const (
	resultDropped reconcileResult = iota
	resultInserted
	resultReplaced
	resultMerged
	resultUnchanged
)

func (r reconcileResult) String() string {
	switch r {
	case resultInserted:
		return "inserted"
	case resultReplaced:
		return "replaced"
	case resultMerged:
		return "merged"
	case resultUnchanged:
		return "unchanged"
	default:
		return "dropped"
	}
}

type reconcileOutcome struct {
	result reconcileResult
	// tempID is the provisional id that the record replaced, if any
	tempID string
	msg    *Message
}

// Reconcile folds a confirmed record into the store. Push events, polls and
// direct write responses all go through here, which keeps one entry per
// logical message whatever order they arrive in.
//
// Matching order: permanent id, then client key against a provisional entry,
// then for keyless records from the local user the oldest provisional entry
// with the same content created within tolerance.
func (s *ConversationStore) Reconcile(rec *Message, tolerance time.Duration) reconcileOutcome {
	if rec == nil || rec.ID == "" || IsProvisionalID(rec.ID) {
		return reconcileOutcome{result: resultDropped}
	}
	rec = rec.Clone()
	rec.Provisional = false
	rec.normalizeTimestamps()

	if i := s.indexOf(rec.ID); i >= 0 {
		return s.mergeAt(i, rec)
	}

	if i := s.indexOfClientKey(rec.ClientKey); i >= 0 {
		if !s.entries[i].msg.Provisional {
			// Same logical message already confirmed under another id
			return s.mergeAt(i, rec)
		}
		return s.replaceProvisional(i, rec)
	}

	if rec.ClientKey == "" && rec.SenderID == s.local {
		if i := s.matchProvisional(rec, tolerance); i >= 0 {
			return s.replaceProvisional(i, rec)
		}
	}

	s.insert(rec)
	return reconcileOutcome{result: resultInserted, msg: rec}
}

func (s *ConversationStore) replaceProvisional(i int, rec *Message) reconcileOutcome {
	tempID := s.entries[i].msg.ID
	s.replaceAt(i, rec)
	return reconcileOutcome{result: resultReplaced, tempID: tempID, msg: rec}
}

// mergeAt applies an update without reordering. Receipt timestamps only fill
// in, they are never cleared or moved.
func (s *ConversationStore) mergeAt(i int, rec *Message) reconcileOutcome {
	cur := s.entries[i].msg
	changed := false

	if cur.DeliveredAt == nil && rec.DeliveredAt != nil {
		t := *rec.DeliveredAt
		cur.DeliveredAt = &t
		changed = true
	}
	if cur.ReadAt == nil && rec.ReadAt != nil {
		t := *rec.ReadAt
		cur.ReadAt = &t
		changed = true
	}
	if cur.ClientKey == "" && rec.ClientKey != "" {
		cur.ClientKey = rec.ClientKey
		changed = true
	}
	if cur.Attachment == nil && rec.Attachment != nil {
		a := *rec.Attachment
		cur.Attachment = &a
		changed = true
	}
	if !changed {
		return reconcileOutcome{result: resultUnchanged, msg: cur}
	}
	cur.normalizeTimestamps()
	s.dirty = true
	return reconcileOutcome{result: resultMerged, msg: cur}
}

func (s *ConversationStore) matchProvisional(rec *Message, tolerance time.Duration) int {
	for i, e := range s.entries {
		m := e.msg
		if !m.Provisional || m.SenderID != rec.SenderID || !sameContent(m, rec) {
			continue
		}
		d := m.CreatedAt.Sub(rec.CreatedAt)
		if d < 0 {
			d = -d
		}
		if d <= tolerance {
			return i
		}
	}
	return -1
}

func sameContent(a, b *Message) bool {
	if a.Body != b.Body {
		return false
	}
	if (a.Attachment == nil) != (b.Attachment == nil) {
		return false
	}
	return a.Attachment == nil || a.Attachment.Kind == b.Attachment.Kind
}
