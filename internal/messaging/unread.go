// internal/messaging/unread.go

package messaging

// UnreadCounter is the badge count: inbound messages with no read timestamp.
// It is derived from the store on every change, so it cannot drift or go
// negative. A focused view counts zero; the read timestamps follow once the
// batched update is stored. Capping the label is left to the UI.
type UnreadCounter struct {
	count int
}

func (u *UnreadCounter) recompute(entries []storeEntry, local, partner string, focused bool) {
	n := 0
	if !focused {
		for _, e := range entries {
			if e.msg.IsInbound(local, partner) && e.msg.ReadAt == nil {
				n++
			}
		}
	}
	u.count = n
}

func (u *UnreadCounter) Count() int {
	return u.count
}
