// internal/messaging/memory.go

package messaging

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Op names a repository operation for fault injection
type Op string

const (
	OpInsert Op = "insert"
	OpSelect Op = "select"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

type fault struct {
	skip int
	err  error
}

// MemoryRepository is an in-process Repository. Permanent ids come from a
// snowflake node so they sort by insertion like database sequences.
type MemoryRepository struct {
	mu     sync.Mutex
	node   *snowflake.Node
	rows   map[string]*Message
	byKey  map[string]string
	faults map[Op][]fault
}

// NewMemoryRepository creates an empty in-memory store
func NewMemoryRepository() *MemoryRepository {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return &MemoryRepository{
		node:   node,
		rows:   make(map[string]*Message),
		byKey:  make(map[string]string),
		faults: make(map[Op][]fault),
	}
}

// FailNext makes the next call of op return err
func (r *MemoryRepository) FailNext(op Op, err error) {
	r.FailAfter(op, 0, err)
}

// FailAfter lets n calls of op succeed, then fails the next one with err
func (r *MemoryRepository) FailAfter(op Op, n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults[op] = append(r.faults[op], fault{skip: n, err: err})
}

// must be called with mu held
func (r *MemoryRepository) injected(op Op) error {
	queue := r.faults[op]
	if len(queue) == 0 {
		return nil
	}
	if queue[0].skip > 0 {
		queue[0].skip--
		return nil
	}
	err := queue[0].err
	r.faults[op] = queue[1:]
	return err
}

func (r *MemoryRepository) Insert(ctx context.Context, msg *Message) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, Transient("insert message", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.injected(OpInsert); err != nil {
		return nil, err
	}
	if msg.SenderID == "" || msg.ReceiverID == "" {
		return nil, Permanent("insert message", errBadRecord)
	}
	if msg.ClientKey != "" {
		if id, ok := r.byKey[msg.ClientKey]; ok {
			return r.rows[id].Clone(), nil
		}
	}

	stored := msg.Clone()
	stored.ID = r.node.Generate().String()
	stored.Provisional = false
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	r.rows[stored.ID] = stored
	if stored.ClientKey != "" {
		r.byKey[stored.ClientKey] = stored.ID
	}

	return stored.Clone(), nil
}

func (r *MemoryRepository) SelectRange(ctx context.Context, filter Filter) ([]*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, Transient("select messages", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.injected(OpSelect); err != nil {
		return nil, err
	}

	var out []*Message
	for _, m := range r.rows {
		if matches(m, filter) {
			out = append(out, m.Clone())
		}
	}
	sortMessages(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}

// FindByIDs returns the stored messages among ids
func (r *MemoryRepository) FindByIDs(ctx context.Context, ids []string) ([]*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Message
	for _, id := range ids {
		if m, ok := r.rows[id]; ok {
			out = append(out, m.Clone())
		}
	}
	sortMessages(out)
	return out, nil
}

func (r *MemoryRepository) UpdateMany(ctx context.Context, ids []string, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return Transient("update messages", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.injected(OpUpdate); err != nil {
		return err
	}
	for _, id := range ids {
		m, ok := r.rows[id]
		if !ok {
			continue
		}
		if fields.DeliveredAt != nil && m.DeliveredAt == nil {
			t := *fields.DeliveredAt
			m.DeliveredAt = &t
		}
		if fields.ReadAt != nil && m.ReadAt == nil {
			t := *fields.ReadAt
			m.ReadAt = &t
		}
	}
	return nil
}

func (r *MemoryRepository) DeleteWhere(ctx context.Context, pred Predicate) error {
	if err := ctx.Err(); err != nil {
		return Transient("delete messages", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.injected(OpDelete); err != nil {
		return err
	}
	for id, m := range r.rows {
		if m.SenderID == pred.SenderID && m.ReceiverID == pred.ReceiverID {
			delete(r.rows, id)
			if m.ClientKey != "" {
				delete(r.byKey, m.ClientKey)
			}
		}
	}
	return nil
}

// Len returns the number of stored messages
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func matches(m *Message, f Filter) bool {
	if f.Pair.A != "" && !f.Pair.Contains(m) {
		return false
	}
	if f.SenderID != "" && m.SenderID != f.SenderID {
		return false
	}
	if f.ReceiverID != "" && m.ReceiverID != f.ReceiverID {
		return false
	}
	if f.UnreadOnly && m.ReadAt != nil {
		return false
	}
	return true
}

// sortMessages orders by created time, then by id length and value so
// snowflake ids break ties in insertion order
func sortMessages(ms []*Message) {
	sort.SliceStable(ms, func(i, j int) bool {
		if !ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].CreatedAt.Before(ms[j].CreatedAt)
		}
		if len(ms[i].ID) != len(ms[j].ID) {
			return len(ms[i].ID) < len(ms[j].ID)
		}
		return ms[i].ID < ms[j].ID
	})
}
