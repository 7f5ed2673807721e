// internal/messaging/repository.go

package messaging

import (
	"context"
	"io"
	"time"
)

// Filter selects messages of one conversation, always ordered by created ascending.
// When Limit is positive only the newest Limit matches are returned.
type Filter struct {
	Pair       Pair
	SenderID   string
	ReceiverID string
	UnreadOnly bool
	Limit      int
}

// Fields lists the columns an UpdateMany may set. Nil fields are left alone;
// set fields only fill columns that are still null.
type Fields struct {
	DeliveredAt *time.Time
	ReadAt      *time.Time
}

// Predicate selects records for DeleteWhere
type Predicate struct {
	SenderID   string
	ReceiverID string
}

// Repository is the persistent record store
type Repository interface {
	// Insert stores msg and returns the stored record with its permanent id.
	// Inserting a ClientKey that already exists returns the existing record.
	Insert(ctx context.Context, msg *Message) (*Message, error)
	SelectRange(ctx context.Context, filter Filter) ([]*Message, error)
	UpdateMany(ctx context.Context, ids []string, fields Fields) error
	DeleteWhere(ctx context.Context, pred Predicate) error
}

// PairDeleter is implemented by repositories that can delete both
// directions of a conversation atomically
type PairDeleter interface {
	DeletePair(ctx context.Context, pair Pair) error
}

// SubscriptionStatus is reported through a Lifecycle callback
type SubscriptionStatus int

const (
	StatusSubscribed SubscriptionStatus = iota
	StatusError
	StatusTimeout
	StatusClosed
)

func (s SubscriptionStatus) String() string {
	switch s {
	case StatusSubscribed:
		return "subscribed"
	case StatusError:
		return "error"
	case StatusTimeout:
		return "timeout"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Lifecycle receives subscription status changes. err is set for StatusError.
type Lifecycle func(status SubscriptionStatus, err error)

// Subscription is an open channel handle
type Subscription interface {
	Key() string
}

// PushLayer delivers change events and ephemeral broadcasts per channel key.
// Callbacks may run on any goroutine.
type PushLayer interface {
	Subscribe(ctx context.Context, key string, onEvent func(Envelope), lifecycle Lifecycle) (Subscription, error)
	Unsubscribe(sub Subscription) error
	Broadcast(ctx context.Context, key string, env Envelope) error
}

// StorageService stores attachment blobs and returns their location
type StorageService interface {
	UploadMedia(ctx context.Context, file io.Reader, filename string, contentType string) (string, error)
}

// Notifier surfaces an inbound message to the user. It must not block.
type Notifier interface {
	NotifyMessage(msg *Message)
}
