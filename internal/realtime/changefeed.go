// internal/realtime/changefeed.go

package realtime

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/imadgeboyega/kiekky-chat/internal/common/alog"
	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
)

// Finder loads stored records by id. Repositories that implement it let the
// change feed publish the full record after an update.
type Finder interface {
	FindByIDs(ctx context.Context, ids []string) ([]*messaging.Message, error)
}

// ChangeFeed decorates a Repository and publishes insert and update events
// on the conversation channel once a write succeeds. Publish failures are
// logged and never fail the write; subscribers recover through polling.
type ChangeFeed struct {
	repo messaging.Repository
	push messaging.PushLayer
	log  *logrus.Entry
}

// NewChangeFeed wraps repo so writes are published through push
func NewChangeFeed(repo messaging.Repository, push messaging.PushLayer) *ChangeFeed {
	return &ChangeFeed{
		repo: repo,
		push: push,
		log:  alog.Logger().WithField("component", "changefeed"),
	}
}

// Unwrap returns the decorated repository
func (f *ChangeFeed) Unwrap() messaging.Repository {
	return f.repo
}

func (f *ChangeFeed) Insert(ctx context.Context, msg *messaging.Message) (*messaging.Message, error) {
	stored, err := f.repo.Insert(ctx, msg)
	if err != nil {
		return nil, err
	}
	f.publish(ctx, messaging.EventInsert, stored)
	return stored, nil
}

func (f *ChangeFeed) SelectRange(ctx context.Context, filter messaging.Filter) ([]*messaging.Message, error) {
	return f.repo.SelectRange(ctx, filter)
}

func (f *ChangeFeed) UpdateMany(ctx context.Context, ids []string, fields messaging.Fields) error {
	if err := f.repo.UpdateMany(ctx, ids, fields); err != nil {
		return err
	}

	finder, ok := f.repo.(Finder)
	if !ok {
		return nil
	}
	records, err := finder.FindByIDs(ctx, ids)
	if err != nil {
		f.log.WithError(err).Warn("Failed to load updated records for publishing")
		changeFeedTotal.WithLabelValues(string(messaging.EventUpdate), "error").Inc()
		return nil
	}
	for _, rec := range records {
		f.publish(ctx, messaging.EventUpdate, rec)
	}
	return nil
}

// DeleteWhere is not published; clears are local to the clearing client
func (f *ChangeFeed) DeleteWhere(ctx context.Context, pred messaging.Predicate) error {
	return f.repo.DeleteWhere(ctx, pred)
}

func (f *ChangeFeed) publish(ctx context.Context, kind messaging.EventKind, rec *messaging.Message) {
	key := messaging.NewPair(rec.SenderID, rec.ReceiverID).ChannelKey()
	env := messaging.Envelope{Kind: kind, Record: rec}

	if err := f.push.Broadcast(ctx, key, env); err != nil {
		f.log.WithError(err).WithFields(logrus.Fields{
			"id":      rec.ID,
			"channel": key,
		}).Debug("Change event not published")
		changeFeedTotal.WithLabelValues(string(kind), "error").Inc()
		return
	}
	changeFeedTotal.WithLabelValues(string(kind), "ok").Inc()
}
