// internal/messaging/options.go

package messaging

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/imadgeboyega/kiekky-chat/internal/common/alog"
)

// Options tunes the sync engine. Zero fields take the defaults below.
type Options struct {
	// ReconcileTolerance bounds the created-time distance for matching a
	// keyless echo to a provisional entry
	ReconcileTolerance time.Duration

	PollIntervalDisconnected time.Duration
	PollIntervalConnected    time.Duration
	SubscribeTimeout         time.Duration
	ResubscribeBackoff       time.Duration

	// TypingIdle ends a local typing burst; TypingExpiry clears a partner
	// flag that was never refreshed
	TypingIdle   time.Duration
	TypingExpiry time.Duration

	// RecentWindow is how many of the newest messages a poll fetches
	RecentWindow       int
	DeliveryBatchDelay time.Duration

	Now    func() time.Time
	Logger *logrus.Entry
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{
		ReconcileTolerance:       5 * time.Second,
		PollIntervalDisconnected: 3 * time.Second,
		PollIntervalConnected:    30 * time.Second,
		SubscribeTimeout:         10 * time.Second,
		ResubscribeBackoff:       2 * time.Second,
		TypingIdle:               2 * time.Second,
		TypingExpiry:             4 * time.Second,
		RecentWindow:             100,
		DeliveryBatchDelay:       250 * time.Millisecond,
		Now:                      time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ReconcileTolerance <= 0 {
		o.ReconcileTolerance = d.ReconcileTolerance
	}
	if o.PollIntervalDisconnected <= 0 {
		o.PollIntervalDisconnected = d.PollIntervalDisconnected
	}
	if o.PollIntervalConnected <= 0 {
		o.PollIntervalConnected = d.PollIntervalConnected
	}
	if o.SubscribeTimeout <= 0 {
		o.SubscribeTimeout = d.SubscribeTimeout
	}
	if o.ResubscribeBackoff <= 0 {
		o.ResubscribeBackoff = d.ResubscribeBackoff
	}
	if o.TypingIdle <= 0 {
		o.TypingIdle = d.TypingIdle
	}
	if o.TypingExpiry <= 0 {
		o.TypingExpiry = d.TypingExpiry
	}
	if o.RecentWindow <= 0 {
		o.RecentWindow = d.RecentWindow
	}
	if o.DeliveryBatchDelay <= 0 {
		o.DeliveryBatchDelay = d.DeliveryBatchDelay
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	if o.Logger == nil {
		o.Logger = alog.Logger()
	}
	return o
}
