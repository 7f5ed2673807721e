// internal/messaging/loop.go

package messaging

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const loopQueueSize = 1024

// eventLoop runs every handler of a conversation to completion, one at a time.
// State owned by the loop is only touched from functions it runs.
type eventLoop struct {
	queue  chan func()
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// afterEach runs after every handler, inside the same turn
	afterEach func()
	log       *logrus.Entry
}

func newEventLoop(log *logrus.Entry) *eventLoop {
	ctx, cancel := context.WithCancel(context.Background())
	return &eventLoop{
		queue:  make(chan func(), loopQueueSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    log,
	}
}

func (l *eventLoop) Run() {
	defer close(l.done)

	for {
		select {
		case fn := <-l.queue:
			l.invoke(fn)

		case <-l.ctx.Done():
			return
		}
	}
}

func (l *eventLoop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.WithField("panic", r).Error("Recovered panic in conversation handler")
		}
	}()

	// A handler queued before teardown must not run after it
	if l.ctx.Err() != nil {
		return
	}
	fn()
	if l.afterEach != nil {
		l.afterEach()
	}
}

// post queues fn. It reports false once the loop is stopped.
// It must not be called from the loop goroutine while the queue is full.
func (l *eventLoop) post(fn func()) bool {
	select {
	case l.queue <- fn:
		return true
	case <-l.ctx.Done():
		return false
	}
}

// call runs fn on the loop and waits for it
func (l *eventLoop) call(fn func()) error {
	finished := make(chan struct{})
	if !l.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrClosed
	}
}

// spawn runs work off the loop and posts then back onto it. The completion is
// dropped when the loop stops first, so nothing completes after teardown.
func (l *eventLoop) spawn(work func(ctx context.Context), then func()) {
	go func() {
		work(l.ctx)
		if then == nil || l.ctx.Err() != nil {
			return
		}
		l.post(then)
	}()
}

func (l *eventLoop) stop() {
	l.cancel()
	<-l.done
}

func (l *eventLoop) stopped() bool {
	return l.ctx.Err() != nil
}

// loopTimer is a cancellable timer whose callback runs on the loop.
// Reset and Stop must be called from the loop.
type loopTimer struct {
	loop  *eventLoop
	timer *time.Timer
	seq   uint64
}

func (t *loopTimer) Reset(d time.Duration, fn func()) {
	t.Stop()
	seq := t.seq
	t.timer = time.AfterFunc(d, func() {
		t.loop.post(func() {
			// Stopped or reset after firing
			if t.seq != seq {
				return
			}
			t.timer = nil
			fn()
		})
	})
}

func (t *loopTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.seq++
}

func (t *loopTimer) Active() bool {
	return t.timer != nil
}
