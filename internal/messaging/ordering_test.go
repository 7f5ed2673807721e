package messaging_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
	"github.com/imadgeboyega/kiekky-chat/internal/realtime"
)

// hookedRepo runs afterInsert once the wrapped insert succeeded; a non-nil
// result replaces the response
type hookedRepo struct {
	messaging.Repository
	afterInsert func(stored *messaging.Message) error
}

func (r *hookedRepo) Insert(ctx context.Context, msg *messaging.Message) (*messaging.Message, error) {
	stored, err := r.Repository.Insert(ctx, msg)
	if err != nil {
		return nil, err
	}
	if r.afterInsert != nil {
		if err := r.afterInsert(stored); err != nil {
			return nil, err
		}
	}
	return stored, nil
}

func (r *hookedRepo) Unwrap() messaging.Repository { return r.Repository }

func confirmedIn(conv *messaging.Conversation, id string) bool {
	for _, m := range conv.Snapshot().Messages {
		if m.ID == id && !m.Provisional {
			return true
		}
	}
	return false
}

// awaitConfirmed blocks until the echo of id reconciled conv's entry
func awaitConfirmed(conv *messaging.Conversation, id string) error {
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		if confirmedIn(conv, id) {
			return nil
		}
		time.Sleep(tick)
	}
	return errors.New("echo never reconciled " + id)
}

// heldPush queues insert events until release; everything else passes through
type heldPush struct {
	messaging.PushLayer

	mu   sync.Mutex
	held []func()
}

func (p *heldPush) Broadcast(ctx context.Context, key string, env messaging.Envelope) error {
	if env.Kind != messaging.EventInsert {
		return p.PushLayer.Broadcast(ctx, key, env)
	}
	p.mu.Lock()
	p.held = append(p.held, func() {
		p.PushLayer.Broadcast(context.Background(), key, env)
	})
	p.mu.Unlock()
	return nil
}

func (p *heldPush) release() {
	p.mu.Lock()
	held := p.held
	p.held = nil
	p.mu.Unlock()
	for _, fn := range held {
		fn()
	}
}

// silentPush hands out handles but never reports a status
type silentPush struct {
	subscribes atomic.Int64
	open       atomic.Int64
	maxOpen    atomic.Int64
}

type silentSub struct{ key string }

func (s *silentSub) Key() string { return s.key }

func (p *silentPush) Subscribe(ctx context.Context, key string, onEvent func(messaging.Envelope), lc messaging.Lifecycle) (messaging.Subscription, error) {
	p.subscribes.Add(1)
	n := p.open.Add(1)
	for {
		peak := p.maxOpen.Load()
		if n <= peak || p.maxOpen.CompareAndSwap(peak, n) {
			break
		}
	}
	return &silentSub{key: key}, nil
}

func (p *silentPush) Unsubscribe(sub messaging.Subscription) error {
	p.open.Add(-1)
	return nil
}

func (p *silentPush) Broadcast(ctx context.Context, key string, env messaging.Envelope) error {
	return nil
}

// gatedRepo holds the first window fetch until gate is closed. started is
// closed once that fetch is waiting.
type gatedRepo struct {
	messaging.Repository
	started chan struct{}
	gate    chan struct{}
	selects atomic.Int64
}

func (r *gatedRepo) SelectRange(ctx context.Context, f messaging.Filter) ([]*messaging.Message, error) {
	if !f.UnreadOnly && r.selects.Add(1) == 1 {
		close(r.started)
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.Repository.SelectRange(ctx, f)
}

// afterPush subscribes only once ready is closed
type afterPush struct {
	messaging.PushLayer
	ready chan struct{}
}

func (p *afterPush) Subscribe(ctx context.Context, key string, onEvent func(messaging.Envelope), lc messaging.Lifecycle) (messaging.Subscription, error) {
	select {
	case <-p.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return p.PushLayer.Subscribe(ctx, key, onEvent, lc)
}

func TestEchoBeforeDirectResponse(t *testing.T) {
	h := newHarness(t)
	var a *messaging.Conversation
	repo := &hookedRepo{Repository: h.feed, afterInsert: func(stored *messaging.Message) error {
		return awaitConfirmed(a, stored.ID)
	}}
	a = h.open(alice, bob, messaging.Dependencies{Repo: repo, Push: h.bus}, testOptions())

	msg, err := a.Send(context.Background(), "echo first", nil)
	require.NoError(t, err)
	assert.False(t, messaging.IsProvisionalID(msg.ID))

	time.Sleep(150 * time.Millisecond)
	snap := a.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, msg.ID, snap.Messages[0].ID)
	assert.False(t, snap.Messages[0].Provisional)
	assert.Equal(t, 1, h.repo.Len())
}

func TestDirectResponseBeforeEcho(t *testing.T) {
	repo := messaging.NewMemoryRepository()
	bus := realtime.NewBus()
	push := &heldPush{PushLayer: bus}
	h := &harness{t: t, repo: repo, bus: bus, feed: realtime.NewChangeFeed(repo, push)}
	a := h.open(alice, bob, h.deps(), testOptions())
	b := h.open(bob, alice, h.deps(), testOptions())

	msg, err := a.Send(context.Background(), "direct first", nil)
	require.NoError(t, err)

	snap := a.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, msg.ID, snap.Messages[0].ID)
	assert.False(t, snap.Messages[0].Provisional)

	push.release()
	require.Eventually(t, func() bool {
		return confirmedIn(b, msg.ID)
	}, waitFor, tick)

	time.Sleep(150 * time.Millisecond)
	snap = a.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, msg.ID, snap.Messages[0].ID)
	assert.Len(t, b.Snapshot().Messages, 1)
}

func TestFailedResponseAfterEchoStillSucceeds(t *testing.T) {
	h := newHarness(t)
	var a *messaging.Conversation
	var storedID atomic.Value
	repo := &hookedRepo{Repository: h.feed, afterInsert: func(stored *messaging.Message) error {
		storedID.Store(stored.ID)
		if err := awaitConfirmed(a, stored.ID); err != nil {
			return err
		}
		return messaging.Transient("insert message", errors.New("response lost"))
	}}
	a = h.open(alice, bob, messaging.Dependencies{Repo: repo, Push: h.bus}, testOptions())

	msg, err := a.Send(context.Background(), "stored anyway", nil)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, storedID.Load(), msg.ID)

	snap := a.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, msg.ID, snap.Messages[0].ID)
	assert.False(t, snap.Messages[0].Provisional)
	assert.Equal(t, 1, h.repo.Len())
}

func TestSubscribeTimeoutResubscribesWithOneHandle(t *testing.T) {
	repo := messaging.NewMemoryRepository()
	push := &silentPush{}
	opts := testOptions()
	opts.SubscribeTimeout = 100 * time.Millisecond
	opts.ResubscribeBackoff = 50 * time.Millisecond

	conv, err := messaging.OpenConversation(alice, bob, messaging.Dependencies{Repo: repo, Push: push}, opts)
	require.NoError(t, err)
	t.Cleanup(func() { conv.Close() })
	seen := record(conv)

	require.Eventually(t, func() bool {
		return seen.any(func(s messaging.Snapshot) bool { return s.State == messaging.StateDisconnected })
	}, waitFor, tick, "timeout never marked the channel disconnected")
	require.Eventually(t, func() bool {
		return push.subscribes.Load() >= 2
	}, waitFor, tick, "no resubscribe after the timeout")

	assert.NotEqual(t, messaging.StateConnected, conv.Snapshot().State)
	assert.LessOrEqual(t, push.maxOpen.Load(), int64(1))

	require.NoError(t, conv.Close())
	assert.Equal(t, int64(0), push.open.Load())
}

func TestCatchUpPollRunsAfterInFlightPoll(t *testing.T) {
	h := newHarness(t)
	gated := &gatedRepo{Repository: h.feed, started: make(chan struct{}), gate: make(chan struct{})}
	push := &afterPush{PushLayer: h.bus, ready: gated.started}
	opts := testOptions()
	opts.PollIntervalConnected = time.Minute

	// Connected while the initial load is still held
	h.open(alice, bob, messaging.Dependencies{Repo: gated, Push: push}, opts)
	assert.Equal(t, int64(1), gated.selects.Load())

	close(gated.gate)
	require.Eventually(t, func() bool {
		return gated.selects.Load() >= 2
	}, time.Second, tick, "catch-up poll was dropped")
}

// gauge reads the series of conv from the default registry
func gauge(t *testing.T, name string, conv *messaging.Conversation) (float64, bool) {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string)
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["conversation"] == conv.ChannelKey() && labels["user"] == conv.LocalID() {
				return m.GetGauge().GetValue(), true
			}
		}
	}
	return 0, false
}

func TestGaugesArePerConversation(t *testing.T) {
	h := newHarness(t)
	a := h.open(alice, bob, h.deps(), testOptions())
	b := h.open(bob, alice, h.deps(), testOptions())
	quiet := h.open(bob, carol, h.deps(), testOptions())

	_, err := a.Send(context.Background(), "count me", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return b.Snapshot().Unread == 1 }, waitFor, tick)

	// Each conversation and side keeps its own series
	require.Eventually(t, func() bool {
		v, ok := gauge(t, "chat_unread_messages", b)
		return ok && v == 1
	}, waitFor, tick)
	for _, conv := range []*messaging.Conversation{a, quiet} {
		v, ok := gauge(t, "chat_unread_messages", conv)
		require.True(t, ok)
		assert.Equal(t, 0.0, v)

		v, ok = gauge(t, "chat_connection_state", conv)
		require.True(t, ok)
		assert.Equal(t, float64(messaging.StateConnected), v)
	}

	require.NoError(t, quiet.Close())
	_, ok := gauge(t, "chat_unread_messages", quiet)
	assert.False(t, ok)
	_, ok = gauge(t, "chat_connection_state", quiet)
	assert.False(t, ok)
}
