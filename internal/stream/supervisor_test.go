package stream

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/model"
	"main/pkg/exception"
	"main/pkg/retry"
)

// fakeProvider scripts subscription behavior: how many subscribe calls fail
// first, and whether established subscriptions deliver messages or stall.
type fakeProvider struct {
	mu         sync.Mutex
	failFirst  int
	subscribes int
	subs       []*fakeSubscription
	deliver    bool
	interval   time.Duration
}

type fakeSubscription struct {
	closed atomic.Bool
	stop   chan struct{}
}

func (s *fakeSubscription) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.stop)
	}
	return nil
}

func (p *fakeProvider) Subscribe(ctx context.Context, stream string, onMessage func(model.StreamMessage)) (Subscription, error) {
	p.mu.Lock()
	p.subscribes++
	if p.subscribes <= p.failFirst {
		p.mu.Unlock()
		return nil, assert.AnError
	}
	sub := &fakeSubscription{stop: make(chan struct{})}
	p.subs = append(p.subs, sub)
	deliver, interval := p.deliver, p.interval
	p.mu.Unlock()

	if deliver {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-sub.stop:
					return
				case <-ctx.Done():
					return
				case <-ticker.C:
					onMessage(model.StreamMessage{Stream: stream, Data: json.RawMessage(`{}`)})
				}
			}
		}()
	}
	return sub, nil
}

func (p *fakeProvider) subscribeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscribes
}

func (p *fakeProvider) stopDelivering() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deliver = false
	for _, sub := range p.subs {
		_ = sub.Close()
	}
}

func (p *fakeProvider) resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deliver = true
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSupervisorForwardsMessages(t *testing.T) {
	provider := &fakeProvider{deliver: true, interval: 10 * time.Millisecond}
	sup, err := NewSupervisor(Config{
		Provider: provider,
		Stream:   "btcusdt@depth20",
		Timeout:  time.Second,
	})
	require.NoError(t, err)

	var received atomic.Int64
	require.NoError(t, sup.Start(t.Context(), func(m model.StreamMessage) {
		assert.Equal(t, "btcusdt@depth20", m.Stream)
		received.Add(1)
	}))
	defer sup.Close()

	require.Equal(t, StateStreaming, sup.State())
	waitFor(t, 2*time.Second, func() bool { return received.Load() >= 3 })
}

func TestSupervisorReconnectsOnSilence(t *testing.T) {
	provider := &fakeProvider{deliver: true, interval: 10 * time.Millisecond}
	sup, err := NewSupervisor(Config{
		Provider:  provider,
		Stream:    "ethusdt@depth5",
		Timeout:   60 * time.Millisecond,
		Subscribe: retry.Unbounded(10 * time.Millisecond),
	})
	require.NoError(t, err)

	require.NoError(t, sup.Start(t.Context(), func(model.StreamMessage) {}))
	defer sup.Close()

	waitFor(t, time.Second, func() bool { return sup.State() == StateStreaming })

	// Stall the provider; the watchdog must tear down and re-subscribe.
	provider.stopDelivering()
	provider.resume()
	waitFor(t, 2*time.Second, func() bool { return provider.subscribeCount() >= 2 })
	waitFor(t, 2*time.Second, func() bool { return sup.State() == StateStreaming })
}

func TestSupervisorRetriesSubscribeFailures(t *testing.T) {
	provider := &fakeProvider{failFirst: 3, deliver: true, interval: 10 * time.Millisecond}
	sup, err := NewSupervisor(Config{
		Provider:  provider,
		Stream:    "!ticker@arr",
		Timeout:   time.Second,
		Subscribe: retry.Unbounded(5 * time.Millisecond),
	})
	require.NoError(t, err)

	require.NoError(t, sup.Start(t.Context(), func(model.StreamMessage) {}))
	defer sup.Close()

	assert.Equal(t, StateStreaming, sup.State())
	assert.GreaterOrEqual(t, provider.subscribeCount(), 4)
}

func TestSupervisorCloseIsIdempotentAndStopsReconnects(t *testing.T) {
	provider := &fakeProvider{deliver: true, interval: 10 * time.Millisecond}
	sup, err := NewSupervisor(Config{
		Provider: provider,
		Stream:   "btcusdt@depth20",
		Timeout:  50 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, sup.Start(t.Context(), func(model.StreamMessage) {}))

	sup.Close()
	sup.Close()
	require.Equal(t, StateClosed, sup.State())

	// No reconnect after close even once the liveness window lapses.
	count := provider.subscribeCount()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, count, provider.subscribeCount())

	require.ErrorIs(t, sup.Start(t.Context(), func(model.StreamMessage) {}), exception.ErrStreamClosed)
}
