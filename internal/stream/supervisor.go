package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/model"
	"main/internal/obs"
	"main/pkg/exception"
	"main/pkg/retry"
)

const (
	defaultLivenessTimeout   = 10 * time.Second
	defaultSubscribeInterval = 3 * time.Second
)

// State is the supervisor lifecycle state.
type State int32

const (
	StateInit State = iota
	StateConnecting
	StateStreaming
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config assembles a Supervisor.
type Config struct {
	Provider Provider
	Stream   string
	Timeout  time.Duration // liveness timeout, default 10s
	// Subscribe retries provider subscription failures. Unbounded with a
	// fixed interval unless overridden: giving up here means silent data
	// loss, so the supervisor keeps trying until closed.
	Subscribe retry.Policy
	Metrics   *obs.Metrics
}

// Supervisor keeps exactly one logical subscription alive, reconnecting on
// silence or subscribe errors until closed.
type Supervisor struct {
	provider  Provider
	stream    string
	timeout   time.Duration
	subscribe retry.Policy
	metrics   *obs.Metrics

	liveness chan struct{}
	closed   atomic.Bool
	state    atomic.Int32
	cancel   context.CancelFunc

	mu  sync.Mutex
	sub Subscription
	wg  sync.WaitGroup
}

// NewSupervisor validates config and builds a supervisor.
func NewSupervisor(cfg Config) (*Supervisor, error) {
	if cfg.Provider == nil {
		return nil, exception.ErrNilProvider
	}
	if cfg.Stream == "" {
		return nil, exception.ErrEmptyStreamName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultLivenessTimeout
	}
	if cfg.Subscribe.MaxAttempts == 0 && cfg.Subscribe.Backoff == (retry.Backoff{}) {
		cfg.Subscribe = retry.Unbounded(defaultSubscribeInterval)
	}
	return &Supervisor{
		provider:  cfg.Provider,
		stream:    cfg.Stream,
		timeout:   cfg.Timeout,
		subscribe: cfg.Subscribe,
		metrics:   cfg.Metrics,
		liveness:  make(chan struct{}, 1),
	}, nil
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Stream returns the supervised stream name.
func (s *Supervisor) Stream() string {
	return s.stream
}

// Start establishes the subscription and launches the watchdog. It blocks
// through the initial subscribe retries, mirroring the indefinite-retry
// contract, and returns once streaming or when closed/cancelled.
func (s *Supervisor) Start(ctx context.Context, onMessage func(model.StreamMessage)) error {
	if onMessage == nil {
		return exception.ErrNilCallback
	}
	if s.closed.Load() {
		return exception.ErrStreamClosed
	}

	ctx, s.cancel = context.WithCancel(ctx)

	wrapped := func(m model.StreamMessage) {
		select {
		case s.liveness <- struct{}{}:
		default:
		}
		onMessage(m)
	}

	s.state.Store(int32(StateConnecting))
	if err := s.connect(ctx, wrapped); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.watchdog(ctx, wrapped)
	return nil
}

// Close tears down the subscription and stops the watchdog. Idempotent; an
// in-flight watchdog wake-up observes the flag and exits without
// reconnecting.
func (s *Supervisor) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.state.Store(int32(StateClosed))
	if s.cancel != nil {
		s.cancel()
	}
	s.teardown()
	s.wg.Wait()
	logs.Infof("stream closed: %s", s.stream)
}

func (s *Supervisor) connect(ctx context.Context, onMessage func(model.StreamMessage)) error {
	err := s.subscribe.Do(ctx, func() error {
		if s.closed.Load() {
			return retry.Permanent(exception.ErrStreamClosed)
		}

		sub, err := s.provider.Subscribe(ctx, s.stream, onMessage)
		if err != nil {
			logs.Errorf("failed to subscribe %q, retrying soon, err: %+v", s.stream, err)
			return err
		}

		s.mu.Lock()
		if s.closed.Load() {
			s.mu.Unlock()
			_ = sub.Close()
			return retry.Permanent(exception.ErrStreamClosed)
		}
		s.sub = sub
		s.mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}

	s.state.Store(int32(StateStreaming))
	logs.Infof("streaming started: %s", s.stream)
	return nil
}

// watchdog blocks on the liveness signal with a timeout. Expiry without a
// pending close means the provider went silent without erroring; the
// subscription is torn down and re-established.
func (s *Supervisor) watchdog(ctx context.Context, onMessage func(model.StreamMessage)) {
	defer s.wg.Done()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.liveness:
			resetTimer(timer, s.timeout)
		case <-timer.C:
			if s.closed.Load() {
				logs.Infof("close requested for %q, watchdog exiting", s.stream)
				return
			}

			logs.Warnf("no message on %q for %s, reconnecting", s.stream, s.timeout)
			s.state.Store(int32(StateReconnecting))
			s.teardown()
			s.metrics.IncStreamReconnect()

			if err := s.connect(ctx, onMessage); err != nil {
				if !errors.Is(err, exception.ErrStreamClosed) && ctx.Err() == nil {
					logs.Errorf("reconnect %q failed, err: %+v", s.stream, err)
				}
				return
			}
			timer.Reset(s.timeout)
		}
	}
}

func (s *Supervisor) teardown() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
}

func resetTimer(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}
