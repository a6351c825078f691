package process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/model"
	"main/internal/obs"
	"main/internal/storage"
	"main/pkg/exception"
)

const (
	defaultDequeueTimeout = 60 * time.Second
	defaultProgressEvery  = 100
)

// Persistence is the subset of the store the loop drives.
type Persistence interface {
	InsertTicker(rec model.TickerRecord, ignoreDup bool) error
	InsertDepth(snap model.DepthSnapshot, ignoreDup bool) error
	Reconnect(ctx context.Context) error
}

// Config assembles a Loop.
type Config struct {
	Queue   *bus.Queue
	Store   Persistence
	Symbols []string // recording set, case-insensitive

	DequeueTimeout time.Duration
	ProgressEvery  int

	// Warn surfaces unrecognized data to the operator in addition to the
	// log line. Optional.
	Warn func(format string, args ...any)

	// Unreachable decides whether an insert failure is worth a storage
	// reconnect instead of escalating. Defaults to storage.IsUnreachable.
	Unreachable func(error) bool

	Metrics *obs.Metrics
}

// Loop is the sole consumer of the ingest queue. Its exit is a process-level
// event: a clean one on shutdown, a fatal one on liveness timeout or an
// unhealable storage failure.
type Loop struct {
	queue       *bus.Queue
	store       Persistence
	symbols     map[string]struct{}
	timeout     time.Duration
	progress    int
	warn        func(format string, args ...any)
	unreachable func(error) bool
	metrics     *obs.Metrics
	inserted    uint64
}

// New validates config and builds a processing loop.
func New(cfg Config) (*Loop, error) {
	if cfg.Queue == nil {
		return nil, errors.New("process: nil queue")
	}
	if cfg.Store == nil {
		return nil, errors.New("process: nil store")
	}
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = defaultDequeueTimeout
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = defaultProgressEvery
	}
	if cfg.Unreachable == nil {
		cfg.Unreachable = storage.IsUnreachable
	}

	symbols := make(map[string]struct{}, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		symbols[strings.ToLower(sym)] = struct{}{}
	}

	return &Loop{
		queue:       cfg.Queue,
		store:       cfg.Store,
		symbols:     symbols,
		timeout:     cfg.DequeueTimeout,
		progress:    cfg.ProgressEvery,
		warn:        cfg.Warn,
		unreachable: cfg.Unreachable,
		metrics:     cfg.Metrics,
	}, nil
}

// Run consumes until the queue closes (clean shutdown) or a fatal condition
// surfaces. A dequeue timeout with no shutdown pending means no stream has
// delivered anything for the whole window and is treated as systemic.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.metrics.ObserveQueueDepth(l.queue.Len())

		e, err := l.queue.Pop(l.timeout)
		if err != nil {
			switch {
			case errors.Is(err, exception.ErrQueueClosed) || ctx.Err() != nil:
				logs.Info("ingest queue closed, processing loop exiting")
				return nil
			case errors.Is(err, exception.ErrDequeueTimeout):
				return errors.Join(exception.ErrLivenessTimeout, err)
			default:
				return err
			}
		}

		if err := l.process(ctx, e); err != nil {
			return err
		}
	}
}

// Inserted returns the number of successful inserts so far.
func (l *Loop) Inserted() uint64 {
	return l.inserted
}

func (l *Loop) process(ctx context.Context, e model.Envelope) error {
	switch {
	case e.Stream == "":
		logs.Errorf("no stream type in received data, dropping, data: %.120s", string(e.Data))
		l.metrics.IncDropped()
		return nil
	case e.Stream == model.StreamAggTicker:
		return l.processTickers(ctx, e)
	case model.IsDepthStream(e.Stream):
		return l.processDepth(ctx, e)
	default:
		msg := fmt.Sprintf("unknown stream type %q in received data", e.Stream)
		logs.Warn(msg)
		if l.warn != nil {
			l.warn(msg)
		}
		l.metrics.IncDropped()
		return nil
	}
}

func (l *Loop) processTickers(ctx context.Context, e model.Envelope) error {
	var items []json.RawMessage
	if err := json.Unmarshal(e.Data, &items); err != nil {
		logs.Errorf("malformed aggregate ticker payload, dropping, err: %+v", err)
		l.metrics.IncDropped()
		return nil
	}

	for _, raw := range items {
		var head struct {
			Symbol string `json:"s"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			logs.Errorf("malformed ticker item, skipping, err: %+v", err)
			continue
		}
		if _, ok := l.symbols[strings.ToLower(head.Symbol)]; !ok {
			continue
		}

		rec := model.TickerRecord{
			Symbol:     head.Symbol,
			Payload:    raw,
			ReceivedAt: e.ReceivedAt,
		}
		if err := l.persist(ctx, func() error { return l.store.InsertTicker(rec, true) }); err != nil {
			return err
		}
		l.countInsert()
		logs.Debugf("inserted ticker for %q", head.Symbol)
	}
	return nil
}

func (l *Loop) processDepth(ctx context.Context, e model.Envelope) error {
	var book model.PartialBookDepth
	if err := json.Unmarshal(e.Data, &book); err != nil {
		logs.Errorf("malformed depth payload on %q, dropping, err: %+v", e.Stream, err)
		l.metrics.IncDropped()
		return nil
	}

	snap := model.DepthSnapshot{
		Symbol:       model.DepthSymbol(e.Stream),
		LastUpdateID: book.LastUpdateID,
		Asks:         book.Asks,
		Bids:         book.Bids,
		ReceivedAt:   e.ReceivedAt,
	}
	if err := l.persist(ctx, func() error { return l.store.InsertDepth(snap, true) }); err != nil {
		return err
	}
	l.countInsert()
	logs.Debugf("inserted depth snapshot for %q at %d", snap.Symbol, snap.ReceivedAt)
	return nil
}

// persist drives one write through the reconnect-and-retry loop: while the
// failure looks like the backend being unreachable, reconnect and re-drive
// the same write. Anything else escalates to the caller.
func (l *Loop) persist(ctx context.Context, op func() error) error {
	err := op()
	for err != nil {
		if !l.unreachable(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		logs.Errorf("insert failed, reconnecting storage, err: %+v", err)
		if rerr := l.store.Reconnect(ctx); rerr != nil {
			return rerr
		}
		err = op()
	}
	return nil
}

func (l *Loop) countInsert() {
	l.inserted++
	if l.progress > 0 && l.inserted%uint64(l.progress) == 0 {
		logs.Infof("persisted %d records so far, queue depth %d", l.inserted, l.queue.Len())
	}
}
