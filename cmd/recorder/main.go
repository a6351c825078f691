package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/model"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/process"
	"main/internal/storage"
	"main/internal/stream"
)

func main() {
	if err := run(); err != nil {
		logs.Errorf("recorder: %+v", err)
		os.Exit(1)
	}
}

func run() error {
	configFlag := flag.String("config", "conf.yml", "path to YAML config file")
	flag.Parse()

	cfg, err := ops.Load(*configFlag)
	if err != nil {
		return errors.Wrap(err, "load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "market-recorder",
			ServerAddress:   cfg.Profiling.ServerAddress,
			Logger:          emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return errors.Wrap(err, "start profiler")
		}
		defer func() { _ = profiler.Stop() }()
	}

	metrics := obs.NewMetrics()

	store, err := storage.Open(storage.Config{
		Conn:        cfg.Conn,
		Rules:       cfg.Rules,
		CommitEvery: cfg.CommitEvery,
		Metrics:     metrics,
	})
	if err != nil {
		return err
	}

	queue := bus.NewQueue(cfg.QueueCapacity)
	onMessage := func(m model.StreamMessage) {
		if err := queue.Push(model.Envelope{Stream: m.Stream, Data: m.Data}); err != nil {
			logs.Errorf("enqueue message from %q, err: %+v", m.Stream, err)
		}
	}

	provider := stream.NewBinanceProvider()

	streamNames := make([]string, 0, len(cfg.Symbols)+1)
	streamNames = append(streamNames, model.StreamAggTicker)
	for _, sym := range cfg.Symbols {
		streamNames = append(streamNames, model.DepthStreamName(sym, cfg.DepthLevel))
	}

	var supervisors []*stream.Supervisor
	closeAll := func() {
		for _, sup := range supervisors {
			sup.Close()
		}
	}

	for _, name := range streamNames {
		sup, err := stream.NewSupervisor(stream.Config{
			Provider: provider,
			Stream:   name,
			Timeout:  cfg.StreamTimeout,
			Metrics:  metrics,
		})
		if err == nil {
			err = sup.Start(ctx, onMessage)
		}
		if err != nil {
			closeAll()
			_ = store.Close()
			return errors.Wrapf(err, "start stream %q", name)
		}
		supervisors = append(supervisors, sup)
	}

	go func() {
		<-ctx.Done()
		queue.Close()
	}()

	loop, err := process.New(process.Config{
		Queue:          queue,
		Store:          store,
		Symbols:        cfg.Symbols,
		DequeueTimeout: cfg.DequeueTimeout,
		Warn:           warnToStderr,
		Metrics:        metrics,
	})
	if err != nil {
		closeAll()
		_ = store.Close()
		return err
	}

	runErr := loop.Run(ctx)

	closeAll()
	if cerr := store.Close(); cerr != nil && runErr == nil {
		runErr = cerr
	}

	snap := metrics.Snapshot()
	logs.Infof("recorder stopped: %d ticker rows, %d depth snapshots, %d stream reconnects, %d storage reconnects",
		snap.TickerInserts, snap.DepthInserts, snap.StreamReconnects, snap.StorageReconnects)
	return runErr
}

func warnToStderr(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "WARNING: "+format+"\n", args...)
}

type emptyLogger struct{}

func (emptyLogger) Infof(format string, args ...any)  {}
func (emptyLogger) Debugf(format string, args ...any) {}
func (emptyLogger) Errorf(format string, args ...any) {}
