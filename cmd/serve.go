package cmd

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/config"
	"github.com/nextlevelbuilder/autoreply/internal/dispatch"
	"github.com/nextlevelbuilder/autoreply/internal/energy"
	"github.com/nextlevelbuilder/autoreply/internal/health"
	"github.com/nextlevelbuilder/autoreply/internal/scheduler"
	"github.com/nextlevelbuilder/autoreply/internal/store"
	"github.com/nextlevelbuilder/autoreply/internal/store/file"
	"github.com/nextlevelbuilder/autoreply/internal/store/pg"
	"github.com/nextlevelbuilder/autoreply/internal/stream"
	"github.com/nextlevelbuilder/autoreply/internal/tracing"
)

const dedupeTTL = 5 * time.Minute

func runServe() {
	// Setup structured logging
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		Protocol:    cfg.Telemetry.Protocol,
		ServiceName: cfg.Telemetry.ServiceName,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		slog.Error("failed to set up telemetry", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	// Read-mark persistence: Postgres in pg mode, JSON files otherwise.
	var marks store.ReadStore
	if cfg.Database.Mode == "pg" && cfg.Database.PostgresDSN != "" {
		marks, err = pg.New(cfg.Database.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		slog.Info("read-mark store: postgres")
	} else {
		marks, err = file.New(config.ExpandHome(cfg.Database.FileDir))
		if err != nil {
			slog.Error("failed to create file store", "error", err)
			os.Exit(1)
		}
		slog.Info("read-mark store: file", "dir", config.ExpandHome(cfg.Database.FileDir))
	}
	defer marks.Close()

	// Core components
	msgBus := bus.NewMessageBus(cfg.Dispatch.BusBuffer)
	streams := stream.NewRegistry(cfg.History.Capacity)

	// Options are re-read per scoring call so reloaded thresholds and
	// interval bounds apply without a restart.
	scorer := energy.NewScorerFunc(func() energy.Options {
		es := cfg.EnergySettings()
		minIv, maxIv := cfg.IntervalBounds()
		return energy.Options{
			HighThreshold:  es.HighThreshold,
			ReplyThreshold: es.ReplyThreshold,
			MinInterval:    minIv,
			MaxInterval:    maxIv,
			CacheTTL:       time.Duration(es.CacheTTLSec) * time.Second,
		}
	}, nil)

	handlers := dispatch.NewRegistry()
	handlers.Register(dispatch.KindAny, dispatch.NewLogHandler)

	dispatcher := dispatch.NewDispatcher(handlers, marks, cfg.Dispatch.RateLimitRPM)

	sched := scheduler.New(streams, scorer, dispatcher, func() scheduler.Policy {
		pol := cfg.InterruptPolicy()
		return scheduler.Policy{
			Enabled:         pol.Enabled,
			AllowWhileBusy:  pol.AllowWhileBusy,
			Max:             pol.Max,
			PreemptDelay:    cfg.PreemptDelay(),
			DispatchTimeout: cfg.DispatchTimeout(),
		}
	}, 0)
	defer sched.Stop()

	monitor := health.NewMonitor(streams, func() health.Settings {
		hs := cfg.HealthSettings()
		return health.Settings{
			Period:     time.Duration(hs.PeriodSec) * time.Second,
			StaleAfter: time.Duration(hs.StaleSec) * time.Second,
			SweepCron:  hs.SweepCron,
			IdleEvict:  time.Duration(cfg.Streams.IdleEvictSec) * time.Second,
		}
	}, func(streamID string) {
		sched.Forget(streamID)
		handlers.Remove(streamID)
		scorer.Invalidate(streamID)
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return monitor.Run(gctx)
	})

	g.Go(func() error {
		err := config.Watch(gctx, cfgPath, cfg)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("config watcher exited", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		consumeInbound(gctx, msgBus, sched)
		return nil
	})

	// Stdin feed so the engine can be exercised without a transport
	// adapter: each line becomes one inbound message. Not part of the
	// errgroup because a blocked terminal read must not stall shutdown.
	go feedStdin(gctx, msgBus)

	g.Go(func() error {
		<-gctx.Done()
		msgBus.Close()
		return nil
	})

	slog.Info("autoreply engine starting",
		"version", Version,
		"mode", cfg.Database.Mode,
		"rate_limit_rpm", cfg.Dispatch.RateLimitRPM,
		"interrupt_enabled", cfg.InterruptPolicy().Enabled,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("engine error", "error", err)
		os.Exit(1)
	}

	stats := dispatcher.Stats()
	slog.Info("autoreply engine stopped",
		"dispatches", stats.Dispatches,
		"successes", stats.Successes,
		"failures", stats.Failures,
		"streams", streams.Len(),
	)
}

// feedStdin publishes one message per input line. Lines of the form
// "stream|sender|text" address a specific stream; bare lines go to a
// default direct stream. EOF just stops the feed; the engine keeps
// running on whatever transport publishes to the bus.
func feedStdin(ctx context.Context, msgBus *bus.MessageBus) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		msg := bus.Message{
			ID:        uuid.NewString(),
			StreamID:  "stdin",
			SenderID:  "local",
			Content:   line,
			PeerKind:  bus.PeerDirect,
			Timestamp: time.Now(),
		}
		if parts := strings.SplitN(line, "|", 3); len(parts) == 3 {
			msg.StreamID = strings.TrimSpace(parts[0])
			msg.SenderID = strings.TrimSpace(parts[1])
			msg.Content = strings.TrimSpace(parts[2])
		}
		if !msgBus.PublishInbound(msg) {
			return
		}
	}
}

// consumeInbound drains the message bus into the scheduler, dropping exact
// redeliveries within the dedupe window.
func consumeInbound(ctx context.Context, msgBus *bus.MessageBus, sched *scheduler.Scheduler) {
	dedupe := bus.NewDedupeCache(dedupeTTL, 10000)

	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		if msg.ID != "" && dedupe.IsDuplicate(msg.StreamID+":"+msg.ID) {
			slog.Debug("duplicate message dropped", "stream", msg.StreamID, "id", msg.ID)
			continue
		}
		sched.OnMessageArrived(ctx, msg)
	}
}
