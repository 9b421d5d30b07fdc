package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/chatrelay/internal/config"
	"github.com/thebtf/chatrelay/internal/llm"
	"github.com/thebtf/chatrelay/internal/relay"
	"github.com/thebtf/chatrelay/internal/telemetry"
	"github.com/thebtf/chatrelay/internal/tools"
	"github.com/thebtf/chatrelay/internal/watcher"
	"github.com/thebtf/chatrelay/internal/worker"
	"github.com/thebtf/chatrelay/internal/worker/postproc"
	"github.com/thebtf/chatrelay/internal/worker/queue"
	"github.com/thebtf/chatrelay/internal/worker/sse"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server and the post-session worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			for {
				restart, err := serveOnce(ctx)
				if err != nil {
					return err
				}
				if !restart || ctx.Err() != nil {
					log.Info().Msg("Server stopped")
					return nil
				}
				log.Info().Msg("Settings changed, restarting")
			}
		},
	}
}

// serveOnce runs one server generation. It reports true when it stopped
// because the settings file changed.
func serveOnce(parent context.Context) (bool, error) {
	cfg, err := loadConfig()
	if err != nil {
		return false, fmt.Errorf("load config: %w", err)
	}

	l, closeStore, err := openLedger(cfg)
	if err != nil {
		return false, fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}()

	metrics, err := telemetry.New()
	if err != nil {
		return false, fmt.Errorf("metrics: %w", err)
	}

	provider, err := llm.NewCompletionProvider(parent, cfg)
	if err != nil {
		return false, fmt.Errorf("completion provider: %w", err)
	}
	summarizer, err := llm.NewSummarizer(parent, cfg)
	if err != nil {
		return false, fmt.Errorf("summarizer: %w", err)
	}

	triggers, err := tools.LoadTriggers(config.ToolsPath())
	if err != nil {
		return false, fmt.Errorf("load tool triggers: %w", err)
	}

	backend, err := queue.NewBackend(cfg)
	if err != nil {
		return false, fmt.Errorf("queue backend: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close queue backend")
		}
	}()

	broadcaster := sse.NewBroadcaster()

	processor := postproc.New(l, summarizer,
		postproc.WithGracePeriod(cfg.GracePeriod()),
		postproc.WithMaxTokens(cfg.SummaryMaxTokens),
		postproc.WithTokenBudget(cfg.TranscriptTokenBudget),
		postproc.WithNotifier(broadcaster),
		postproc.WithMetrics(metrics),
	)
	postWorker := queue.NewWorker(backend.Subscriber, processor.Process, cfg.PostprocWorkers)
	postWorker.SetJobTimeout(cfg.PostprocTimeout())

	r := relay.New(l, provider,
		relay.WithTools(tools.NewBuiltinRegistry(), triggers),
		relay.WithDispatcher(queue.NewQueue(backend.Publisher)),
		relay.WithNotifier(broadcaster),
		relay.WithMetrics(metrics),
		relay.WithCloseTimeout(cfg.CloseTimeout()),
	)
	svc := worker.NewService(Version, cfg, l, r, broadcaster)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// The worker outlives the HTTP side so sessions closed during shutdown
	// are still consumed.
	workerCtx, stopWorker := context.WithCancel(context.WithoutCancel(parent))
	defer stopWorker()
	if err := postWorker.Start(workerCtx); err != nil {
		return false, err
	}

	var restart atomic.Bool
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svc.Start(gctx, cfg.HTTPAddr)
	})

	settingsWatcher, err := watcher.New(config.SettingsPath(), func(change watcher.Change) {
		log.Info().Str("change", change.String()).Msg("Settings file changed")
		restart.Store(true)
		cancel()
	})
	if err != nil {
		log.Warn().Err(err).Msg("Settings watcher unavailable, changes require a manual restart")
	} else {
		g.Go(func() error {
			return settingsWatcher.Run(gctx)
		})
	}

	log.Info().
		Str("addr", cfg.HTTPAddr).
		Str("completionProvider", provider.Name()).
		Str("queue", cfg.Queue).
		Int("workers", cfg.PostprocWorkers).
		Int("triggers", triggers.Len()).
		Msg("Starting chatrelay")

	err = g.Wait()
	cancel()
	stopWorker()
	postWorker.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return false, err
	}
	return restart.Load(), nil
}
