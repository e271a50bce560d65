package commands

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/prebake/internal/config"
	"git.home.luguber.info/inful/prebake/internal/logfields"
	"git.home.luguber.info/inful/prebake/internal/metrics"
	"git.home.luguber.info/inful/prebake/internal/plan"
	"git.home.luguber.info/inful/prebake/internal/watcher"
)

// WatchCmd implements the 'watch' command.
type WatchCmd struct {
	Targets []string `arg:"" name:"target" help:"Products to keep up to date"`
}

func (w *WatchCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	g.Logger = newLogger(cfg, root.Verbose, os.Stderr)
	targets, err := parseTargets(w.Targets)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return withEngine(ctx, cfg, g.Logger, func(e *engine) error {
		e.abortBuilds = true
		return runWatch(ctx, e, targets)
	})
}

// runWatch bakes targets, then rebakes them after every batch of file
// changes until ctx is done.
func runWatch(ctx context.Context, e *engine, targets []plan.BoundName) error {
	logger := e.logger
	if err := e.baker.ScheduleSweeps(e.cfg.Sweep.Interval, e.cfg.Sweep.ArchiveMaxAge); err != nil {
		return err
	}
	if e.registry != nil {
		srv := startMetricsServer(e.cfg.Metrics, e.registry, logger)
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			_ = srv.Shutdown(stopCtx)
		}()
	}

	var mu sync.Mutex
	fw, err := watcher.New(e.cfg.Root, func(ctx context.Context, paths []string) {
		mu.Lock()
		defer mu.Unlock()
		if e.filesChanged(ctx, paths) {
			e.rebake(ctx, targets)
		}
	},
		watcher.WithDebounce(e.cfg.Watch.Debounce),
		watcher.WithIgnore(e.ignore),
		watcher.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := fw.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = fw.Stop() }()

	mu.Lock()
	e.rebake(ctx, targets)
	mu.Unlock()
	logger.Info("Watching for changes", logfields.Dir(e.cfg.Root), logfields.Count(len(targets)))

	<-ctx.Done()
	logger.Info("Shutdown signal received, stopping watch mode")
	return nil
}

// filesChanged feeds a change batch to the tracker, reloading the plan when
// the plan file is among the changes. It reports whether anything changed.
func (e *engine) filesChanged(ctx context.Context, paths []string) bool {
	changed, err := e.tracker.Update(ctx, paths)
	if err != nil {
		e.logger.Error("Failed to update file state", logfields.Error(err))
		return false
	}
	if len(changed) == 0 {
		return false
	}
	if key, ok := e.tracker.KeyFor(e.cfg.Plan); ok && slices.Contains(changed, key) {
		if err := e.reloadPlan(ctx); err != nil {
			e.logger.Error("Failed to reload plan; keeping the previous one", logfields.Path(e.cfg.Plan), logfields.Error(err))
		}
	}
	return true
}

// rebake bakes every target and logs the outcome. Failures are reported and
// retried after the next change.
func (e *engine) rebake(ctx context.Context, targets []plan.BoundName) {
	start := time.Now()
	for _, t := range targets {
		ok, err := e.baker.Bake(ctx, t).Wait(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			e.logger.Error("Bake failed", logfields.Product(t.String()), logfields.Error(err))
		case !ok:
			e.logger.Warn("Product not up to date", logfields.Product(t.String()))
		}
	}
	e.logger.Info("Bake pass finished", logfields.Count(len(e.baker.UpToDateProducts())), logfields.Duration(time.Since(start)))
}

func startMetricsServer(cfg config.MetricsConfig, reg *prom.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, metrics.HTTPHandler(reg))
	srv := &http.Server{Addr: cfg.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("Serving metrics", logfields.Address(cfg.Listen), logfields.Path(cfg.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", logfields.Error(err))
		}
	}()
	return srv
}
