package commands

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/prebake/internal/bake"
	"git.home.luguber.info/inful/prebake/internal/buildlog"
	"git.home.luguber.info/inful/prebake/internal/config"
	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
	"git.home.luguber.info/inful/prebake/internal/glob"
	"git.home.luguber.info/inful/prebake/internal/logfields"
	"git.home.luguber.info/inful/prebake/internal/metrics"
	"git.home.luguber.info/inful/prebake/internal/notify"
	"git.home.luguber.info/inful/prebake/internal/plan"
	"git.home.luguber.info/inful/prebake/internal/retry"
	"git.home.luguber.info/inful/prebake/internal/scheduler"
	"git.home.luguber.info/inful/prebake/internal/tools"
	"git.home.luguber.info/inful/prebake/internal/validity"
	"git.home.luguber.info/inful/prebake/internal/workspace"
)

// engine wires the baker to its collaborators for one CLI invocation.
type engine struct {
	cfg    *config.Config
	logger *slog.Logger

	tracker   *validity.Tracker
	sched     *scheduler.Scheduler
	baker     *bake.Baker
	buildLog  buildlog.Store
	registry  *prom.Registry
	publisher *notify.NATSPublisher
	ignore    func(rel string) bool

	// abortBuilds makes close cancel running builds instead of waiting.
	abortBuilds bool
}

func openEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *engine, err error) {
	if err := os.MkdirAll(cfg.StateDir, 0o750); err != nil {
		return nil, foundation.FileSystemError("failed to create state directory").WithCause(err).WithContext("path", cfg.StateDir).Build()
	}
	e := &engine{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = e.close(context.Background())
		}
	}()

	if e.ignore, err = ignoreFunc(cfg); err != nil {
		return nil, err
	}
	store, err := validity.NewSQLiteStore(cfg.Database)
	if err != nil {
		return nil, foundation.StorageError("failed to open state database").WithCause(err).WithContext("path", cfg.Database).Build()
	}
	if e.tracker, err = validity.NewTracker(cfg.Root, store, validity.WithLogger(logger), validity.WithIgnore(e.ignore)); err != nil {
		_ = store.Close()
		return nil, err
	}
	if cfg.Database == ":memory:" {
		e.buildLog = buildlog.NewMemStore()
	} else {
		logs, err := buildlog.NewSQLiteStore(filepath.Join(cfg.StateDir, "buildlog.db"))
		if err != nil {
			return nil, foundation.StorageError("failed to open build log").WithCause(err).Build()
		}
		e.buildLog = logs
	}

	if e.sched, err = scheduler.New(scheduler.WithLogger(logger)); err != nil {
		return nil, foundation.InternalError("failed to create scheduler").WithCause(err).Build()
	}
	e.sched.Start()

	ws := workspace.NewManager(cfg.TempDir,
		workspace.WithLogger(logger),
		workspace.WithRetryPolicy(retry.FromConfig(cfg.Cleanup)))
	opts := []bake.Option{
		bake.WithLogger(logger),
		bake.WithWorkspace(ws),
		bake.WithArchiveDir(filepath.Join(cfg.StateDir, "archive")),
		bake.WithBuildLog(e.buildLog, cfg.Logging.Level.SlogLevel()),
	}
	if cfg.Metrics.Listen != "" {
		e.registry = prom.NewRegistry()
		opts = append(opts, bake.WithRecorder(metrics.NewPrometheusRecorder(e.registry)))
	}
	if cfg.Notify.Enabled() {
		if e.publisher, err = notify.NewNATSPublisher(ctx, cfg.Notify, logger); err != nil {
			return nil, err
		}
		opts = append(opts, bake.WithNotifier(e.publisher))
	}
	if e.baker, err = bake.New(e.tracker, tools.NewToolBox(logger), e.sched, opts...); err != nil {
		return nil, err
	}

	changed, err := e.tracker.Sync(ctx)
	if err != nil {
		return nil, err
	}
	logger.Debug("Synchronized file state", logfields.Count(len(changed)))
	if err := e.reloadPlan(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// reloadPlan reads the plan file and hands it to the baker.
func (e *engine) reloadPlan(ctx context.Context) error {
	pl, err := plan.LoadFile(e.cfg.Plan)
	if err != nil {
		return err
	}
	if err := e.baker.SetPlan(ctx, pl); err != nil {
		return err
	}
	e.logger.Info("Loaded plan", logfields.Path(e.cfg.Plan), logfields.Count(len(pl.Products)))
	return nil
}

// bakeAll bakes targets in order and reports whether all succeeded. The
// first error is returned after every target has been attempted.
func (e *engine) bakeAll(ctx context.Context, targets []plan.BoundName) (bool, error) {
	allOK := true
	var firstErr error
	for _, t := range targets {
		ok, err := e.baker.Bake(ctx, t).Wait(ctx)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		allOK = allOK && ok
	}
	return allOK, firstErr
}

// status reports whether name is valid. Validity recorded by earlier
// invocations is restored from the state database when the plan loads.
func (e *engine) status(ctx context.Context, name plan.BoundName) (bool, error) {
	return e.baker.QueryStatus(ctx, name)
}

// lastPublished returns the last event published for name, or nil when
// notifications are disabled or nothing was published yet.
func (e *engine) lastPublished(ctx context.Context, name plan.BoundName) *notify.Event {
	if e.publisher == nil {
		return nil
	}
	ev, err := e.publisher.Latest(ctx, name.String())
	if err != nil {
		e.logger.Warn("Failed to read published status", logfields.Product(name.String()), logfields.Error(err))
		return nil
	}
	return ev
}

// close releases everything openEngine acquired, waiting for running
// builds and scheduled cleanup bounded by ctx.
func (e *engine) close(ctx context.Context) error {
	var errs []error
	if e.baker != nil {
		e.baker.Close()
	}
	if e.sched != nil {
		if e.abortBuilds {
			errs = append(errs, e.sched.Stop(ctx))
		} else {
			errs = append(errs, e.sched.Drain(ctx))
		}
	}
	if e.publisher != nil {
		errs = append(errs, e.publisher.Close())
	}
	if e.buildLog != nil {
		errs = append(errs, e.buildLog.Close())
	}
	if e.tracker != nil {
		errs = append(errs, e.tracker.Close())
	}
	return errors.Join(errs...)
}

// ignoreFunc combines the configured ignore globs with the engine's own
// state and scratch directories. Directories are tested with a trailing
// "/".
func ignoreFunc(cfg *config.Config) (func(rel string) bool, error) {
	set := glob.NewSet()
	for _, g := range cfg.Watch.Ignore {
		p, err := glob.Parse(g)
		if err != nil {
			return nil, foundation.ConfigError("invalid ignore glob").WithCause(err).WithContext("glob", g).Build()
		}
		set.Add(p)
	}
	var private []string
	for _, dir := range []string{cfg.StateDir, cfg.TempDir} {
		if rel, ok := under(cfg.Root, dir); ok {
			private = append(private, rel+"/")
		}
	}
	return func(rel string) bool {
		for _, p := range private {
			if rel == p || strings.HasPrefix(rel, p) {
				return true
			}
		}
		return set.Matches(strings.TrimSuffix(rel, "/"))
	}, nil
}

// under returns dir relative to root in slash form when dir is strictly
// inside root.
func under(root, dir string) (string, bool) {
	if dir == "" {
		return "", false
	}
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
