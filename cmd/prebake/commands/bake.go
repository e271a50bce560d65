package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/prebake/internal/config"
	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
	"git.home.luguber.info/inful/prebake/internal/logfields"
)

const shutdownTimeout = 30 * time.Second

// BakeCmd implements the 'bake' command.
type BakeCmd struct {
	Targets []string `arg:"" name:"target" help:"Products to bring up to date, e.g. site or cc[\"os\":\"linux\"]"`
}

func (b *BakeCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	g.Logger = newLogger(cfg, root.Verbose, os.Stderr)
	targets, err := parseTargets(b.Targets)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return withEngine(ctx, cfg, g.Logger, func(e *engine) error {
		start := time.Now()
		ok, err := e.bakeAll(ctx, targets)
		switch {
		case err != nil && foundation.HasCategory(err, foundation.CategoryNotFound):
			return err
		case err != nil || !ok:
			g.Logger.Error("Bake failed", logfields.Duration(time.Since(start)))
			return &ExitError{Code: foundation.ExitFailure, Err: err}
		}
		g.Logger.Info("Products up to date", logfields.Count(len(targets)), logfields.Duration(time.Since(start)))
		return nil
	})
}

// withEngine opens an engine, runs fn and closes the engine, waiting for
// outstanding cleanup.
func withEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger, fn func(*engine) error) error {
	e, err := openEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	runErr := fn(e)
	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.close(closeCtx); err != nil {
		logger.Warn("Failed to shut down cleanly", logfields.Error(err))
	}
	return runErr
}
