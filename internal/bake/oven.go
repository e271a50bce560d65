package bake

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
	"git.home.luguber.info/inful/prebake/internal/logfields"
	"git.home.luguber.info/inful/prebake/internal/plan"
	"git.home.luguber.info/inful/prebake/internal/tools"
)

// runInWorkingDir copies inputs into a fresh working directory, runs the
// product's actions there and reconciles the outputs with the client
// directory.
func (b *Baker) runInWorkingDir(ctx context.Context, logger *slog.Logger, product *plan.Product, inputs []string) error {
	work, err := b.workspace.Create(product.Name.String())
	if err != nil {
		return err
	}
	defer b.retire(logger, work)

	host := tools.NewHost(work, b.tracker.Root(), logger)
	for _, in := range inputs {
		if err := host.CopyFile(b.tracker.Abs(in), in); err != nil {
			return err
		}
	}
	if err := makeOutputDirs(work, product); err != nil {
		return err
	}

	ok, err := b.oven(ctx, host, product)
	if leaked := host.KillOpen(); leaked != nil && err == nil {
		b.recorder.IncKilledProcesses(leakedCount(leaked))
		return leaked
	}
	if err != nil {
		return err
	}
	if !ok {
		return foundation.ToolError("actions did not complete").WithContext("product", product.Name.String()).Build()
	}
	return b.finish(ctx, logger, product, work)
}

// makeOutputDirs creates the directory holding each action output glob's
// matches so tools can write without creating parents.
func makeOutputDirs(work string, product *plan.Product) error {
	for _, a := range product.Actions {
		for _, g := range a.Outputs {
			dir := g.PathContainingAllMatches(work)
			rel, err := filepath.Rel(work, dir)
			if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				continue
			}
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return foundation.FileSystemError("create output directory").WithCause(err).WithContext("path", rel).Build()
			}
		}
	}
	return nil
}

// oven runs the product's actions, through its orchestration when it
// names one.
func (b *Baker) oven(ctx context.Context, host *tools.Host, product *plan.Product) (bool, error) {
	steps := make([]Step, len(product.Actions))
	for i, a := range product.Actions {
		steps[i] = func(ctx context.Context) (bool, error) { return b.runAction(ctx, host, product, a) }
	}
	if product.Orchestration != "" {
		o, ok := b.orchestrations[product.Orchestration]
		if !ok {
			return false, foundation.ConfigError("unknown orchestration").
				WithContext("product", product.Name.String()).WithContext("orchestration", product.Orchestration).Build()
		}
		return o(ctx, product, steps)
	}
	for _, step := range steps {
		if ok, err := step(ctx); !ok || err != nil {
			return false, err
		}
	}
	return true, nil
}

// runAction expands an action's inputs against the working directory and
// invokes its tool. Every process the tool spawned must have been waited on
// by the time it returns.
func (b *Baker) runAction(ctx context.Context, host *tools.Host, product *plan.Product, action plan.Action) (bool, error) {
	tool, ok := b.toolbox.Lookup(action.Tool)
	if !ok {
		return false, foundation.ToolError("no such tool").
			WithContext("product", product.Name.String()).WithContext("tool", action.Tool).Build()
	}
	inputs, err := host.Matching(action.Inputs)
	if err != nil {
		return false, err
	}
	host.Logger().Debug("Running action", logfields.Tool(action.Tool), logfields.Count(len(inputs)))

	ok, err = tool.Run(ctx, tools.Invocation{Inputs: inputs, Product: product, Action: action, Host: host})
	if leaked := host.KillOpen(); leaked != nil {
		b.recorder.IncKilledProcesses(leakedCount(leaked))
		return false, leaked
	}
	if err != nil {
		if ce, isClassified := foundation.AsClassified(err); isClassified {
			return false, ce.WithContext("tool", action.Tool)
		}
		return false, foundation.ToolError("tool failed").WithCause(err).WithContext("tool", action.Tool).Build()
	}
	if !ok {
		return false, foundation.ToolError("tool reported failure").
			WithContext("product", product.Name.String()).WithContext("tool", action.Tool).Build()
	}
	return true, nil
}

func leakedCount(err error) int {
	if ce, ok := foundation.AsClassified(err); ok {
		if v, ok := ce.Context().Get("processes"); ok {
			if names, ok := v.([]string); ok {
				return len(names)
			}
		}
	}
	return 1
}

// retire renames the working directory out of the way and deletes it on
// the scheduler.
func (b *Baker) retire(logger *slog.Logger, work string) {
	dir, err := b.workspace.Retire(work)
	if err != nil {
		logger.Warn("Failed to retire working directory", logfields.Dir(work), logfields.Error(err))
		dir = work
	}
	if !b.sched.Go(func(ctx context.Context) { _ = b.workspace.Remove(ctx, dir) }) {
		_ = b.workspace.Remove(context.Background(), dir)
	}
}
