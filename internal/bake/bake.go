package bake

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/prebake/internal/buildlog"
	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
	"git.home.luguber.info/inful/prebake/internal/logfields"
	"git.home.luguber.info/inful/prebake/internal/metrics"
	"git.home.luguber.info/inful/prebake/internal/notify"
	"git.home.luguber.info/inful/prebake/internal/plan"
	"git.home.luguber.info/inful/prebake/internal/tools"
	"git.home.luguber.info/inful/prebake/internal/validity"
)

// Bake brings the named product up to date. The explicit prerequisites are
// baked first, in order, followed by the product's declared ones. The
// returned future is shared by every caller until something the product
// depends on changes.
func (b *Baker) Bake(ctx context.Context, name plan.BoundName, prereqs ...plan.BoundName) *Future {
	return b.bake(ctx, name, prereqs, map[string]struct{}{})
}

func (b *Baker) bake(ctx context.Context, name plan.BoundName, prereqs []plan.BoundName, visited map[string]struct{}) *Future {
	st, err := b.resolve(ctx, name)
	if err != nil {
		b.logger.Warn("Unrecognized product", logfields.Product(name.String()), logfields.Error(err))
		return resolved(false, err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.removed {
		return resolved(false, foundation.NotFoundError("no such product").WithContext("product", name.String()).Build())
	}
	if st.future != nil {
		return st.future
	}

	buildCtx, cancel := context.WithCancel(context.Background())
	f := newFuture(cancel)
	st.future = f
	generation := st.generation
	seen := maps.Clone(visited)
	seen[st.name()] = struct{}{}

	started := b.sched.Go(func(schedCtx context.Context) {
		stop := context.AfterFunc(schedCtx, cancel)
		defer stop()
		ok, err := b.buildSafely(buildCtx, st, prereqs, seen)
		b.settle(st, f, generation, ok, err)
	})
	if !started {
		st.future = nil
		f.resolve(false, foundation.RuntimeError("scheduler is shutting down").WithContext("product", st.name()).Build())
	}
	return f
}

// settle resolves f, dropping it from st when st was invalidated while it
// ran so the next bake starts over.
func (b *Baker) settle(st *status, f *Future, generation uint64, ok bool, err error) {
	st.mu.Lock()
	if st.future == f && st.generation != generation {
		st.future = nil
	}
	st.mu.Unlock()
	f.resolve(ok, err)
}

func (b *Baker) buildSafely(ctx context.Context, st *status, prereqs []plan.BoundName, visited map[string]struct{}) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Build panicked", logfields.Product(st.name()), slog.Any("panic", r))
			ok, err = false, foundation.InternalError(fmt.Sprintf("build panicked: %v", r)).WithContext("product", st.name()).Build()
		}
	}()
	return b.build(ctx, st, prereqs, visited)
}

// invocationLogger returns the logger for one bake of product, recording
// into the build log when one is configured.
func (b *Baker) invocationLogger(product string) (*slog.Logger, string) {
	if b.buildLog == nil {
		id := uuid.NewString()
		return b.logger.With(logfields.BuildID(id), logfields.Product(product)), id
	}
	h := buildlog.NewHandler(b.buildLog, b.logger.Handler(), product, b.logLevel)
	return h.Logger(), h.BuildID()
}

func (b *Baker) build(ctx context.Context, st *status, explicit []plan.BoundName, visited map[string]struct{}) (bool, error) {
	product := st.product
	name := st.name()
	logger, buildID := b.invocationLogger(name)
	fail := func(err error) (bool, error) {
		logger.Error("Failed to build product", logfields.Error(err))
		b.recorder.IncBakeOutcome(metrics.OutcomeFailed)
		b.notifier.Notify(context.WithoutCancel(ctx), notify.Event{Product: name, Status: notify.StatusFailed, BuildID: buildID, Time: time.Now()})
		return false, err
	}

	for _, pre := range prerequisites(explicit, product.Prereqs) {
		if _, cyclic := visited[pre.String()]; cyclic {
			return fail(foundation.ConfigError("prerequisite cycle").
				WithContext("product", name).WithContext("prerequisite", pre.String()).Build())
		}
		ok, err := b.bake(ctx, pre, nil, visited).Wait(ctx)
		if !ok {
			return fail(foundation.ToolError("prerequisite failed").WithCause(err).
				WithContext("product", name).WithContext("prerequisite", pre.String()).Build())
		}
		b.recordDependency(pre.String(), name)
	}

	definition, sources := b.definitionHash(product, st.signature)
	st.mu.Lock()
	upToDate := st.valid && st.builtWith == definition
	st.mu.Unlock()
	if upToDate {
		b.recorder.IncBakeOutcome(metrics.OutcomeUpToDate)
		return true, nil
	}

	logger.Info("Starting bake of product")
	start := time.Now()
	defer func() { b.recorder.ObserveBakeDuration(name, time.Since(start)) }()

	inputs, err := b.tracker.Matching(ctx, product.Inputs())
	if err != nil {
		return fail(err)
	}
	prereqFiles := slices.Concat(inputs, sources)
	snapshot := validity.NewHasher()
	if err := b.tracker.Hashes(ctx, prereqFiles, snapshot); err != nil {
		return fail(err)
	}
	prereqHash := snapshot.Sum()

	if err := b.runInWorkingDir(ctx, logger, product, inputs); err != nil {
		return fail(err)
	}

	st.mu.Lock()
	st.builtWith = definition
	removed := st.removed
	st.mu.Unlock()
	if removed {
		logger.Info("Product definition changed during bake")
		return false, nil
	}
	valid, err := b.tracker.UpdateArtifact(ctx, productNamespace, st, prereqFiles, prereqHash)
	if err != nil {
		return fail(err)
	}
	if !valid {
		logger.Warn("Version skew")
		b.recorder.IncBakeOutcome(metrics.OutcomeSkew)
		return false, nil
	}
	logger.Info("Product up to date", logfields.Duration(time.Since(start)))
	b.recorder.IncBakeOutcome(metrics.OutcomeBuilt)
	b.recorder.SetValidProducts(int(b.validCount.Load()))
	b.notifier.Notify(context.WithoutCancel(ctx), notify.Event{Product: name, Status: notify.StatusUpToDate, BuildID: buildID, Time: time.Now()})
	return true, nil
}

// prerequisites joins explicit and declared prerequisites, dropping repeats.
func prerequisites(explicit, declared []plan.BoundName) []plan.BoundName {
	out := make([]plan.BoundName, 0, len(explicit)+len(declared))
	seen := map[plan.BoundName]struct{}{}
	for _, n := range slices.Concat(explicit, declared) {
		if _, dup := seen[n]; !dup {
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	return out
}

// definitionHash folds the product signature with the signatures of the
// tools it uses. It also returns the client files that define those tools.
func (b *Baker) definitionHash(p *plan.Product, signature validity.Hash) (validity.Hash, []string) {
	h := validity.NewHasher().WithHash(signature)
	var sources []string
	for _, name := range p.Tools() {
		h.WithString(name)
		t, ok := b.toolbox.Lookup(name)
		if !ok {
			h.WithString("missing")
			continue
		}
		h.WithHash(t.Signature())
		if sf, ok := t.(tools.SourceFiles); ok {
			sources = append(sources, sf.SourceFiles()...)
		}
	}
	return h.Sum(), sources
}
