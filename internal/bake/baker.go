// Package bake brings products up to date. A Baker resolves product names,
// builds prerequisites, runs a product's actions in a private working
// directory, moves the outputs back into the client directory and records
// what the result depended on so later changes invalidate it.
package bake

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"git.home.luguber.info/inful/prebake/internal/buildlog"
	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
	"git.home.luguber.info/inful/prebake/internal/glob"
	"git.home.luguber.info/inful/prebake/internal/logfields"
	"git.home.luguber.info/inful/prebake/internal/metrics"
	"git.home.luguber.info/inful/prebake/internal/notify"
	"git.home.luguber.info/inful/prebake/internal/plan"
	"git.home.luguber.info/inful/prebake/internal/scheduler"
	"git.home.luguber.info/inful/prebake/internal/tools"
	"git.home.luguber.info/inful/prebake/internal/validity"
	"git.home.luguber.info/inful/prebake/internal/workspace"
)

// Step runs one action of a product.
type Step func(ctx context.Context) (bool, error)

// Orchestration decides how a product's actions run. It receives one step
// per action, in declared order, and reports whether the product built.
type Orchestration func(ctx context.Context, product *plan.Product, steps []Step) (bool, error)

// Baker builds products. It is safe for concurrent use.
type Baker struct {
	tracker   *validity.Tracker
	toolbox   *tools.ToolBox
	sched     *scheduler.Scheduler
	workspace *workspace.Manager
	logger    *slog.Logger
	recorder  metrics.Recorder
	notifier  notify.Notifier
	buildLog  buildlog.Store
	logLevel  slog.Level

	archiveDir     string
	orchestrations map[string]Orchestration

	mu        sync.RWMutex
	statuses  map[string]*status
	templates map[string]*plan.Product
	// dependers maps a product to the products last built with it as a
	// prerequisite.
	dependers map[string]map[string]struct{}

	validCount  atomic.Int64
	unsubscribe func()
}

// Option configures a Baker.
type Option func(*Baker)

// WithLogger sets the process-wide logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option { return func(b *Baker) { b.logger = l } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option { return func(b *Baker) { b.recorder = r } }

// WithNotifier sets where status transitions are published.
func WithNotifier(n notify.Notifier) Option { return func(b *Baker) { b.notifier = n } }

// WithBuildLog records every bake invocation in store at or above level.
func WithBuildLog(store buildlog.Store, level slog.Level) Option {
	return func(b *Baker) { b.buildLog, b.logLevel = store, level }
}

// WithWorkspace sets the working directory manager.
func WithWorkspace(m *workspace.Manager) Option { return func(b *Baker) { b.workspace = m } }

// WithArchiveDir sets where obsolete outputs are moved. The default is
// .prebake/archive under the tracker root.
func WithArchiveDir(dir string) Option { return func(b *Baker) { b.archiveDir = dir } }

// WithOrchestration registers a named orchestration products can select.
func WithOrchestration(name string, o Orchestration) Option {
	return func(b *Baker) { b.orchestrations[name] = o }
}

// New returns a Baker that tracks files with tracker, resolves tools in
// toolbox and runs work on sched.
func New(tracker *validity.Tracker, toolbox *tools.ToolBox, sched *scheduler.Scheduler, opts ...Option) (*Baker, error) {
	b := &Baker{
		tracker:        tracker,
		toolbox:        toolbox,
		sched:          sched,
		logger:         slog.Default(),
		recorder:       metrics.NoopRecorder{},
		notifier:       notify.Noop{},
		logLevel:       slog.LevelInfo,
		orchestrations: map[string]Orchestration{},
		statuses:       map[string]*status{},
		templates:      map[string]*plan.Product{},
		dependers:      map[string]map[string]struct{}{},
	}
	for _, o := range opts {
		o(b)
	}
	if b.workspace == nil {
		b.workspace = workspace.NewManager("", workspace.WithLogger(b.logger))
	}
	if b.archiveDir == "" {
		b.archiveDir = filepath.Join(tracker.Root(), ".prebake", "archive")
	}
	if err := tracker.Register(productNamespace, addresser{b: b}); err != nil {
		return nil, err
	}
	b.unsubscribe = toolbox.Subscribe(b.toolChanged)
	return b, nil
}

// Close stops listening for tool changes and drops every product.
func (b *Baker) Close() {
	b.unsubscribe()
	b.mu.Lock()
	statuses := slices.Collect(maps.Values(b.statuses))
	b.statuses = map[string]*status{}
	b.mu.Unlock()
	for _, st := range statuses {
		st.discard()
	}
}

// ArchiveDir returns the directory obsolete outputs are moved to.
func (b *Baker) ArchiveDir() string { return b.archiveDir }

// SetPlan binds the plan's tools and replaces the product registry with
// its products. Products whose definition did not change keep their status.
func (b *Baker) SetPlan(ctx context.Context, pl *plan.Plan) error {
	if err := b.toolbox.Apply(pl.Tools); err != nil {
		return err
	}
	keep := map[string]struct{}{}
	for _, name := range pl.ProductNames() {
		p := pl.Products[name]
		keep[p.Name.String()] = struct{}{}
		if err := b.SetProduct(ctx, p); err != nil {
			return err
		}
	}
	b.mu.RLock()
	var gone []string
	for name, st := range b.statuses {
		if _, ok := keep[name]; !ok && st.product.Template == nil {
			gone = append(gone, name)
		}
	}
	for ident := range b.templates {
		if _, ok := keep[ident]; !ok {
			gone = append(gone, ident)
		}
	}
	b.mu.RUnlock()
	for _, name := range gone {
		b.RemoveProduct(name)
	}
	return nil
}

// SetProduct adds or replaces a product definition. Replacing a product
// with a different definition drops its status and cancels its build. A new
// status starts out valid when an earlier validation of the same definition
// still holds.
//
// Parameterized products register as templates. Instances of a template
// whose parameters all have value sets are registered right away; others are
// instantiated when a name binds them.
func (b *Baker) SetProduct(ctx context.Context, p *plan.Product) error {
	sig, err := p.Signature()
	if err != nil {
		return foundation.ConfigError("cannot hash product definition").WithCause(err).
			WithContext("product", p.Name.String()).Build()
	}
	name := p.Name.String()

	if p.IsParameterized() {
		b.mu.Lock()
		prev := b.templates[name]
		b.templates[name] = p
		b.mu.Unlock()
		if prev != nil {
			prevSig, _ := prev.Signature()
			if prevSig == sig {
				return nil
			}
			b.removeInstances(name)
		}
		b.logger.Debug("Registered parameterized product", logfields.Product(name))
		b.instantiateAll(ctx, p)
		return nil
	}

	b.mu.Lock()
	prev := b.statuses[name]
	if prev != nil && prev.signature == sig {
		b.mu.Unlock()
		return nil
	}
	st := b.newStatus(p, sig, false)
	b.statuses[name] = st
	b.mu.Unlock()

	if prev != nil {
		b.logger.Info("Product definition changed", logfields.Product(name))
		prev.discard()
	}
	b.restore(ctx, st)
	return nil
}

// instantiateAll registers every instance of a template whose parameters
// are all constrained.
func (b *Baker) instantiateAll(ctx context.Context, template *plan.Product) {
	solutions, err := template.Relation.AllPossibleSolutions()
	if errors.Is(err, glob.ErrUnconstrained) {
		return
	}
	if err != nil {
		b.logger.Warn("Cannot enumerate product instances", logfields.Product(template.Name.String()), logfields.Error(err))
		return
	}
	for _, sol := range solutions {
		name := template.Name.WithBindings(sol.Bindings)
		if _, err := b.resolve(ctx, name); err != nil {
			b.logger.Warn("Cannot instantiate product", logfields.Product(name.String()), logfields.Error(err))
		}
	}
}

// restore marks st valid when the tracker still holds a validation of its
// current definition.
func (b *Baker) restore(ctx context.Context, st *status) {
	definition, _ := b.definitionHash(st.product, st.signature)
	st.mu.Lock()
	st.builtWith = definition
	st.mu.Unlock()
	ok, err := b.tracker.Restore(ctx, productNamespace, st)
	if err != nil {
		b.logger.Warn("Failed to restore product status", logfields.Product(st.name()), logfields.Error(err))
		return
	}
	if ok {
		b.logger.Debug("Restored product status", logfields.Product(st.name()))
		b.recorder.SetValidProducts(int(b.validCount.Load()))
	}
}

// RemoveProduct drops a product, or a template and all of its instances.
func (b *Baker) RemoveProduct(name string) {
	b.mu.Lock()
	st := b.statuses[name]
	delete(b.statuses, name)
	_, template := b.templates[name]
	delete(b.templates, name)
	b.forgetDependencies(name)
	b.mu.Unlock()
	if st != nil {
		st.discard()
		b.logger.Info("Product removed", logfields.Product(name))
	}
	if template {
		b.removeInstances(name)
	}
}

func (b *Baker) removeInstances(ident string) {
	b.mu.Lock()
	var doomed []*status
	for name, st := range b.statuses {
		if st.product.Template != nil && st.product.Name.Ident() == ident {
			doomed = append(doomed, st)
			delete(b.statuses, name)
			b.forgetDependencies(name)
		}
	}
	b.mu.Unlock()
	for _, st := range doomed {
		st.discard()
	}
}

// newStatus creates a status and starts watching the product's inputs.
// Callers hold b.mu.
func (b *Baker) newStatus(p *plan.Product, sig validity.Hash, witnessed bool) *status {
	st := &status{baker: b, product: p, signature: sig, witnessed: witnessed}
	if inputs := p.Inputs(); len(inputs) > 0 {
		st.unwatch = b.tracker.Watch(inputs, func(ctx context.Context, _ []string) {
			b.inputsChanged(ctx, st)
		})
	}
	return st
}

// forgetDependencies drops name's dependency edges. Callers hold b.mu.
func (b *Baker) forgetDependencies(name string) {
	delete(b.dependers, name)
	for _, ds := range b.dependers {
		delete(ds, name)
	}
}

func (b *Baker) lookup(name string) *status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.statuses[name]
}

// QueryStatus reports whether the named product is up to date without
// building anything. An instance of a parameterized product that is not
// registered yet is instantiated when its binding resolves. Names that do
// not resolve fail with a not-found error.
func (b *Baker) QueryStatus(ctx context.Context, name plan.BoundName) (bool, error) {
	st, err := b.resolve(ctx, name)
	if err != nil {
		return false, err
	}
	return st.isValid(), nil
}

// UpToDateProducts lists the valid products, sorted.
func (b *Baker) UpToDateProducts() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []string
	for name, st := range b.statuses {
		if st.isValid() {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// Products lists every registered product and template definition, sorted
// by name.
func (b *Baker) Products() []*plan.Product {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*plan.Product, 0, len(b.statuses)+len(b.templates))
	for _, st := range b.statuses {
		out = append(out, st.product)
	}
	for _, t := range b.templates {
		out = append(out, t)
	}
	slices.SortFunc(out, func(x, y *plan.Product) int { return strings.Compare(x.Name.String(), y.Name.String()) })
	return out
}

// invalidated propagates an invalidation to the products built on st.
func (b *Baker) invalidated(st *status, wasValid bool) {
	b.recorder.AddInvalidations(1)
	b.recorder.SetValidProducts(int(b.validCount.Load()))
	if wasValid {
		b.logger.Info("Product invalidated", logfields.Product(st.name()))
		if err := b.tracker.Forget(context.Background(), productNamespace, st); err != nil {
			b.logger.Warn("Failed to drop stored validation", logfields.Product(st.name()), logfields.Error(err))
		}
		b.notifier.Notify(context.Background(), notify.Event{Product: st.name(), Status: notify.StatusStale})
	}

	b.mu.RLock()
	names := slices.Collect(maps.Keys(b.dependers[st.name()]))
	b.mu.RUnlock()
	for _, name := range names {
		if d := b.lookup(name); d != nil && d.isValid() {
			d.Invalidate()
		}
	}
}

// toolChanged invalidates every product with an action using the tool.
func (b *Baker) toolChanged(tool string) {
	b.mu.RLock()
	var hit []*status
	for _, st := range b.statuses {
		if slices.Contains(st.product.Tools(), tool) {
			hit = append(hit, st)
		}
	}
	b.mu.RUnlock()
	for _, st := range hit {
		st.Invalidate()
	}
}

// inputsChanged handles a change batch touching a product's inputs. A
// witnessed instance is collected instead of invalidated; the next bake
// derives it again if a witness remains.
func (b *Baker) inputsChanged(_ context.Context, st *status) {
	if st.witnessed {
		b.collect(st)
		return
	}
	st.Invalidate()
}

// collect removes an instance of a parameterized product after its inputs
// changed. A later bake or query resolves it again from the current files.
func (b *Baker) collect(st *status) {
	name := st.name()
	b.mu.Lock()
	if b.statuses[name] != st {
		b.mu.Unlock()
		return
	}
	delete(b.statuses, name)
	b.forgetDependencies(name)
	b.mu.Unlock()
	st.discard()
	b.logger.Info("Collected product instance", logfields.Product(name))
	b.notifier.Notify(context.Background(), notify.Event{Product: name, Status: notify.StatusRemoved})
	b.recorder.SetValidProducts(int(b.validCount.Load()))
}

// recordDependency notes that depender was built on prereq.
func (b *Baker) recordDependency(prereq, depender string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ds, ok := b.dependers[prereq]
	if !ok {
		ds = map[string]struct{}{}
		b.dependers[prereq] = ds
	}
	ds[depender] = struct{}{}
}
